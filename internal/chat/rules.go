package chat

import "strings"

// Rule maps trigger keywords to a canned response
type Rule struct {
	Name     string
	Keywords []string // lower case, matched as substrings
	Response string   // Markdown
}

// Matches reports whether any keyword occurs in the lower-cased text
func (r Rule) Matches(lowered string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// Rules is an ordered rule set. The first matching rule wins.
type Rules []Rule

// Match returns the first rule matching the utterance
func (rs Rules) Match(utterance string) (Rule, bool) {
	lowered := strings.ToLower(utterance)
	for _, r := range rs {
		if r.Matches(lowered) {
			return r, true
		}
	}
	return Rule{}, false
}

// Classify returns the response of the first matching rule, or the default
// response when nothing matches
func (rs Rules) Classify(utterance string) string {
	if r, ok := rs.Match(utterance); ok {
		return r.Response
	}
	return DefaultResponse
}

// Classify runs the built-in rule set
func Classify(utterance string) string {
	return DefaultRules.Classify(utterance)
}

// DefaultResponse is returned when no rule matches
const DefaultResponse = `I'm here to help with food freshness and safety questions! Try asking me about:

- How to detect fresh food
- Health risks of rotten food
- Storage recommendations
- Disease prevention
- Specific fruits or vegetables

What would you like to know?`

// DefaultRules is the built-in rule set, in priority order
var DefaultRules = Rules{
	{
		Name:     "freshness",
		Keywords: []string{"fresh", "freshness", "detect"},
		Response: `Here are some tips to detect food freshness:

**Visual Signs:**
- Bright, vibrant colors
- Firm texture
- No mold or dark spots
- Fresh smell

**For Fruits:**
- Apples: Firm, no soft spots
- Bananas: Yellow with no brown spots
- Oranges: Heavy for size, bright color

**For Vegetables:**
- Tomatoes: Firm, bright red
- Cucumbers: Firm, dark green
- Potatoes: No sprouts or green spots`,
	},
	{
		Name:     "health_risks",
		Keywords: []string{"rotten", "spoiled", "health risk", "danger"},
		Response: `⚠️ **Health Risks of Consuming Rotten Food:**

**Immediate Effects:**
- Food poisoning
- Nausea and vomiting
- Diarrhea
- Stomach cramps

**Serious Risks:**
- Bacterial infections (Salmonella, E. coli)
- Fungal toxins
- Allergic reactions
- Long-term health issues

**Prevention:**
- Always check expiration dates
- Store food properly
- When in doubt, throw it out!`,
	},
	{
		Name:     "storage",
		Keywords: []string{"store", "storage", "refrigerator", "fridge"},
		Response: `🌡️ **Food Storage Recommendations:**

**Refrigerator (32-40°F):**
- Most fruits and vegetables
- Keep in crisper drawer
- Use within 1-2 weeks

**Room Temperature:**
- Bananas, tomatoes, potatoes
- Onions, garlic
- Keep in cool, dry place

**Freezer:**
- Blanch vegetables first
- Use airtight containers
- Label with dates`,
	},
	{
		Name:     "disease_prevention",
		Keywords: []string{"disease", "prevent", "sick", "infection"},
		Response: `🛡️ **Disease Prevention Tips:**

**Food Safety:**
- Wash hands before handling food
- Clean cutting boards and utensils
- Separate raw and cooked foods
- Cook food to proper temperatures

**Fresh Food Benefits:**
- Higher nutrient content
- Better immune support
- Reduced risk of foodborne illness
- Better taste and texture

**When to Avoid:**
- Moldy or spoiled food
- Unpleasant odors
- Slimy texture
- Discolored spots`,
	},
	{
		Name:     "apple",
		Keywords: []string{"apple", "apples"},
		Response: `🍎 **Apple Freshness Guide:**

**Fresh Signs:**
- Firm to the touch
- Bright, consistent color
- Fresh apple smell
- No soft spots or bruises

**Storage:**
- Refrigerate for longer shelf life
- Keep in crisper drawer
- Can last 2-4 weeks when stored properly

**Health Benefits:**
- High in fiber and vitamin C
- Contains antioxidants
- Supports heart health`,
	},
	{
		Name:     "banana",
		Keywords: []string{"banana", "bananas"},
		Response: `🍌 **Banana Freshness Guide:**

**Fresh Signs:**
- Yellow color with no brown spots
- Firm texture
- Fresh banana smell
- No mold or dark areas

**Storage:**
- Store at room temperature
- Keep away from other fruits
- Refrigerate when ripe to slow ripening

**Health Benefits:**
- High in potassium
- Good source of vitamin B6
- Natural energy booster`,
	},
	{
		Name:     "tomato",
		Keywords: []string{"tomato", "tomatoes"},
		Response: `🍅 **Tomato Freshness Guide:**

**Fresh Signs:**
- Firm but slightly soft
- Bright red color
- Fresh tomato smell
- No cracks or mold

**Storage:**
- Store at room temperature
- Keep stem side up
- Refrigerate only when fully ripe

**Health Benefits:**
- Rich in lycopene
- High vitamin C content
- Supports skin health`,
	},
	{
		Name:     "help",
		Keywords: []string{"help", "what can you do", "assist"},
		Response: `🤖 **I can help you with:**

- **Freshness Detection:** Tips on how to identify fresh vs rotten food
- **Health Risks:** Information about dangers of consuming spoiled food
- **Storage Tips:** Best practices for storing fruits and vegetables
- **Disease Prevention:** How to avoid foodborne illnesses
- **Specific Foods:** Ask about apples, bananas, tomatoes, etc.

Just ask me anything about food freshness and safety!`,
	},
}
