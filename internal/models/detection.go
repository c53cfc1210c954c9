package models

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SelectedImage is the image a user picked for detection
type SelectedImage struct {
	Name      string `json:"name"`       // original file name
	MediaType string `json:"media_type"` // declared media type, e.g. "image/jpeg"
	Size      int64  `json:"size"`       // in bytes
	Data      []byte `json:"-"`
}

// Verdict is the binary outcome of a freshness classification
type Verdict string

const (
	VerdictFresh  Verdict = "Fresh"
	VerdictRotten Verdict = "Rotten"
)

// ParseVerdict maps the classifier's prediction text to a verdict.
// Only the exact value "Fresh" is fresh; anything else is treated as rotten.
func ParseVerdict(prediction string) Verdict {
	if prediction == string(VerdictFresh) {
		return VerdictFresh
	}
	return VerdictRotten
}

// DetectionResult represents the classifier's answer for one image
type DetectionResult struct {
	FoodItem   string  `json:"food_item"`  // display label, first letter capitalised
	Prediction string  `json:"prediction"` // raw prediction text
	Verdict    Verdict `json:"verdict"`
	Confidence string  `json:"confidence"` // pre-formatted, e.g. "97.50%"

	// Diagnostic fields, only present when the classifier sends them
	Filename         string    `json:"filename,omitempty"`
	FullClass        string    `json:"full_class,omitempty"`
	RawConfidence    float64   `json:"raw_confidence,omitempty"`
	ClassIndex       int       `json:"class_index,omitempty"`
	AllProbabilities []float64 `json:"all_probabilities,omitempty"`
}

// Fresh reports whether the verdict is Fresh
func (r *DetectionResult) Fresh() bool {
	return r.Verdict == VerdictFresh
}

// Icon returns the status icon shown next to the verdict
func (r *DetectionResult) Icon() string {
	if r.Fresh() {
		return "✅"
	}
	return "⚠️"
}

// Summary is the human readable one-line verdict
func (r *DetectionResult) Summary() string {
	return r.Icon() + " Analysis complete! " + r.FoodItem + " is " +
		strings.ToLower(r.Prediction) + " with " + r.Confidence + " confidence."
}

// CapitalizeFirst upper-cases the first rune of s
func CapitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// ClassifierHealth is the classifier's /health payload
type ClassifierHealth struct {
	Status      string   `json:"status"`
	ModelLoaded bool     `json:"model_loaded"`
	ModelPath   string   `json:"model_path,omitempty"`
	NumClasses  int      `json:"num_classes,omitempty"`
	Classes     []string `json:"classes,omitempty"`
}
