// Package chat implements the rule-based food safety assistant.
//
// Rules are evaluated in order and the first rule with a keyword contained in
// the lower-cased utterance wins. A Responder keeps the conversation history
// and answers each submission after a random delay. Replies to different
// submissions are scheduled independently, so they may arrive out of
// submission order.
package chat

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/franckalain/freshness/internal/logging"
	"github.com/franckalain/freshness/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMinDelay = 1000 * time.Millisecond
	DefaultMaxDelay = 3000 * time.Millisecond
)

// EventType tells listeners what changed
type EventType string

const (
	EventMessage EventType = "message" // a message was appended
	EventTyping  EventType = "typing"  // the typing placeholder appeared or went away
	EventOpen    EventType = "open"    // the chat panel was opened or closed
)

// Event is delivered to the responder's listener. Every event is a point
// where views scroll to the newest entry.
type Event struct {
	Type    EventType
	Message models.ChatMessage
	Typing  bool
	Open    bool
}

// Listener receives events with the responder locked. It must not call back
// into the Responder.
type Listener func(Event)

// Option configures a Responder
type Option func(*Responder)

// WithRules replaces the built-in rule set
func WithRules(rules Rules) Option {
	return func(r *Responder) { r.rules = rules }
}

// WithDelay sets the reply delay range [lo, hi)
func WithDelay(lo, hi time.Duration) Option {
	return func(r *Responder) { r.delay = UniformDelay(lo, hi) }
}

// WithDelayFunc sets the function choosing each reply's delay
func WithDelayFunc(fn func() time.Duration) Option {
	return func(r *Responder) { r.delay = fn }
}

// WithListener sets the event listener
func WithListener(fn Listener) Option {
	return func(r *Responder) { r.listener = fn }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Responder) { r.logger = logging.OrNop(l) }
}

// UniformDelay returns a delay function drawing uniformly from [lo, hi)
func UniformDelay(lo, hi time.Duration) func() time.Duration {
	return func() time.Duration {
		if hi <= lo {
			return lo
		}
		return lo + rand.N(hi-lo)
	}
}

// Responder holds one conversation
type Responder struct {
	mu       sync.Mutex
	rules    Rules
	delay    func() time.Duration
	listener Listener
	logger   *zap.Logger
	now      func() time.Time

	open    bool
	history []models.ChatMessage
	pending map[string]*time.Timer
	closed  bool
}

// NewResponder creates a closed chat with an empty history
func NewResponder(opts ...Option) *Responder {
	r := &Responder{
		rules:   DefaultRules,
		delay:   UniformDelay(DefaultMinDelay, DefaultMaxDelay),
		logger:  zap.NewNop(),
		now:     time.Now,
		pending: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("chat")
	return r
}

// ToggleOpen flips the panel state and returns the new one
func (r *Responder) ToggleOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.open = !r.open
	r.emit(Event{Type: EventOpen, Open: r.open})
	return r.open
}

// IsOpen reports whether the panel is open
func (r *Responder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// Submit records a user message and schedules the reply. Blank input is
// ignored and reported as false.
func (r *Responder) Submit(raw string) (models.ChatMessage, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return models.ChatMessage{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return models.ChatMessage{}, false
	}

	msg := r.appendLocked(models.SenderUser, text)

	id := msg.ID
	wasTyping := len(r.pending) > 0
	delay := r.delay()
	r.pending[id] = time.AfterFunc(delay, func() { r.reply(id, text) })
	if !wasTyping {
		r.emit(Event{Type: EventTyping, Typing: true})
	}

	r.logger.Debug("message received", zap.String("id", id), zap.Duration("reply_in", delay))
	return msg, true
}

// Typing reports whether any reply is still pending
func (r *Responder) Typing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending) > 0
}

// History returns a copy of the conversation so far
func (r *Responder) History() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChatMessage(nil), r.history...)
}

// Close drops pending replies. Later submissions are ignored.
func (r *Responder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for id, t := range r.pending {
		t.Stop()
		delete(r.pending, id)
	}
}

func (r *Responder) reply(id, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[id]; !ok || r.closed {
		return
	}
	delete(r.pending, id)
	if len(r.pending) == 0 {
		r.emit(Event{Type: EventTyping, Typing: false})
	}

	response := r.rules.Classify(text)
	r.appendLocked(models.SenderBot, response)
}

func (r *Responder) appendLocked(sender models.Sender, text string) models.ChatMessage {
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		CreatedAt: r.now(),
	}
	r.history = append(r.history, msg)
	r.emit(Event{Type: EventMessage, Message: msg})
	return msg
}

func (r *Responder) emit(ev Event) {
	if r.listener != nil {
		r.listener(ev)
	}
}
