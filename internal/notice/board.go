// Package notice keeps the transient error and success messages shown to a user.
//
// A Board holds at most one notice per kind. Posting a notice evicts the
// previous one of the same kind, and every notice expires on its own after the
// board's TTL.
package notice

import (
	"sort"
	"sync"
	"time"

	"github.com/franckalain/freshness/internal/models"
	"github.com/google/uuid"
)

// DefaultTTL is how long a notice stays visible
const DefaultTTL = 5 * time.Second

// EventType tells listeners what happened to a notice
type EventType string

const (
	EventPosted  EventType = "posted"
	EventRemoved EventType = "removed"
)

// Event is delivered to the board's listener
type Event struct {
	Type   EventType
	Notice models.Notice
}

// Listener receives board events. It is called with the board locked and
// must not call back into the board.
type Listener func(Event)

type entry struct {
	notice models.Notice
	timer  *time.Timer
}

// Board holds the active notices of one session
type Board struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	listener Listener
	active   map[models.NoticeKind]*entry
}

// NewBoard creates a board whose notices expire after ttl
func NewBoard(ttl time.Duration, listener Listener) *Board {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Board{
		ttl:      ttl,
		now:      time.Now,
		listener: listener,
		active:   make(map[models.NoticeKind]*entry),
	}
}

// Error posts an error notice
func (b *Board) Error(text string) models.Notice {
	return b.Post(models.NoticeError, text)
}

// Success posts a success notice
func (b *Board) Success(text string) models.Notice {
	return b.Post(models.NoticeSuccess, text)
}

// Post shows a notice, replacing the current one of the same kind
func (b *Board) Post(kind models.NoticeKind, text string) models.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(kind)

	created := b.now()
	n := models.Notice{
		ID:        uuid.NewString(),
		Kind:      kind,
		Text:      text,
		CreatedAt: created,
		ExpiresAt: created.Add(b.ttl),
	}
	e := &entry{notice: n}
	e.timer = time.AfterFunc(b.ttl, func() { b.expire(kind, n.ID) })
	b.active[kind] = e
	b.emit(Event{Type: EventPosted, Notice: n})
	return n
}

// Active returns the visible notices, oldest first
func (b *Board) Active() []models.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Notice, 0, len(b.active))
	for _, e := range b.active {
		out = append(out, e.notice)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Kind < out[j].Kind
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Current returns the visible notice of a kind
func (b *Board) Current(kind models.NoticeKind) (models.Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.active[kind]
	if !ok {
		return models.Notice{}, false
	}
	return e.notice, true
}

// Clear removes every visible notice
func (b *Board) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(models.NoticeError)
	b.removeLocked(models.NoticeSuccess)
}

// Close stops all expiry timers without emitting events
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, e := range b.active {
		e.timer.Stop()
		delete(b.active, kind)
	}
}

func (b *Board) expire(kind models.NoticeKind, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The timer may fire after the notice was already replaced
	e, ok := b.active[kind]
	if !ok || e.notice.ID != id {
		return
	}
	delete(b.active, kind)
	b.emit(Event{Type: EventRemoved, Notice: e.notice})
}

func (b *Board) removeLocked(kind models.NoticeKind) {
	e, ok := b.active[kind]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(b.active, kind)
	b.emit(Event{Type: EventRemoved, Notice: e.notice})
}

func (b *Board) emit(ev Event) {
	if b.listener != nil {
		b.listener(ev)
	}
}
