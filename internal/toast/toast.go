// Package toast holds the single ephemeral feedback message shown to the user.
package toast

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a toast stays visible.
const DefaultTTL = 3200 * time.Millisecond

// Tone colours a toast.
type Tone string

const (
	ToneSuccess Tone = "success"
	ToneError   Tone = "error"
	ToneInfo    Tone = "info"
)

// Toast is one feedback message.
type Toast struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Tone    Tone   `json:"tone"`
}

// Surface keeps at most one toast. A new toast replaces the current one
// outright, and each toast expires after the TTL unless superseded or
// dismissed first.
type Surface struct {
	ttl      time.Duration
	onChange func(*Toast)

	mu      sync.Mutex
	current *Toast
	timer   *time.Timer
	closed  bool
}

// New creates a surface. onChange receives the visible toast, or nil when
// it is cleared; it runs with the surface locked and must not call back
// into the surface.
func New(ttl time.Duration, onChange func(*Toast)) *Surface {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if onChange == nil {
		onChange = func(*Toast) {}
	}
	return &Surface{ttl: ttl, onChange: onChange}
}

// Show replaces the current toast and returns the new one.
func (s *Surface) Show(message string, tone Tone) Toast {
	t := Toast{ID: uuid.NewString(), Message: message, Tone: tone}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return t
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.current = &t
	s.timer = time.AfterFunc(s.ttl, func() { s.expire(t.ID) })
	s.onChange(s.visible())
	return t
}

func (s *Surface) Success(message string) Toast { return s.Show(message, ToneSuccess) }
func (s *Surface) Error(message string) Toast   { return s.Show(message, ToneError) }
func (s *Surface) Info(message string) Toast    { return s.Show(message, ToneInfo) }

// Dismiss clears the toast with the given ID if it is still the current one.
func (s *Surface) Dismiss(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear(id)
}

// Current returns the visible toast, or nil.
func (s *Surface) Current() *Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible()
}

// Close stops the expiry timer. Later calls to Show are ignored.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Surface) expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.clear(id)
}

// clear must be called with s.mu held. A superseded ID is ignored.
func (s *Surface) clear(id string) {
	if s.current == nil || s.current.ID != id {
		return
	}
	s.current = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.onChange(nil)
}

func (s *Surface) visible() *Toast {
	if s.current == nil {
		return nil
	}
	t := *s.current
	return &t
}
