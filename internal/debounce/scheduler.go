// Package debounce coalesces bursts of events into a single deferred call
// that runs once the burst has been quiet for a fixed window.
package debounce

import (
	"time"

	"github.com/facebookgo/clock"
)

// DefaultWindow is the quiescence window used when none is configured.
const DefaultWindow = 500 * time.Millisecond

// Token identifies one scheduled callback. Tokens increase monotonically;
// only the latest one can fire.
type Token uint64

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source (for testing).
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// Scheduler holds at most one pending callback. Each Schedule call replaces
// the pending callback and restarts the window.
//
// A Scheduler is not safe for concurrent use. It is owned by a single event
// loop, which selects on C and calls Fire when it delivers:
//
//	for {
//		select {
//		case <-s.C():
//			s.Fire()
//		case ev := <-events:
//			s.Schedule(func() { handle(ev) })
//		}
//	}
//
// Because C is re-read on every loop iteration and always returns the
// channel of the latest timer, a superseded timer can never be observed.
type Scheduler struct {
	clock   clock.Clock
	window  time.Duration
	timer   *clock.Timer
	pending func()
	token   Token
}

// New creates a Scheduler. A non-positive window uses DefaultWindow.
func New(window time.Duration, opts ...Option) *Scheduler {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &Scheduler{
		clock:  clock.New(),
		window: window,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the quiescence window.
func (s *Scheduler) Window() time.Duration {
	return s.window
}

// Schedule cancels any pending callback and arms fn to run one window from
// now. It returns the token of the new callback.
func (s *Scheduler) Schedule(fn func()) Token {
	s.stop()
	s.token++
	s.pending = fn
	s.timer = s.clock.Timer(s.window)
	return s.token
}

// Cancel drops the pending callback, if any. It reports whether one was
// pending.
func (s *Scheduler) Cancel() bool {
	had := s.pending != nil
	s.stop()
	return had
}

// Pending reports whether a callback is waiting for its window to elapse.
func (s *Scheduler) Pending() bool {
	return s.pending != nil
}

// Current returns the token of the most recently scheduled callback.
func (s *Scheduler) Current() Token {
	return s.token
}

// C returns the channel that delivers when the pending callback is due. It
// returns nil when nothing is pending, which blocks forever in a select.
func (s *Scheduler) C() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}

// Fire runs the pending callback and clears it. It reports whether a
// callback ran. Calling Fire again before the next Schedule is a no-op.
func (s *Scheduler) Fire() bool {
	fn := s.pending
	s.timer = nil
	s.pending = nil
	if fn == nil {
		return false
	}
	fn()
	return true
}

func (s *Scheduler) stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
}
