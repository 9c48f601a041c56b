package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/sells-group/solarmap/internal/pipeline"
)

type session struct {
	id      string
	pipe    *pipeline.Pipeline
	cancel  context.CancelFunc
	done    chan struct{}
	limiter *rate.Limiter

	mu       sync.Mutex
	lastSeen time.Time
	streams  int
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *session) streamOpened() {
	s.mu.Lock()
	s.streams++
	s.mu.Unlock()
}

func (s *session) streamClosed(now time.Time) {
	s.mu.Lock()
	s.streams--
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *session) idle(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams == 0 && now.Sub(s.lastSeen) > timeout
}

type ctxKey struct{}

func sessionFrom(ctx context.Context) *session {
	sess, _ := ctx.Value(ctxKey{}).(*session)
	return sess
}

// sessionCtx resolves the {id} URL parameter and stores the session in the
// request context.
func (s *Server) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.lookup(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}

// limitEdits rejects edits beyond the session's rate.
func (s *Server) limitEdits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sessionFrom(r.Context()).limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many edits")
			return
		}
		next.ServeHTTP(w, r)
	})
}
