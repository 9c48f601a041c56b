// Package api exposes estimate pipelines over HTTP. Each map view opens a
// session, streams its draw events to it and reads back the estimate state.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/solarmap/internal/monitoring"
	"github.com/sells-group/solarmap/internal/pipeline"
)

// PipelineFactory builds the pipeline for a new session. log is already
// scoped to the session.
type PipelineFactory func(log *zap.Logger) *pipeline.Pipeline

// Options configures a Server.
type Options struct {
	AllowedOrigins []string
	EditRate       float64 // edits per second per session
	EditBurst      int
	IdleTimeout    time.Duration
	Clock          clock.Clock
}

// Server owns the live sessions.
type Server struct {
	ctx     context.Context
	factory PipelineFactory
	stats   *monitoring.Collector
	opts    Options
	clock   clock.Clock
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// NewServer creates a Server. Session event loops run under ctx and stop
// when it is cancelled or when Close is called.
func NewServer(ctx context.Context, factory PipelineFactory, stats *monitoring.Collector, opts Options) *Server {
	if opts.EditRate <= 0 {
		opts.EditRate = 20
	}
	if opts.EditBurst <= 0 {
		opts.EditBurst = 40
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Server{
		ctx:      ctx,
		factory:  factory,
		stats:    stats,
		opts:     opts,
		clock:    clk,
		log:      zap.L().With(zap.String("component", "api")),
		sessions: make(map[string]*session),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Post("/sessions", s.handleCreateSession)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(s.sessionCtx)
			r.Delete("/", s.handleDeleteSession)
			r.With(s.limitEdits).Post("/edits", s.handleEdit)
			r.Get("/estimate", s.handleEstimate)
			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

// open starts a new session.
func (s *Server) open() *session {
	id := uuid.NewString()
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("session", id))

	ctx, cancel := context.WithCancel(s.ctx)
	sess := &session{
		id:       id,
		pipe:     s.factory(log),
		cancel:   cancel,
		done:     make(chan struct{}),
		limiter:  rate.NewLimiter(rate.Limit(s.opts.EditRate), s.opts.EditBurst),
		lastSeen: s.clock.Now(),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(sess.done)
		if err := sess.pipe.Run(ctx); err != nil {
			log.Error("api: session pipeline exited", zap.Error(err))
		}
	}()

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	s.stats.SessionOpened()

	s.log.Info("api: session opened", zap.String("session", id))
	return sess
}

func (s *Server) lookup(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		sess.touch(s.clock.Now())
	}
	return sess, ok
}

// remove stops a session. It reports whether the session existed.
func (s *Server) remove(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}

	sess.cancel()
	<-sess.done
	s.stats.SessionClosed()
	return true
}

// Len returns the number of live sessions.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reap closes sessions that have been idle longer than the idle timeout and
// have no open event stream. It returns the number closed.
func (s *Server) Reap() int {
	now := s.clock.Now()

	s.mu.Lock()
	var idle []string
	for id, sess := range s.sessions {
		if sess.idle(now, s.opts.IdleTimeout) {
			idle = append(idle, id)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, id := range idle {
		if s.remove(id) {
			n++
			s.log.Info("api: session expired", zap.String("session", id))
		}
	}
	return n
}

// RunReaper calls Reap every interval until ctx is cancelled.
func (s *Server) RunReaper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Reap(); n > 0 {
				s.log.Debug("api: reaped idle sessions", zap.Int("count", n))
			}
		}
	}
}

// Close stops every session and waits for their loops to exit.
func (s *Server) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.remove(id)
	}
	s.wg.Wait()
}
