package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/solarmap/internal/geometry"
	"github.com/sells-group/solarmap/internal/pipeline"
)

const maxEditBytes = 4 << 20

type sessionResponse struct {
	ID       string            `json:"id"`
	Estimate pipeline.Estimate `json:"estimate"`
}

type editRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type editResponse struct {
	Estimate pipeline.Estimate `json:"estimate"`
	Notice   string            `json:"notice,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Collect())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.open()
	writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.id, Estimate: sess.pipe.Current()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if !s.remove(sess.id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.log.Info("api: session closed", zap.String("session", sess.id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var req editRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEditBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind, err := pipeline.ParseEditKind(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown edit type %q", req.Type))
		return
	}

	edit := pipeline.Edit{Kind: kind}
	if data := bytes.TrimSpace(req.Data); len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			writeError(w, http.StatusBadRequest, "data must be a GeoJSON FeatureCollection")
			return
		}
		edit.Features = &fc
	}

	if err := sess.pipe.Submit(r.Context(), edit); err != nil {
		s.log.Warn("api: submit edit", zap.String("session", sess.id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "session is not accepting edits")
		return
	}

	resp := editResponse{Estimate: sess.pipe.Current()}
	if kind != pipeline.EditDelete && geometry.FromFeatureCollection(edit.Features) == nil {
		resp.Notice = pipeline.DrawPrompt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r.Context()).pipe.Current())
}

// handleEvents streams state changes and notices as server-sent events,
// starting with the current state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := sess.pipe.Subscribe()
	defer unsubscribe()
	sess.streamOpened()
	defer func() { sess.streamClosed(s.clock.Now()) }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, pipeline.Event{Type: pipeline.EventState, State: sess.pipe.Current()}); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev pipeline.Event) error {
	var (
		name string
		data []byte
		err  error
	)
	switch ev.Type {
	case pipeline.EventNotice:
		name = "notice"
		data, err = json.Marshal(map[string]string{"message": ev.Notice})
	default:
		name = "state"
		data, err = json.Marshal(ev.State)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// requestLogger logs each request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
