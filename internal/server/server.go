package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"calibkit/internal/geometry"
	"calibkit/internal/pipeline"
	"calibkit/internal/storage"
)

// Server exposes run history, geometry previews and metrics over HTTP.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	metrics  *Metrics
	log      *slog.Logger
	hub      *runHub
	server   *http.Server
}

// NewServer creates a server. store and pipe may be nil; the routes that
// need them then answer 503.
func NewServer(addr string, store *storage.Store, pipe *pipeline.Pipeline, metrics *Metrics, log *slog.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{addr: addr, store: store, pipeline: pipe, metrics: metrics, log: log, hub: newRunHub(log)}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.middleware)
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	if s.pipeline != nil {
		go s.forwardRuns(ctx)
	}

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/runs", s.handleRuns).Methods("GET")
	r.HandleFunc("/runs/{id}", s.handleRunMeta).Methods("GET")
	r.HandleFunc("/stream", s.handleRunStream).Methods("GET")
	r.HandleFunc("/ws", s.hub.handleWebSocket).Methods("GET")
	r.HandleFunc("/cameras", s.handleCameras).Methods("GET")
	r.HandleFunc("/cameras/{camera}/sections", s.handleSections).Methods("GET")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "history disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRunMeta(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "history disabled", http.StatusServiceUnavailable)
		return
	}
	meta, err := s.store.RunMeta(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "no pipeline", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			event := map[string]any{"id": res.Job.ID, "type": res.Job.Type, "meta": res.Meta}
			if res.Error != nil {
				event["error"] = res.Error.Error()
			}
			payload, _ := json.Marshal(event)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

// forwardRuns pushes every finished run to the websocket clients.
func (s *Server) forwardRuns(ctx context.Context) {
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			s.hub.publish(runEvent(res))
		}
	}
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, geometry.Families())
}

func (s *Server) handleSections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n1, err1 := strconv.Atoi(q.Get("naxis1"))
	n2, err2 := strconv.Atoi(q.Get("naxis2"))
	if err1 != nil || err2 != nil || n1 < 1 || n2 < 1 {
		http.Error(w, "naxis1 and naxis2 must be positive integers", http.StatusBadRequest)
		return
	}
	opts := geometry.DefaultOptions()
	if v := q.Get("flip"); v != "" {
		flip, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid flip", http.StatusBadRequest)
			return
		}
		opts.Flip = flip
	}

	res, err := geometry.Preview(mux.Vars(r)["camera"], geometry.Dims{NAXIS1: n1, NAXIS2: n2}, opts)
	switch {
	case errors.Is(err, geometry.ErrUnsupportedCamera):
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
