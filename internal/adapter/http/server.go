package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/building-motion-etl/internal/domain"
	"github.com/couchcryptid/building-motion-etl/internal/observability"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AnimationProvider exposes the current build and accepts reload requests.
type AnimationProvider interface {
	sharedobs.ReadinessChecker
	Current() *domain.AnimationData
	Trigger()
}

// Server exposes the animation API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	provider   AnimationProvider
	cache      *frameCache
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// Options holds the optional parts of the server.
type Options struct {
	// Progress serves GET /api/v1/progress when set.
	Progress       http.Handler
	FrameCacheSize int
}

// NewServer creates an HTTP server with the API, /healthz, /readyz, and /metrics routes.
func NewServer(addr string, provider AnimationProvider, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		provider: provider,
		cache:    newFrameCache(opts.FrameCacheSize),
		logger:   logger,
		metrics:  metrics,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(provider))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/animation", s.handleSummary)
	mux.HandleFunc("GET /api/v1/animation/nodes", s.handleNodes)
	mux.HandleFunc("GET /api/v1/animation/frames/{frame}", s.handleFrame)
	mux.HandleFunc("POST /api/v1/ingest", s.handleIngest)
	if opts.Progress != nil {
		mux.Handle("GET /api/v1/progress", opts.Progress)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// summary is the body of GET /api/v1/animation.
type summary struct {
	ID          string                   `json:"id"`
	BuiltAt     time.Time                `json:"built_at"`
	Frames      int                      `json:"frames"`
	Nodes       int                      `json:"nodes"`
	SampleRate  float64                  `json:"sample_rate"`
	StartTime   float64                  `json:"start_time"`
	EndTime     float64                  `json:"end_time"`
	Extrema     domain.Extrema           `json:"extrema"`
	Diagnostics []domain.FileDiagnostics `json:"diagnostics"`
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	data, ok := s.current(w)
	if !ok {
		return
	}
	body := summary{
		ID:          data.ID,
		BuiltAt:     data.BuiltAt,
		Frames:      len(data.Frames),
		Nodes:       len(data.NodeOrder),
		SampleRate:  data.SampleRate,
		Extrema:     data.Extrema,
		Diagnostics: data.Diagnostics,
	}
	if n := len(data.TimeSteps); n > 0 {
		body.StartTime = data.TimeSteps[0]
		body.EndTime = data.TimeSteps[n-1]
	}
	sharedobs.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	data, ok := s.current(w)
	if !ok {
		return
	}
	nodes := make([]*domain.NodeRecord, 0, len(data.NodeOrder))
	for _, id := range data.NodeOrder {
		nodes = append(nodes, data.Nodes[id])
	}
	sharedobs.WriteJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("frame"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "frame must be an integer")
		return
	}
	data, ok := s.current(w)
	if !ok {
		return
	}

	key := frameKey(data.ID, number)
	if body, ok := s.cache.get(key); ok {
		s.metrics.FrameCache.WithLabelValues("hit").Inc()
		writeRaw(w, body)
		return
	}
	s.metrics.FrameCache.WithLabelValues("miss").Inc()

	frame, ok := data.Frame(number)
	if !ok {
		writeError(w, http.StatusNotFound, "frame "+strconv.Itoa(number)+" out of range 1-"+strconv.Itoa(len(data.Frames)))
		return
	}
	body, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("encode frame", "frame", number, "error", err)
		writeError(w, http.StatusInternalServerError, "encode frame")
		return
	}
	s.cache.put(key, body)
	writeRaw(w, body)
}

func (s *Server) handleIngest(w http.ResponseWriter, _ *http.Request) {
	s.provider.Trigger()
	s.logger.Info("ingestion requested")
	sharedobs.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// current writes 503 and returns false when no build is available.
func (s *Server) current(w http.ResponseWriter) (*domain.AnimationData, bool) {
	data := s.provider.Current()
	if data == nil {
		writeError(w, http.StatusServiceUnavailable, "no animation data loaded yet")
		return nil, false
	}
	return data, true
}

func writeRaw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck // best-effort response
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
