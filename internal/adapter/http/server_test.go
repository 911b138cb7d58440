package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	httpadapter "github.com/couchcryptid/building-motion-etl/internal/adapter/http"
	"github.com/couchcryptid/building-motion-etl/internal/domain"
	"github.com/couchcryptid/building-motion-etl/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMapping = `node,story,corner
1,11,NW
2,11,NE
`

const testExport = `Column, 2, Displacement, 1, Grid 11, 0, 0, 120
Column, 3, Displacement, 2, Grid 11, 240, 0, 120
0, 0, 0
0.01, 1, 1
0.02, 2, 2
`

type mockProvider struct {
	data      *domain.AnimationData
	readyErr  error
	triggered int
}

func (m *mockProvider) CheckReadiness(_ context.Context) error { return m.readyErr }
func (m *mockProvider) Current() *domain.AnimationData { return m.data }
func (m *mockProvider) Trigger() { m.triggered++ }

func buildData(t *testing.T) *domain.AnimationData {
	t.Helper()
	data, err := domain.BuildAnimationData(context.Background(), testMapping,
		map[string]string{"D_H1_Grid_11": testExport}, nil)
	require.NoError(t, err)
	return data
}

func newTestServer(p *mockProvider, opts httpadapter.Options) (*httpadapter.Server, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpadapter.NewServer(":0", p, logger, metrics, opts), metrics
}

func do(srv http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	srv, _ := newTestServer(&mockProvider{}, httpadapter.Options{})

	rec := do(srv, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv, _ := newTestServer(&mockProvider{}, httpadapter.Options{})

	rec := do(srv, http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv, _ := newTestServer(&mockProvider{readyErr: fmt.Errorf("no animation data loaded yet")}, httpadapter.Options{})

	rec := do(srv, http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "no animation data loaded yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(&mockProvider{}, httpadapter.Options{})

	rec := do(srv, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAnimationSummary(t *testing.T) {
	data := buildData(t)
	srv, _ := newTestServer(&mockProvider{data: data}, httpadapter.Options{})

	rec := do(srv, http.MethodGet, "/api/v1/animation")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ID          string                   `json:"id"`
		Frames      int                      `json:"frames"`
		Nodes       int                      `json:"nodes"`
		SampleRate  float64                  `json:"sample_rate"`
		EndTime     float64                  `json:"end_time"`
		Extrema     domain.Extrema           `json:"extrema"`
		Diagnostics []domain.FileDiagnostics `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, data.ID, body.ID)
	assert.Equal(t, 3, body.Frames)
	assert.Equal(t, 2, body.Nodes)
	assert.InDelta(t, 100, body.SampleRate, 1e-9)
	assert.InDelta(t, 0.02, body.EndTime, 1e-12)
	assert.InDelta(t, 2*domain.InchToMeter, body.Extrema.MaxDisplacement, 1e-12)
	require.Len(t, body.Diagnostics, 1)
	assert.Equal(t, "D_H1_Grid_11", body.Diagnostics[0].Filename)
}

func TestAnimationRoutesReturn503BeforeFirstBuild(t *testing.T) {
	srv, _ := newTestServer(&mockProvider{}, httpadapter.Options{})

	for _, target := range []string{"/api/v1/animation", "/api/v1/animation/nodes", "/api/v1/animation/frames/1"} {
		t.Run(target, func(t *testing.T) {
			rec := do(srv, http.MethodGet, target)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		})
	}
}

func TestAnimationNodes(t *testing.T) {
	srv, _ := newTestServer(&mockProvider{data: buildData(t)}, httpadapter.Options{})

	rec := do(srv, http.MethodGet, "/api/v1/animation/nodes")

	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []domain.NodeRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 2)
	assert.Equal(t, "1", nodes[0].ID)
	assert.Equal(t, "11", nodes[0].Story)
	assert.Equal(t, "NE", nodes[1].Corner)
	assert.True(t, nodes[1].Located)
	assert.InDelta(t, 240*domain.InchToMeter, nodes[1].InitialPosition[0], 1e-12)
	assert.InDelta(t, 120*domain.InchToMeter, nodes[1].InitialPosition[1], 1e-12, "Y-up")
}

func TestAnimationFrame(t *testing.T) {
	data := buildData(t)
	srv, metrics := newTestServer(&mockProvider{data: data}, httpadapter.Options{FrameCacheSize: 8})

	rec := do(srv, http.MethodGet, "/api/v1/animation/frames/2")

	require.Equal(t, http.StatusOK, rec.Code)
	var frame domain.Frame
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frame))
	assert.Equal(t, 2, frame.Number)
	assert.Equal(t, 1, frame.Index)
	assert.InDelta(t, 0.01, frame.Time, 1e-12)
	assert.InDelta(t, domain.InchToMeter, frame.AverageDisplacement.H1, 1e-12)
	assert.Equal(t, []string{"1", "2"}, frame.Stories["11"].NodeIDs)

	again := do(srv, http.MethodGet, "/api/v1/animation/frames/2")
	assert.Equal(t, rec.Body.String(), again.Body.String())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FrameCache.WithLabelValues("miss")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FrameCache.WithLabelValues("hit")), 0)
}

func TestAnimationFrame_Errors(t *testing.T) {
	srv, _ := newTestServer(&mockProvider{data: buildData(t)}, httpadapter.Options{})

	tests := []struct {
		target string
		status int
	}{
		{"/api/v1/animation/frames/0", http.StatusNotFound},
		{"/api/v1/animation/frames/4", http.StatusNotFound},
		{"/api/v1/animation/frames/-1", http.StatusNotFound},
		{"/api/v1/animation/frames/first", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := do(srv, http.MethodGet, tt.target)
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestIngestTriggersReload(t *testing.T) {
	p := &mockProvider{}
	srv, _ := newTestServer(p, httpadapter.Options{})

	rec := do(srv, http.MethodPost, "/api/v1/ingest")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, p.triggered)

	rec = do(srv, http.MethodGet, "/api/v1/ingest")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProgressRoute(t *testing.T) {
	progress := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	srv, _ := newTestServer(&mockProvider{}, httpadapter.Options{Progress: progress})
	assert.Equal(t, http.StatusTeapot, do(srv, http.MethodGet, "/api/v1/progress").Code)

	bare, _ := newTestServer(&mockProvider{}, httpadapter.Options{})
	assert.Equal(t, http.StatusNotFound, do(bare, http.MethodGet, "/api/v1/progress").Code)
}
