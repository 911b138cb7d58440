package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/building-motion-etl/internal/domain"
	"github.com/couchcryptid/building-motion-etl/internal/observability"
	"github.com/couchcryptid/building-motion-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockSource struct {
	mu      sync.Mutex
	ds      domain.Dataset
	failN   int
	fetches atomic.Int32
}

func (m *mockSource) Fetch(_ context.Context) (domain.Dataset, error) {
	m.fetches.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 {
		m.failN--
		return domain.Dataset{}, errors.New("data dir unavailable")
	}
	return m.ds, nil
}

func (m *mockSource) set(ds domain.Dataset) {
	m.mu.Lock()
	m.ds = ds
	m.mu.Unlock()
}

// mockBuilder blocks on datasets whose mapping is "slow" until its build is cancelled.
type mockBuilder struct {
	started chan string
	err     error
	builds  atomic.Int32
}

func (m *mockBuilder) Build(ctx context.Context, ds domain.Dataset, progress domain.ProgressReporter) (*domain.AnimationData, error) {
	m.builds.Add(1)
	if m.started != nil {
		m.started <- ds.Mapping
	}
	if ds.Mapping == "slow" {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	progress.Report(50)
	return &domain.AnimationData{ID: domain.Fingerprint(ds), Frames: make([]domain.Frame, 2)}, nil
}

type mockPublisher struct {
	mu     sync.Mutex
	runIDs []string
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, runID string, _ *domain.AnimationData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runIDs = append(m.runIDs, runID)
	return m.err
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []pipeline.ProgressEvent
}

func (r *recordingBroadcaster) Broadcast(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, v.(pipeline.ProgressEvent))
}

func (r *recordingBroadcaster) snapshot() []pipeline.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.ProgressEvent(nil), r.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runPipeline(t *testing.T, p *pipeline.Pipeline) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("pipeline did not stop")
		}
	})
	return cancel
}

// --- tests ---

func TestPipeline_Ingest_HappyPath(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	pub := &mockPublisher{}
	events := &recordingBroadcaster{}
	p := pipeline.New(&mockSource{}, pipeline.NewBuilder(discardLogger()), discardLogger(), metrics,
		pipeline.WithPublisher(pub), pipeline.WithBroadcaster(events))

	require.Error(t, p.CheckReadiness(context.Background()))

	data, err := p.Ingest(context.Background(), sampleDataset())
	require.NoError(t, err)

	assert.Same(t, data, p.Current())
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.Len(t, data.Frames, 2)
	assert.Len(t, pub.runIDs, 1)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Ingestions.WithLabelValues("success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FramesBuilt), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.NodesLocated), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SkippedRows.WithLabelValues("malformed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SkippedRows.WithLabelValues("summary")), 0)
	assert.InDelta(t, 100, testutil.ToFloat64(metrics.IngestionProgress), 0)

	got := events.snapshot()
	require.NotEmpty(t, got)
	assert.Equal(t, pipeline.StateRunning, got[0].State)
	assert.InDelta(t, 0, got[0].Percent, 0)
	last := got[len(got)-1]
	assert.Equal(t, pipeline.StateDone, last.State)
	assert.Equal(t, data.ID, last.DatasetID)
	assert.Equal(t, pub.runIDs[0], last.RunID)
}

func TestPipeline_Ingest_BuildError(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	pub := &mockPublisher{}
	events := &recordingBroadcaster{}
	p := pipeline.New(&mockSource{}, pipeline.NewBuilder(discardLogger()), discardLogger(), metrics,
		pipeline.WithPublisher(pub), pipeline.WithBroadcaster(events))

	_, err := p.Ingest(context.Background(), domain.Dataset{Mapping: "node,story,corner\n"})
	require.ErrorIs(t, err, domain.ErrEmptyDataset)

	assert.Nil(t, p.Current())
	assert.Error(t, p.CheckReadiness(context.Background()))
	assert.Empty(t, pub.runIDs)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Ingestions.WithLabelValues("error")), 0)

	got := events.snapshot()
	last := got[len(got)-1]
	assert.Equal(t, pipeline.StateFailed, last.State)
	assert.Contains(t, last.Error, "empty dataset")
}

func TestPipeline_Ingest_PublishErrorKeepsResult(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	pub := &mockPublisher{err: errors.New("broker down")}
	p := pipeline.New(&mockSource{}, &mockBuilder{}, discardLogger(), metrics, pipeline.WithPublisher(pub))

	data, err := p.Ingest(context.Background(), domain.Dataset{Mapping: "fast"})
	require.NoError(t, err)
	assert.Same(t, data, p.Current())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PublishErrors), 0)
}

func TestPipeline_Ingest_LastCallWins(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	b := &mockBuilder{started: make(chan string, 2)}
	p := pipeline.New(&mockSource{}, b, discardLogger(), metrics)

	slow := make(chan error, 1)
	go func() {
		_, err := p.Ingest(context.Background(), domain.Dataset{Mapping: "slow"})
		slow <- err
	}()
	require.Equal(t, "slow", <-b.started)

	data, err := p.Ingest(context.Background(), domain.Dataset{Mapping: "fast"})
	require.NoError(t, err)
	<-b.started

	require.ErrorIs(t, <-slow, pipeline.ErrSuperseded)
	assert.Same(t, data, p.Current())
	assert.Equal(t, domain.Fingerprint(domain.Dataset{Mapping: "fast"}), p.Current().ID)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Ingestions.WithLabelValues("superseded")), 0)
}

func TestPipeline_Trigger_SupersedesInFlightBuild(t *testing.T) {
	b := &mockBuilder{started: make(chan string, 1)}
	p := pipeline.New(&mockSource{}, b, discardLogger(), observability.NewMetricsForTesting())

	slow := make(chan error, 1)
	go func() {
		_, err := p.Ingest(context.Background(), domain.Dataset{Mapping: "slow"})
		slow <- err
	}()
	<-b.started

	p.Trigger()

	require.ErrorIs(t, <-slow, pipeline.ErrSuperseded)
	assert.Nil(t, p.Current())
}

func TestPipeline_Run_LoadsOnce(t *testing.T) {
	src := &mockSource{ds: domain.Dataset{Mapping: "a"}}
	b := &mockBuilder{}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(src, b, discardLogger(), metrics)

	runPipeline(t, p)

	require.Eventually(t, func() bool { return p.Current() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PipelineRunning), 0)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), src.fetches.Load())
	assert.Equal(t, int32(1), b.builds.Load())
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(&mockSource{}, &mockBuilder{}, discardLogger(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Nil(t, p.Current())
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestPipeline_Run_SkipsUnchangedDataset(t *testing.T) {
	src := &mockSource{ds: domain.Dataset{Mapping: "a"}}
	b := &mockBuilder{}
	p := pipeline.New(src, b, discardLogger(), observability.NewMetricsForTesting(),
		pipeline.WithReloadInterval(5*time.Millisecond))

	runPipeline(t, p)

	require.Eventually(t, func() bool { return src.fetches.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), b.builds.Load())

	src.set(domain.Dataset{Mapping: "b"})
	require.Eventually(t, func() bool { return b.builds.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		cur := p.Current()
		return cur != nil && cur.ID == domain.Fingerprint(domain.Dataset{Mapping: "b"})
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPipeline_Run_TriggerForcesReload(t *testing.T) {
	src := &mockSource{ds: domain.Dataset{Mapping: "a"}}
	b := &mockBuilder{}
	p := pipeline.New(src, b, discardLogger(), observability.NewMetricsForTesting())

	runPipeline(t, p)
	require.Eventually(t, func() bool { return p.Current() != nil }, 2*time.Second, 5*time.Millisecond)

	p.Trigger()

	require.Eventually(t, func() bool { return b.builds.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestPipeline_Run_RetriesSourceErrors(t *testing.T) {
	src := &mockSource{ds: domain.Dataset{Mapping: "a"}, failN: 2}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(src, &mockBuilder{}, discardLogger(), metrics)

	runPipeline(t, p)

	require.Eventually(t, func() bool {
		return p.CheckReadiness(context.Background()) == nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.SourceErrors), 0)
	assert.Equal(t, int32(3), src.fetches.Load())
}

func TestPipeline_Run_RejectedDatasetIsNotRetried(t *testing.T) {
	src := &mockSource{ds: domain.Dataset{Mapping: "a"}}
	b := &mockBuilder{err: domain.ErrEmptyDataset}
	p := pipeline.New(src, b, discardLogger(), observability.NewMetricsForTesting(),
		pipeline.WithReloadInterval(5*time.Millisecond))

	runPipeline(t, p)

	require.Eventually(t, func() bool { return src.fetches.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), b.builds.Load())
	assert.Nil(t, p.Current())
}
