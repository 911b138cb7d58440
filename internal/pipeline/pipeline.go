package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/building-motion-etl/internal/domain"
	"github.com/couchcryptid/building-motion-etl/internal/observability"
	"github.com/google/uuid"
)

// ErrSuperseded is returned by Ingest when a newer ingestion started before
// this one finished. The result of a superseded build is discarded.
var ErrSuperseded = errors.New("ingestion superseded by a newer request")

// Source reads the raw dataset texts.
type Source interface {
	Fetch(ctx context.Context) (domain.Dataset, error)
}

// Builder turns a dataset into animation data.
type Builder interface {
	Build(ctx context.Context, ds domain.Dataset, progress domain.ProgressReporter) (*domain.AnimationData, error)
}

// Publisher forwards a finished build downstream.
type Publisher interface {
	Publish(ctx context.Context, runID string, data *domain.AnimationData) error
}

// Broadcaster fans progress events out to subscribers.
type Broadcaster interface {
	Broadcast(v any)
}

// Run states carried by ProgressEvent.State.
const (
	StateRunning    = "running"
	StateDone       = "done"
	StateFailed     = "failed"
	StateSuperseded = "superseded"
)

// ProgressEvent is one progress update of an ingestion run.
type ProgressEvent struct {
	RunID     string  `json:"run_id"`
	DatasetID string  `json:"dataset_id"`
	Percent   float64 `json:"percent"`
	State     string  `json:"state"`
	Error     string  `json:"error,omitempty"`
}

// Option configures optional pipeline stages.
type Option func(*Pipeline)

// WithPublisher publishes every successful build.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithBroadcaster streams progress events of every run.
func WithBroadcaster(b Broadcaster) Option {
	return func(p *Pipeline) { p.broadcaster = b }
}

// WithReloadInterval makes Run poll the source. Zero loads once and then
// waits for Trigger.
func WithReloadInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.interval = d }
}

// Pipeline orchestrates the fetch-build-publish cycle and holds the current result.
type Pipeline struct {
	source      Source
	builder     Builder
	publisher   Publisher
	broadcaster Broadcaster
	logger      *slog.Logger
	metrics     *observability.Metrics
	interval    time.Duration

	current atomic.Pointer[domain.AnimationData]
	trigger chan struct{}

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	lastID     string
}

// New creates a Pipeline with the given stages and observability.
func New(src Source, b Builder, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:  src,
		builder: b,
		logger:  logger,
		metrics: metrics,
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Current returns the latest successful build, or nil before the first one.
func (p *Pipeline) Current() *domain.AnimationData {
	return p.current.Load()
}

// CheckReadiness returns nil once animation data is available.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if p.current.Load() == nil {
		return errors.New("no animation data loaded yet")
	}
	return nil
}

// Trigger supersedes any in-flight build and asks Run to reload the source
// even if its contents did not change. It never blocks.
func (p *Pipeline) Trigger() {
	p.mu.Lock()
	p.supersedeLocked()
	p.mu.Unlock()

	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Ingest builds ds synchronously. Starting an ingestion cancels the one in
// flight; only the most recently started call may replace Current.
func (p *Pipeline) Ingest(ctx context.Context, ds domain.Dataset) (*domain.AnimationData, error) {
	runID := uuid.NewString()
	datasetID := domain.Fingerprint(ds)
	log := p.logger.With("run_id", runID, "dataset_id", datasetID)

	p.mu.Lock()
	p.supersedeLocked()
	gen := p.generation
	buildCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	log.Info("ingestion started", "files", len(ds.Directions))
	start := time.Now()

	data, err := p.builder.Build(buildCtx, ds, p.reporter(runID, datasetID))

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		p.metrics.Ingestions.WithLabelValues("superseded").Inc()
		p.emit(ProgressEvent{RunID: runID, DatasetID: datasetID, State: StateSuperseded})
		log.Info("ingestion superseded")
		return nil, ErrSuperseded
	}
	p.cancel = nil
	if err == nil {
		p.current.Store(data)
	}
	p.mu.Unlock()

	if err != nil {
		p.metrics.Ingestions.WithLabelValues("error").Inc()
		p.emit(ProgressEvent{RunID: runID, DatasetID: datasetID, State: StateFailed, Error: err.Error()})
		log.Error("ingestion failed", "error", err)
		return nil, err
	}

	p.metrics.Ingestions.WithLabelValues("success").Inc()
	p.metrics.IngestionDuration.Observe(time.Since(start).Seconds())
	p.recordBuild(data)
	p.emit(ProgressEvent{RunID: runID, DatasetID: datasetID, Percent: 100, State: StateDone})
	log.Info("ingestion complete",
		"frames", len(data.Frames),
		"nodes", len(data.NodeOrder),
		"sample_rate", data.SampleRate,
		"duration", time.Since(start),
	)

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, runID, data); err != nil {
			p.metrics.PublishErrors.Inc()
			log.Error("publish frames failed", "error", err)
		}
	}
	return data, nil
}

// Run loads the dataset, then reloads it on every tick of the reload interval
// and on every Trigger until the context is cancelled. Unchanged datasets are
// skipped unless the reload was triggered.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "reload_interval", p.interval)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := initialBackoff
	force := true

	for {
		if ctx.Err() != nil {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}

		if err := p.reload(ctx, force); err != nil {
			if ctx.Err() == nil {
				p.logger.Error("fetch dataset failed", "error", err, "retry_in", backoff)
				p.backoffOrStop(ctx, &backoff, maxBackoff)
			}
			continue
		}
		backoff = initialBackoff
		force = p.wait(ctx)
	}
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// reload fetches the dataset and ingests it when it changed or force is set.
// Only source failures are returned; build failures are logged by Ingest and
// not retried until the dataset changes.
func (p *Pipeline) reload(ctx context.Context, force bool) error {
	ds, err := p.source.Fetch(ctx)
	if err != nil {
		p.metrics.SourceErrors.Inc()
		return fmt.Errorf("fetch dataset: %w", err)
	}

	id := domain.Fingerprint(ds)
	p.mu.Lock()
	unchanged := id == p.lastID
	p.lastID = id
	p.mu.Unlock()

	if unchanged && !force {
		p.logger.Debug("dataset unchanged, skipping ingestion", "dataset_id", id)
		return nil
	}

	// Ingest logs and counts its own failures.
	_, _ = p.Ingest(ctx, ds)
	return nil
}

// wait blocks until the next reload is due and reports whether it was
// requested through Trigger.
func (p *Pipeline) wait(ctx context.Context) bool {
	var tick <-chan time.Time
	if p.interval > 0 {
		timer := time.NewTimer(p.interval)
		defer timer.Stop()
		tick = timer.C
	}

	select {
	case <-ctx.Done():
		return false
	case <-p.trigger:
		return true
	case <-tick:
		return false
	}
}

// supersedeLocked invalidates the in-flight build. Callers hold p.mu.
func (p *Pipeline) supersedeLocked() {
	p.generation++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Pipeline) reporter(runID, datasetID string) domain.ProgressReporter {
	return domain.ProgressFunc(func(percent float64) {
		p.metrics.IngestionProgress.Set(percent)
		p.emit(ProgressEvent{RunID: runID, DatasetID: datasetID, Percent: percent, State: StateRunning})
	})
}

func (p *Pipeline) emit(ev ProgressEvent) {
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(ev)
	}
}

func (p *Pipeline) recordBuild(data *domain.AnimationData) {
	p.metrics.FramesBuilt.Set(float64(len(data.Frames)))
	located := 0
	for _, n := range data.Nodes {
		if n.Located {
			located++
		}
	}
	p.metrics.NodesLocated.Set(float64(located))

	for _, d := range data.Diagnostics {
		p.metrics.SkippedRows.WithLabelValues("malformed").Add(float64(d.Stats.MalformedRows))
		p.metrics.SkippedRows.WithLabelValues("missing_sample").Add(float64(d.Stats.MissingSamples))
		p.metrics.SkippedRows.WithLabelValues("summary").Add(float64(d.Stats.SummaryRows))
	}
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
