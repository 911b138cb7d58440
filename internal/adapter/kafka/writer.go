package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/building-motion-etl/internal/config"
	"github.com/couchcryptid/building-motion-etl/internal/domain"
	"github.com/couchcryptid/building-motion-etl/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer used by Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// FrameMessage is the payload published for every frame of a build.
type FrameMessage struct {
	DatasetID           string                  `json:"dataset_id"`
	Frame               int                     `json:"frame"`
	Time                float64                 `json:"time"`
	AverageDisplacement domain.Displacement     `json:"average_displacement"`
	AverageMagnitude    float64                 `json:"average_magnitude"`
	Stories             map[string]StorySummary `json:"stories"`
	Positions           map[string]domain.Vec3  `json:"positions"`
}

// StorySummary is the per-story part of a FrameMessage.
type StorySummary struct {
	Nodes               int                 `json:"nodes"`
	AverageDisplacement domain.Displacement `json:"average_displacement"`
}

// Writer produces frame messages to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer    messageWriter
	batchSize int
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewWriter creates a Kafka producer for the configured frame topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return newWriter(w, cfg.PublishBatchSize, logger, metrics)
}

func newWriter(w messageWriter, batchSize int, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Writer{writer: w, batchSize: batchSize, logger: logger, metrics: metrics}
}

// Publish writes one message per frame in batches of the configured size.
func (w *Writer) Publish(ctx context.Context, runID string, data *domain.AnimationData) error {
	batch := make([]kafkago.Message, 0, min(w.batchSize, len(data.Frames)))
	for i := range data.Frames {
		msg, err := serializeToMessage(data, runID, &data.Frames[i])
		if err != nil {
			return err
		}
		batch = append(batch, msg)
		if len(batch) == w.batchSize {
			if err := w.flush(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := w.flush(ctx, batch); err != nil {
			return err
		}
	}
	w.logger.Info("frames published", "dataset_id", data.ID, "run_id", runID, "frames", len(data.Frames))
	return nil
}

func (w *Writer) flush(ctx context.Context, batch []kafkago.Message) error {
	if err := w.writer.WriteMessages(ctx, batch...); err != nil {
		return fmt.Errorf("write %d frame messages: %w", len(batch), err)
	}
	w.metrics.FramesPublished.Add(float64(len(batch)))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals one frame into a Kafka message keyed by dataset and frame number.
func serializeToMessage(data *domain.AnimationData, runID string, f *domain.Frame) (kafkago.Message, error) {
	stories := make(map[string]StorySummary, len(f.Stories))
	for id, s := range f.Stories {
		stories[id] = StorySummary{Nodes: len(s.NodeIDs), AverageDisplacement: s.AverageDisplacement}
	}

	payload, err := json.Marshal(FrameMessage{
		DatasetID:           data.ID,
		Frame:               f.Number,
		Time:                f.Time,
		AverageDisplacement: f.AverageDisplacement,
		AverageMagnitude:    f.AverageDisplacement.Magnitude(),
		Stories:             stories,
		Positions:           f.Positions,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize frame %d: %w", f.Number, err)
	}
	return kafkago.Message{
		Key:   []byte(data.ID + "-" + strconv.Itoa(f.Number)),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "dataset_id", Value: []byte(data.ID)},
			{Key: "run_id", Value: []byte(runID)},
			{Key: "built_at", Value: []byte(data.BuiltAt.Format(time.RFC3339))},
		},
	}, nil
}
