package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/safar/go-order-lifecycle/internal/models"
	"github.com/safar/go-order-lifecycle/pkg/kafka"
	"github.com/safar/go-order-lifecycle/pkg/metrics"
)

type Outbox interface {
	ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []models.OutboxRecord) error) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, records []models.OutboxRecord) error
}

// KafkaPublisher keys messages by aggregate id so each aggregate's events stay ordered within
// a partition.
type KafkaPublisher struct {
	writer kafka.Writer
}

func NewKafkaPublisher(w kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, records []models.OutboxRecord) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		msgs = append(msgs, kafka.NewMessage(rec.AggregateID.String(), rec.Payload, map[string]string{
			"event_id":   rec.EventID.String(),
			"event_type": rec.EventType,
		}, rec.CreatedAt))
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// LogPublisher stands in for a broker when none is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, records []models.OutboxRecord) error {
	for _, rec := range records {
		p.logger.Info("domain event",
			"event_id", rec.EventID,
			"event_type", rec.EventType,
			"aggregate_id", rec.AggregateID,
			"payload", string(rec.Payload))
	}
	return nil
}

type OutboxRelay struct {
	outbox    Outbox
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.DomainMetrics
}

func NewOutboxRelay(outbox Outbox, publisher Publisher, interval time.Duration, batchSize int, logger *slog.Logger, m *metrics.DomainMetrics) *OutboxRelay {
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.With("worker", "outbox"),
		metrics:   m,
	}
}

func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", "interval", r.interval, "batch_size", r.batchSize)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil {
				r.logger.Error("outbox relay pass failed", "error", err)
			}
		}
	}
}

// Drain publishes batches until the outbox is empty or a batch fails. Events in a failed batch
// stay unsent and are retried on the next pass.
func (r *OutboxRelay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.outbox.ProcessOutbox(ctx, r.batchSize, r.publisher.Publish)
		if err != nil {
			r.metrics.OutboxFailures.Inc()
			return total, err
		}
		r.metrics.OutboxPublished.Add(float64(n))
		total += n
		if n < r.batchSize {
			return total, nil
		}
	}
}
