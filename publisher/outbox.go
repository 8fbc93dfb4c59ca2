/*
Package publisher relays committed sale events from the outbox to Kafka.

PURPOSE:
  CreateSale and VoidSale append an event to sale_events inside the same
  transaction as the sale change. The OutboxPoller reads undelivered
  events in commit order, writes them to a Kafka topic keyed by sale id,
  and marks each one published after the broker accepts it.

DELIVERY:
  At least once. An event whose write succeeds but whose mark fails is
  sent again on the next tick.

CIRCUIT BREAKER:
  Writes go through a gobreaker circuit. After consecutive failures the
  circuit opens and the poller stops hammering the broker until the
  timeout elapses. Events stay pending in the meantime.
*/
package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"github.com/warp/sale-engine/sale"
	"go.uber.org/zap"
)

// DefaultTopic receives every sale event.
const DefaultTopic = "pos-sale-events"

// Writer is the part of *kafka.Writer the poller uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Config struct {
	Interval  time.Duration
	BatchSize int

	// Consecutive write failures before the circuit opens.
	MaxFailures uint32
	// How long the circuit stays open before a trial write.
	OpenTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    time.Second,
		BatchSize:   100,
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

type OutboxPoller struct {
	cfg     Config
	outbox  sale.Outbox
	writer  Writer
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *zap.Logger
	now     func() time.Time
}

// NewKafkaWriter returns a writer for topic on brokers.
func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(outbox sale.Outbox, writer Writer, cfg Config, logger *zap.Logger) *OutboxPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("publisher")
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = DefaultConfig().MaxFailures
	}
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "kafka-outbox",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state changed",
				zap.String("circuit", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &OutboxPoller{
		cfg:     cfg,
		outbox:  outbox,
		writer:  writer,
		breaker: breaker,
		logger:  logger,
		now:     time.Now,
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("outbox poller started", zap.Duration("interval", p.cfg.Interval))
	for {
		select {
		case <-ticker.C:
			p.PublishPending(ctx)
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return
		}
	}
}

// PublishPending delivers one batch of pending events and returns how many
// were marked published. Delivery stops at the first failed write so
// events for a sale are never reordered.
func (p *OutboxPoller) PublishPending(ctx context.Context) int {
	events, err := p.outbox.PendingEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("failed to fetch pending events", zap.Error(err))
		return 0
	}

	published := 0
	for _, ev := range events {
		if err := p.publish(ctx, ev); err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				p.logger.Debug("circuit open, deferring events", zap.Int("pending", len(events)-published))
			} else {
				p.logger.Error("failed to publish event",
					zap.String("event_id", ev.ID),
					zap.String("sale_id", string(ev.SaleID)),
					zap.Error(err),
				)
			}
			return published
		}

		if err := p.outbox.MarkEventPublished(ctx, ev.ID, p.now().UTC()); err != nil {
			p.logger.Error("failed to mark event published",
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
			return published
		}
		published++
	}
	return published
}

func (p *OutboxPoller) publish(ctx context.Context, ev sale.Event) error {
	msg := kafka.Message{
		Key:   []byte(ev.SaleID),
		Value: ev.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
		Time: ev.CreatedAt,
	}
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(ctx, msg)
	})
	return err
}
