// Package kafkaintake feeds identity events from a Kafka topic into the oracle.
// Every poll is one pipeline run; offsets are committed once the run has been
// attempted, whatever its outcome.
package kafkaintake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	"github.com/drewstone/edgeware-watcher/internal/oracle"
	"github.com/drewstone/edgeware-watcher/internal/platform/config"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

const defaultMaxBatch = 500

// Runner runs the oracle pipeline over a batch of events.
type Runner interface {
	OnReceiveEvents(ctx context.Context, events []models.IdentityEvent) (*oracle.Report, error)
}

// Client is the subset of *kgo.Client the consumer uses.
type Client interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Close()
}

// NewClient connects a group consumer with manual commits.
func NewClient(cfg config.Kafka) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" || cfg.Group == "" {
		return nil, fmt.Errorf("kafka topic and group are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

type Consumer struct {
	client   Client
	runner   Runner
	maxBatch int
	logger   *slog.Logger
}

type Option func(*Consumer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithMaxBatch caps the number of records taken per poll.
func WithMaxBatch(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.maxBatch = n
		}
	}
}

func New(client Client, runner Runner, opts ...Option) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("kafka client is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	c := &Consumer{
		client:   client,
		runner:   runner,
		maxBatch: defaultMaxBatch,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run polls until ctx is cancelled or the client is closed. Both are a clean stop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "kafka intake started")
	defer c.logger.Info("kafka intake stopped")

	for {
		fetches := c.client.PollRecords(ctx, c.maxBatch)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}
		c.handle(ctx, records)
	}
}

func (c *Consumer) handle(ctx context.Context, records []*kgo.Record) {
	events := c.decode(ctx, records)

	if len(events) > 0 {
		report, err := c.runner.OnReceiveEvents(ctx, events)
		if err != nil {
			c.logger.ErrorContext(ctx, "kafka batch run failed",
				"records", len(records),
				"events", len(events),
				"error", err,
			)
		} else if report != nil {
			c.logger.InfoContext(ctx, "kafka batch processed",
				"run_id", report.RunID.String(),
				"records", len(records),
				"approved", len(report.Partition.Approve),
				"denied", len(report.Partition.Deny),
			)
		}
	}

	if err := c.client.CommitRecords(ctx, records...); err != nil {
		c.logger.ErrorContext(ctx, "commit kafka offsets",
			"records", len(records),
			"error", err,
		)
	}
}

// decode drops records that are not a usable event. They are still committed.
func (c *Consumer) decode(ctx context.Context, records []*kgo.Record) []models.IdentityEvent {
	events := make([]models.IdentityEvent, 0, len(records))
	for _, r := range records {
		event, err := DecodeEvent(r.Value)
		if err != nil {
			c.logger.WarnContext(ctx, "skipping undecodable identity event",
				"topic", r.Topic,
				"partition", r.Partition,
				"offset", r.Offset,
				"error", err,
			)
			continue
		}
		events = append(events, event)
	}
	return events
}

// DecodeEvent parses one JSON-encoded identity event.
func DecodeEvent(value []byte) (models.IdentityEvent, error) {
	var event models.IdentityEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return models.IdentityEvent{}, fmt.Errorf("decode identity event: %w", err)
	}
	if event.IdentityHash.IsZero() {
		return models.IdentityEvent{}, fmt.Errorf("identity event has no identityHash")
	}
	if _, err := id.ParseAccountID(event.Sender.String()); err != nil {
		return models.IdentityEvent{}, fmt.Errorf("identity event sender: %w", err)
	}
	return event, nil
}
