package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
)

const (
	deadLetterAttempts = 5
	deadLetterBackoff  = 200 * time.Millisecond
)

// ClaimHandler processes one claim event.
type ClaimHandler interface {
	Consume(ctx context.Context, ev domain.ClaimEvent) domain.IssueResult
}

// RecordSource is the part of a group client the consumer needs.
type RecordSource interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// RecordDeadLetter parks records that cannot be decoded.
type RecordDeadLetter interface {
	DeadLetterRecord(ctx context.Context, record *kgo.Record, reason error) error
}

var errRedeliver = errors.New("claim event left for redelivery")

// Consumer reads claim events and hands them to the handler. Records of one
// fetch are split into lanes by key; lanes run in parallel, each in order.
// Offsets are committed only after every lane of the fetch finished.
type Consumer struct {
	source     RecordSource
	handler    ClaimHandler
	deadLetter RecordDeadLetter
	lanes      int
	logger     *slog.Logger
	ready      chan struct{}

	dlqAttempts int
	dlqBackoff  time.Duration
}

// NewConsumer expects a group client with auto-commit disabled.
func NewConsumer(source RecordSource, handler ClaimHandler, deadLetter RecordDeadLetter, lanes int, logger *slog.Logger) *Consumer {
	return &Consumer{
		source:      source,
		handler:     handler,
		deadLetter:  deadLetter,
		lanes:       max(lanes, 1),
		logger:      logger,
		ready:       make(chan struct{}),
		dlqAttempts: deadLetterAttempts,
		dlqBackoff:  deadLetterBackoff,
	}
}

// Start consumes until ctx ends, returning nil. It returns an error when a
// fetch can neither be handled nor parked, leaving that fetch uncommitted.
func (c *Consumer) Start(ctx context.Context) error {
	close(c.ready)
	for {
		fetches := c.source.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch failed", "topic", topic, "partition", partition, "error", err)
		})

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}

		if err := c.process(ctx, records); err != nil {
			if ctx.Err() != nil {
				// Uncommitted records come back after restart or rebalance.
				c.logger.Info("consumer stopping without commit", "records", len(records), "error", err)
				return nil
			}
			return fmt.Errorf("consume claim events: %w", err)
		}
		if err := c.source.CommitRecords(ctx, records...); err != nil {
			c.logger.Error("commit failed", "records", len(records), "error", err)
		}
	}
}

func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

func (c *Consumer) process(ctx context.Context, records []*kgo.Record) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, lane := range splitLanes(records, c.lanes) {
		if len(lane) == 0 {
			continue
		}
		g.Go(func() error {
			for _, record := range lane {
				if err := c.handle(gctx, record); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Consumer) handle(ctx context.Context, record *kgo.Record) error {
	ev, err := DecodeClaim(record.Value)
	if err != nil {
		c.logger.Error("dropping undecodable record to dead letter",
			"partition", record.Partition, "offset", record.Offset, "error", err)
		if dlqErr := c.park(ctx, record, err); dlqErr != nil {
			return fmt.Errorf("dead-letter offset %d: %w", record.Offset, dlqErr)
		}
		return nil
	}

	res := c.handler.Consume(ctx, ev)
	if !res.Outcome.Terminal() {
		return fmt.Errorf("%w: %s", errRedeliver, ev.RequestID)
	}
	return nil
}

func (c *Consumer) park(ctx context.Context, record *kgo.Record, reason error) error {
	var err error
	backoff := c.dlqBackoff
	for attempt := 1; attempt <= c.dlqAttempts; attempt++ {
		if err = c.deadLetter.DeadLetterRecord(ctx, record, reason); err == nil {
			return nil
		}
		if attempt == c.dlqAttempts {
			break
		}
		c.logger.Warn("dead-letter produce failed, retrying", "offset", record.Offset, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
