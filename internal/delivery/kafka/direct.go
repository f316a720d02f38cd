package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/azizikri/coupon-issuer/internal/domain"
)

var ErrQueueFull = errors.New("claim queue is full")

// DirectQueue stands in for Kafka when the admission API and the issuer run
// in one process. Lanes are keyed like the topic partitions, so per-campaign
// order is the same.
type DirectQueue struct {
	lanes  []chan domain.ClaimEvent
	logger *slog.Logger
}

func NewDirectQueue(lanes, depth int, logger *slog.Logger) *DirectQueue {
	q := &DirectQueue{
		lanes:  make([]chan domain.ClaimEvent, max(lanes, 1)),
		logger: logger,
	}
	for i := range q.lanes {
		q.lanes[i] = make(chan domain.ClaimEvent, max(depth, 1))
	}
	return q
}

// PublishClaim never blocks; a full lane is reported so the caller can
// release the reservation.
func (q *DirectQueue) PublishClaim(ctx context.Context, ev domain.ClaimEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lane := q.lanes[laneOf(claimKey(ev.CampaignID), len(q.lanes))]
	select {
	case lane <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains every lane with the handler until ctx is done. Events still
// buffered at that point are not lost for stock purposes: their reservations
// are released by reconciliation once the grace window passes.
func (q *DirectQueue) Run(ctx context.Context, handler ClaimHandler) {
	var wg sync.WaitGroup
	for _, lane := range q.lanes {
		wg.Add(1)
		go func(lane chan domain.ClaimEvent) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-lane:
					handler.Consume(ctx, ev)
				}
			}
		}(lane)
	}
	wg.Wait()

	pending := 0
	for _, lane := range q.lanes {
		pending += len(lane)
	}
	if pending > 0 {
		q.logger.Warn("direct queue stopped with buffered claims", "pending", pending)
	}
}

// LogDeadLetter records terminal failures in the log when there is no
// dead-letter topic.
type LogDeadLetter struct {
	Logger *slog.Logger
}

func (d LogDeadLetter) DeadLetter(_ context.Context, ev domain.ClaimEvent, attempts int, reason error) error {
	d.Logger.Error("claim dead-lettered",
		"campaign_id", ev.CampaignID,
		"user_id", ev.UserID,
		"request_id", ev.RequestID,
		"attempts", attempts,
		"error", reason,
	)
	return nil
}
