package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/azizikri/coupon-issuer/internal/metrics"
	"github.com/azizikri/coupon-issuer/internal/repository"
	"github.com/google/uuid"
)

const compensationTimeout = 5 * time.Second

type IssuerConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c IssuerConfig) withDefaults() IssuerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	return c
}

// Issuer turns admitted claim events into durable coupons.
type Issuer struct {
	counter ReservationStore
	store   repository.Store
	dlq     DeadLetter
	codes   CodeGenerator
	cfg     IssuerConfig
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewIssuer(counter ReservationStore, store repository.Store, dlq DeadLetter, codes CodeGenerator, cfg IssuerConfig, logger *slog.Logger) *Issuer {
	return &Issuer{
		counter: counter,
		store:   store,
		dlq:     dlq,
		codes:   codes,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Consume processes one claim event. It is safe to call any number of times
// for the same event. Only FAILED_RETRYABLE asks for redelivery, and it is
// returned only when ctx ends mid-retry.
func (w *Issuer) Consume(ctx context.Context, ev domain.ClaimEvent) domain.IssueResult {
	log := w.logger.With("campaign_id", ev.CampaignID, "user_id", ev.UserID, "request_id", ev.RequestID)

	var (
		outcome domain.IssueOutcome
		err     error
		attempt int
	)
	for attempt = 1; ; attempt++ {
		outcome, err = w.attempt(ctx, ev)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			log.Info("issuance interrupted, leaving event for redelivery", "attempt", attempt, "error", err)
			return w.finish(domain.IssueResult{Outcome: domain.IssueFailedRetryable, Attempts: attempt, Err: err})
		}
		if errors.Is(err, domain.ErrPermanentWrite) || attempt >= w.cfg.MaxAttempts {
			w.terminal(ctx, ev, attempt, err, log)
			return w.finish(domain.IssueResult{Outcome: domain.IssueFailedTerminal, Attempts: attempt, Err: err})
		}

		backoff := w.backoff(attempt)
		log.Warn("issuance attempt failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if serr := w.sleep(ctx, backoff); serr != nil {
			return w.finish(domain.IssueResult{Outcome: domain.IssueFailedRetryable, Attempts: attempt, Err: err})
		}
	}

	if outcome == domain.IssueDuplicateNoop {
		log.Debug("claim event already settled")
	}
	return w.finish(domain.IssueResult{Outcome: outcome, Attempts: attempt})
}

func (w *Issuer) attempt(ctx context.Context, ev domain.ClaimEvent) (domain.IssueOutcome, error) {
	held, err := w.counter.Holds(ctx, ev.CampaignID, ev.UserID, ev.RequestID)
	if err != nil {
		return 0, err
	}
	if !held {
		// Released or superseded: this event was compensated earlier.
		return domain.IssueDuplicateNoop, nil
	}

	inserted, err := w.store.IssueCoupon(ctx, repository.IssueCouponParams{
		ID:         uuid.NewString(),
		CampaignID: ev.CampaignID,
		UserID:     ev.UserID,
		RequestID:  ev.RequestID,
		Code:       w.codes.NewCode(),
		IssuedAt:   w.now().UTC(),
	})
	if err != nil {
		return 0, err
	}
	if !inserted {
		return domain.IssueDuplicateNoop, nil
	}
	return domain.IssueIssued, nil
}

// terminal dead-letters the event and gives its unit back. Both run detached
// from ctx so a shutdown mid-way cannot strand the reservation.
func (w *Issuer) terminal(ctx context.Context, ev domain.ClaimEvent, attempts int, cause error, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	log.Error("issuance failed terminally", "attempts", attempts, "error", cause)

	if err := w.dlq.DeadLetter(ctx, ev, attempts, cause); err != nil {
		log.Error("dead-letter failed", "error", err)
	}

	released, err := w.counter.Release(ctx, ev.CampaignID, ev.UserID, ev.RequestID)
	switch {
	case err != nil:
		log.Error("compensation failed; reconciliation will release it", "error", err)
	case released:
		metrics.IncCompensation("worker")
	}

	if err := w.store.MarkCouponFailed(ctx, repository.MarkFailedParams{
		ID:         uuid.NewString(),
		CampaignID: ev.CampaignID,
		UserID:     ev.UserID,
		RequestID:  ev.RequestID,
		Reason:     cause.Error(),
	}); err != nil {
		log.Warn("mark coupon failed", "error", err)
	}
}

func (w *Issuer) finish(res domain.IssueResult) domain.IssueResult {
	metrics.ObserveIssue(res.Outcome.String(), res.Attempts)
	return res
}

// backoff is base·2^(attempt-1), capped.
func (w *Issuer) backoff(attempt int) time.Duration {
	d := w.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
