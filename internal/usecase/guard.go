package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/azizikri/coupon-issuer/internal/metrics"
	"github.com/google/uuid"
)

const (
	defaultReserveTimeout   = 50 * time.Millisecond
	defaultPublishTimeout   = 200 * time.Millisecond
	admissionReleaseTimeout = time.Second
)

// Guard decides admission synchronously. It never touches the durable store.
type Guard struct {
	counter        ReservationStore
	publisher      ClaimPublisher
	throttle       Throttler
	reserveTimeout time.Duration
	publishTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

type GuardOption func(*Guard)

func WithReserveTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.reserveTimeout = d
		}
	}
}

func WithPublishTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.publishTimeout = d
		}
	}
}

func WithThrottle(t Throttler) GuardOption {
	return func(g *Guard) { g.throttle = t }
}

func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

func NewGuard(counter ReservationStore, publisher ClaimPublisher, logger *slog.Logger, opts ...GuardOption) *Guard {
	g := &Guard{
		counter:        counter,
		publisher:      publisher,
		reserveTimeout: defaultReserveTimeout,
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit reserves one unit of stock for the user and hands the claim to the
// queue. An empty requestID gets a fresh one; a repeated requestID for a
// reservation the user already holds publishes the event again, since the
// first publish may never have landed. The error is non-nil only for
// malformed input.
func (g *Guard) Admit(ctx context.Context, campaignID int64, userID, requestID string) (domain.Admission, error) {
	userID = strings.TrimSpace(userID)
	if campaignID <= 0 {
		return domain.Admission{}, fmt.Errorf("%w: campaign id must be positive", domain.ErrInvalidClaim)
	}
	if userID == "" {
		return domain.Admission{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidClaim)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	} else if _, err := uuid.Parse(requestID); err != nil {
		return domain.Admission{}, fmt.Errorf("%w: request id must be a uuid", domain.ErrInvalidClaim)
	}

	start := g.now()
	outcome := g.admit(ctx, campaignID, userID, requestID, start)
	metrics.ObserveAdmission(outcome.String(), g.now().Sub(start))

	return domain.Admission{Outcome: outcome, RequestID: requestID}, nil
}

func (g *Guard) admit(ctx context.Context, campaignID int64, userID, requestID string, at time.Time) domain.AdmissionOutcome {
	log := g.logger.With("campaign_id", campaignID, "user_id", userID, "request_id", requestID)

	if g.throttle != nil && !g.throttle.Acquire(ctx, campaignID) {
		log.Debug("admission throttled")
		return domain.AdmissionBusy
	}

	reserveCtx, cancel := context.WithTimeout(ctx, g.reserveTimeout)
	res, err := g.counter.Reserve(reserveCtx, campaignID, userID, requestID, at)
	cancel()
	if err != nil {
		log.Warn("reserve failed", "error", err)
		return domain.AdmissionBusy
	}

	switch res {
	case domain.ReserveAccepted, domain.ReserveReplayed:
	case domain.ReserveDuplicate:
		return domain.AdmissionDuplicate
	default:
		// Counter missing, window not open yet or already closed, or no stock.
		return domain.AdmissionSoldOut
	}

	ev := domain.ClaimEvent{
		RequestID:  requestID,
		CampaignID: campaignID,
		UserID:     userID,
		AdmittedAt: at,
	}
	pubCtx, cancel := context.WithTimeout(ctx, g.publishTimeout)
	err = g.publisher.PublishClaim(pubCtx, ev)
	cancel()
	if err != nil {
		if res == domain.ReserveReplayed {
			// The original publish may still be in flight; keep its reservation.
			log.Warn("republish of replayed claim failed", "error", err)
			return domain.AdmissionBusy
		}
		log.Warn("publish claim failed, releasing reservation", "error", err)
		g.release(ctx, ev, log)
		return domain.AdmissionBusy
	}

	return domain.AdmissionAccepted
}

// release gives the unit back even if the caller already went away.
func (g *Guard) release(ctx context.Context, ev domain.ClaimEvent, log *slog.Logger) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), admissionReleaseTimeout)
	defer cancel()

	released, err := g.counter.Release(relCtx, ev.CampaignID, ev.UserID, ev.RequestID)
	if err != nil {
		log.Error("release after publish failure failed; reconciliation will recover it", "error", err)
		return
	}
	if released {
		metrics.IncCompensation("admission")
	}
}
