package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/azizikri/coupon-issuer/internal/metrics"
	"github.com/azizikri/coupon-issuer/internal/repository"
)

type ReconcilerConfig struct {
	// Grace is how long a reservation may stay without a durable row before
	// it is considered lost.
	Grace time.Duration
	// Retention is how long after a campaign ends its counter is still kept
	// and reconciled.
	Retention time.Duration
}

// Reconciler repairs drift between the counter store and the durable store.
type Reconciler struct {
	counter ReservationStore
	store   repository.Store
	cfg     ReconcilerConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewReconciler(counter ReservationStore, store repository.Store, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		counter: counter,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run reconciles every active campaign still within retention. A failing
// campaign does not stop the others; their errors are joined.
func (r *Reconciler) Run(ctx context.Context) ([]domain.CampaignDrift, error) {
	campaigns, err := r.store.ListReconcilableCampaigns(ctx, r.now().Add(-r.cfg.Retention))
	if err != nil {
		return nil, fmt.Errorf("list reconcilable campaigns: %w", err)
	}

	var (
		drifts []domain.CampaignDrift
		errs   []error
	)
	for _, c := range campaigns {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		d, err := r.ReconcileCampaign(ctx, c)
		if err != nil {
			r.logger.Error("reconcile campaign failed", "campaign_id", c.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		drifts = append(drifts, d)
	}
	return drifts, errors.Join(errs...)
}

func (r *Reconciler) ReconcileCampaign(ctx context.Context, c domain.Campaign) (domain.CampaignDrift, error) {
	drift := domain.CampaignDrift{CampaignID: c.ID}

	takenAt := r.now()
	snap, err := r.counter.Snapshot(ctx, c.ID)
	if err != nil {
		return drift, err
	}
	if !snap.Present {
		rebuilt, err := r.counter.Initialize(ctx, c, c.EndsAt.Add(r.cfg.Retention))
		if err != nil {
			return drift, fmt.Errorf("rebuild counter: %w", err)
		}
		drift.Rebuilt = rebuilt
		takenAt = r.now()
		if snap, err = r.counter.Snapshot(ctx, c.ID); err != nil {
			return drift, err
		}
	}

	issued, err := r.store.ListIssuedUsers(ctx, c.ID)
	if err != nil {
		return drift, err
	}

	// lostElsewhere counts stale markers released by someone else after the
	// snapshot; their unit is already back in the live counter.
	lostElsewhere := 0
	held := make(map[string]struct{}, len(snap.Markers)+len(issued))
	issuedBy := make(map[string]repository.IssuedUser, len(issued))
	for _, u := range issued {
		issuedBy[u.UserID] = u
	}

	for user, m := range snap.Markers {
		if _, ok := issuedBy[user]; ok || takenAt.Sub(m.AdmittedAt) < r.cfg.Grace {
			held[user] = struct{}{}
			continue
		}
		released, err := r.counter.Release(ctx, c.ID, user, m.RequestID)
		if err != nil {
			return drift, err
		}
		if released {
			drift.ReleasedStale++
		} else {
			lostElsewhere++
		}
	}

	for user, u := range issuedBy {
		held[user] = struct{}{}
		if _, ok := snap.Markers[user]; ok {
			continue
		}
		if u.IssuedAt.After(takenAt) {
			// Admitted after the snapshot was taken; the live counter already counts it.
			delete(held, user)
			continue
		}
		restored, err := r.counter.RestoreMarker(ctx, c.ID, user, domain.Marker{RequestID: u.RequestID, AdmittedAt: u.IssuedAt})
		if err != nil {
			return drift, err
		}
		if restored {
			drift.RestoredMarkers++
		}
	}

	total := c.TotalStock
	if snap.Total > 0 {
		total = snap.Total
	}
	expected := max(total-len(held), 0)
	current := snap.Remaining + drift.ReleasedStale + lostElsewhere
	drift.Delta = expected - current
	drift.Remaining = current

	if drift.Delta != 0 {
		if drift.Remaining, err = r.counter.Adjust(ctx, c.ID, drift.Delta); err != nil {
			return drift, err
		}
	}

	r.record(drift)
	return drift, nil
}

func (r *Reconciler) record(d domain.CampaignDrift) {
	if !d.Changed() {
		return
	}
	if d.Rebuilt {
		metrics.AddReconcileCorrection("rebuilt", 1)
	}
	metrics.AddReconcileCorrection("released", d.ReleasedStale)
	metrics.AddReconcileCorrection("restored", d.RestoredMarkers)
	metrics.AddReconcileCorrection("delta", abs(d.Delta))

	r.logger.Info("counter drift corrected",
		"campaign_id", d.CampaignID,
		"rebuilt", d.Rebuilt,
		"released", d.ReleasedStale,
		"restored", d.RestoredMarkers,
		"delta", d.Delta,
		"remaining", d.Remaining,
	)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
