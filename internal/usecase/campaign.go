package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/azizikri/coupon-issuer/internal/repository"
)

type CreateCampaignInput struct {
	Name       string
	TotalStock int
	StartsAt   time.Time
	EndsAt     time.Time
}

type CampaignService struct {
	store     repository.Store
	counter   ReservationStore
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewCampaignService(store repository.Store, counter ReservationStore, retention time.Duration, logger *slog.Logger) *CampaignService {
	return &CampaignService{
		store:     store,
		counter:   counter,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (domain.Campaign, error) {
	c := domain.Campaign{
		Name:       strings.TrimSpace(in.Name),
		TotalStock: in.TotalStock,
		StartsAt:   in.StartsAt.UTC(),
		EndsAt:     in.EndsAt.UTC(),
	}
	if err := c.Validate(); err != nil {
		return domain.Campaign{}, err
	}

	return s.store.CreateCampaign(ctx, repository.CreateCampaignParams{
		Name:       c.Name,
		TotalStock: c.TotalStock,
		StartsAt:   c.StartsAt,
		EndsAt:     c.EndsAt,
	})
}

func (s *CampaignService) GetCampaign(ctx context.Context, id int64) (domain.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

// ActivateCampaign marks the campaign ACTIVE and then seeds its counter from
// total stock. Both steps are idempotent, so a failed activation may simply
// be retried; an ACTIVE campaign without a counter is also rebuilt by
// reconciliation.
func (s *CampaignService) ActivateCampaign(ctx context.Context, id int64) (domain.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	if !s.now().Before(c.EndsAt) {
		return domain.Campaign{}, domain.ErrCampaignEnded
	}

	if c.Status != domain.CampaignActive {
		if c, err = s.store.ActivateCampaign(ctx, id); err != nil {
			return domain.Campaign{}, err
		}
	}

	created, err := s.counter.Initialize(ctx, c, c.EndsAt.Add(s.retention))
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("initialize counter: %w", err)
	}
	if created {
		s.logger.Info("campaign activated", "campaign_id", c.ID, "total_stock", c.TotalStock, "ends_at", c.EndsAt)
	}
	return c, nil
}

// ClaimStatus reports the durable row when there is one. A reservation
// without a row yet, or a new reservation made after an earlier failed
// claim, is reported as PENDING.
func (s *CampaignService) ClaimStatus(ctx context.Context, campaignID int64, userID string) (domain.IssuedCoupon, error) {
	row, err := s.store.GetIssuedCoupon(ctx, campaignID, userID)
	switch {
	case err == nil && row.Status == domain.CouponIssued:
		return row, nil
	case err != nil && !errors.Is(err, domain.ErrClaimNotFound):
		return domain.IssuedCoupon{}, err
	}

	m, ok, merr := s.counter.Marker(ctx, campaignID, userID)
	if merr != nil {
		return domain.IssuedCoupon{}, merr
	}
	if ok && (err != nil || m.RequestID != row.RequestID) {
		return domain.IssuedCoupon{
			CampaignID: campaignID,
			UserID:     userID,
			RequestID:  m.RequestID,
			Status:     domain.CouponPending,
		}, nil
	}
	if err != nil {
		return domain.IssuedCoupon{}, err
	}
	return row, nil
}
