package usecase

import (
	"context"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
)

// ReservationStore is the fast shared counter: remaining stock plus one
// claim marker per user, mutated atomically.
type ReservationStore interface {
	Reserve(ctx context.Context, campaignID int64, userID, requestID string, at time.Time) (domain.ReserveResult, error)
	Release(ctx context.Context, campaignID int64, userID, requestID string) (bool, error)
	Holds(ctx context.Context, campaignID int64, userID, requestID string) (bool, error)
	Marker(ctx context.Context, campaignID int64, userID string) (domain.Marker, bool, error)
	Initialize(ctx context.Context, c domain.Campaign, expireAt time.Time) (bool, error)
	Snapshot(ctx context.Context, campaignID int64) (domain.CounterSnapshot, error)
	Adjust(ctx context.Context, campaignID int64, delta int) (int, error)
	RestoreMarker(ctx context.Context, campaignID int64, userID string, m domain.Marker) (bool, error)
}

type ClaimPublisher interface {
	PublishClaim(ctx context.Context, ev domain.ClaimEvent) error
}

type DeadLetter interface {
	DeadLetter(ctx context.Context, ev domain.ClaimEvent, attempts int, reason error) error
}

type CodeGenerator interface {
	NewCode() string
}

type Throttler interface {
	Acquire(ctx context.Context, campaignID int64) bool
}
