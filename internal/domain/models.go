package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrDuplicateCampaign = errors.New("campaign already exists")
	ErrInvalidCampaign   = errors.New("invalid campaign")
	ErrCampaignEnded     = errors.New("campaign window has ended")
	ErrInvalidClaim      = errors.New("invalid claim request")
	ErrClaimNotFound     = errors.New("claim not found")
	ErrPermanentWrite    = errors.New("permanent durable write failure")
)

type CampaignStatus string

const (
	CampaignDraft  CampaignStatus = "DRAFT"
	CampaignActive CampaignStatus = "ACTIVE"
)

// Campaign is the durable description of a coupon drop. TotalStock never
// changes after creation.
type Campaign struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	TotalStock   int            `json:"total_stock"`
	PerUserLimit int            `json:"per_user_limit"`
	StartsAt     time.Time      `json:"starts_at"`
	EndsAt       time.Time      `json:"ends_at"`
	Status       CampaignStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Open reports whether t falls inside the validity window [StartsAt, EndsAt).
func (c Campaign) Open(t time.Time) bool {
	return !t.Before(c.StartsAt) && t.Before(c.EndsAt)
}

func (c Campaign) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidCampaign)
	case c.TotalStock <= 0:
		return fmt.Errorf("%w: total stock must be positive", ErrInvalidCampaign)
	case !c.EndsAt.After(c.StartsAt):
		return fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidCampaign)
	}
	return nil
}

type CouponStatus string

const (
	CouponPending CouponStatus = "PENDING"
	CouponIssued  CouponStatus = "ISSUED"
	CouponFailed  CouponStatus = "FAILED"
)

// IssuedCoupon is one row of issued_coupons, unique on (CampaignID, UserID).
type IssuedCoupon struct {
	ID            string       `json:"id"`
	CampaignID    int64        `json:"campaign_id"`
	UserID        string       `json:"user_id"`
	RequestID     string       `json:"request_id"`
	Code          string       `json:"code,omitempty"`
	Status        CouponStatus `json:"status"`
	FailureReason string       `json:"failure_reason,omitempty"`
	IssuedAt      *time.Time   `json:"issued_at,omitempty"`
}

// ClaimEvent is emitted by the admission guard once a reservation is held.
// It is immutable; RequestID doubles as the idempotency key downstream.
type ClaimEvent struct {
	RequestID  string
	CampaignID int64
	UserID     string
	AdmittedAt time.Time
}

// Marker is the value stored for a user's claim marker in the counter store.
type Marker struct {
	RequestID  string
	AdmittedAt time.Time
}

// CounterSnapshot is an atomic view of one campaign's counter keys.
type CounterSnapshot struct {
	CampaignID int64
	Present    bool
	Remaining  int
	Total      int
	Markers    map[string]Marker
}
