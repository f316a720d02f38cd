package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store interface {
	CreateCampaign(ctx context.Context, arg CreateCampaignParams) (domain.Campaign, error)
	GetCampaign(ctx context.Context, id int64) (domain.Campaign, error)
	ActivateCampaign(ctx context.Context, id int64) (domain.Campaign, error)
	ListReconcilableCampaigns(ctx context.Context, endedAfter time.Time) ([]domain.Campaign, error)
	IssueCoupon(ctx context.Context, arg IssueCouponParams) (bool, error)
	MarkCouponFailed(ctx context.Context, arg MarkFailedParams) error
	GetIssuedCoupon(ctx context.Context, campaignID int64, userID string) (domain.IssuedCoupon, error)
	ListIssuedUsers(ctx context.Context, campaignID int64) ([]IssuedUser, error)
}

type CreateCampaignParams struct {
	Name       string
	TotalStock int
	StartsAt   time.Time
	EndsAt     time.Time
}

type IssueCouponParams struct {
	ID         string
	CampaignID int64
	UserID     string
	RequestID  string
	Code       string
	IssuedAt   time.Time
}

type MarkFailedParams struct {
	ID         string
	CampaignID int64
	UserID     string
	RequestID  string
	Reason     string
}

type IssuedUser struct {
	UserID    string
	RequestID string
	IssuedAt  time.Time
}

const sqlStateUniqueViolation = "23505"

type store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) Store {
	return &store{pool: pool}
}

const campaignColumns = `id, name, total_stock, per_user_limit, starts_at, ends_at, status, created_at`

func scanCampaign(row pgx.Row) (domain.Campaign, error) {
	var c domain.Campaign
	var status string
	err := row.Scan(&c.ID, &c.Name, &c.TotalStock, &c.PerUserLimit, &c.StartsAt, &c.EndsAt, &status, &c.CreatedAt)
	c.Status = domain.CampaignStatus(status)
	return c, err
}

func (s *store) CreateCampaign(ctx context.Context, arg CreateCampaignParams) (domain.Campaign, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO campaigns (name, total_stock, starts_at, ends_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+campaignColumns,
		arg.Name, arg.TotalStock, arg.StartsAt, arg.EndsAt,
	)
	c, err := scanCampaign(row)
	if err != nil {
		if pgCode(err) == sqlStateUniqueViolation {
			return domain.Campaign{}, domain.ErrDuplicateCampaign
		}
		return domain.Campaign{}, fmt.Errorf("create campaign: %w", err)
	}
	return c, nil
}

func (s *store) GetCampaign(ctx context.Context, id int64) (domain.Campaign, error) {
	c, err := scanCampaign(s.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Campaign{}, domain.ErrCampaignNotFound
		}
		return domain.Campaign{}, fmt.Errorf("get campaign %d: %w", id, err)
	}
	return c, nil
}

func (s *store) ActivateCampaign(ctx context.Context, id int64) (domain.Campaign, error) {
	c, err := scanCampaign(s.pool.QueryRow(ctx, `
		UPDATE campaigns SET status = 'ACTIVE'
		WHERE id = $1
		RETURNING `+campaignColumns,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Campaign{}, domain.ErrCampaignNotFound
		}
		return domain.Campaign{}, fmt.Errorf("activate campaign %d: %w", id, err)
	}
	return c, nil
}

func (s *store) ListReconcilableCampaigns(ctx context.Context, endedAfter time.Time) ([]domain.Campaign, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = 'ACTIVE' AND ends_at > $1
		ORDER BY id`,
		endedAfter,
	)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IssueCoupon writes the coupon as ISSUED. It reports false, without error,
// when the (campaign, user) pair already holds an ISSUED coupon. A FAILED row
// left behind by an earlier compensated claim is overwritten.
func (s *store) IssueCoupon(ctx context.Context, arg IssueCouponParams) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO issued_coupons (id, campaign_id, user_id, request_id, code, status, issued_at)
		VALUES ($1, $2, $3, $4, $5, 'ISSUED', $6)
		ON CONFLICT (campaign_id, user_id) DO UPDATE
		SET id = EXCLUDED.id,
		    request_id = EXCLUDED.request_id,
		    code = EXCLUDED.code,
		    status = 'ISSUED',
		    failure_reason = NULL,
		    issued_at = EXCLUDED.issued_at,
		    updated_at = now()
		WHERE issued_coupons.status <> 'ISSUED'`,
		arg.ID, arg.CampaignID, arg.UserID, arg.RequestID, arg.Code, arg.IssuedAt,
	)
	if err != nil {
		return false, classify("issue coupon", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *store) MarkCouponFailed(ctx context.Context, arg MarkFailedParams) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO issued_coupons (id, campaign_id, user_id, request_id, status, failure_reason)
		VALUES ($1, $2, $3, $4, 'FAILED', $5)
		ON CONFLICT (campaign_id, user_id) DO UPDATE
		SET request_id = EXCLUDED.request_id,
		    status = 'FAILED',
		    failure_reason = EXCLUDED.failure_reason,
		    updated_at = now()
		WHERE issued_coupons.status <> 'ISSUED'`,
		arg.ID, arg.CampaignID, arg.UserID, arg.RequestID, arg.Reason,
	)
	if err != nil {
		return classify("mark coupon failed", err)
	}
	return nil
}

func (s *store) GetIssuedCoupon(ctx context.Context, campaignID int64, userID string) (domain.IssuedCoupon, error) {
	var (
		ic     domain.IssuedCoupon
		status string
		code   *string
		reason *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, campaign_id, user_id, request_id::text, code, status, failure_reason, issued_at
		FROM issued_coupons
		WHERE campaign_id = $1 AND user_id = $2`,
		campaignID, userID,
	).Scan(&ic.ID, &ic.CampaignID, &ic.UserID, &ic.RequestID, &code, &status, &reason, &ic.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IssuedCoupon{}, domain.ErrClaimNotFound
		}
		return domain.IssuedCoupon{}, fmt.Errorf("get issued coupon: %w", err)
	}
	ic.Status = domain.CouponStatus(status)
	if code != nil {
		ic.Code = *code
	}
	if reason != nil {
		ic.FailureReason = *reason
	}
	return ic, nil
}

func (s *store) ListIssuedUsers(ctx context.Context, campaignID int64) ([]IssuedUser, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, request_id::text, issued_at
		FROM issued_coupons
		WHERE campaign_id = $1 AND status = 'ISSUED'`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("list issued users: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (IssuedUser, error) {
		var u IssuedUser
		err := row.Scan(&u.UserID, &u.RequestID, &u.IssuedAt)
		return u, err
	})
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// classify marks data and constraint errors (SQLSTATE classes 22 and 23) as
// permanent. Anything else is assumed transient.
func classify(op string, err error) error {
	code := pgCode(err)
	if len(code) == 5 && (code[:2] == "22" || code[:2] == "23") {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrPermanentWrite, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
