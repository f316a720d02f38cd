package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/azizikri/coupon-issuer/internal/counter"
	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/azizikri/coupon-issuer/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var (
	testNow    = time.Now().UTC().Truncate(time.Millisecond)
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func newCounter(t *testing.T) (*counter.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), DisableIdentity: true})
	t.Cleanup(func() { _ = client.Close() })
	return counter.New(client, "test"), mr
}

func openCampaign(id int64, stock int) domain.Campaign {
	return domain.Campaign{
		ID:           id,
		Name:         fmt.Sprintf("campaign-%d", id),
		TotalStock:   stock,
		PerUserLimit: 1,
		StartsAt:     testNow.Add(-time.Hour),
		EndsAt:       testNow.Add(time.Hour),
		Status:       domain.CampaignActive,
	}
}

func seedCounter(t *testing.T, c *counter.Store, campaign domain.Campaign) {
	t.Helper()
	_, err := c.Initialize(context.Background(), campaign, campaign.EndsAt.Add(24*time.Hour))
	require.NoError(t, err)
}

// mockStore lets a test override single repository calls.
type mockStore struct {
	createCampaignFn   func(ctx context.Context, arg repository.CreateCampaignParams) (domain.Campaign, error)
	getCampaignFn      func(ctx context.Context, id int64) (domain.Campaign, error)
	activateCampaignFn func(ctx context.Context, id int64) (domain.Campaign, error)
	listCampaignsFn    func(ctx context.Context, endedAfter time.Time) ([]domain.Campaign, error)
	issueCouponFn      func(ctx context.Context, arg repository.IssueCouponParams) (bool, error)
	markFailedFn       func(ctx context.Context, arg repository.MarkFailedParams) error
	getIssuedCouponFn  func(ctx context.Context, campaignID int64, userID string) (domain.IssuedCoupon, error)
	listIssuedUsersFn  func(ctx context.Context, campaignID int64) ([]repository.IssuedUser, error)
}

func (m *mockStore) CreateCampaign(ctx context.Context, arg repository.CreateCampaignParams) (domain.Campaign, error) {
	if m.createCampaignFn != nil {
		return m.createCampaignFn(ctx, arg)
	}
	return domain.Campaign{}, nil
}

func (m *mockStore) GetCampaign(ctx context.Context, id int64) (domain.Campaign, error) {
	if m.getCampaignFn != nil {
		return m.getCampaignFn(ctx, id)
	}
	return domain.Campaign{}, domain.ErrCampaignNotFound
}

func (m *mockStore) ActivateCampaign(ctx context.Context, id int64) (domain.Campaign, error) {
	if m.activateCampaignFn != nil {
		return m.activateCampaignFn(ctx, id)
	}
	return domain.Campaign{}, domain.ErrCampaignNotFound
}

func (m *mockStore) ListReconcilableCampaigns(ctx context.Context, endedAfter time.Time) ([]domain.Campaign, error) {
	if m.listCampaignsFn != nil {
		return m.listCampaignsFn(ctx, endedAfter)
	}
	return nil, nil
}

func (m *mockStore) IssueCoupon(ctx context.Context, arg repository.IssueCouponParams) (bool, error) {
	if m.issueCouponFn != nil {
		return m.issueCouponFn(ctx, arg)
	}
	return true, nil
}

func (m *mockStore) MarkCouponFailed(ctx context.Context, arg repository.MarkFailedParams) error {
	if m.markFailedFn != nil {
		return m.markFailedFn(ctx, arg)
	}
	return nil
}

func (m *mockStore) GetIssuedCoupon(ctx context.Context, campaignID int64, userID string) (domain.IssuedCoupon, error) {
	if m.getIssuedCouponFn != nil {
		return m.getIssuedCouponFn(ctx, campaignID, userID)
	}
	return domain.IssuedCoupon{}, domain.ErrClaimNotFound
}

func (m *mockStore) ListIssuedUsers(ctx context.Context, campaignID int64) ([]repository.IssuedUser, error) {
	if m.listIssuedUsersFn != nil {
		return m.listIssuedUsersFn(ctx, campaignID)
	}
	return nil, nil
}

// memStore is an in-memory durable store keeping the (campaign, user)
// uniqueness and the ISSUED-is-final rule of the real table.
type memStore struct {
	mockStore

	mu        sync.Mutex
	campaigns map[int64]domain.Campaign
	coupons   map[string]domain.IssuedCoupon
	// failWrites makes the next n IssueCoupon calls fail with writeErr.
	failWrites int
	writeErr   error
}

func newMemStore(campaigns ...domain.Campaign) *memStore {
	s := &memStore{
		campaigns: make(map[int64]domain.Campaign),
		coupons:   make(map[string]domain.IssuedCoupon),
	}
	for _, c := range campaigns {
		s.campaigns[c.ID] = c
	}
	return s
}

func couponKey(campaignID int64, userID string) string {
	return fmt.Sprintf("%d/%s", campaignID, userID)
}

func (s *memStore) GetCampaign(_ context.Context, id int64) (domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	return c, nil
}

func (s *memStore) ListReconcilableCampaigns(_ context.Context, endedAfter time.Time) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status == domain.CampaignActive && c.EndsAt.After(endedAfter) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) IssueCoupon(_ context.Context, arg repository.IssueCouponParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return false, s.writeErr
	}
	key := couponKey(arg.CampaignID, arg.UserID)
	if cur, ok := s.coupons[key]; ok && cur.Status == domain.CouponIssued {
		return false, nil
	}
	issuedAt := arg.IssuedAt
	s.coupons[key] = domain.IssuedCoupon{
		ID:         arg.ID,
		CampaignID: arg.CampaignID,
		UserID:     arg.UserID,
		RequestID:  arg.RequestID,
		Code:       arg.Code,
		Status:     domain.CouponIssued,
		IssuedAt:   &issuedAt,
	}
	return true, nil
}

func (s *memStore) MarkCouponFailed(_ context.Context, arg repository.MarkFailedParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := couponKey(arg.CampaignID, arg.UserID)
	if cur, ok := s.coupons[key]; ok && cur.Status == domain.CouponIssued {
		return nil
	}
	s.coupons[key] = domain.IssuedCoupon{
		ID:            arg.ID,
		CampaignID:    arg.CampaignID,
		UserID:        arg.UserID,
		RequestID:     arg.RequestID,
		Status:        domain.CouponFailed,
		FailureReason: arg.Reason,
	}
	return nil
}

func (s *memStore) GetIssuedCoupon(_ context.Context, campaignID int64, userID string) (domain.IssuedCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[couponKey(campaignID, userID)]
	if !ok {
		return domain.IssuedCoupon{}, domain.ErrClaimNotFound
	}
	return c, nil
}

func (s *memStore) ListIssuedUsers(_ context.Context, campaignID int64) ([]repository.IssuedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.IssuedUser
	for _, c := range s.coupons {
		if c.CampaignID == campaignID && c.Status == domain.CouponIssued {
			out = append(out, repository.IssuedUser{UserID: c.UserID, RequestID: c.RequestID, IssuedAt: *c.IssuedAt})
		}
	}
	return out, nil
}

func (s *memStore) count(campaignID int64, status domain.CouponStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.coupons {
		if c.CampaignID == campaignID && c.Status == status {
			n++
		}
	}
	return n
}

// chanPublisher buffers published events so a test can drain them into the
// issuer. fail makes every publish return an error.
type chanPublisher struct {
	mu     sync.Mutex
	events []domain.ClaimEvent
	fail   error
}

func (p *chanPublisher) PublishClaim(_ context.Context, ev domain.ClaimEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *chanPublisher) drain() []domain.ClaimEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.events
	p.events = nil
	return out
}

type recordingDLQ struct {
	mu      sync.Mutex
	letters []domain.ClaimEvent
}

func (d *recordingDLQ) DeadLetter(_ context.Context, ev domain.ClaimEvent, _ int, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.letters = append(d.letters, ev)
	return nil
}

func (d *recordingDLQ) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.letters)
}

type seqCodes struct{ n atomic.Int64 }

func (c *seqCodes) NewCode() string {
	return fmt.Sprintf("CODE-%d", c.n.Add(1))
}

type denyThrottle struct{}

func (denyThrottle) Acquire(context.Context, int64) bool { return false }

var errTransient = errors.New("connection reset by peer")

func newTestIssuer(c ReservationStore, s repository.Store, dlq DeadLetter) *Issuer {
	w := NewIssuer(c, s, dlq, &seqCodes{}, IssuerConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}, testLogger)
	w.sleep = func(context.Context, time.Duration) error { return nil }
	return w
}
