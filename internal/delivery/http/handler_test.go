package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/azizikri/coupon-issuer/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmitter struct {
	outcome domain.AdmissionOutcome
	err     error

	gotCampaign int64
	gotUser     string
	gotRequest  string
}

func (f *fakeAdmitter) Admit(_ context.Context, campaignID int64, userID, requestID string) (domain.Admission, error) {
	f.gotCampaign, f.gotUser, f.gotRequest = campaignID, userID, requestID
	if f.err != nil {
		return domain.Admission{}, f.err
	}
	if requestID == "" {
		requestID = "generated"
	}
	return domain.Admission{Outcome: f.outcome, RequestID: requestID}, nil
}

type fakeCampaigns struct {
	campaign domain.Campaign
	coupon   domain.IssuedCoupon
	err      error
}

func (f *fakeCampaigns) CreateCampaign(_ context.Context, in usecase.CreateCampaignInput) (domain.Campaign, error) {
	if f.err != nil {
		return domain.Campaign{}, f.err
	}
	return domain.Campaign{ID: 1, Name: in.Name, TotalStock: in.TotalStock, StartsAt: in.StartsAt, EndsAt: in.EndsAt, Status: domain.CampaignDraft}, nil
}

func (f *fakeCampaigns) GetCampaign(context.Context, int64) (domain.Campaign, error) {
	return f.campaign, f.err
}

func (f *fakeCampaigns) ActivateCampaign(context.Context, int64) (domain.Campaign, error) {
	return f.campaign, f.err
}

func (f *fakeCampaigns) ClaimStatus(context.Context, int64, string) (domain.IssuedCoupon, error) {
	return f.coupon, f.err
}

func newTestRouter(a Admitter, c CampaignService) http.Handler {
	r := chi.NewRouter()
	NewHandler(a, c, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestClaim_StatusMapping(t *testing.T) {
	cases := []struct {
		outcome domain.AdmissionOutcome
		status  int
	}{
		{domain.AdmissionAccepted, http.StatusAccepted},
		{domain.AdmissionDuplicate, http.StatusConflict},
		{domain.AdmissionSoldOut, http.StatusGone},
		{domain.AdmissionBusy, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.outcome.String(), func(t *testing.T) {
			a := &fakeAdmitter{outcome: tc.outcome}
			rec := do(t, newTestRouter(a, &fakeCampaigns{}), http.MethodPost, "/api/campaigns/7/claims", `{"user_id":"user1"}`, nil)

			assert.Equal(t, tc.status, rec.Code)
			var resp ClaimResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tc.outcome.String(), resp.Status)
			assert.Equal(t, int64(7), a.gotCampaign)
			assert.Equal(t, "user1", a.gotUser)

			if tc.outcome == domain.AdmissionBusy {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
			if tc.outcome == domain.AdmissionAccepted {
				assert.Equal(t, "generated", resp.RequestID)
			}
		})
	}
}

func TestClaim_PassesIdempotencyKey(t *testing.T) {
	a := &fakeAdmitter{outcome: domain.AdmissionAccepted}
	key := "0b6c3c1e-6d5a-4a52-8f0e-0f8b2f9b6a10"

	rec := do(t, newTestRouter(a, &fakeCampaigns{}), http.MethodPost, "/api/campaigns/7/claims", `{"user_id":"user1"}`, map[string]string{IdempotencyKeyHeader: key})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, key, a.gotRequest)
}

func TestClaim_BadInput(t *testing.T) {
	router := newTestRouter(&fakeAdmitter{err: domain.ErrInvalidClaim}, &fakeCampaigns{})

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/campaigns/abc/claims", `{"user_id":"u"}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/campaigns/7/claims", `{`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/campaigns/7/claims", `{"user_id":""}`, nil).Code)
}

func TestCreateCampaign(t *testing.T) {
	starts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	body := `{"name":"spring","total_stock":100,"starts_at":"2026-03-01T00:00:00Z","ends_at":"2026-03-02T00:00:00Z"}`

	rec := do(t, newTestRouter(&fakeAdmitter{}, &fakeCampaigns{}), http.MethodPost, "/api/campaigns", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got domain.Campaign
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "spring", got.Name)
	assert.Equal(t, 100, got.TotalStock)
	assert.True(t, starts.Equal(got.StartsAt))
}

func TestCampaignErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		method string
		path   string
		body   string
		status int
	}{
		{"duplicate", domain.ErrDuplicateCampaign, http.MethodPost, "/api/campaigns", `{"name":"x"}`, http.StatusConflict},
		{"invalid", domain.ErrInvalidCampaign, http.MethodPost, "/api/campaigns", `{"name":"x"}`, http.StatusBadRequest},
		{"not found", domain.ErrCampaignNotFound, http.MethodGet, "/api/campaigns/9", "", http.StatusNotFound},
		{"ended", domain.ErrCampaignEnded, http.MethodPost, "/api/campaigns/9/activate", "", http.StatusConflict},
		{"activate missing", domain.ErrCampaignNotFound, http.MethodPost, "/api/campaigns/9/activate", "", http.StatusNotFound},
		{"no claim", domain.ErrClaimNotFound, http.MethodGet, "/api/campaigns/9/claims/user1", "", http.StatusNotFound},
		{"internal", assert.AnError, http.MethodGet, "/api/campaigns/9", "", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, newTestRouter(&fakeAdmitter{}, &fakeCampaigns{err: tc.err}), tc.method, tc.path, tc.body, nil)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestCreateCampaign_InvalidMessage(t *testing.T) {
	c := &fakeCampaigns{err: fmt.Errorf("%w: name is required", domain.ErrInvalidCampaign)}

	rec := do(t, newTestRouter(&fakeAdmitter{}, c), http.MethodPost, "/api/campaigns", `{"name":""}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "invalid campaign: name is required", resp.Error)
}

func TestClaimStatus(t *testing.T) {
	c := &fakeCampaigns{coupon: domain.IssuedCoupon{CampaignID: 9, UserID: "user1", Status: domain.CouponPending}}

	rec := do(t, newTestRouter(&fakeAdmitter{}, c), http.MethodGet, "/api/campaigns/9/claims/user1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.IssuedCoupon
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, domain.CouponPending, got.Status)
}
