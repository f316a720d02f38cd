package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/azizikri/coupon-issuer/internal/domain"
	"github.com/azizikri/coupon-issuer/internal/usecase"
	"github.com/go-chi/chi/v5"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Admitter interface {
	Admit(ctx context.Context, campaignID int64, userID, requestID string) (domain.Admission, error)
}

type CampaignService interface {
	CreateCampaign(ctx context.Context, in usecase.CreateCampaignInput) (domain.Campaign, error)
	GetCampaign(ctx context.Context, id int64) (domain.Campaign, error)
	ActivateCampaign(ctx context.Context, id int64) (domain.Campaign, error)
	ClaimStatus(ctx context.Context, campaignID int64, userID string) (domain.IssuedCoupon, error)
}

type CreateCampaignRequest struct {
	Name       string    `json:"name"`
	TotalStock int       `json:"total_stock"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
}

type ClaimRequest struct {
	UserID string `json:"user_id"`
}

type ClaimResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	guard     Admitter
	campaigns CampaignService
	logger    *slog.Logger
}

func NewHandler(guard Admitter, campaigns CampaignService, logger *slog.Logger) *Handler {
	return &Handler{guard: guard, campaigns: campaigns, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/campaigns", func(r chi.Router) {
		r.Post("/", h.CreateCampaign)
		r.Route("/{campaignID}", func(r chi.Router) {
			r.Get("/", h.GetCampaign)
			r.Post("/activate", h.ActivateCampaign)
			r.Post("/claims", h.Claim)
			r.Get("/claims/{userID}", h.ClaimStatus)
		})
	})
}

func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.campaigns.CreateCampaign(r.Context(), usecase.CreateCampaignInput{
		Name:       req.Name,
		TotalStock: req.TotalStock,
		StartsAt:   req.StartsAt,
		EndsAt:     req.EndsAt,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	c, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) ActivateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	c, err := h.campaigns.ActivateCampaign(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	adm, err := h.guard.Admit(r.Context(), id, req.UserID, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := ClaimResponse{Status: adm.Outcome.String()}
	switch adm.Outcome {
	case domain.AdmissionAccepted:
		resp.RequestID = adm.RequestID
		writeJSON(w, http.StatusAccepted, resp)
	case domain.AdmissionDuplicate:
		writeJSON(w, http.StatusConflict, resp)
	case domain.AdmissionSoldOut:
		writeJSON(w, http.StatusGone, resp)
	default:
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}

func (h *Handler) ClaimStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	coupon, err := h.campaigns.ClaimStatus(r.Context(), id, chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coupon)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCampaign), errors.Is(err, domain.ErrInvalidClaim):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCampaignNotFound):
		writeError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, domain.ErrClaimNotFound):
		writeError(w, http.StatusNotFound, "claim not found")
	case errors.Is(err, domain.ErrDuplicateCampaign):
		writeError(w, http.StatusConflict, "campaign already exists")
	case errors.Is(err, domain.ErrCampaignEnded):
		writeError(w, http.StatusConflict, "campaign window has ended")
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func campaignID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "campaignID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
