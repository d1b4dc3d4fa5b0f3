package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"daily-reward-api/internal/features"
	"daily-reward-api/internal/lock"
	"daily-reward-api/internal/middleware"
	"daily-reward-api/internal/models"
	"daily-reward-api/internal/validation"
)

// RewardService is the part of the service the HTTP layer calls.
type RewardService interface {
	Attempt(ctx context.Context, user models.User) (models.AttemptResult, error)
	Status(ctx context.Context, userID string) (models.StatusResponse, error)
	History(ctx context.Context, userID string, limit int) ([]models.RewardRecord, error)
	RecentGlobal(ctx context.Context, limit, offset int) ([]models.RewardRecord, error)
	Stats(ctx context.Context) (models.StatsResponse, error)
	GetConfig(ctx context.Context) (models.RewardConfig, error)
	UpdateConfig(ctx context.Context, upd models.RewardConfigUpdate) (models.RewardConfig, error)
	ReconcileNow(ctx context.Context) (models.ReconcileReport, error)
	DayArchive(ctx context.Context, day string) ([]models.RewardRecord, error)
	LinkAccount(ctx context.Context, userID string, req models.LinkAccountRequest) (models.AccountLink, error)
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     RewardService
	features    *features.Manager
	maxBodySize int64
	log         *slog.Logger
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Features    *features.Manager
	Logger      *slog.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20,
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc RewardService) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc RewardService, opts NewHandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	return &Handler{
		service:     svc,
		features:    opts.Features,
		maxBodySize: opts.MaxBodySize,
		log:         opts.Logger,
	}
}

// Attempt handles POST /api/reward/attempt
func (h *Handler) Attempt(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	result, err := h.service.Attempt(r.Context(), user)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.Status == models.AttemptPending {
		status = http.StatusAccepted
	}
	h.respondJSON(w, status, result)
}

// Status handles GET /api/reward/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	status, err := h.service.Status(r.Context(), user.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, status)
}

// History handles GET /api/reward/history?limit=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	recs, err := h.service.History(r.Context(), user.ID, limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.RecordsResponse{Records: nonNil(recs)})
}

// Recent handles GET /api/reward/recent?limit=&offset=
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	recs, err := h.service.RecentGlobal(r.Context(), limit, offset)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.RecordsResponse{Records: nonNil(recs)})
}

// Stats handles GET /api/reward/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// GetConfig handles GET /api/admin/reward/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetConfig(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// UpdateConfig handles PUT /api/admin/reward/config
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req models.RewardConfigUpdate
	if !h.decodeBody(w, r, &req) {
		return
	}

	cfg, err := h.service.UpdateConfig(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// Reconcile handles POST /api/admin/reward/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ReconcileNow(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

// DayArchive handles GET /api/admin/reward/days/{day}
func (h *Handler) DayArchive(w http.ResponseWriter, r *http.Request) {
	day := validation.SanitizeString(chi.URLParam(r, "day"))

	recs, err := h.service.DayArchive(r.Context(), day)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.RecordsResponse{Records: nonNil(recs)})
}

// LinkAccount handles PUT /api/admin/links/{user_id}
func (h *Handler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	userID := validation.SanitizeString(chi.URLParam(r, "user_id"))

	var req models.LinkAccountRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	link, err := h.service.LinkAccount(r.Context(), userID, req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, link)
}

// Features handles GET /api/admin/features
func (h *Handler) Features(w http.ResponseWriter, r *http.Request) {
	if h.features == nil {
		h.respondJSON(w, http.StatusOK, []features.FeatureFlag{})
		return
	}
	h.respondJSON(w, http.StatusOK, h.features.List())
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// decodeBody reads a size-limited JSON body into dst, answering 400 on failure.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			h.respondError(w, http.StatusBadRequest, "request body is required")
		case errors.As(err, &tooLarge):
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		}
		return false
	}
	return true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := validation.SanitizeString(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &validation.ValidationError{Field: name, Message: "must be an integer"}
	}
	return n, nil
}

func nonNil(recs []models.RewardRecord) []models.RewardRecord {
	if recs == nil {
		return []models.RewardRecord{}
	}
	return recs
}

// respondServiceError maps a service error to a status code.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var vErr *validation.ValidationError
	switch {
	case errors.As(err, &vErr):
		h.respondError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, lock.ErrBusy):
		h.respondError(w, http.StatusConflict, "resource is busy, retry shortly")
	default:
		h.log.Error("request failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
