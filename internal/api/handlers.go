/**
 * @description
 * This file contains the HTTP handlers for the payout-service's API endpoints.
 * Handlers parse incoming requests, call the application services and write the
 * HTTP response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/payout-service/internal/app"
	"github.com/transfa/payout-service/internal/domain"
	"github.com/transfa/payout-service/pkg/worldpay"
)

const maxRequestBodyBytes = 1 << 20

// RateLimiter decides whether a subject may make another request in a scope.
type RateLimiter interface {
	Allow(ctx context.Context, scope, subject string) (app.RateLimitDecision, error)
}

// Handler holds the application services that handlers will use.
type Handler struct {
	service *app.Service
	auth    *app.AuthService
	limiter RateLimiter
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// payoutResponse pairs the stored payout with the gateway result of the exchange
// that produced it.
type payoutResponse struct {
	Payout  *domain.Payout   `json:"payout"`
	Gateway *worldpay.Result `json:"gateway"`
}

// NewHandler creates a new Handler.
func NewHandler(service *app.Service, auth *app.AuthService) *Handler {
	return &Handler{service: service, auth: auth}
}

// SetRateLimiter enables rate limiting of the /api routes.
func (h *Handler) SetRateLimiter(limiter RateLimiter) {
	h.limiter = limiter
}

// LoginHandler exchanges email and password for a session token.
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	token, user, err := h.auth.Login(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

// MeHandler returns the authenticated user.
func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	user, err := h.auth.GetUser(r.Context(), principal.UserID)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

// ListUsersHandler returns every dashboard user. Admin only.
func (h *Handler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.auth.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	h.writeJSON(w, http.StatusOK, users)
}

// CreateUserHandler registers a new dashboard user. Admin only.
func (h *Handler) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user, err := h.auth.CreateUser(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, user)
}

// ListPayoutsHandler lists the caller's payouts, or every payout for admins.
func (h *Handler) ListPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	payouts, err := h.service.ListPayouts(r.Context(), principal.UserID, principal.IsAdmin())
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	if payouts == nil {
		payouts = []domain.PayoutWithOwner{}
	}
	h.writeJSON(w, http.StatusOK, payouts)
}

// CreatePayoutHandler records a payout and submits it to the gateway.
func (h *Handler) CreatePayoutHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req domain.CreatePayoutRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	payout, result, err := h.service.CreatePayout(r.Context(), principal.UserID, req)
	if err != nil {
		h.writeServiceError(w, r, err, payout)
		return
	}

	log.Printf("level=info component=api endpoint=create_payout outcome=accepted payout_id=%d user_id=%d status=%s mock=%t", payout.ID, principal.UserID, payout.Status, result.Mock)
	h.writeJSON(w, http.StatusCreated, payoutResponse{Payout: payout, Gateway: result})
}

// GetPayoutHandler returns one payout the caller may see.
func (h *Handler) GetPayoutHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	payoutID, ok := h.payoutIDParam(w, r)
	if !ok {
		return
	}

	payout, err := h.service.GetPayout(r.Context(), payoutID, principal.UserID, principal.IsAdmin())
	if err != nil {
		h.writeServiceError(w, r, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// RefreshPayoutHandler queries the gateway for the payout's latest status.
func (h *Handler) RefreshPayoutHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	payoutID, ok := h.payoutIDParam(w, r)
	if !ok {
		return
	}

	payout, result, err := h.service.RefreshPayout(r.Context(), payoutID, principal.UserID, principal.IsAdmin())
	if err != nil {
		h.writeServiceError(w, r, err, payout)
		return
	}
	h.writeJSON(w, http.StatusOK, payoutResponse{Payout: payout, Gateway: result})
}

func (h *Handler) payoutIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid payout ID")
		return 0, false
	}
	return id, true
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeJSON is a helper for writing JSON responses.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
