package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/transfa/payout-service/internal/app"
	"github.com/transfa/payout-service/internal/domain"
	"github.com/transfa/payout-service/internal/store"
	"github.com/transfa/payout-service/pkg/worldpay"
)

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error  string         `json:"error"`
	Kind   string         `json:"kind,omitempty"`
	Field  string         `json:"field,omitempty"`
	Payout *domain.Payout `json:"payout,omitempty"`
}

// classifyError maps a service error onto an HTTP status and a client-safe body.
// Upstream failures expose only a generic message, except provider validation
// complaints which the caller needs to fix the request.
func classifyError(err error) (int, errorResponse) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity, errorResponse{Error: vErr.Error(), Kind: "validation_error", Field: vErr.Field}
	case errors.Is(err, app.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorResponse{Error: "Invalid credentials", Kind: "unauthorized"}
	case errors.Is(err, app.ErrInvalidToken):
		return http.StatusUnauthorized, errorResponse{Error: "Invalid or expired token", Kind: "unauthorized"}
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "Access denied", Kind: "forbidden"}
	case errors.Is(err, store.ErrPayoutNotFound):
		return http.StatusNotFound, errorResponse{Error: "Payout not found", Kind: "not_found"}
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, errorResponse{Error: "User not found", Kind: "not_found"}
	case errors.Is(err, app.ErrRefreshInProgress), errors.Is(err, store.ErrStaleStatus):
		return http.StatusConflict, errorResponse{Error: "Payout is being updated, try again shortly", Kind: "conflict"}
	case errors.Is(err, worldpay.ErrMapping):
		return http.StatusInternalServerError, errorResponse{Error: "Payout could not be mapped to a gateway request", Kind: "mapping_error"}
	case errors.Is(err, worldpay.ErrValidationRejected):
		msg := "Payout was rejected by the gateway"
		var gwErr *worldpay.Error
		if errors.As(err, &gwErr) && gwErr.Message != "" {
			msg = gwErr.Message
		}
		return http.StatusBadGateway, errorResponse{Error: msg, Kind: worldpay.KindName(err)}
	case errors.Is(err, worldpay.ErrAuth):
		return http.StatusBadGateway, errorResponse{Error: "Payment gateway rejected our credentials", Kind: worldpay.KindName(err)}
	case errors.Is(err, worldpay.ErrUnavailable):
		return http.StatusBadGateway, errorResponse{Error: "Payment gateway is unavailable", Kind: worldpay.KindName(err)}
	case errors.Is(err, worldpay.ErrNotFoundUpstream):
		return http.StatusBadGateway, errorResponse{Error: "Payout is unknown to the payment gateway", Kind: worldpay.KindName(err)}
	case errors.Is(err, worldpay.ErrGateway):
		return http.StatusBadGateway, errorResponse{Error: "Payment gateway returned an error", Kind: worldpay.KindName(err)}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "Internal server error", Kind: "internal_error"}
	}
}

// writeServiceError writes the classified error. When the payout was recorded
// before the failure it is returned alongside so clients see the failed state.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, payout *domain.Payout) {
	status, body := classifyError(err)
	body.Payout = payout
	if status >= http.StatusInternalServerError {
		log.Printf("level=error component=api msg=\"request failed\" method=%s path=%s status=%d kind=%s err=%v", r.Method, r.URL.Path, status, body.Kind, err)
	} else {
		log.Printf("level=warn component=api msg=\"request rejected\" method=%s path=%s status=%d kind=%s", r.Method, r.URL.Path, status, body.Kind)
	}
	h.writeJSON(w, status, body)
}
