/**
 * @description
 * This package provides the client for the Worldpay Account Payouts API.
 * It builds provider-schema requests, performs the authenticated HTTP exchange,
 * classifies failures into typed errors and, when no credentials are configured,
 * answers from a deterministic local mock instead.
 *
 * @dependencies
 * - github.com/shopspring/decimal: major-unit amounts on the wire.
 * - github.com/sony/gobreaker: circuit breaker around live calls.
 * - github.com/google/uuid: correlation ids, idempotency keys, mock ids.
 */

package worldpay

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/transfa/payout-service/internal/domain"
)

// Mode tells which implementation is answering.
type Mode string

const (
	ModeLive Mode = "live"
	ModeMock Mode = "mock"
)

// Result is the normalized outcome of a successful exchange.
type Result struct {
	ID     string              `json:"id"`
	Status domain.PayoutStatus `json:"status"`
	Raw    json.RawMessage     `json:"raw,omitempty"`
	Mock   bool                `json:"mock"`
}

// Gateway is the capability both live and mock clients provide.
type Gateway interface {
	SubmitPayout(ctx context.Context, submission *Submission) (*Result, error)
	QueryPayoutStatus(ctx context.Context, externalID string, headers Headers) (*Result, error)
	Mode() Mode
}

// Credentials authenticate live calls. Username/password take precedence over the service key.
type Credentials struct {
	Username   string
	Password   string
	ServiceKey string
}

// Present reports whether live credentials are configured.
func (c Credentials) Present() bool {
	return (strings.TrimSpace(c.Username) != "" && strings.TrimSpace(c.Password) != "") ||
		strings.TrimSpace(c.ServiceKey) != ""
}

// Config is created once at process start and shared read-only afterwards.
type Config struct {
	BaseURL     string
	APIVersion  string
	Credentials Credentials
	Timeout     time.Duration
}

// New selects the live client when credentials are present and the mock otherwise.
func New(cfg Config) Gateway {
	if !cfg.Credentials.Present() {
		log.Println("level=warn component=worldpay msg=\"no gateway credentials configured; using mock mode\"")
		return NewMockClient()
	}
	return NewLiveClient(cfg)
}

// NormalizeStatus maps a provider status onto the payout lifecycle. An empty
// status resolves to fallback.
func NormalizeStatus(raw string, fallback domain.PayoutStatus) domain.PayoutStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
	switch s {
	case "":
		return fallback
	case "accepted", "submitted", "pending", "processing", "inprogress", "queued", "sentforsettlement", "sentforprocessing":
		return domain.StatusSubmitted
	case "processed", "settled", "completed", "complete", "paid", "success", "successful":
		return domain.StatusProcessed
	case "failed", "failure", "rejected", "refused", "returned", "cancelled", "canceled", "declined":
		return domain.StatusFailed
	default:
		return domain.StatusUnknown
	}
}

func parseResult(body []byte, fallbackID string, fallback domain.PayoutStatus) *Result {
	var parsed statusResponse
	_ = json.Unmarshal(body, &parsed)

	id := strings.TrimSpace(parsed.ID)
	if id == "" {
		id = strings.TrimSpace(parsed.PayoutRequestID)
	}
	if id == "" {
		id = fallbackID
	}
	status := parsed.Status
	if strings.TrimSpace(status) == "" {
		status = parsed.Outcome
	}

	raw := json.RawMessage(nil)
	if json.Valid(body) {
		raw = json.RawMessage(body)
	}

	return &Result{
		ID:     id,
		Status: NormalizeStatus(status, fallback),
		Raw:    raw,
	}
}
