package worldpay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payout-service/internal/domain"
)

// MockClient answers without network access. Submissions are always accepted
// and every queried payout reports as processed.
type MockClient struct {
	now func() time.Time
}

// NewMockClient creates the mock gateway.
func NewMockClient() *MockClient {
	return &MockClient{now: time.Now}
}

// Mode implements Gateway.
func (m *MockClient) Mode() Mode {
	return ModeMock
}

// SubmitPayout fabricates an accepted submission with a mock_ prefixed id.
func (m *MockClient) SubmitPayout(ctx context.Context, submission *Submission) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: ErrUnavailable, Message: "request cancelled", Err: err}
	}
	if submission == nil {
		return nil, &MappingError{Field: "submission", Reason: "nil submission"}
	}

	id := "mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	raw, _ := json.Marshal(map[string]any{
		"id":                   id,
		"status":               "submitted",
		"mock":                 true,
		"transactionReference": submission.Body.TransactionReference,
		"correlationId":        submission.Headers.CorrelationID,
		"createdAt":            m.now().UTC().Format(time.RFC3339),
	})

	return &Result{
		ID:     id,
		Status: domain.StatusSubmitted,
		Raw:    raw,
		Mock:   true,
	}, nil
}

// QueryPayoutStatus reports every payout as processed.
func (m *MockClient) QueryPayoutStatus(ctx context.Context, externalID string, headers Headers) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: ErrUnavailable, Message: "request cancelled", Err: err}
	}

	raw, _ := json.Marshal(map[string]any{
		"id":            externalID,
		"status":        "processed",
		"mock":          true,
		"correlationId": headers.CorrelationID,
		"checkedAt":     m.now().UTC().Format(time.RFC3339),
	})

	return &Result{
		ID:     externalID,
		Status: domain.StatusProcessed,
		Raw:    raw,
		Mock:   true,
	}, nil
}
