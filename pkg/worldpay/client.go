package worldpay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/transfa/payout-service/internal/domain"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultAPIVersion = "2024-06-01"
	maxResponseBytes  = 1 << 20
)

// LiveClient talks to the Worldpay API over HTTPS.
type LiveClient struct {
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client

	authorization string
	breaker       *gobreaker.CircuitBreaker
}

// NewLiveClient creates a client for the live API.
func NewLiveClient(cfg Config) *LiveClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = defaultAPIVersion
	}

	return &LiveClient{
		BaseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		APIVersion:    version,
		HTTPClient:    &http.Client{Timeout: timeout},
		authorization: authorizationHeader(cfg.Credentials),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "worldpay",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// Only transport trouble should open the breaker; 4xx answers prove the gateway is up.
				return err == nil || !errors.Is(err, ErrUnavailable)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("level=warn component=worldpay_client msg=\"circuit breaker state change\" breaker=%s from=%s to=%s", name, from, to)
			},
		}),
	}
}

// authorizationHeader encodes Basic credentials as base64(username:password), or
// falls back to a Bearer service key.
func authorizationHeader(c Credentials) string {
	if strings.TrimSpace(c.Username) != "" && strings.TrimSpace(c.Password) != "" {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.Username+":"+c.Password))
	}
	if key := strings.TrimSpace(c.ServiceKey); key != "" {
		return "Bearer " + key
	}
	return ""
}

// Mode implements Gateway.
func (c *LiveClient) Mode() Mode {
	return ModeLive
}

// SubmitPayout posts a payout request to the gateway.
func (c *LiveClient) SubmitPayout(ctx context.Context, submission *Submission) (*Result, error) {
	if submission == nil {
		return nil, &MappingError{Field: "submission", Reason: "nil submission"}
	}

	body, err := json.Marshal(submission.Body)
	if err != nil {
		return nil, &MappingError{Field: "body", Reason: err.Error()}
	}

	status, respBody, err := c.do(ctx, http.MethodPost, c.BaseURL+"/payouts", body, submission.Headers)
	if err != nil {
		log.Printf("level=warn component=worldpay_client op=submit correlation_id=%s err=%v", submission.Headers.CorrelationID, err)
		return nil, err
	}
	if err := classify(status, respBody, false); err != nil {
		log.Printf("level=warn component=worldpay_client op=submit correlation_id=%s status=%d kind=%s", submission.Headers.CorrelationID, status, KindName(err))
		return nil, err
	}

	result := parseResult(respBody, "", domain.StatusSubmitted)
	if result.ID == "" {
		// Accepted without an id: the transfer may exist, so leave it for a refresh to resolve.
		log.Printf("level=warn component=worldpay_client op=submit correlation_id=%s status=%d msg=\"accepted response carried no payout id\"", submission.Headers.CorrelationID, status)
		result.Status = domain.StatusUnknown
		if result.Raw == nil && len(respBody) > 0 {
			result.Raw, _ = json.Marshal(map[string]string{"raw": string(respBody)})
		}
	}
	return result, nil
}

// QueryPayoutStatus fetches the authoritative status of a payout.
func (c *LiveClient) QueryPayoutStatus(ctx context.Context, externalID string, headers Headers) (*Result, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, &Error{Kind: ErrNotFoundUpstream, Message: "empty payout id"}
	}

	status, respBody, err := c.do(ctx, http.MethodGet, c.BaseURL+"/payouts/"+url.PathEscape(externalID), nil, headers)
	if err != nil {
		log.Printf("level=warn component=worldpay_client op=query payout_ref=%s correlation_id=%s err=%v", externalID, headers.CorrelationID, err)
		return nil, err
	}
	if err := classify(status, respBody, true); err != nil {
		log.Printf("level=warn component=worldpay_client op=query payout_ref=%s correlation_id=%s status=%d kind=%s", externalID, headers.CorrelationID, status, KindName(err))
		return nil, err
	}

	return parseResult(respBody, externalID, domain.StatusUnknown), nil
}

type exchange struct {
	status int
	body   []byte
}

// do executes one request through the circuit breaker. 5xx responses are returned
// as ErrUnavailable so they count against the breaker.
func (c *LiveClient) do(ctx context.Context, method, endpoint string, payload []byte, headers Headers) (int, []byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, &Error{Kind: ErrGateway, Message: "failed to create request", Err: err}
		}

		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.authorization != "" {
			req.Header.Set("Authorization", c.authorization)
		}
		req.Header.Set("Api-Version", c.APIVersion)
		if headers.CorrelationID != "" {
			req.Header.Set("Correlation-Id", headers.CorrelationID)
		}
		if headers.Timestamp != "" {
			req.Header.Set("Timestamp", headers.Timestamp)
		}
		if headers.IdempotencyKey != "" {
			req.Header.Set("Idempotency-Key", headers.IdempotencyKey)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, &Error{Kind: ErrUnavailable, Message: "request failed", Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, &Error{Kind: ErrUnavailable, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
		}
		if resp.StatusCode >= 500 {
			return nil, &Error{Kind: ErrUnavailable, StatusCode: resp.StatusCode, Message: providerMessage(body, resp.StatusCode), Body: body}
		}
		return exchange{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, nil, &Error{Kind: ErrUnavailable, Message: "circuit breaker open", Err: err}
		}
		return 0, nil, err
	}

	ex := out.(exchange)
	return ex.status, ex.body, nil
}

// classify turns a non-2xx, non-5xx response into a typed error.
func classify(status int, body []byte, isQuery bool) error {
	if status >= 200 && status < 300 {
		return nil
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: ErrAuth, StatusCode: status, Message: "gateway credentials were rejected", Body: body}
	case status == http.StatusBadRequest:
		var errResp errorResponse
		_ = json.Unmarshal(body, &errResp)
		msg := formatViolations(errResp.ValidationErrors)
		if msg == "" {
			msg = strings.TrimSpace(errResp.Message)
		}
		if msg == "" {
			msg = "request was rejected"
		}
		return &Error{Kind: ErrValidationRejected, StatusCode: status, Message: msg, Violations: errResp.ValidationErrors, Body: body}
	case status == http.StatusNotFound && isQuery:
		return &Error{Kind: ErrNotFoundUpstream, StatusCode: status, Message: providerMessage(body, status), Body: body}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return &Error{Kind: ErrUnavailable, StatusCode: status, Message: providerMessage(body, status), Body: body}
	default:
		return &Error{Kind: ErrGateway, StatusCode: status, Message: providerMessage(body, status), Body: body}
	}
}

func providerMessage(body []byte, status int) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if msg := strings.TrimSpace(errResp.Message); msg != "" {
			return msg
		}
		if name := strings.TrimSpace(errResp.ErrorName); name != "" {
			return name
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 512 {
		return text
	}
	return fmt.Sprintf("unexpected status %d", status)
}
