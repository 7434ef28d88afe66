package domain

import "strings"

// PayoutStatus is the lifecycle state of a payout.
type PayoutStatus string

const (
	StatusCreated   PayoutStatus = "created"
	StatusPending   PayoutStatus = "pending"
	StatusSubmitted PayoutStatus = "submitted"
	StatusProcessed PayoutStatus = "processed"
	StatusFailed    PayoutStatus = "failed"
	StatusUnknown   PayoutStatus = "unknown"
)

// ParsePayoutStatus maps a stored value back to a PayoutStatus. Unrecognised values map to unknown.
func ParsePayoutStatus(raw string) PayoutStatus {
	switch s := PayoutStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusCreated, StatusPending, StatusSubmitted, StatusProcessed, StatusFailed, StatusUnknown:
		return s
	default:
		return StatusUnknown
	}
}

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	StatusCreated:   {StatusPending, StatusFailed},
	StatusPending:   {StatusSubmitted, StatusProcessed, StatusFailed, StatusUnknown},
	StatusSubmitted: {StatusSubmitted, StatusProcessed, StatusFailed, StatusUnknown},
	StatusUnknown:   {StatusUnknown, StatusSubmitted, StatusProcessed, StatusFailed},
	StatusProcessed: {StatusProcessed},
}

// CanTransition reports whether a payout may move from one status to another.
// A failed payout can only move again when the gateway knows about it; a failure
// recorded for a submission error is terminal.
func CanTransition(from, to PayoutStatus, hasGatewayID bool) bool {
	if from == StatusFailed {
		if !hasGatewayID {
			return false
		}
		return to == StatusFailed || to == StatusProcessed || to == StatusUnknown
	}
	for _, allowed := range payoutTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further refresh can change the status.
func IsTerminal(status PayoutStatus, hasGatewayID bool) bool {
	switch status {
	case StatusProcessed:
		return true
	case StatusFailed:
		return !hasGatewayID
	default:
		return false
	}
}
