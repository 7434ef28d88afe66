/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the payout-service needs. Business logic depends on this interface only,
 * so the orchestrator can be exercised against in-memory stubs in tests.
 *
 * @dependencies
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/payout-service/internal/domain"
)

var (
	ErrPayoutNotFound = errors.New("payout not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrEmailTaken     = errors.New("email already registered")
	// ErrStaleStatus is returned when an ExpectedStatus guard did not match the stored row.
	ErrStaleStatus = errors.New("payout status changed concurrently")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payout methods
	CreatePayout(ctx context.Context, payout *domain.Payout) (int64, error)
	FindPayoutByID(ctx context.Context, payoutID int64) (*domain.Payout, error)
	ListPayoutsByOwner(ctx context.Context, ownerID int64) ([]domain.Payout, error)
	ListAllPayouts(ctx context.Context) ([]domain.PayoutWithOwner, error)
	UpdatePayoutStatus(ctx context.Context, payoutID int64, params UpdatePayoutStatusParams) error
	ListPayoutsForReconciliation(ctx context.Context, statuses []domain.PayoutStatus, olderThan time.Time, limit int) ([]domain.Payout, error)

	// User methods
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUserByID(ctx context.Context, userID int64) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// UpdatePayoutStatusParams carries one status write. GatewayID is only applied when
// the row has none yet, and a nil GatewayResponse keeps the stored response.
type UpdatePayoutStatusParams struct {
	Status          domain.PayoutStatus
	ExpectedStatus  *domain.PayoutStatus
	GatewayID       *string
	GatewayResponse []byte
}
