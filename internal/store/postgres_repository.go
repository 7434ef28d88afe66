/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL used to persist payouts and their lifecycle updates, plus the
 * dashboard user accounts that own them.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - `UpdatePayoutStatus` is the only statement that writes status, gateway_id or
 *   gateway_response. gateway_id is write-once via COALESCE.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/payout-service/internal/domain"
)

const uniqueViolationCode = "23505"

const payoutColumns = `
	p.id, p.user_id, p.amount_cents, p.currency,
	p.beneficiary_type, p.beneficiary_title, p.beneficiary_name,
	p.beneficiary_given_name, p.beneficiary_family_name,
	p.beneficiary_account, p.account_scheme, p.account_type, p.routing_code,
	p.beneficiary_bank, p.country_code, p.beneficiary_address,
	p.reference, p.status, p.gateway_id, p.gateway_response,
	p.created_at, p.updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreatePayout inserts a new payout and returns its id. The payout's ID and timestamps are filled in.
func (r *PostgresRepository) CreatePayout(ctx context.Context, payout *domain.Payout) (int64, error) {
	if payout == nil {
		return 0, errors.New("payout is nil")
	}

	address, err := marshalAddress(payout.Beneficiary.Address)
	if err != nil {
		return 0, err
	}
	status := payout.Status
	if status == "" {
		status = domain.StatusCreated
	}

	b := payout.Beneficiary
	query := `
		INSERT INTO payouts (
			user_id, amount_cents, currency,
			beneficiary_type, beneficiary_title, beneficiary_name,
			beneficiary_given_name, beneficiary_family_name,
			beneficiary_account, account_scheme, account_type, routing_code,
			beneficiary_bank, country_code, beneficiary_address, reference, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb, $16, $17)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		payout.OwnerID,
		payout.AmountMinor,
		payout.Currency,
		string(b.Type),
		nullableString(b.Title),
		b.Name,
		nullableString(b.GivenName),
		nullableString(b.FamilyName),
		b.AccountIdentifier,
		string(b.AccountScheme),
		nullableString(b.AccountType),
		nullableString(b.RoutingCode),
		nullableString(b.BankName),
		b.CountryCode,
		address,
		nullableString(payout.Reference),
		string(status),
	).Scan(&payout.ID, &payout.CreatedAt, &payout.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert payout: %w", err)
	}
	payout.Status = status
	return payout.ID, nil
}

// FindPayoutByID retrieves a single payout.
func (r *PostgresRepository) FindPayoutByID(ctx context.Context, payoutID int64) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts p WHERE p.id = $1`
	payout, err := scanPayout(r.db.QueryRow(ctx, query, payoutID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return payout, nil
}

// ListPayoutsByOwner returns a user's payouts, newest first.
func (r *PostgresRepository) ListPayoutsByOwner(ctx context.Context, ownerID int64) ([]domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts p WHERE p.user_id = $1 ORDER BY p.created_at DESC, p.id DESC`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payouts := make([]domain.Payout, 0)
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *payout)
	}
	return payouts, rows.Err()
}

// ListAllPayouts returns every payout with the owner's identity, newest first.
func (r *PostgresRepository) ListAllPayouts(ctx context.Context) ([]domain.PayoutWithOwner, error) {
	query := `
		SELECT ` + payoutColumns + `, u.name, u.email
		FROM payouts p
		LEFT JOIN users u ON u.id = p.user_id
		ORDER BY p.created_at DESC, p.id DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payouts := make([]domain.PayoutWithOwner, 0)
	for rows.Next() {
		var item domain.PayoutWithOwner
		if err := scanPayoutInto(rows, &item.Payout, &item.OwnerName, &item.OwnerEmail); err != nil {
			return nil, err
		}
		payouts = append(payouts, item)
	}
	return payouts, rows.Err()
}

// UpdatePayoutStatus writes a status change and, optionally, the gateway id and response.
// When ExpectedStatus is set the write only applies if the stored status still matches.
func (r *PostgresRepository) UpdatePayoutStatus(ctx context.Context, payoutID int64, params UpdatePayoutStatusParams) error {
	if params.Status == "" {
		return errors.New("status is required")
	}

	var gatewayID interface{}
	if params.GatewayID != nil && strings.TrimSpace(*params.GatewayID) != "" {
		gatewayID = strings.TrimSpace(*params.GatewayID)
	}
	var response interface{}
	if len(params.GatewayResponse) > 0 {
		if !json.Valid(params.GatewayResponse) {
			wrapped, err := json.Marshal(map[string]string{"raw": string(params.GatewayResponse)})
			if err != nil {
				return err
			}
			params.GatewayResponse = wrapped
		}
		response = string(params.GatewayResponse)
	}
	var expected interface{}
	if params.ExpectedStatus != nil {
		expected = string(*params.ExpectedStatus)
	}

	query := `
		UPDATE payouts
		SET status = $2,
			gateway_id = COALESCE(gateway_id, $3::text),
			gateway_response = COALESCE($4::jsonb, gateway_response),
			updated_at = NOW()
		WHERE id = $1
		  AND ($5::text IS NULL OR status = $5::text)
	`
	tag, err := r.db.Exec(ctx, query, payoutID, string(params.Status), gatewayID, response, expected)
	if err != nil {
		return fmt.Errorf("update payout status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payouts WHERE id = $1)`, payoutID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrPayoutNotFound
	}
	return ErrStaleStatus
}

// ListPayoutsForReconciliation returns non-terminal payouts that have not been touched since olderThan.
func (r *PostgresRepository) ListPayoutsForReconciliation(ctx context.Context, statuses []domain.PayoutStatus, olderThan time.Time, limit int) ([]domain.Payout, error) {
	if len(statuses) == 0 {
		return []domain.Payout{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	query := `
		SELECT ` + payoutColumns + `
		FROM payouts p
		WHERE p.status = ANY($1)
		  AND p.updated_at < $2
		ORDER BY p.updated_at ASC, p.id ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, values, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payouts := make([]domain.Payout, 0)
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *payout)
	}
	return payouts, rows.Err()
}

// CreateUser inserts a dashboard user. Emails are stored lower-cased.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user == nil {
		return nil, errors.New("user is nil")
	}
	created := *user
	created.Email = strings.ToLower(strings.TrimSpace(user.Email))

	query := `
		INSERT INTO users (name, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, created.Name, created.Email, created.PasswordHash, created.Role).
		Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &created, nil
}

// FindUserByEmail looks a user up case-insensitively.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT id, name, email, password_hash, role, created_at, updated_at FROM users WHERE lower(email) = lower(btrim($1))`
	return r.scanUser(r.db.QueryRow(ctx, query, email))
}

// FindUserByID retrieves a user from the database by their ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID int64) (*domain.User, error) {
	query := `SELECT id, name, email, password_hash, role, created_at, updated_at FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRow(ctx, query, userID))
}

// ListUsers returns all users, newest first.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, email, password_hash, role, created_at, updated_at FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	var p domain.Payout
	if err := scanPayoutInto(row, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// scanPayoutInto scans payoutColumns followed by any extra destinations.
func scanPayoutInto(row pgx.Row, p *domain.Payout, extra ...interface{}) error {
	var (
		beneficiaryType string
		title           *string
		givenName       *string
		familyName      *string
		scheme          string
		accountType     *string
		routingCode     *string
		bankName        *string
		address         []byte
		reference       *string
		status          string
		gatewayResponse []byte
	)

	dest := []interface{}{
		&p.ID, &p.OwnerID, &p.AmountMinor, &p.Currency,
		&beneficiaryType, &title, &p.Beneficiary.Name,
		&givenName, &familyName,
		&p.Beneficiary.AccountIdentifier, &scheme, &accountType, &routingCode,
		&bankName, &p.Beneficiary.CountryCode, &address,
		&reference, &status, &p.GatewayID, &gatewayResponse,
		&p.CreatedAt, &p.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}

	p.Currency = strings.TrimSpace(p.Currency)
	p.Beneficiary.CountryCode = strings.TrimSpace(p.Beneficiary.CountryCode)
	p.Beneficiary.Type = domain.EntityType(beneficiaryType)
	p.Beneficiary.Title = derefString(title)
	p.Beneficiary.GivenName = derefString(givenName)
	p.Beneficiary.FamilyName = derefString(familyName)
	p.Beneficiary.AccountScheme = domain.AccountScheme(scheme)
	p.Beneficiary.AccountType = derefString(accountType)
	p.Beneficiary.RoutingCode = derefString(routingCode)
	p.Beneficiary.BankName = derefString(bankName)
	p.Reference = derefString(reference)
	p.Status = domain.ParsePayoutStatus(status)
	if len(gatewayResponse) > 0 {
		p.GatewayResponse = json.RawMessage(gatewayResponse)
	}
	if len(address) > 0 {
		var a domain.Address
		if err := json.Unmarshal(address, &a); err != nil {
			return fmt.Errorf("decode beneficiary address: %w", err)
		}
		p.Beneficiary.Address = &a
	}
	return nil
}

func marshalAddress(a *domain.Address) (interface{}, error) {
	if a == nil || a.IsZero() {
		return nil, nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func nullableString(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
