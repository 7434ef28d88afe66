/**
 * @description
 * This file defines the core domain models for the payout-service.
 * These structs represent the payout record, the beneficiary it pays, and the
 * DTOs used by the API layer when a user asks for a new payout.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents) to avoid
 *   floating-point inaccuracies. Major-unit decimals only exist on the gateway wire.
 * - `GatewayResponse` is kept verbatim for audit and is never parsed downstream.
 */

package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EntityType discriminates the beneficiary party shape sent to the gateway.
type EntityType string

const (
	EntityPerson  EntityType = "Person"
	EntityCompany EntityType = "Company"
)

// AccountScheme discriminates the beneficiary bank details shape.
type AccountScheme string

const (
	SchemeIBAN         AccountScheme = "iban"
	SchemeLocalAccount AccountScheme = "local-account"
)

// Address is an optional postal address for the beneficiary.
type Address struct {
	Line1       string `json:"line1,omitempty"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postalCode,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
}

// IsZero reports whether no address field was supplied.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Beneficiary is the canonical (normalized) recipient of a payout.
type Beneficiary struct {
	Type              EntityType    `json:"type"`
	Title             string        `json:"title,omitempty"`
	Name              string        `json:"name"`
	GivenName         string        `json:"given_name,omitempty"`
	FamilyName        string        `json:"family_name,omitempty"`
	AccountIdentifier string        `json:"account_identifier"`
	AccountScheme     AccountScheme `json:"account_scheme"`
	AccountType       string        `json:"account_type,omitempty"`
	RoutingCode       string        `json:"routing_code,omitempty"`
	BankName          string        `json:"bank_name,omitempty"`
	CountryCode       string        `json:"country_code"`
	Address           *Address      `json:"address,omitempty"`
}

// Payout represents a money-transfer request and its lifecycle.
// This struct maps directly to the `payouts` table in the database.
type Payout struct {
	ID              int64           `json:"id"`
	OwnerID         int64           `json:"user_id"`
	AmountMinor     int64           `json:"amount_cents"` // in cents
	Currency        string          `json:"currency"`
	Beneficiary     Beneficiary     `json:"beneficiary"`
	Reference       string          `json:"reference,omitempty"`
	Status          PayoutStatus    `json:"status"`
	GatewayID       *string         `json:"gateway_id,omitempty"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HasGatewayID reports whether the gateway has acknowledged this payout.
func (p *Payout) HasGatewayID() bool {
	return p.GatewayID != nil && *p.GatewayID != ""
}

// PayoutWithOwner is the privileged listing row, enriched with the owner's identity.
type PayoutWithOwner struct {
	Payout
	OwnerName  *string `json:"user_name,omitempty"`
	OwnerEmail *string `json:"user_email,omitempty"`
}

// CanonicalPayout is the output of request normalization: everything needed to
// persist a new payout, plus non-fatal notes about defaults that were applied.
type CanonicalPayout struct {
	AmountMinor int64
	Currency    string
	Beneficiary Beneficiary
	Reference   string
	Warnings    []string
}

// RawAmount accepts either a JSON string ("100.00") or a JSON number (100.00)
// and keeps the literal text so no float conversion happens before normalization.
type RawAmount string

// UnmarshalJSON implements json.Unmarshaler.
func (a *RawAmount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*a = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*a = RawAmount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("amount must be a number or a decimal string")
	}
	*a = RawAmount(n.String())
	return nil
}

// CreatePayoutRequest is the DTO for incoming payout creation requests.
// Field names follow the web client's form payload.
type CreatePayoutRequest struct {
	Amount             RawAmount  `json:"amount" validate:"required"`
	Currency           string     `json:"currency" validate:"required"`
	BeneficiaryType    EntityType `json:"beneficiaryType" validate:"omitempty,oneof=Person Company"`
	BeneficiaryTitle   string     `json:"beneficiaryTitle" validate:"omitempty,oneof=mr mrs ms miss dr mx misc"`
	BeneficiaryName    string     `json:"beneficiaryName" validate:"required,max=140"`
	BeneficiaryAccount string     `json:"beneficiaryAccount" validate:"required,max=64"`
	RoutingNumber      string     `json:"routingNumber" validate:"omitempty,max=32"`
	AccountType        string     `json:"accountType" validate:"omitempty,oneof=checking savings"`
	BeneficiaryBank    string     `json:"beneficiaryBank" validate:"omitempty,max=140"`
	CountryCode        string     `json:"countryCode"`
	Address            *Address   `json:"address,omitempty"`
	Reference          string     `json:"reference" validate:"omitempty,max=255"`
}
