package worldpay

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a major-unit decimal that is written to the wire as a JSON number with two decimals.
type Amount decimal.Decimal

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).StringFixed(2)), nil
}

// UnmarshalJSON implements json.Unmarshaler; quoted and bare numbers are both accepted.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return err
	}
	*a = Amount(d)
	return nil
}

// Decimal returns the underlying decimal value.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.Decimal(a)
}

// Merchant identifies the merchant entity payouts are made on behalf of.
type Merchant struct {
	Entity string `json:"entity"`
}

// PayoutRequest is the provider-schema body of a payout submission.
type PayoutRequest struct {
	Merchant             Merchant    `json:"merchant"`
	TransactionReference string      `json:"transactionReference"`
	Instruction          Instruction `json:"instruction"`
}

// Instruction describes what to pay, to whom and where.
type Instruction struct {
	Value                  Value       `json:"value"`
	Narrative              Narrative   `json:"narrative"`
	CountryCode            string      `json:"countryCode"`
	BeneficiaryBankDetails BankDetails `json:"beneficiaryBankDetails"`
	Parties                []Party     `json:"parties"`
}

// Value carries source and target amounts. SourceAmount is a zero sentinel that
// asks the provider to compute it when no conversion is requested.
type Value struct {
	SourceCurrency string `json:"sourceCurrency"`
	SourceAmount   Amount `json:"sourceAmount"`
	TargetCurrency string `json:"targetCurrency"`
	TargetAmount   Amount `json:"targetAmount"`
}

// Narrative is the statement text shown to the beneficiary.
type Narrative struct {
	Line1 string `json:"line1"`
}

// BankDetails is a tagged union over the account scheme. Exactly one variant is set.
type BankDetails struct {
	IBAN  *IBANBankDetails
	Local *LocalBankDetails
}

// IBANBankDetails never carries routing or account-type fields.
type IBANBankDetails struct {
	IBAN     string `json:"iban"`
	BankName string `json:"bankName,omitempty"`
}

// LocalBankDetails always carries account type, account number and bank code.
type LocalBankDetails struct {
	AccountType   string `json:"accountType"`
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
	BankName      string `json:"bankName,omitempty"`
}

var errBankDetailsVariant = errors.New("bank details must have exactly one variant")

// MarshalJSON emits the fields of whichever variant is set.
func (b BankDetails) MarshalJSON() ([]byte, error) {
	switch {
	case b.IBAN != nil && b.Local == nil:
		return json.Marshal(b.IBAN)
	case b.Local != nil && b.IBAN == nil:
		return json.Marshal(b.Local)
	default:
		return nil, errBankDetailsVariant
	}
}

// Party is a tagged union over the entity type. Person carries PersonalDetails,
// Company carries CompanyName, never both.
type Party struct {
	PartyType       string           `json:"partyType"`
	Type            string           `json:"type"`
	PersonalDetails *PersonalDetails `json:"personalDetails,omitempty"`
	CompanyName     string           `json:"companyName,omitempty"`
	Address         *PartyAddress    `json:"address,omitempty"`
}

// PersonalDetails names a natural-person beneficiary.
type PersonalDetails struct {
	Title     string `json:"title"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// PartyAddress is the provider's postal address shape.
type PartyAddress struct {
	Address1    string `json:"address1,omitempty"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postalCode,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
}

// Headers are the per-attempt tracing and deduplication values.
type Headers struct {
	CorrelationID  string
	Timestamp      string
	IdempotencyKey string
}

// Submission is a fully built payout request ready to send.
type Submission struct {
	Body    PayoutRequest
	Headers Headers
}

// errorResponse is the provider's error body.
type errorResponse struct {
	ErrorName        string      `json:"errorName"`
	Message          string      `json:"message"`
	ValidationErrors []Violation `json:"validationErrors"`
}

// statusResponse covers the fields we read from submission and status bodies.
type statusResponse struct {
	ID              string `json:"id"`
	PayoutRequestID string `json:"payoutRequestId"`
	Status          string `json:"status"`
	Outcome         string `json:"outcome"`
}
