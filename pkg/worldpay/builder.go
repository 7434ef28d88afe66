/**
 * @description
 * This file maps a canonical payout onto the Worldpay Account Payouts request schema.
 * The builder never touches the network; it only assembles the body and the
 * per-attempt headers (correlation id, timestamp and idempotency key).
 *
 * @notes
 * - Amounts leave the service here as major-unit decimals; everything upstream is cents.
 * - Party and bank-detail shapes are discriminated unions and the switches below are
 *   exhaustive over the domain enums.
 */

package worldpay

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/payout-service/internal/domain"
)

const (
	// NarrativeMaxLength is the provider's narrative line limit.
	NarrativeMaxLength = 35
	// NarrativeMinLength is the shortest user reference we forward as-is.
	NarrativeMinLength = 3
	// DefaultNarrative replaces references that are missing or too short.
	DefaultNarrative = "Payout"
	// MaxIdempotencyKeyLength is the provider bound on the Idempotency-Key header.
	MaxIdempotencyKeyLength = 35
)

// IdempotencyMode selects how idempotency keys are derived.
type IdempotencyMode string

const (
	// IdempotencyRandom issues a fresh key on every submission attempt.
	IdempotencyRandom IdempotencyMode = "random"
	// IdempotencyPerPayout derives the key from the payout id, so a caller-level
	// retry of the same payout is deduplicated by the provider.
	IdempotencyPerPayout IdempotencyMode = "payout"
)

// ParseIdempotencyMode maps a config value to a mode, defaulting to random.
func ParseIdempotencyMode(raw string) IdempotencyMode {
	if IdempotencyMode(strings.ToLower(strings.TrimSpace(raw))) == IdempotencyPerPayout {
		return IdempotencyPerPayout
	}
	return IdempotencyRandom
}

var idempotencyNamespace = uuid.MustParse("4f0e7c1a-3b8d-5e2f-9a61-0c7d2b9e8f14")

// Builder assembles provider requests. It is immutable after construction and safe
// for concurrent use.
type Builder struct {
	mode IdempotencyMode
	now  func() time.Time
}

// NewBuilder creates a Builder with the given idempotency mode.
func NewBuilder(mode IdempotencyMode) *Builder {
	return &Builder{mode: mode, now: time.Now}
}

// Build maps a persisted payout into a submission for the given merchant.
func (b *Builder) Build(payout *domain.Payout, merchant Merchant) (*Submission, error) {
	if payout == nil {
		return nil, &MappingError{Field: "payout", Reason: "nil payout"}
	}
	if strings.TrimSpace(merchant.Entity) == "" {
		return nil, &MappingError{Field: "merchant.entity", Reason: "merchant entity is not configured"}
	}
	if payout.AmountMinor <= 0 {
		return nil, &MappingError{Field: "instruction.value.targetAmount", Reason: "amount must be positive"}
	}

	bankDetails, err := mapBankDetails(payout.Beneficiary)
	if err != nil {
		return nil, err
	}
	party, err := mapBeneficiaryParty(payout.Beneficiary)
	if err != nil {
		return nil, err
	}

	body := PayoutRequest{
		Merchant:             merchant,
		TransactionReference: fmt.Sprintf("payout-%d", payout.ID),
		Instruction: Instruction{
			Value: Value{
				SourceCurrency: payout.Currency,
				SourceAmount:   Amount(decimal.Zero),
				TargetCurrency: payout.Currency,
				TargetAmount:   Amount(MinorToMajor(payout.AmountMinor)),
			},
			Narrative:              Narrative{Line1: BuildNarrative(payout.Reference)},
			CountryCode:            payout.Beneficiary.CountryCode,
			BeneficiaryBankDetails: bankDetails,
			Parties:                []Party{party},
		},
	}

	return &Submission{
		Body: body,
		Headers: Headers{
			CorrelationID:  uuid.NewString(),
			Timestamp:      strconv.FormatInt(b.now().Unix(), 10),
			IdempotencyKey: b.idempotencyKey(payout.ID),
		},
	}, nil
}

// QueryHeaders returns tracing headers for a status query. No idempotency key is needed for GET.
func (b *Builder) QueryHeaders() Headers {
	return Headers{
		CorrelationID: uuid.NewString(),
		Timestamp:     strconv.FormatInt(b.now().Unix(), 10),
	}
}

func (b *Builder) idempotencyKey(payoutID int64) string {
	var id uuid.UUID
	if b.mode == IdempotencyPerPayout {
		id = uuid.NewSHA1(idempotencyNamespace, []byte("payout:"+strconv.FormatInt(payoutID, 10)))
	} else {
		id = uuid.New()
	}
	return hex.EncodeToString(id[:])
}

// MinorToMajor converts cents into a 2-dp major-unit decimal.
func MinorToMajor(amountMinor int64) decimal.Decimal {
	return decimal.New(amountMinor, -2)
}

// BuildNarrative forwards the user reference, truncated to the provider limit,
// or substitutes the default when the reference is too short.
func BuildNarrative(reference string) string {
	ref := strings.Join(strings.Fields(reference), " ")
	if utf8.RuneCountInString(ref) < NarrativeMinLength {
		return DefaultNarrative
	}
	if utf8.RuneCountInString(ref) > NarrativeMaxLength {
		ref = string([]rune(ref)[:NarrativeMaxLength])
	}
	return strings.TrimSpace(ref)
}

func mapBankDetails(b domain.Beneficiary) (BankDetails, error) {
	account := strings.TrimSpace(b.AccountIdentifier)
	if account == "" {
		return BankDetails{}, &MappingError{Field: "beneficiaryBankDetails", Reason: "account identifier is empty"}
	}

	switch b.AccountScheme {
	case domain.SchemeIBAN:
		return BankDetails{IBAN: &IBANBankDetails{
			IBAN:     account,
			BankName: b.BankName,
		}}, nil
	case domain.SchemeLocalAccount:
		if b.AccountType == "" {
			return BankDetails{}, &MappingError{Field: "beneficiaryBankDetails.accountType", Reason: "account type was not resolved"}
		}
		return BankDetails{Local: &LocalBankDetails{
			AccountType:   b.AccountType,
			AccountNumber: account,
			BankCode:      b.RoutingCode,
			BankName:      b.BankName,
		}}, nil
	default:
		return BankDetails{}, &MappingError{Field: "beneficiaryBankDetails", Reason: fmt.Sprintf("unsupported account scheme %q", b.AccountScheme)}
	}
}

func mapBeneficiaryParty(b domain.Beneficiary) (Party, error) {
	party := Party{
		PartyType: "beneficiary",
		Type:      string(b.Type),
		Address:   mapAddress(b.Address),
	}

	switch b.Type {
	case domain.EntityPerson:
		if b.Title == "" || b.GivenName == "" || b.FamilyName == "" {
			return Party{}, &MappingError{Field: "parties.personalDetails", Reason: "title, given name and family name are required"}
		}
		party.PersonalDetails = &PersonalDetails{
			Title:     b.Title,
			FirstName: b.GivenName,
			LastName:  b.FamilyName,
		}
	case domain.EntityCompany:
		if strings.TrimSpace(b.Name) == "" {
			return Party{}, &MappingError{Field: "parties.companyName", Reason: "company name is required"}
		}
		party.CompanyName = strings.TrimSpace(b.Name)
	default:
		return Party{}, &MappingError{Field: "parties.type", Reason: fmt.Sprintf("unsupported entity type %q", b.Type)}
	}

	return party, nil
}

func mapAddress(a *domain.Address) *PartyAddress {
	if a == nil || a.IsZero() {
		return nil
	}
	return &PartyAddress{
		Address1:    a.Line1,
		Address2:    a.Line2,
		City:        a.City,
		State:       a.State,
		PostalCode:  a.PostalCode,
		CountryCode: a.CountryCode,
	}
}
