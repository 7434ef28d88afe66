/**
 * @description
 * This file turns a loosely-typed payout request into the canonical payout the rest
 * of the service works with. It is pure: no I/O, no clock and no randomness, so the
 * same request always yields the same canonical record or the same ValidationError.
 *
 * @dependencies
 * - github.com/go-playground/validator/v10: presence and enum checks on the DTO.
 * - github.com/shopspring/decimal: exact decimal-to-cents conversion.
 */

package app

import (
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/transfa/payout-service/internal/domain"
)

const (
	DefaultAccountType  = "checking"
	DefaultTitle        = "mr"
	DefaultCountryCode  = "US"
	UnknownFamilyName   = "Unknown"
	WarnNoRoutingCode   = "routing code not supplied; the gateway may reject this local-account payout"
	WarnDefaultAcctType = "account type not supplied; defaulted to checking"
	WarnDefaultCountry  = "country code not supplied; defaulted to "
	WarnSingleTokenName = "beneficiary name has a single token; family name set to Unknown"
)

var (
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	countryPattern  = regexp.MustCompile(`^[A-Z]{2}$`)
	ibanPattern     = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}`)

	maxAmountMinor = decimal.NewFromInt(math.MaxInt64)
	hundred        = decimal.NewFromInt(100)
)

// NormalizePayoutRequest validates a raw request and produces the canonical payout.
// Failures are always *domain.ValidationError naming the offending request field.
func NormalizePayoutRequest(req domain.CreatePayoutRequest) (*domain.CanonicalPayout, error) {
	req = tidyRequest(req)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	amountMinor, err := NormalizeAmount(string(req.Amount))
	if err != nil {
		return nil, err
	}
	currency, err := NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	name := collapseSpaces(req.BeneficiaryName)
	if name == "" {
		return nil, domain.NewValidationError("beneficiaryName", "is required")
	}
	account := NormalizeAccountIdentifier(req.BeneficiaryAccount)
	if account == "" {
		return nil, domain.NewValidationError("beneficiaryAccount", "is required")
	}

	var warnings []string
	beneficiary := domain.Beneficiary{
		Type:              req.BeneficiaryType,
		Name:              name,
		AccountIdentifier: account,
		AccountScheme:     DetectAccountScheme(account),
		BankName:          strings.TrimSpace(req.BeneficiaryBank),
	}
	if beneficiary.Type == "" {
		beneficiary.Type = domain.EntityPerson
	}

	if beneficiary.AccountScheme == domain.SchemeLocalAccount {
		beneficiary.RoutingCode = strings.Join(strings.Fields(req.RoutingNumber), "")
		if beneficiary.RoutingCode == "" {
			warnings = append(warnings, WarnNoRoutingCode)
		}
		beneficiary.AccountType = req.AccountType
		if beneficiary.AccountType == "" {
			beneficiary.AccountType = DefaultAccountType
			warnings = append(warnings, WarnDefaultAcctType)
		}
	}

	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	switch {
	case country != "":
		if !countryPattern.MatchString(country) {
			return nil, domain.NewValidationError("countryCode", "must be a 2-letter ISO 3166 code")
		}
	case beneficiary.AccountScheme == domain.SchemeIBAN:
		country = account[:2]
		warnings = append(warnings, WarnDefaultCountry+country)
	default:
		country = DefaultCountryCode
		warnings = append(warnings, WarnDefaultCountry+country)
	}
	beneficiary.CountryCode = country

	if beneficiary.Type == domain.EntityPerson {
		beneficiary.Title = req.BeneficiaryTitle
		if beneficiary.Title == "" {
			beneficiary.Title = DefaultTitle
		}
		given, family := SplitName(name)
		if family == UnknownFamilyName && !strings.Contains(name, " ") {
			warnings = append(warnings, WarnSingleTokenName)
		}
		beneficiary.GivenName = given
		beneficiary.FamilyName = family
	}

	beneficiary.Address = normalizeAddress(req.Address)

	return &domain.CanonicalPayout{
		AmountMinor: amountMinor,
		Currency:    currency,
		Beneficiary: beneficiary,
		Reference:   strings.TrimSpace(req.Reference),
		Warnings:    warnings,
	}, nil
}

// NormalizeAmount converts a major-unit decimal string to cents, rounding half away from zero.
func NormalizeAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, domain.NewValidationError("amount", "is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, domain.NewValidationError("amount", "must be a decimal number")
	}
	minor := d.Mul(hundred).Round(0)
	if !minor.IsPositive() {
		return 0, domain.NewValidationError("amount", "must be greater than zero")
	}
	if minor.GreaterThan(maxAmountMinor) {
		return 0, domain.NewValidationError("amount", "is too large")
	}
	return minor.IntPart(), nil
}

// NormalizeCurrency trims and upper-cases a currency and checks it is three letters.
func NormalizeCurrency(raw string) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if !currencyPattern.MatchString(currency) {
		return "", domain.NewValidationError("currency", "must be a 3-letter ISO 4217 code")
	}
	return currency, nil
}

// NormalizeAccountIdentifier removes whitespace and upper-cases the identifier.
func NormalizeAccountIdentifier(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}

// DetectAccountScheme classifies a normalized identifier as IBAN when it starts with a
// country code and two check digits.
func DetectAccountScheme(account string) domain.AccountScheme {
	if ibanPattern.MatchString(account) {
		return domain.SchemeIBAN
	}
	return domain.SchemeLocalAccount
}

// SplitName takes the first token as the given name and the rest as the family name.
// A single token gets the family name "Unknown".
func SplitName(name string) (given, family string) {
	tokens := strings.Fields(name)
	switch len(tokens) {
	case 0:
		return "", ""
	case 1:
		return tokens[0], UnknownFamilyName
	default:
		return tokens[0], strings.Join(tokens[1:], " ")
	}
}

func tidyRequest(req domain.CreatePayoutRequest) domain.CreatePayoutRequest {
	req.BeneficiaryTitle = strings.ToLower(strings.TrimSpace(req.BeneficiaryTitle))
	req.AccountType = strings.ToLower(strings.TrimSpace(req.AccountType))
	switch strings.ToLower(strings.TrimSpace(string(req.BeneficiaryType))) {
	case "":
		req.BeneficiaryType = ""
	case "person", "individual":
		req.BeneficiaryType = domain.EntityPerson
	case "company", "business":
		req.BeneficiaryType = domain.EntityCompany
	}
	return req
}

func normalizeAddress(a *domain.Address) *domain.Address {
	if a == nil {
		return nil
	}
	out := domain.Address{
		Line1:       strings.TrimSpace(a.Line1),
		Line2:       strings.TrimSpace(a.Line2),
		City:        strings.TrimSpace(a.City),
		State:       strings.TrimSpace(a.State),
		PostalCode:  strings.TrimSpace(a.PostalCode),
		CountryCode: strings.ToUpper(strings.TrimSpace(a.CountryCode)),
	}
	if out.IsZero() {
		return nil
	}
	return &out
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
