package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/PayPipe/internal/models"
)

// Bounds applied by the deterministic validators.
const (
	MaxTextLength     = 200
	MinAdultAge       = 18
	MaxPersonAge      = 120
	MaxBusinessAge    = 100
	MaxAmount         = 1_000_000_000
	MinPhoneDigits    = 7
	MaxPhoneDigits    = 15
	canonicalDateForm = "2006-01-02"
)

var (
	nameRe     = regexp.MustCompile(`^\p{L}[\p{L} .'\-]{0,59}$`)
	emailRe    = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	countryRe  = regexp.MustCompile(`^[A-Z]{2}$`)
	currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)
	cryptoRe   = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)
	amountRe   = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	postalRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 \-]{1,9}$`)
	phoneJunk  = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	dateForms  = []string{"02-01-2006", "02/01/2006", canonicalDateForm}
)

func validateName(raw string, _ Rules, _ time.Time) models.ValidationResult {
	if len([]rune(raw)) < 2 {
		return models.Invalid("Names need at least 2 letters.")
	}
	if !nameRe.MatchString(raw) {
		return models.Invalid("Names may only contain letters, spaces, hyphens, apostrophes and periods.")
	}
	return models.Valid(strings.Join(strings.Fields(raw), " "))
}

func validateText(raw string, _ Rules, _ time.Time) models.ValidationResult {
	if raw == "" {
		return models.Invalid("This field cannot be empty.")
	}
	if len([]rune(raw)) > MaxTextLength {
		return models.Invalid(fmt.Sprintf("Please keep this under %d characters.", MaxTextLength))
	}
	return models.Valid(raw)
}

func validateEmail(raw string, _ Rules, _ time.Time) models.ValidationResult {
	if !emailRe.MatchString(raw) || strings.Contains(raw, "..") {
		return models.Invalid("Please enter a valid email address, e.g. name@example.com.")
	}
	return models.Valid(models.NormalizeEmail(raw))
}

func validatePhone(raw string, _ Rules, _ time.Time) models.ValidationResult {
	cleaned := phoneJunk.Replace(raw)
	plus := strings.HasPrefix(cleaned, "+")
	digits := strings.TrimPrefix(cleaned, "+")
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return models.Invalid("Phone numbers may only contain digits, optionally starting with +.")
	}
	if len(digits) < MinPhoneDigits || len(digits) > MaxPhoneDigits {
		return models.Invalid(fmt.Sprintf("Phone numbers need %d to %d digits including the country code.", MinPhoneDigits, MaxPhoneDigits))
	}
	if plus {
		return models.Valid("+" + digits)
	}
	return models.Valid(digits)
}

// parseDate accepts DD-MM-YYYY, DD/MM/YYYY and YYYY-MM-DD. time.Parse
// rejects impossible calendar dates such as 29-02-2001.
func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateForms {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func yearsBetween(from, to time.Time) int {
	years := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	return years
}

func validateDateOfBirth(raw string, _ Rules, now time.Time) models.ValidationResult {
	d, ok := parseDate(raw)
	if !ok {
		return models.Invalid("Please enter a real date as DD-MM-YYYY.")
	}
	if d.After(now) {
		return models.Invalid("Date of birth cannot be in the future.")
	}
	age := yearsBetween(d, now)
	if age < MinAdultAge {
		return models.Invalid(fmt.Sprintf("You must be at least %d years old to register.", MinAdultAge))
	}
	if age > MaxPersonAge {
		return models.Invalid("Please check the year of birth.")
	}
	return models.Valid(d.Format(canonicalDateForm))
}

func validateBusinessDate(raw string, _ Rules, now time.Time) models.ValidationResult {
	d, ok := parseDate(raw)
	if !ok {
		return models.Invalid("Please enter a real date as DD-MM-YYYY.")
	}
	if d.After(now) {
		return models.Invalid("The incorporation date cannot be in the future.")
	}
	if yearsBetween(d, now) > MaxBusinessAge {
		return models.Invalid(fmt.Sprintf("The incorporation date must be within the last %d years.", MaxBusinessAge))
	}
	return models.Valid(d.Format(canonicalDateForm))
}

func validateCountryCode(raw string, _ Rules, _ time.Time) models.ValidationResult {
	code := strings.ToUpper(raw)
	if !countryRe.MatchString(code) {
		return models.Invalid("Please use a 2-letter country code, e.g. PH, US, GB.")
	}
	return models.Valid(code)
}

func validateCurrencyCode(raw string, _ Rules, _ time.Time) models.ValidationResult {
	code := strings.ToUpper(raw)
	if !currencyRe.MatchString(code) {
		return models.Invalid("Please use a 3-letter currency code, e.g. PHP, USD, EUR.")
	}
	return models.Valid(code)
}

func validateCryptoCode(raw string, _ Rules, _ time.Time) models.ValidationResult {
	code := strings.ToUpper(raw)
	if !cryptoRe.MatchString(code) {
		return models.Invalid("Please use a crypto asset code, e.g. USDT, USDC, BTC.")
	}
	return models.Valid(code)
}

func validateAmount(raw string, _ Rules, _ time.Time) models.ValidationResult {
	cleaned := strings.ReplaceAll(raw, ",", "")
	if !amountRe.MatchString(cleaned) {
		return models.Invalid("Please enter an amount like 1500 or 1500.50.")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || v <= 0 {
		return models.Invalid("The amount must be greater than zero.")
	}
	if v > MaxAmount {
		return models.Invalid("That amount is above the supported limit.")
	}
	return models.Valid(cleaned)
}

func validateEnum(raw string, rules Rules, _ time.Time) models.ValidationResult {
	if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= len(rules.Options) {
		return models.Valid(rules.Options[n-1])
	}
	norm := normalizeOption(raw)
	for _, opt := range rules.Options {
		if normalizeOption(opt) == norm {
			return models.Valid(opt)
		}
	}
	return models.Invalid("Please choose one of: " + strings.Join(rules.Options, ", ") + ".")
}

func normalizeOption(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func validatePostalCode(raw string, _ Rules, _ time.Time) models.ValidationResult {
	if !postalRe.MatchString(raw) {
		return models.Invalid("Please enter a valid postal code.")
	}
	return models.Valid(strings.ToUpper(raw))
}

func validateDocument(_ string, _ Rules, _ time.Time) models.ValidationResult {
	return models.Invalid("Please upload the document as a file attachment.")
}
