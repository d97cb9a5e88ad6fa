// Package validate checks raw user input for a single form field.
//
// Deterministic validators are pure functions of their input (and the
// current date for date kinds). Fields marked smart additionally ask a
// classifier for a second opinion; classifier failures fall back to the
// deterministic result and are never shown to the user.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PayPipe/internal/models"
)

// Kind names a validator.
type Kind string

const (
	KindName         Kind = "name"
	KindText         Kind = "text"
	KindEmail        Kind = "email"
	KindPhone        Kind = "phone"
	KindDateOfBirth  Kind = "date_of_birth"
	KindBusinessDate Kind = "business_date"
	KindCountryCode  Kind = "country_code"
	KindCurrencyCode Kind = "currency_code"
	KindCryptoCode   Kind = "crypto_code"
	KindAmount       Kind = "amount"
	KindEnum         Kind = "enum"
	KindPostalCode   Kind = "postal_code"
	KindDocument     Kind = "document"
)

// DefaultClassifierTimeout bounds a single classifier consultation.
const DefaultClassifierTimeout = 5 * time.Second

// Classifier maps free text onto one label of a closed set.
type Classifier interface {
	Classify(ctx context.Context, instructions, input string, labels []string) (string, error)
}

// Rules carries the per-field parameters some validators need.
type Rules struct {
	Label   string
	Options []string
	Smart   bool
}

type validatorFunc func(raw string, rules Rules, now time.Time) models.ValidationResult

// Registry dispatches validation by kind.
type Registry struct {
	validators map[Kind]validatorFunc
	classifier Classifier
	timeout    time.Duration
	now        func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClassifier enables smart validation through c.
func WithClassifier(c Classifier) Option {
	return func(r *Registry) { r.classifier = c }
}

// WithClassifierTimeout overrides DefaultClassifierTimeout.
func WithClassifierTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithClock overrides the clock used by date validators.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns a registry with every built-in validator.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		validators: map[Kind]validatorFunc{
			KindName:         validateName,
			KindText:         validateText,
			KindEmail:        validateEmail,
			KindPhone:        validatePhone,
			KindDateOfBirth:  validateDateOfBirth,
			KindBusinessDate: validateBusinessDate,
			KindCountryCode:  validateCountryCode,
			KindCurrencyCode: validateCurrencyCode,
			KindCryptoCode:   validateCryptoCode,
			KindAmount:       validateAmount,
			KindEnum:         validateEnum,
			KindPostalCode:   validatePostalCode,
			KindDocument:     validateDocument,
		},
		timeout: DefaultClassifierTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Known reports whether kind has a validator.
func (r *Registry) Known(kind Kind) bool {
	_, ok := r.validators[kind]
	return ok
}

// Validate checks raw against kind.
func (r *Registry) Validate(ctx context.Context, kind Kind, raw string, rules Rules) models.ValidationResult {
	fn, ok := r.validators[kind]
	if !ok {
		slog.Error("Registry.Validate: unknown validator kind", "kind", kind)
		return models.Invalid("This field cannot be validated right now. Please contact support.")
	}
	res := fn(strings.TrimSpace(raw), rules, r.now())
	if !res.Valid || !rules.Smart || r.classifier == nil {
		return res
	}
	return r.consult(ctx, res, raw, rules)
}

const (
	labelValid   = "VALID"
	labelInvalid = "INVALID"
)

func (r *Registry) consult(ctx context.Context, res models.ValidationResult, raw string, rules Rules) models.ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	label := rules.Label
	if label == "" {
		label = "value"
	}
	instructions := fmt.Sprintf(
		"You check one form field of a financial onboarding chat. The field is %q. "+
			"Answer %s if the user's text is a plausible %s, or %s if it is gibberish, a question, or clearly something else.",
		label, labelValid, label, labelInvalid)

	verdict, err := r.classifier.Classify(ctx, instructions, raw, []string{labelValid, labelInvalid})
	if err != nil {
		slog.Warn("Registry.Validate: classifier unavailable, using deterministic result", "error", err, "field", label)
		return res
	}
	if verdict == labelInvalid {
		return models.Invalid(fmt.Sprintf("That doesn't look like a valid %s.", strings.ToLower(label)))
	}
	return res
}
