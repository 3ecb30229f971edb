package service

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

var dateLayouts = []string{time.DateOnly, time.RFC3339, "02/01/2006"}

// FieldValidator checks dynamic field values against their definitions.
type FieldValidator struct {
	region   string
	validate *validator.Validate
}

func NewFieldValidator(region string) *FieldValidator {
	if region == "" {
		region = DefaultPhoneRegion
	}

	return &FieldValidator{region: region, validate: validator.New()}
}

func missing(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}

	return false
}

func invalid(def *model.FieldDefinition, format string, args ...any) error {
	return apperr.New(apperr.ValidationFailed, "validateFieldValue", "%s: %s", def.Name, fmt.Sprintf(format, args...))
}

// Validate returns a ValidationFailed error describing why value does not
// satisfy def, or nil.
func (f *FieldValidator) Validate(value any, def *model.FieldDefinition) error {
	if def == nil {
		return apperr.New(apperr.ValidationFailed, "validateFieldValue", "no field definition")
	}

	if missing(value) {
		if def.Required {
			return invalid(def, "is required")
		}
		return nil
	}

	switch rule := def.Rule.(type) {
	case model.TextRule:
		s, ok := value.(string)
		if !ok {
			return invalid(def, "must be text")
		}
		if rule.MaxLength != nil && utf8.RuneCountInString(s) > *rule.MaxLength {
			return invalid(def, "must be at most %d characters", *rule.MaxLength)
		}

	case model.NumberRule:
		n, ok := model.AsFloat(value)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return invalid(def, "must be a valid number")
		}
		if rule.Min != nil && n < *rule.Min {
			return invalid(def, "must be at least %v", *rule.Min)
		}
		if rule.Max != nil && n > *rule.Max {
			return invalid(def, "must be at most %v", *rule.Max)
		}

	case model.SelectRule:
		s, ok := value.(string)
		if !ok || !slices.Contains(rule.Options, s) {
			return invalid(def, "must be one of %s", strings.Join(rule.Options, ", "))
		}

	case model.EmailRule:
		s, ok := value.(string)
		if !ok || f.validate.Var(s, "required,email") != nil {
			return invalid(def, "must be a valid email address")
		}

	case model.PhoneRule:
		s, ok := value.(string)
		if !ok {
			return invalid(def, "must be a valid phone number")
		}
		num, err := libphonenumber.Parse(s, f.region)
		if err != nil || !libphonenumber.IsValidNumber(num) {
			return invalid(def, "must be a valid phone number")
		}

	case model.CheckboxRule:
		b, ok := value.(bool)
		if !ok {
			return invalid(def, "must be true or false")
		}
		if def.Required && !b {
			return invalid(def, "must be checked")
		}

	case model.DateRule:
		s, ok := value.(string)
		if !ok || !parsesAsDate(s) {
			return invalid(def, "must be a date")
		}

	default:
		return invalid(def, "has unsupported type %T", def.Rule)
	}

	return nil
}

func parsesAsDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}

	return false
}
