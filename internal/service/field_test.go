package service

import (
	"math"
	"testing"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestFieldValidator_Validate(t *testing.T) {
	v := NewFieldValidator("GB")

	number := &model.FieldDefinition{ID: "rooms", Name: "Rooms", Required: true, Rule: model.NumberRule{Min: ptr(1.0), Max: ptr(20.0)}}
	text := &model.FieldDefinition{ID: "notes", Name: "Notes", Rule: model.TextRule{MaxLength: ptr(5)}}
	choice := &model.FieldDefinition{ID: "heating", Name: "Heating", Rule: model.SelectRule{Options: []string{"gas", "oil"}}}
	email := &model.FieldDefinition{ID: "email", Name: "Email", Rule: model.EmailRule{}}
	phone := &model.FieldDefinition{ID: "phone", Name: "Phone", Rule: model.PhoneRule{}}
	consent := &model.FieldDefinition{ID: "consent", Name: "Consent", Required: true, Rule: model.CheckboxRule{}}
	visit := &model.FieldDefinition{ID: "visit", Name: "Visit", Rule: model.DateRule{}}

	tests := []struct {
		name  string
		def   *model.FieldDefinition
		value any
		ok    bool
	}{
		{"number in range", number, 4.0, true},
		{"number as string", number, "7", true},
		{"number below min", number, 0.0, false},
		{"number above max", number, 21, false},
		{"number not numeric", number, "many", false},
		{"number NaN string", number, "NaN", false},
		{"number NaN float", &model.FieldDefinition{ID: "n", Name: "N", Rule: model.NumberRule{}}, math.NaN(), false},
		{"number infinite", number, "+Inf", false},
		{"required missing", number, nil, false},
		{"required blank", number, "  ", false},
		{"optional missing", text, nil, true},
		{"text within limit", text, "short", true},
		{"text too long", text, "longer", false},
		{"text wrong type", text, 12.0, false},
		{"select allowed", choice, "gas", true},
		{"select not allowed", choice, "coal", false},
		{"email valid", email, "jo@example.com", true},
		{"email invalid", email, "jo@", false},
		{"phone national", phone, "07123 456789", true},
		{"phone international", phone, "+44 7123 456789", true},
		{"phone garbage", phone, "12", false},
		{"checkbox checked", consent, true, true},
		{"checkbox unchecked but required", consent, false, false},
		{"checkbox wrong type", consent, "yes", false},
		{"date only", visit, "2024-03-01", true},
		{"date rfc3339", visit, "2024-03-01T10:00:00Z", true},
		{"date invalid", visit, "tomorrow", false},
		{"no definition", nil, "x", false},
		{"no rule", &model.FieldDefinition{ID: "x", Name: "X"}, "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.value, tt.def)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ValidationFailed)
		})
	}
}

func TestFieldValidator_MessageNamesField(t *testing.T) {
	def := &model.FieldDefinition{ID: "rooms", Name: "Rooms", Rule: model.NumberRule{Min: ptr(1.0)}}

	err := NewFieldValidator("").Validate(0.0, def)
	assert.ErrorContains(t, err, "Rooms: must be at least 1")
}
