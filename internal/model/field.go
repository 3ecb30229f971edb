package model

import (
	"encoding/json"
	"fmt"
)

// FieldKind is the stored fieldType of a dynamic field.
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindNumber   FieldKind = "number"
	KindSelect   FieldKind = "select"
	KindEmail    FieldKind = "email"
	KindPhone    FieldKind = "phone"
	KindCheckbox FieldKind = "checkbox"
	KindDate     FieldKind = "date"
)

// FieldRule is the closed set of per-kind validation payloads. Only the rule
// types in this package implement it.
type FieldRule interface {
	Kind() FieldKind
	fieldRule()
}

type TextRule struct {
	MaxLength *int
}

type NumberRule struct {
	Min *float64
	Max *float64
}

type SelectRule struct {
	Options []string
}

type EmailRule struct{}

type PhoneRule struct{}

type CheckboxRule struct{}

type DateRule struct{}

func (TextRule) Kind() FieldKind     { return KindText }
func (NumberRule) Kind() FieldKind   { return KindNumber }
func (SelectRule) Kind() FieldKind   { return KindSelect }
func (EmailRule) Kind() FieldKind    { return KindEmail }
func (PhoneRule) Kind() FieldKind    { return KindPhone }
func (CheckboxRule) Kind() FieldKind { return KindCheckbox }
func (DateRule) Kind() FieldKind     { return KindDate }

func (TextRule) fieldRule()     {}
func (NumberRule) fieldRule()   {}
func (SelectRule) fieldRule()   {}
func (EmailRule) fieldRule()    {}
func (PhoneRule) fieldRule()    {}
func (CheckboxRule) fieldRule() {}
func (DateRule) fieldRule()     {}

// FieldDefinition describes one externally authored dynamic field.
type FieldDefinition struct {
	ID       string
	Name     string
	Required bool
	Rule     FieldRule
}

func (d *FieldDefinition) Kind() FieldKind {
	if d.Rule == nil {
		return ""
	}

	return d.Rule.Kind()
}

// storedFieldDefinition is the form_fields/<id> document shape.
type storedFieldDefinition struct {
	FieldID         string          `json:"fieldId,omitempty"`
	FieldName       string          `json:"fieldName"`
	FieldType       FieldKind       `json:"fieldType"`
	Required        bool            `json:"required"`
	Options         []string        `json:"options,omitempty"`
	ValidationRules *validationRule `json:"validationRules,omitempty"`
}

type validationRule struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
}

func (d *FieldDefinition) UnmarshalJSON(data []byte) error {
	var raw storedFieldDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rules := raw.ValidationRules
	if rules == nil {
		rules = &validationRule{}
	}

	var rule FieldRule
	switch raw.FieldType {
	case KindText, "textarea", "":
		rule = TextRule{MaxLength: rules.MaxLength}
	case KindNumber:
		rule = NumberRule{Min: rules.Min, Max: rules.Max}
	case KindSelect, "radio", "dropdown":
		rule = SelectRule{Options: raw.Options}
	case KindEmail:
		rule = EmailRule{}
	case KindPhone, "tel":
		rule = PhoneRule{}
	case KindCheckbox:
		rule = CheckboxRule{}
	case KindDate:
		rule = DateRule{}
	default:
		return fmt.Errorf("unsupported field type %q", raw.FieldType)
	}

	d.ID = raw.FieldID
	d.Name = raw.FieldName
	d.Required = raw.Required
	d.Rule = rule

	return nil
}

func (d *FieldDefinition) MarshalJSON() ([]byte, error) {
	raw := storedFieldDefinition{
		FieldID:   d.ID,
		FieldName: d.Name,
		FieldType: d.Kind(),
		Required:  d.Required,
	}

	switch r := d.Rule.(type) {
	case TextRule:
		if r.MaxLength != nil {
			raw.ValidationRules = &validationRule{MaxLength: r.MaxLength}
		}
	case NumberRule:
		if r.Min != nil || r.Max != nil {
			raw.ValidationRules = &validationRule{Min: r.Min, Max: r.Max}
		}
	case SelectRule:
		raw.Options = r.Options
	}

	return json.Marshal(raw)
}

// FieldDefinitionFromValue decodes a stored form_fields/<id> document.
func FieldDefinitionFromValue(id string, v any) (*FieldDefinition, error) {
	if AsMap(v) == nil {
		return nil, fmt.Errorf("field definition %s: stored value is %T, not an object", id, v)
	}

	def := &FieldDefinition{}
	if err := Decode(v, def); err != nil {
		return nil, fmt.Errorf("field definition %s: %w", id, err)
	}
	if def.ID == "" {
		def.ID = id
	}

	return def, nil
}
