package model

import (
	"encoding/json"
	"fmt"
)

// Sale is a parent record. Apart from the owner, contact details and the
// relationship arrays its fields are opaque to this layer.
type Sale struct {
	ID     string
	Fields map[string]any
}

// SaleFromValue wraps a stored value read from sales/<id>.
func SaleFromValue(id string, v any) (*Sale, error) {
	fields := AsMap(v)
	if fields == nil {
		return nil, fmt.Errorf("sale %s: stored value is %T, not an object", id, v)
	}

	return &Sale{ID: id, Fields: fields}, nil
}

// OwnerID returns the agent that owns the sale.
func (s *Sale) OwnerID() string {
	return AsString(s.Fields[FieldOwnerID])
}

// ChildIDs returns the relationship array for t in stored order.
func (s *Sale) ChildIDs(t ChildType) []string {
	return AsStringSlice(s.Fields[t.ArrayField()])
}

// Contact holds the identifying details used by duplicate detection.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Contact reads contact.{name,phone,email}, falling back to top-level fields
// written by older forms.
func (s *Sale) Contact() Contact {
	contact := AsMap(s.Fields[FieldContact])
	pick := func(key string) string {
		if v := AsString(contact[key]); v != "" {
			return v
		}
		return AsString(s.Fields[key])
	}

	return Contact{Name: pick("name"), Phone: pick("phone"), Email: pick("email")}
}

// HasLegacyFields reports whether the sale still carries embedded child data.
func (s *Sale) HasLegacyFields() bool {
	_, appliances := s.Fields[FieldLegacyAppliances]
	_, boiler := s.Fields[FieldLegacyBoiler]

	return appliances || boiler
}

func (s *Sale) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Fields)
}
