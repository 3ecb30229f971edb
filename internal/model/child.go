package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChildType names one kind of record owned by a sale.
type ChildType string

const (
	Appliance         ChildType = "appliance"
	Boiler            ChildType = "boiler"
	DynamicFieldValue ChildType = "dynamicFieldValue"
)

type childMeta struct {
	collection string
	arrayField string
	idField    string
	operation  string
}

var childTypes = map[ChildType]childMeta{
	Appliance:         {collection: AppliancesCollection, arrayField: "applianceIds", idField: "applianceId", operation: "appliance"},
	Boiler:            {collection: BoilersCollection, arrayField: "boilerIds", idField: "boilerId", operation: "boiler"},
	DynamicFieldValue: {collection: DynamicFieldValuesCollection, arrayField: "dynamicFieldValueIds", idField: "fieldValueId", operation: "field_value"},
}

// ChildTypes lists every child type in a stable order.
func ChildTypes() []ChildType {
	return []ChildType{Appliance, Boiler, DynamicFieldValue}
}

// ParseChildType accepts a child type, its collection name or its relationship array name.
func ParseChildType(s string) (ChildType, error) {
	for _, t := range ChildTypes() {
		meta := childTypes[t]
		if s == string(t) || s == meta.collection || s == meta.arrayField {
			return t, nil
		}
	}

	return "", fmt.Errorf("unknown child type %q", s)
}

func (t ChildType) Valid() bool {
	_, ok := childTypes[t]
	return ok
}

// Collection is the top-level collection holding children of this type.
func (t ChildType) Collection() string {
	return childTypes[t].collection
}

// ArrayField is the sale field listing children of this type.
func (t ChildType) ArrayField() string {
	return childTypes[t].arrayField
}

// IDField is the self-id field written into every child of this type.
func (t ChildType) IDField() string {
	return childTypes[t].idField
}

// Operation names audit events, e.g. "appliance_added".
func (t ChildType) Operation(verb string) string {
	return childTypes[t].operation + "_" + verb
}

// ChildCollections lists the collections of every child type.
func ChildCollections() []string {
	out := make([]string, 0, len(childTypes))
	for _, t := range ChildTypes() {
		out = append(out, t.Collection())
	}

	return out
}

// Child is a normalized record owned by exactly one sale. Fields holds the
// stored document verbatim.
type Child struct {
	ID     string
	Type   ChildType
	Fields map[string]any
}

// ChildFromValue wraps a stored value read from the child's path.
func ChildFromValue(t ChildType, id string, v any) (*Child, error) {
	fields := AsMap(v)
	if fields == nil {
		return nil, fmt.Errorf("%s %s: stored value is %T, not an object", t, id, v)
	}

	return &Child{ID: id, Type: t, Fields: fields}, nil
}

// SaleID returns the back-reference to the owning sale.
func (c *Child) SaleID() string {
	return AsString(c.Fields[FieldSaleID])
}

func (c *Child) Status() string {
	return AsString(c.Fields[FieldStatus])
}

func (c *Child) Version() int64 {
	return AsInt64(c.Fields[FieldVersion])
}

// Migrated reports whether the child was produced by the migration.
func (c *Child) Migrated() bool {
	return AsString(c.Fields[FieldMigratedFrom]) != ""
}

func (c *Child) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Fields)
}

type attribute struct {
	name string
	def  any
}

// attribute lists follow the stored record shapes; def is used when the
// input is missing or empty.
var (
	applianceAttributes = []attribute{
		{"type", nil}, {"make", nil}, {"model", nil},
		{"age", "Unknown"}, {"monthlyCost", 0.0},
		{"serialNumber", nil}, {"warrantyExpiry", nil}, {"purchaseDate", nil},
		{"installationDate", nil}, {"capacity", nil}, {"energyRating", nil},
		{"powerConsumption", nil},
	}
	boilerAttributes = []attribute{
		{"type", "Combi Boiler"}, {"make", nil}, {"model", nil},
		{"age", "Unknown"}, {"monthlyCost", 0.0}, {"fuelType", "Gas"},
		{"efficiencyRating", nil}, {"outputKw", nil}, {"serialNumber", nil},
		{"installationDate", nil}, {"lastServiceDate", nil}, {"warrantyExpiry", nil},
		{"flowRate", nil}, {"pressureRange", nil}, {"flueType", nil},
	}
	// migrated records never carry an empty make/model/type
	migratedDefaults = map[string]any{"type": "Unknown", "make": "Unknown", "model": "Unknown"}
)

// Migration provenance markers.
const (
	FromEmbeddedArray  = "embedded_array"
	FromEmbeddedObject = "embedded_object"
)

// empty reports a missing attribute. false and 0 are real values.
func empty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	}

	return false
}

func newChild(t ChildType, id, saleID string, now time.Time) *Child {
	ts := Timestamp(now)
	return &Child{
		ID:   id,
		Type: t,
		Fields: map[string]any{
			t.IDField():    id,
			FieldSaleID:    saleID,
			FieldStatus:    "active",
			FieldVersion:   1,
			FieldCreatedAt: ts,
			FieldUpdatedAt: ts,
		},
	}
}

func fill(c *Child, attrs []attribute, data map[string]any, defaults map[string]any) {
	for _, attr := range attrs {
		def := attr.def
		if d, ok := defaults[attr.name]; ok && def == nil {
			def = d
		}

		value := data[attr.name]
		if empty(value) {
			value = def
		}

		c.Fields[attr.name] = value
	}
}

// NewAppliance builds an appliance record owned by saleID.
func NewAppliance(id, saleID string, data map[string]any, now time.Time) *Child {
	c := newChild(Appliance, id, saleID, now)
	fill(c, applianceAttributes, data, nil)

	return c
}

// NewBoiler builds a boiler record owned by saleID.
func NewBoiler(id, saleID string, data map[string]any, now time.Time) *Child {
	c := newChild(Boiler, id, saleID, now)
	fill(c, boilerAttributes, data, nil)

	return c
}

// NewFieldValue builds a dynamic field value record for an already validated value.
func NewFieldValue(id, saleID string, def *FieldDefinition, value any, selectedOption any, now time.Time) *Child {
	c := newChild(DynamicFieldValue, id, saleID, now)
	c.Fields["fieldId"] = def.ID
	c.Fields["fieldType"] = string(def.Kind())
	c.Fields["fieldName"] = def.Name
	c.Fields["required"] = def.Required
	c.Fields["value"] = value
	c.Fields["selectedOption"] = selectedOption
	c.Fields["isValid"] = true
	c.Fields["validationErrors"] = []any{}

	return c
}

// MigratedAppliance builds an appliance from one element of a legacy embedded array.
func MigratedAppliance(id, saleID string, item map[string]any, now time.Time) *Child {
	c := newChild(Appliance, id, saleID, now)
	fill(c, applianceAttributes, item, migratedDefaults)
	c.Fields[FieldMigratedFrom] = FromEmbeddedArray
	c.Fields[FieldMigrationDate] = Timestamp(now)

	return c
}

// MigratedBoiler builds a boiler from a legacy embedded boilerCoverage object.
func MigratedBoiler(id, saleID string, coverage map[string]any, now time.Time) *Child {
	c := newChild(Boiler, id, saleID, now)
	fill(c, boilerAttributes, coverage, migratedDefaults)
	c.Fields[FieldMigratedFrom] = FromEmbeddedObject
	c.Fields[FieldMigrationDate] = Timestamp(now)

	return c
}
