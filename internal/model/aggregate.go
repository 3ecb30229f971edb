package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Aggregate is a sale with its children grouped by type.
type Aggregate struct {
	Sale     *Sale
	Children map[ChildType][]*Child
}

func (a *Aggregate) All() []*Child {
	var out []*Child
	for _, t := range ChildTypes() {
		out = append(out, a.Children[t]...)
	}

	return out
}

// aggregateJSON is the cached and served form of an aggregate.
type aggregateJSON struct {
	ID                 string           `json:"id"`
	Sale               map[string]any   `json:"sale"`
	Appliances         []map[string]any `json:"appliances"`
	Boilers            []map[string]any `json:"boilers"`
	DynamicFieldValues []map[string]any `json:"dynamicFieldValues"`
}

func (a *Aggregate) MarshalJSON() ([]byte, error) {
	fields := func(t ChildType) []map[string]any {
		out := make([]map[string]any, 0, len(a.Children[t]))
		for _, c := range a.Children[t] {
			out = append(out, c.Fields)
		}
		return out
	}

	return json.Marshal(aggregateJSON{
		ID:                 a.Sale.ID,
		Sale:               a.Sale.Fields,
		Appliances:         fields(Appliance),
		Boilers:            fields(Boiler),
		DynamicFieldValues: fields(DynamicFieldValue),
	})
}

func (a *Aggregate) UnmarshalJSON(data []byte) error {
	var raw aggregateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Sale = &Sale{ID: raw.ID, Fields: raw.Sale}
	a.Children = make(map[ChildType][]*Child, 3)
	load := func(t ChildType, items []map[string]any) {
		children := make([]*Child, 0, len(items))
		for _, fields := range items {
			children = append(children, &Child{ID: AsString(fields[t.IDField()]), Type: t, Fields: fields})
		}
		a.Children[t] = children
	}
	load(Appliance, raw.Appliances)
	load(Boiler, raw.Boilers)
	load(DynamicFieldValue, raw.DynamicFieldValues)

	return nil
}

// ApplianceStatistics summarizes appliances across all sales.
type ApplianceStatistics struct {
	TotalCount  int             `json:"totalCount"`
	TotalValue  decimal.Decimal `json:"totalValue"`
	AverageCost decimal.Decimal `json:"averageCost"`
	ByType      map[string]int  `json:"byType"`
	ByMake      map[string]int  `json:"byMake"`
	ByAge       map[string]int  `json:"byAge"`
}
