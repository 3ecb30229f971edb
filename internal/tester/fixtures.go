package tester

import (
	"context"
	"fmt"

	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/store"
)

// Principals used across tests.
var (
	Admin = model.Principal{ID: "admin-1", Role: model.RoleAdmin}
	Agent = model.Principal{ID: "agent-1", Role: "agent"}
	Other = model.Principal{ID: "agent-2", Role: "agent"}
)

// AsAdmin returns ctx carrying the admin principal.
func AsAdmin(ctx context.Context) context.Context {
	return model.WithPrincipal(ctx, Admin)
}

// AsAgent returns ctx carrying the owning agent principal.
func AsAgent(ctx context.Context) context.Context {
	return model.WithPrincipal(ctx, Agent)
}

// AsOther returns ctx carrying an agent that owns nothing.
func AsOther(ctx context.Context) context.Context {
	return model.WithPrincipal(ctx, Other)
}

// SeedSale writes a sale owned by owner with the given extra fields.
func SeedSale(ctx context.Context, s store.Store, id, owner string, fields map[string]any) {
	sale := map[string]any{
		model.FieldOwnerID: owner,
		"contact":          map[string]any{"name": "Customer " + id},
	}
	for k, v := range fields {
		sale[k] = v
	}

	if err := s.Write(ctx, model.SalePath(id), sale); err != nil {
		panic(err)
	}
}

// LegacyDataset returns sales in the pre-migration shape: embedded appliance
// arrays and boilerCoverage objects.
func LegacyDataset(n int) map[string]any {
	sales := make(map[string]any, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("sale-%03d", i)
		sale := map[string]any{
			model.FieldOwnerID: Agent.ID,
			"contact": map[string]any{
				"name":  fmt.Sprintf("Customer %d", i),
				"phone": fmt.Sprintf("0712345%04d", i),
				"email": fmt.Sprintf("customer%d@example.com", i),
			},
			"status": "submitted",
		}
		if i%3 != 2 {
			sale[model.FieldLegacyAppliances] = []any{
				map[string]any{"type": "Washing Machine", "make": "Bosch", "age": "3", "monthlyCost": 9.99},
				map[string]any{"type": "Fridge", "model": "FF-200"},
			}
		}
		switch i % 3 {
		case 0:
			sale[model.FieldLegacyBoiler] = map[string]any{"hasBoiler": true, "make": "Worcester", "monthlyCost": 14.5}
		case 1:
			sale[model.FieldLegacyBoiler] = map[string]any{"hasBoiler": false}
		}
		sales[id] = sale
	}

	return sales
}

// SeedLegacy writes LegacyDataset(n) plus the other backed-up collections.
func SeedLegacy(ctx context.Context, s store.Store, n int) {
	writes := map[string]any{
		model.SalesCollection:             LegacyDataset(n),
		model.UsersCollection:             map[string]any{Admin.ID: map[string]any{"role": Admin.Role}, Agent.ID: map[string]any{"role": Agent.Role}},
		model.FormFieldsCollection:        map[string]any{"rooms": map[string]any{"fieldName": "Rooms", "fieldType": "number", "required": true, "validationRules": map[string]any{"min": 1.0, "max": 20.0}}},
		model.ProcessorProfilesCollection: map[string]any{"p1": map[string]any{"name": "Default"}},
	}

	for path, value := range writes {
		if err := s.Write(ctx, path, value); err != nil {
			panic(err)
		}
	}
}
