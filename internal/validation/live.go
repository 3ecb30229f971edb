package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/service"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var errAllowed = errors.New("was allowed")

// expectKind passes when err carries the wanted kind.
func expectKind(err error, want apperr.Kind, what string) error {
	if err == nil {
		return fmt.Errorf("%s %w", what, errAllowed)
	}
	if got := apperr.KindOf(err); got != want {
		return fmt.Errorf("%s failed with %v, want %s", what, err, want)
	}

	return nil
}

func within(what string, took, limit time.Duration) error {
	if took > limit {
		return fmt.Errorf("%s took %s, limit %s", what, took.Round(time.Millisecond), limit)
	}

	return nil
}

func findChild(agg *model.Aggregate, t model.ChildType, id string) *model.Child {
	for _, c := range agg.Children[t] {
		if c.ID == id {
			return c
		}
	}

	return nil
}

func (f *Framework) checkRoundTrip(ctx context.Context) (string, error) {
	return f.withScratchSale(ctx, "roundtrip", func(saleID string) (string, error) {
		owner := f.as(ctx, scratchOwner)
		rm := f.relationships

		id, err := rm.AddChild(owner, saleID, model.Appliance, map[string]any{"type": "Validation Scratch"})
		if err != nil {
			return "", fmt.Errorf("add child: %w", err)
		}

		v, _, err := f.store.Read(ctx, model.RelationshipPath(saleID, model.Appliance))
		if err != nil {
			return "", err
		}
		if !contains(model.AsStringSlice(v), id) {
			return "", fmt.Errorf("sale does not list appliance %s", id)
		}

		agg, err := rm.GetAggregate(owner, saleID, false)
		if err != nil {
			return "", err
		}
		child := findChild(agg, model.Appliance, id)
		if child == nil {
			return "", fmt.Errorf("aggregate is missing appliance %s", id)
		}
		if child.SaleID() != saleID {
			return "", fmt.Errorf("appliance %s points at %q", id, child.SaleID())
		}

		if err := rm.RemoveChild(owner, id); err != nil {
			return "", fmt.Errorf("remove child: %w", err)
		}
		agg, err = rm.GetAggregate(owner, saleID, false)
		if err != nil {
			return "", err
		}
		if findChild(agg, model.Appliance, id) != nil {
			return "", fmt.Errorf("appliance %s still resolves after removal", id)
		}

		return "add, aggregate and remove agree in both directions", nil
	})
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}

	return false
}

func (f *Framework) checkCascade(ctx context.Context) (string, error) {
	return f.withScratchSale(ctx, "cascade", func(saleID string) (string, error) {
		owner := f.as(ctx, scratchOwner)
		rm := f.relationships

		for _, t := range []model.ChildType{model.Appliance, model.Boiler, model.Appliance} {
			if _, err := rm.AddChild(owner, saleID, t, map[string]any{"make": "Validation Scratch"}); err != nil {
				return "", fmt.Errorf("add %s: %w", t, err)
			}
		}

		res, err := rm.CascadeDelete(owner, saleID)
		if err != nil {
			return "", err
		}

		if _, ok, err := f.store.Read(ctx, model.SalePath(saleID)); err != nil {
			return "", err
		} else if ok {
			return "", fmt.Errorf("sale %s survived cascade delete", saleID)
		}
		for _, t := range model.ChildTypes() {
			v, _, err := f.store.Read(ctx, t.Collection())
			if err != nil {
				return "", err
			}
			for id, raw := range model.AsMap(v) {
				if model.AsString(model.AsMap(raw)[model.FieldSaleID]) == saleID {
					return "", fmt.Errorf("%s %s survived cascade delete", t, id)
				}
			}
		}

		total := 0
		for _, n := range res.Deleted {
			total += n
		}
		if total != 3 {
			return "", fmt.Errorf("cascade delete removed %d children, want 3", total)
		}

		return "cascade delete removed the sale and its 3 children", nil
	})
}

func (f *Framework) performanceChecks() []check {
	th := f.thresholds

	return []check{
		{
			name:           "Query Response Times",
			recommendation: "Optimize database queries and indexing",
			run: func(ctx context.Context) (string, error) {
				return f.withScratchSale(ctx, "query", func(saleID string) (string, error) {
					start := time.Now()
					if _, ok, err := f.store.Read(ctx, model.SalePath(saleID)); err != nil {
						return "", err
					} else if !ok {
						return "", fmt.Errorf("scratch sale %s not found", saleID)
					}
					took := time.Since(start)

					return fmt.Sprintf("point read in %s", took.Round(time.Microsecond)), within("point read", took, th.PointRead)
				})
			},
		},
		{
			name:           "Relationship Loading Performance",
			recommendation: "Optimize relationship loading and fetch children concurrently",
			run: func(ctx context.Context) (string, error) {
				return f.withScratchSale(ctx, "aggregate", func(saleID string) (string, error) {
					owner := f.as(ctx, scratchOwner)
					for _, t := range []model.ChildType{model.Appliance, model.Appliance, model.Boiler} {
						if _, err := f.relationships.AddChild(owner, saleID, t, nil); err != nil {
							return "", err
						}
					}

					start := time.Now()
					agg, err := f.relationships.GetAggregate(owner, saleID, false)
					if err != nil {
						return "", err
					}
					took := time.Since(start)
					if n := len(agg.All()); n != 3 {
						return "", fmt.Errorf("aggregate resolved %d children, want 3", n)
					}

					return fmt.Sprintf("aggregate of 3 children in %s", took.Round(time.Microsecond)), within("aggregate read", took, th.AggregateRead)
				})
			},
		},
		{
			name:           "Write Operation Performance",
			recommendation: "Optimize write operations",
			run: func(ctx context.Context) (string, error) {
				return f.withScratchSale(ctx, "write", func(saleID string) (string, error) {
					start := time.Now()
					if _, err := f.relationships.AddChild(f.as(ctx, scratchOwner), saleID, model.Appliance, nil); err != nil {
						return "", err
					}
					took := time.Since(start)

					return fmt.Sprintf("add child in %s", took.Round(time.Microsecond)), within("add child", took, th.Write)
				})
			},
		},
		{
			name:           "Cache Effectiveness",
			recommendation: "Check the relationship cache configuration",
			run: func(ctx context.Context) (string, error) {
				return f.withScratchSale(ctx, "cache", func(saleID string) (string, error) {
					return f.checkCache(ctx, saleID)
				})
			},
		},
		{
			name:           "Bulk Operation Performance",
			recommendation: "Implement batch processing optimizations",
			run: func(ctx context.Context) (string, error) {
				return f.withScratchSale(ctx, "bulk", func(saleID string) (string, error) {
					now := model.Timestamp(f.now())

					var g errgroup.Group
					g.SetLimit(th.BatchSize)
					start := time.Now()
					for range th.BatchSize {
						g.Go(func() error {
							id := scratchID("batch")
							child := model.NewAppliance(id, saleID, map[string]any{"type": "Validation Batch"}, f.now())
							child.Fields[model.FieldUpdatedAt] = now
							return f.store.Write(ctx, model.ChildPath(model.Appliance, id), child.Fields)
						})
					}
					if err := g.Wait(); err != nil {
						return "", err
					}
					took := time.Since(start)

					return fmt.Sprintf("%d writes in %s", th.BatchSize, took.Round(time.Microsecond)), within("batch write", took, th.BatchWrite)
				})
			},
		},
	}
}

// checkCache edits a child behind the manager's back: a cached read must
// still see the old value and an uncached read the new one.
func (f *Framework) checkCache(ctx context.Context, saleID string) (string, error) {
	owner := f.as(ctx, scratchOwner)
	rm := f.relationships

	id, err := rm.AddChild(owner, saleID, model.Appliance, map[string]any{"make": "Before"})
	if err != nil {
		return "", err
	}
	if _, err := rm.GetAggregate(owner, saleID, true); err != nil {
		return "", err
	}

	if err := f.store.Update(ctx, model.ChildPath(model.Appliance, id), map[string]any{"make": "After"}); err != nil {
		return "", err
	}

	cached, err := rm.GetAggregate(owner, saleID, true)
	if err != nil {
		return "", err
	}
	fresh, err := rm.GetAggregate(owner, saleID, false)
	if err != nil {
		return "", err
	}

	before, after := findChild(cached, model.Appliance, id), findChild(fresh, model.Appliance, id)
	if before == nil || after == nil {
		return "", fmt.Errorf("appliance %s missing from aggregate", id)
	}
	if got := model.AsString(before.Fields["make"]); got != "Before" {
		return "", fmt.Errorf("cached read returned %q, the cache is not serving reads", got)
	}
	if got := model.AsString(after.Fields["make"]); got != "After" {
		return "", fmt.Errorf("uncached read returned %q", got)
	}

	return "cached reads served from cache, uncached reads from the store", nil
}

func (f *Framework) securityChecks() []check {
	return []check{
		{
			name:           "Role-Based Access Control",
			recommendation: "Review role-based access control implementation",
			run: func(ctx context.Context) (string, error) {
				return f.withScratchSale(ctx, "rbac", func(saleID string) (string, error) {
					rm := f.relationships

					_, err := rm.AddChild(f.as(ctx, scratchOther), saleID, model.Appliance, nil)
					if err := expectKind(err, apperr.AccessDenied, "adding to another agent's sale"); err != nil {
						return "", err
					}
					_, err = rm.ApplianceStatistics(f.as(ctx, scratchOther), nil)
					if err := expectKind(err, apperr.AccessDenied, "statistics as an agent"); err != nil {
						return "", err
					}
					if _, err := rm.AddChild(f.as(ctx, scratchAdmin), saleID, model.Appliance, nil); err != nil {
						return "", fmt.Errorf("admin add was rejected: %w", err)
					}

					return "agents are limited to their own sales, admins are not", nil
				})
			},
		},
		{
			name:           "Data Isolation",
			recommendation: "Strengthen data isolation between agents",
			run: func(ctx context.Context) (string, error) {
				return f.withScratchSale(ctx, "isolation", func(saleID string) (string, error) {
					rm := f.relationships

					_, err := rm.GetAggregate(f.as(ctx, scratchOther), saleID, false)
					if err := expectKind(err, apperr.AccessDenied, "reading another agent's sale"); err != nil {
						return "", err
					}
					_, err = rm.GetAggregate(f.as(ctx, model.Principal{}), saleID, false)
					if err := expectKind(err, apperr.AccessDenied, "reading without a principal"); err != nil {
						return "", err
					}
					if _, err := rm.GetAggregate(f.as(ctx, scratchOwner), saleID, false); err != nil {
						return "", fmt.Errorf("owner read was rejected: %w", err)
					}

					return "sales are only readable by their owner and admins", nil
				})
			},
		},
		{
			name:           "Relationship Security",
			recommendation: "Secure relationship operations",
			run: func(ctx context.Context) (string, error) {
				return f.withScratchSale(ctx, "relsec", func(saleID string) (string, error) {
					rm := f.relationships

					id, err := rm.AddChild(f.as(ctx, scratchOwner), saleID, model.Appliance, nil)
					if err != nil {
						return "", err
					}
					err = rm.RemoveChild(f.as(ctx, scratchOther), id)
					if err := expectKind(err, apperr.AccessDenied, "removing another agent's child"); err != nil {
						return "", err
					}
					_, err = rm.UpdateChild(f.as(ctx, scratchOther), id, map[string]any{"make": "Tampered"})
					if err := expectKind(err, apperr.AccessDenied, "updating another agent's child"); err != nil {
						return "", err
					}

					v, _, err := f.store.Read(ctx, model.ChildPath(model.Appliance, id))
					if err != nil {
						return "", err
					}
					if model.AsString(model.AsMap(v)["make"]) == "Tampered" {
						return "", fmt.Errorf("appliance %s was modified by another agent", id)
					}

					return "children of a sale are protected like the sale", nil
				})
			},
		},
		{
			name:           "Input Validation",
			recommendation: "Enhance input validation",
			run:            f.checkInputValidation,
		},
	}
}

func (f *Framework) checkInputValidation(ctx context.Context) (string, error) {
	rm := f.relationships
	admin := f.as(ctx, scratchAdmin)

	_, err := rm.AddChild(admin, "../sales", model.Appliance, nil)
	if err := expectKind(err, apperr.ValidationFailed, "a malformed sale id"); err != nil {
		return "", err
	}

	lo, hi := 1.0, 10.0
	number := &model.FieldDefinition{ID: "scratch_number", Name: "Scratch Number", Required: true, Rule: model.NumberRule{Min: &lo, Max: &hi}}
	email := &model.FieldDefinition{ID: "scratch_email", Name: "Scratch Email", Rule: model.EmailRule{}}

	cases := []struct {
		value any
		def   *model.FieldDefinition
		valid bool
	}{
		{5.0, number, true},
		{50.0, number, false},
		{nil, number, false},
		{"someone@example.com", email, true},
		{"not-an-email", email, false},
	}
	for _, c := range cases {
		err := rm.ValidateFieldValue(c.value, c.def)
		switch {
		case c.valid && err != nil:
			return "", fmt.Errorf("%s rejected %v: %w", c.def.Name, c.value, err)
		case !c.valid:
			if err := expectKind(err, apperr.ValidationFailed, fmt.Sprintf("%s value %v", c.def.Name, c.value)); err != nil {
				return "", err
			}
		}
	}

	return f.withScratchSale(ctx, "input", func(saleID string) (string, error) {
		id, err := rm.AddChild(f.as(ctx, scratchOwner), saleID, model.Appliance, nil)
		if err != nil {
			return "", err
		}
		_, err = rm.UpdateChild(f.as(ctx, scratchOwner), id, map[string]any{model.FieldSaleID: "elsewhere", model.FieldVersion: 99})
		if err := expectKind(err, apperr.ValidationFailed, "a patch of protected fields"); err != nil {
			return "", err
		}
		if !errors.Is(err, service.ErrEmptyPatch) {
			return "", fmt.Errorf("protected fields were not dropped from the patch: %w", err)
		}

		return fmt.Sprintf("%d field values and malformed input handled", len(cases)), nil
	})
}

func (f *Framework) functionalChecks() []check {
	return []check{
		{
			name:           "Appliance Management",
			recommendation: "Fix appliance management functionality",
			run: func(ctx context.Context) (string, error) {
				return f.checkLifecycle(ctx, model.Appliance, map[string]any{"type": "Washing Machine", "make": "Scratch"}, "")
			},
		},
		{
			name:           "Boiler Management",
			recommendation: "Fix boiler management functionality",
			run: func(ctx context.Context) (string, error) {
				return f.checkLifecycle(ctx, model.Boiler, map[string]any{"make": "Scratch"}, "Gas")
			},
		},
		{
			name:           "Dynamic Fields",
			recommendation: "Fix dynamic field functionality",
			run:            f.checkDynamicFields,
		},
		{
			name:           "Query Capabilities",
			recommendation: "Fix query capabilities",
			run: func(ctx context.Context) (string, error) {
				return f.withScratchSale(ctx, "query", func(saleID string) (string, error) {
					owner := f.as(ctx, scratchOwner)
					for _, cost := range []float64{10, 20} {
						if _, err := f.relationships.AddChild(owner, saleID, model.Appliance, map[string]any{"type": "Scratch", "monthlyCost": cost}); err != nil {
							return "", err
						}
					}

					stats, err := f.relationships.ApplianceStatistics(f.as(ctx, scratchAdmin), map[string]string{model.FieldSaleID: saleID})
					if err != nil {
						return "", err
					}
					if stats.TotalCount != 2 || stats.TotalValue.IntPart() != 30 {
						return "", fmt.Errorf("statistics counted %d appliances worth %s, want 2 worth 30", stats.TotalCount, stats.TotalValue)
					}

					return "filtered appliance statistics are correct", nil
				})
			},
		},
	}
}

// checkLifecycle adds, updates and removes one child of type t. fuelType,
// when set, is the default the new record must carry.
func (f *Framework) checkLifecycle(ctx context.Context, t model.ChildType, data map[string]any, fuelType string) (string, error) {
	return f.withScratchSale(ctx, string(t), func(saleID string) (string, error) {
		owner := f.as(ctx, scratchOwner)
		rm := f.relationships

		id, err := rm.AddChild(owner, saleID, t, data)
		if err != nil {
			return "", fmt.Errorf("add: %w", err)
		}
		if fuelType != "" {
			v, _, err := f.store.Read(ctx, model.Join(model.ChildPath(t, id), "fuelType"))
			if err != nil {
				return "", err
			}
			if v != fuelType {
				return "", fmt.Errorf("new %s has fuelType %v, want %s", t, v, fuelType)
			}
		}

		updated, err := rm.UpdateChild(owner, id, map[string]any{"model": "Scratch Mk2"})
		if err != nil {
			return "", fmt.Errorf("update: %w", err)
		}
		if updated.Version() != 2 || model.AsString(updated.Fields["model"]) != "Scratch Mk2" {
			return "", fmt.Errorf("update produced version %d model %v", updated.Version(), updated.Fields["model"])
		}

		if err := rm.RemoveChild(owner, id); err != nil {
			return "", fmt.Errorf("remove: %w", err)
		}
		if _, ok, err := f.store.Read(ctx, model.ChildPath(t, id)); err != nil {
			return "", err
		} else if ok {
			return "", fmt.Errorf("%s %s survived removal", t, id)
		}

		return fmt.Sprintf("%s add, update and remove work", t), nil
	})
}

func (f *Framework) checkDynamicFields(ctx context.Context) (string, error) {
	fieldID := "validation_scratch_field_" + uuid.NewString()
	def := map[string]any{
		"fieldId":         fieldID,
		"fieldName":       "Validation Scratch Rooms",
		"fieldType":       string(model.KindNumber),
		"required":        true,
		"validationRules": map[string]any{"min": 1.0, "max": 10.0},
	}
	if err := f.store.Write(ctx, model.FieldDefinitionPath(fieldID), def); err != nil {
		return "", err
	}
	defer func() { _ = f.store.Delete(context.WithoutCancel(ctx), model.FieldDefinitionPath(fieldID)) }()

	return f.withScratchSale(ctx, "fields", func(saleID string) (string, error) {
		owner := f.as(ctx, scratchOwner)
		rm := f.relationships

		id, err := rm.AddChild(owner, saleID, model.DynamicFieldValue, map[string]any{"fieldId": fieldID, "value": 5.0})
		if err != nil {
			return "", fmt.Errorf("valid value rejected: %w", err)
		}
		_, err = rm.AddChild(owner, saleID, model.DynamicFieldValue, map[string]any{"fieldId": fieldID, "value": 50.0})
		if err := expectKind(err, apperr.ValidationFailed, "an out of range value"); err != nil {
			return "", err
		}
		_, err = rm.UpdateChild(owner, id, map[string]any{"value": 0.0})
		if err := expectKind(err, apperr.ValidationFailed, "updating to an out of range value"); err != nil {
			return "", err
		}

		return "dynamic field values are validated on add and update", nil
	})
}
