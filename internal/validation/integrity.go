package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/salesdb/internal/model"
)

// dataset is a point-in-time read of the sales and child collections taken
// straight from the store.
type dataset struct {
	sales    map[string]*model.Sale
	saleIDs  []string
	children map[model.ChildType]map[string]*model.Child
	childIDs map[model.ChildType][]string
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

func (f *Framework) load(ctx context.Context) (*dataset, error) {
	ds := &dataset{
		sales:    make(map[string]*model.Sale),
		children: make(map[model.ChildType]map[string]*model.Child, 3),
		childIDs: make(map[model.ChildType][]string, 3),
	}

	v, _, err := f.store.Read(ctx, model.SalesCollection)
	if err != nil {
		return nil, err
	}
	raw := model.AsMap(v)
	for _, id := range sortedKeys(raw) {
		sale, err := model.SaleFromValue(id, raw[id])
		if err != nil {
			return nil, err
		}
		ds.sales[id] = sale
		ds.saleIDs = append(ds.saleIDs, id)
	}

	for _, t := range model.ChildTypes() {
		v, _, err := f.store.Read(ctx, t.Collection())
		if err != nil {
			return nil, err
		}
		raw := model.AsMap(v)
		ds.children[t] = make(map[string]*model.Child, len(raw))
		for _, id := range sortedKeys(raw) {
			child, err := model.ChildFromValue(t, id, raw[id])
			if err != nil {
				return nil, err
			}
			ds.children[t][id] = child
			ds.childIDs[t] = append(ds.childIDs[t], id)
		}
	}

	return ds, nil
}

// problems formats a failure with at most three examples.
func problems(what string, found []string) error {
	sample := found
	if len(sample) > 3 {
		sample = sample[:3]
	}

	return fmt.Errorf("%d %s: %s", len(found), what, strings.Join(sample, "; "))
}

// cached loads the dataset once for the checks of one category.
func (f *Framework) cached() func(ctx context.Context) (*dataset, error) {
	var ds *dataset
	var err error

	return func(ctx context.Context) (*dataset, error) {
		if ds == nil && err == nil {
			ds, err = f.load(ctx)
		}
		return ds, err
	}
}

func (f *Framework) relationshipChecks() []check {
	get := f.cached()

	return []check{
		{
			name:           "Foreign Key Constraints",
			recommendation: "Fix invalid foreign key references",
			run: func(ctx context.Context) (string, error) {
				ds, err := get(ctx)
				if err != nil {
					return "", err
				}

				var bad []string
				total := 0
				for _, t := range model.ChildTypes() {
					for _, id := range ds.childIDs[t] {
						total++
						back := ds.children[t][id].SaleID()
						if !model.ValidKey(back) {
							bad = append(bad, fmt.Sprintf("%s %s has malformed %s %q", t, id, model.FieldSaleID, back))
							continue
						}
						if _, ok := ds.sales[back]; !ok {
							bad = append(bad, fmt.Sprintf("%s %s references missing sale %s", t, id, back))
						}
					}
				}
				if len(bad) > 0 {
					return "", problems("invalid back-references", bad)
				}

				return fmt.Sprintf("%d child back-references resolve", total), nil
			},
		},
		{
			name:           "Relationship Array Consistency",
			recommendation: "Fix inconsistent relationship arrays",
			run: func(ctx context.Context) (string, error) {
				ds, err := get(ctx)
				if err != nil {
					return "", err
				}

				// children grouped by the sale they point at
				pointing := make(map[model.ChildType]map[string]mapset.Set[string], 3)
				for _, t := range model.ChildTypes() {
					pointing[t] = make(map[string]mapset.Set[string])
					for _, id := range ds.childIDs[t] {
						back := ds.children[t][id].SaleID()
						if pointing[t][back] == nil {
							pointing[t][back] = mapset.NewThreadUnsafeSet[string]()
						}
						pointing[t][back].Add(id)
					}
				}

				var bad []string
				for _, saleID := range ds.saleIDs {
					sale := ds.sales[saleID]
					for _, t := range model.ChildTypes() {
						ids := sale.ChildIDs(t)
						listed := mapset.NewThreadUnsafeSet(ids...)
						actual := pointing[t][saleID]
						if actual == nil {
							actual = mapset.NewThreadUnsafeSet[string]()
						}

						if listed.Cardinality() != len(ids) {
							bad = append(bad, fmt.Sprintf("sale %s lists duplicate %s ids", saleID, t))
						}
						for _, id := range sortedSet(listed.Difference(actual)) {
							bad = append(bad, fmt.Sprintf("sale %s lists %s %s which does not point back", saleID, t, id))
						}
						for _, id := range sortedSet(actual.Difference(listed)) {
							bad = append(bad, fmt.Sprintf("%s %s points at sale %s which does not list it", t, id, saleID))
						}
					}
				}
				if len(bad) > 0 {
					return "", problems("relationship array mismatches", bad)
				}

				return fmt.Sprintf("%d sales have consistent relationship arrays", len(ds.saleIDs)), nil
			},
		},
		{
			name:           "Orphaned Record Prevention",
			recommendation: "Clean up orphaned records",
			run: func(ctx context.Context) (string, error) {
				ds, err := get(ctx)
				if err != nil {
					return "", err
				}

				var orphans []string
				for _, t := range model.ChildTypes() {
					for _, id := range ds.childIDs[t] {
						if _, ok := ds.sales[ds.children[t][id].SaleID()]; !ok {
							orphans = append(orphans, fmt.Sprintf("%s %s", t, id))
						}
					}
				}
				if len(orphans) > 0 {
					return "", problems("orphaned records", orphans)
				}

				return "no orphaned records", nil
			},
		},
		{
			name:           "Bidirectional Relationships",
			recommendation: "Fix bidirectional relationship issues",
			run:            f.checkRoundTrip,
		},
		{
			name:           "Cascade Operations",
			recommendation: "Implement proper cascade delete logic",
			run:            f.checkCascade,
		},
	}
}

func sortedSet(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)

	return out
}

func (f *Framework) migrationChecks() []check {
	get := f.cached()

	return []check{
		{
			name:           "Data Completeness",
			recommendation: "Migrate the remaining embedded appliance and boiler data",
			run: func(ctx context.Context) (string, error) {
				ds, err := get(ctx)
				if err != nil {
					return "", err
				}

				var legacy []string
				for _, id := range ds.saleIDs {
					if ds.sales[id].HasLegacyFields() {
						legacy = append(legacy, id)
					}
				}
				if len(legacy) > 0 {
					return "", problems("sales still carry embedded legacy data", legacy)
				}

				return fmt.Sprintf("%d sales carry no embedded legacy data", len(ds.saleIDs)), nil
			},
		},
		{
			name:           "Schema Compliance",
			recommendation: "Run the migration and repair child records missing required fields",
			run: func(ctx context.Context) (string, error) {
				ds, err := get(ctx)
				if err != nil {
					return "", err
				}

				v, ok, err := f.store.Read(ctx, model.SchemaVersionPath)
				if err != nil {
					return "", err
				}
				var version model.SchemaVersion
				if ok {
					if err := model.Decode(v, &version); err != nil {
						return "", err
					}
				}
				if version.CurrentVersion != model.NormalizedSchemaVersion {
					return "", fmt.Errorf("schema version is %d, want %d", version.CurrentVersion, model.NormalizedSchemaVersion)
				}

				var bad []string
				for _, t := range model.ChildTypes() {
					for _, id := range ds.childIDs[t] {
						c := ds.children[t][id]
						switch {
						case model.AsString(c.Fields[t.IDField()]) != id:
							bad = append(bad, fmt.Sprintf("%s %s has %s %v", t, id, t.IDField(), c.Fields[t.IDField()]))
						case c.Status() == "":
							bad = append(bad, fmt.Sprintf("%s %s has no status", t, id))
						case c.Version() < 1:
							bad = append(bad, fmt.Sprintf("%s %s has version %d", t, id, c.Version()))
						default:
							if _, err := model.ParseTimestamp(c.Fields[model.FieldCreatedAt]); err != nil {
								bad = append(bad, fmt.Sprintf("%s %s has no valid %s", t, id, model.FieldCreatedAt))
							}
						}
					}
				}
				if len(bad) > 0 {
					return "", problems("non-compliant child records", bad)
				}

				return fmt.Sprintf("schema version %d, all child records compliant", version.CurrentVersion), nil
			},
		},
		{
			name:           "Relationship Preservation",
			recommendation: "Roll back and re-run the migration",
			run: func(ctx context.Context) (string, error) {
				ds, err := get(ctx)
				if err != nil {
					return "", err
				}

				var bad []string
				migrated := 0
				for _, t := range model.ChildTypes() {
					for _, id := range ds.childIDs[t] {
						c := ds.children[t][id]
						if !c.Migrated() {
							continue
						}
						migrated++

						if model.AsString(c.Fields[model.FieldMigrationDate]) == "" {
							bad = append(bad, fmt.Sprintf("%s %s has no %s", t, id, model.FieldMigrationDate))
						}
						sale, ok := ds.sales[c.SaleID()]
						if !ok || !mapset.NewThreadUnsafeSet(sale.ChildIDs(t)...).Contains(id) {
							bad = append(bad, fmt.Sprintf("migrated %s %s is not listed by sale %s", t, id, c.SaleID()))
						}
					}
				}
				if len(bad) > 0 {
					return "", problems("migrated relationships lost", bad)
				}

				return fmt.Sprintf("%d migrated children keep their relationships", migrated), nil
			},
		},
	}
}
