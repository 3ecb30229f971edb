package service

import (
	"context"
	"testing"

	"github.com/emrgen/salesdb/internal/lock"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/queue"
	"github.com/emrgen/salesdb/internal/store"
	"github.com/emrgen/salesdb/internal/tester"
	"github.com/stretchr/testify/require"
)

const testSale = "sale-1"

func newTestManager(t *testing.T, st store.Store, opts ...Option) (*RelationshipManager, *queue.MemoryPublisher) {
	t.Helper()

	audit := queue.NewMemoryPublisher()
	opts = append([]Option{WithAudit(audit)}, opts...)

	return NewRelationshipManager(st, nil, lock.NewKeyedMutex(), opts...), audit
}

// seedFieldDefinitions writes a number, select and email definition.
func seedFieldDefinitions(t *testing.T, st store.Store) {
	t.Helper()

	err := st.Write(context.Background(), model.FormFieldsCollection, map[string]any{
		"rooms": map[string]any{
			"fieldId": "rooms", "fieldName": "Rooms", "fieldType": "number", "required": true,
			"validationRules": map[string]any{"min": 1.0, "max": 20.0},
		},
		"heating": map[string]any{
			"fieldId": "heating", "fieldName": "Heating", "fieldType": "select",
			"options": []any{"gas", "electric", "oil"},
		},
	})
	require.NoError(t, err)
}

func readIDs(t *testing.T, st store.Store, saleID string, ct model.ChildType) []string {
	t.Helper()

	v, _, err := st.Read(context.Background(), model.RelationshipPath(saleID, ct))
	require.NoError(t, err)

	return model.AsStringSlice(v)
}

func exists(t *testing.T, st store.Store, path string) bool {
	t.Helper()

	_, ok, err := st.Read(context.Background(), path)
	require.NoError(t, err)

	return ok
}

func seed(st store.Store) {
	tester.SeedSale(context.Background(), st, testSale, tester.Agent.ID, nil)
}
