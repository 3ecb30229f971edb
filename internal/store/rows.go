package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/emrgen/salesdb/internal/apperr"
)

// scalarKey holds a collection whose value is not an object.
const scalarKey = "_value"

// rowBackend stores one JSON document per <collection>/<key>. rowStore builds
// the path semantics of Store on top of it.
type rowBackend interface {
	getRow(ctx context.Context, collection, key string) ([]byte, bool, error)
	listRows(ctx context.Context, collection string) (map[string][]byte, error)
	putRow(ctx context.Context, collection, key string, data []byte) error
	deleteRow(ctx context.Context, collection, key string) error
	dropCollection(ctx context.Context, collection string) error
	ping(ctx context.Context) error
	close() error
}

type rowStore struct {
	backend rowBackend
	hub     *hub
}

func newRowStore(backend rowBackend) *rowStore {
	return &rowStore{backend: backend, hub: newHub()}
}

func decodeRow(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("corrupted document: %w", err)
	}

	return v, nil
}

// backendErr marks infrastructure failures as connectivity failures.
func backendErr(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var domain *apperr.Error
	if errors.As(err, &domain) {
		return err
	}

	return apperr.Wrap(apperr.ConnectivityFailure, op, err, "%s", path)
}

func (r *rowStore) Read(ctx context.Context, path string) (any, bool, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, false, err
	}

	if len(segments) == 1 {
		value, err := r.readCollection(ctx, segments[0])
		if err != nil {
			return nil, false, backendErr("read", path, err)
		}
		return value, value != nil, nil
	}

	data, ok, err := r.backend.getRow(ctx, segments[0], segments[1])
	if err != nil {
		return nil, false, backendErr("read", path, err)
	}
	if !ok {
		return nil, false, nil
	}

	row, err := decodeRow(data)
	if err != nil {
		return nil, false, err
	}

	value, ok := getIn(row, segments[2:])
	return value, ok, nil
}

func (r *rowStore) readCollection(ctx context.Context, collection string) (any, error) {
	rows, err := r.backend.listRows(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	if data, ok := rows[scalarKey]; ok && len(rows) == 1 {
		return decodeRow(data)
	}

	out := make(map[string]any, len(rows))
	for key, data := range rows {
		v, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}

	return out, nil
}

func (r *rowStore) Write(ctx context.Context, path string, value any) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}

	value, err = normalize(value)
	if err != nil {
		return err
	}

	if err := r.write(ctx, segments, value); err != nil {
		return backendErr("write", path, err)
	}

	r.hub.publish(ctx, r, strings.Join(segments, "/"))

	return nil
}

func (r *rowStore) write(ctx context.Context, segments []string, value any) error {
	collection := segments[0]

	if len(segments) == 1 {
		if err := r.backend.dropCollection(ctx, collection); err != nil {
			return err
		}
		if value == nil {
			return nil
		}

		m, ok := value.(map[string]any)
		if !ok {
			return r.putValue(ctx, collection, scalarKey, value)
		}
		for key, child := range m {
			if err := r.putValue(ctx, collection, key, child); err != nil {
				return err
			}
		}
		return nil
	}

	key := segments[1]
	if len(segments) == 2 {
		if value == nil {
			return r.backend.deleteRow(ctx, collection, key)
		}
		return r.putValue(ctx, collection, key, value)
	}

	return r.patchRow(ctx, collection, key, [][]string{segments[2:]}, []any{value})
}

func (r *rowStore) putValue(ctx context.Context, collection, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return r.backend.putRow(ctx, collection, key, data)
}

// patchRow applies nested changes to one row with a single read and write.
func (r *rowStore) patchRow(ctx context.Context, collection, key string, paths [][]string, values []any) error {
	var row any
	data, ok, err := r.backend.getRow(ctx, collection, key)
	if err != nil {
		return err
	}
	if ok {
		if row, err = decodeRow(data); err != nil {
			return err
		}
	}

	for i, p := range paths {
		row = setIn(row, p, values[i])
	}

	if row == nil {
		return r.backend.deleteRow(ctx, collection, key)
	}

	return r.putValue(ctx, collection, key, row)
}

func (r *rowStore) Update(ctx context.Context, path string, fields map[string]any) error {
	base, err := splitPath(path)
	if err != nil {
		return err
	}

	type rowChanges struct {
		paths  [][]string
		values []any
	}
	byRow := make(map[[2]string]*rowChanges)
	var order [][2]string

	for field, value := range fields {
		sub, err := splitPath(field)
		if err != nil {
			return err
		}
		if value, err = normalize(value); err != nil {
			return err
		}

		full := append(append([]string{}, base...), sub...)
		if len(full) < 3 {
			// whole rows or collections are replaced outright
			if err := r.write(ctx, full, value); err != nil {
				return backendErr("update", path, err)
			}
			continue
		}

		id := [2]string{full[0], full[1]}
		changes, ok := byRow[id]
		if !ok {
			changes = &rowChanges{}
			byRow[id] = changes
			order = append(order, id)
		}
		changes.paths = append(changes.paths, full[2:])
		changes.values = append(changes.values, value)
	}

	for _, id := range order {
		changes := byRow[id]
		if err := r.patchRow(ctx, id[0], id[1], changes.paths, changes.values); err != nil {
			return backendErr("update", path, err)
		}
	}

	r.hub.publish(ctx, r, strings.Join(base, "/"))

	return nil
}

func (r *rowStore) Delete(ctx context.Context, path string) error {
	return r.Write(ctx, path, nil)
}

func (r *rowStore) Subscribe(ctx context.Context, path string, onChange func(Event)) (func(), error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	return r.hub.subscribe(strings.Join(segments, "/"), onChange), nil
}

func (r *rowStore) Ping(ctx context.Context) error {
	return backendErr("ping", "", r.backend.ping(ctx))
}

func (r *rowStore) Close() error {
	return r.backend.close()
}
