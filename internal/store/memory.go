package store

import (
	"context"
	"strings"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the whole document tree in process. Every read and
// write copies, so callers never share state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	root any
	hub  *hub
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hub: newHub()}
}

func (m *MemoryStore) Read(ctx context.Context, path string) (any, bool, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := getIn(m.root, segments)
	if !ok {
		return nil, false, nil
	}

	return deepCopy(value), true, nil
}

func (m *MemoryStore) Write(ctx context.Context, path string, value any) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}

	value, err = normalize(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.root = setIn(m.root, segments, value)
	m.mu.Unlock()

	m.hub.publish(ctx, m, strings.Join(segments, "/"))

	return nil
}

func (m *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	base, err := splitPath(path)
	if err != nil {
		return err
	}

	type change struct {
		segments []string
		value    any
	}
	changes := make([]change, 0, len(fields))
	for key, value := range fields {
		sub, err := splitPath(key)
		if err != nil {
			return err
		}
		value, err = normalize(value)
		if err != nil {
			return err
		}
		changes = append(changes, change{segments: append(append([]string{}, base...), sub...), value: value})
	}

	m.mu.Lock()
	for _, c := range changes {
		m.root = setIn(m.root, c.segments, c.value)
	}
	m.mu.Unlock()

	m.hub.publish(ctx, m, strings.Join(base, "/"))

	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	return m.Write(ctx, path, nil)
}

func (m *MemoryStore) Subscribe(ctx context.Context, path string, onChange func(Event)) (func(), error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	return m.hub.subscribe(strings.Join(segments, "/"), onChange), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Close() error {
	return nil
}
