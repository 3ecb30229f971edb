package tester

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/emrgen/salesdb/internal/store"
)

// ErrInjected is returned by FaultyStore for the operations it is told to fail.
var ErrInjected = errors.New("injected store failure")

// FaultyStore fails writes, updates or deletes whose path matches a rule.
type FaultyStore struct {
	store.Store

	mu    sync.Mutex
	rules []faultRule
}

type faultRule struct {
	op     string
	prefix string
	times  int // remaining failures, -1 for always
}

func NewFaultyStore(s store.Store) *FaultyStore {
	return &FaultyStore{Store: s}
}

// FailOn makes op ("read", "write", "update", "delete") fail for paths
// starting with prefix. times < 0 fails forever.
func (f *FaultyStore) FailOn(op, prefix string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, faultRule{op: op, prefix: prefix, times: times})
}

// Heal removes every rule.
func (f *FaultyStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
}

func (f *FaultyStore) check(op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.rules {
		r := &f.rules[i]
		if r.op != op || !strings.HasPrefix(path, r.prefix) || r.times == 0 {
			continue
		}
		if r.times > 0 {
			r.times--
		}
		return ErrInjected
	}

	return nil
}

func (f *FaultyStore) Read(ctx context.Context, path string) (any, bool, error) {
	if err := f.check("read", path); err != nil {
		return nil, false, err
	}
	return f.Store.Read(ctx, path)
}

func (f *FaultyStore) Write(ctx context.Context, path string, value any) error {
	if err := f.check("write", path); err != nil {
		return err
	}
	return f.Store.Write(ctx, path, value)
}

func (f *FaultyStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := f.check("update", path); err != nil {
		return err
	}
	return f.Store.Update(ctx, path, fields)
}

func (f *FaultyStore) Delete(ctx context.Context, path string) error {
	if err := f.check("delete", path); err != nil {
		return err
	}
	return f.Store.Delete(ctx, path)
}

// BarrierStore holds reads of one path until n readers have arrived, so that
// concurrent read-modify-write cycles are forced to overlap. A reader gives up
// waiting after timeout, which is what happens when writers are serialized.
type BarrierStore struct {
	store.Store

	path    string
	timeout time.Duration
	mu      sync.Mutex
	waiting int
	n       int
	release chan struct{}
}

func NewBarrierStore(s store.Store, path string, n int, timeout time.Duration) *BarrierStore {
	return &BarrierStore{Store: s, path: path, n: n, timeout: timeout, release: make(chan struct{})}
}

func (b *BarrierStore) Read(ctx context.Context, path string) (any, bool, error) {
	value, ok, err := b.Store.Read(ctx, path)
	if path != b.path {
		return value, ok, err
	}

	b.mu.Lock()
	b.waiting++
	if b.waiting == b.n {
		close(b.release)
	}
	b.mu.Unlock()

	select {
	case <-b.release:
	case <-time.After(b.timeout):
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	return value, ok, err
}
