package store

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type subscription struct {
	id       uint64
	path     string
	onChange func(Event)
}

// hub fans store changes out to in-process subscribers.
type hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]*subscription)}
}

func (h *hub) subscribe(path string, onChange func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.subs[id] = &subscription{id: id, path: path, onChange: onChange}

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// interested returns the subscriptions affected by a change at changed.
func (h *hub) interested(changed string) []*subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*subscription
	for _, s := range h.subs {
		if related(s.path, changed) {
			out = append(out, s)
		}
	}

	return out
}

// publish re-reads every affected subscription path and delivers the value.
func (h *hub) publish(ctx context.Context, s Store, changed string) {
	for _, sub := range h.interested(changed) {
		value, ok, err := s.Read(ctx, sub.path)
		if err != nil {
			logrus.Warnf("store: subscriber read %s failed: %v", sub.path, err)
			continue
		}
		sub.onChange(Event{Path: sub.path, Value: value, Exists: ok})
	}
}
