package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/emrgen/salesdb/internal/model"
	"github.com/sirupsen/logrus"
)

// OperationTopic is the default topic for relationship audit events.
var OperationTopic = "sales.operations"

// Publisher ships operation audit entries out of the process. Publishing is
// best effort: callers log failures and carry on.
type Publisher interface {
	// Publish appends an audit entry to the queue.
	Publish(ctx context.Context, entry *model.OperationLog) error
	Close() error
}

var _ Publisher = (*LogPublisher)(nil)

// LogPublisher writes audit entries to the structured log.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (l *LogPublisher) Publish(ctx context.Context, entry *model.OperationLog) error {
	logrus.WithFields(logrus.Fields{
		"operation": entry.Operation,
		"userId":    entry.UserID,
		"details":   entry.Details,
	}).Info("operation logged")

	return nil
}

func (l *LogPublisher) Close() error {
	return nil
}

var _ Publisher = (*MemoryPublisher)(nil)

// MemoryPublisher keeps entries in memory. Used by tests and the validation
// live checks.
type MemoryPublisher struct {
	mu      sync.Mutex
	entries []*model.OperationLog
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) Publish(ctx context.Context, entry *model.OperationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)

	return nil
}

func (m *MemoryPublisher) Close() error {
	return nil
}

// Operations returns the published operation names in order.
func (m *MemoryPublisher) Operations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Operation
	}

	return out
}

func encode(entry *model.OperationLog) ([]byte, error) {
	return json.Marshal(entry)
}
