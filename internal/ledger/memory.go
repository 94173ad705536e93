package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process ledger used by tests and the alert-test command.
// It keeps latest-record-per-key semantics and preserves first-submission
// order within a schema.
type Memory struct {
	mu         sync.Mutex
	registered map[string]struct{}
	order      map[string][]string
	records    map[string]map[string][]byte
	txCounter  int

	// SubmitErr, RegisterErr, and QueryErr inject failures when non-nil.
	SubmitErr   error
	RegisterErr error
	QueryErr    error
}

func NewMemory() *Memory {
	return &Memory{
		registered: make(map[string]struct{}),
		order:      make(map[string][]string),
		records:    make(map[string]map[string][]byte),
	}
}

func (m *Memory) RegisterSchema(_ context.Context, schema SchemaDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RegisterErr != nil {
		return m.RegisterErr
	}
	if _, ok := m.registered[schema.Name]; ok {
		return ErrSchemaExists
	}
	m.registered[schema.Name] = struct{}{}
	return nil
}

func (m *Memory) Submit(_ context.Context, record Record) (TxHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}

	bucket, ok := m.records[record.Schema]
	if !ok {
		bucket = make(map[string][]byte)
		m.records[record.Schema] = bucket
	}
	if _, seen := bucket[record.Key]; !seen {
		m.order[record.Schema] = append(m.order[record.Schema], record.Key)
	}
	bucket[record.Key] = append([]byte(nil), record.Payload...)

	m.txCounter++
	return TxHandle(fmt.Sprintf("mem-%06d", m.txCounter)), nil
}

func (m *Memory) Query(_ context.Context, filter Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueryErr != nil {
		return nil, m.QueryErr
	}

	bucket := m.records[filter.Schema]
	var out []Record
	for _, key := range m.order[filter.Schema] {
		if filter.Key != "" && key != filter.Key {
			continue
		}
		payload, ok := bucket[key]
		if !ok {
			continue
		}
		out = append(out, Record{
			Schema:  filter.Schema,
			Key:     key,
			Payload: append([]byte(nil), payload...),
		})
	}
	return out, nil
}

// SubmitCount reports how many submissions the ledger accepted.
func (m *Memory) SubmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCounter
}

var _ Ledger = (*Memory)(nil)
