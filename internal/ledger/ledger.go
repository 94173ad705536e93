// Package ledger models the external durable store that published readings
// and alert records are submitted to. The core treats it as a blocking remote
// collaborator with three operations and at-least-once durable writes.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrSchemaExists is returned when registering a schema the ledger
	// already knows. Callers treat it as success.
	ErrSchemaExists = errors.New("ledger: schema already registered")
	// ErrUnavailable marks a ledger that cannot be reached.
	ErrUnavailable = errors.New("ledger: unavailable")
	// ErrSubmitFailed marks a rejected or failed submission.
	ErrSubmitFailed = errors.New("ledger: submit failed")
)

// TxHandle identifies a submitted transaction.
type TxHandle string

// SchemaDescriptor names a record layout to register.
type SchemaDescriptor struct {
	Name   string
	Layout string
}

// Record is one submission: an opaque payload filed under a schema and a
// record key. Submitting the same key again supersedes the prior record.
type Record struct {
	Schema  string
	Key     string
	Payload []byte
}

// Filter selects records for a query.
type Filter struct {
	Schema string
	Key    string
}

// Ledger is the boundary to the external store.
type Ledger interface {
	RegisterSchema(ctx context.Context, schema SchemaDescriptor) error
	Submit(ctx context.Context, record Record) (TxHandle, error)
	Query(ctx context.Context, filter Filter) ([]Record, error)
}
