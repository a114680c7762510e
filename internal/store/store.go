package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Namespaces, one per cached entity kind plus the mutation queue.
const (
	NamespaceProjects = "projects"
	NamespaceDrawings = "drawings"
	NamespacePoints   = "points"
	NamespaceEvents   = "events"
	NamespaceResults  = "results"
	NamespaceQueue    = "offline_queue"
)

// Secondary index names.
const (
	IndexCompanyID  = "company_id"
	IndexProjectID  = "project_id"
	IndexDrawingID  = "drawing_id"
	IndexEventID    = "event_id"
	IndexPointID    = "point_id"
	IndexEnqueuedAt = "enqueued_at"
	IndexOperation  = "operation"
)

var ErrNotFound = errors.New("not found")

// IOError marks a failure of the local store itself. There is no degradation
// path below it: callers must propagate, the optimistic-commit guarantee is
// gone.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Store is the single shared durable resource on the device. Every call is
// one transaction; there is no atomicity across separate calls.
type Store interface {
	// Put upserts by primary key and replaces the document's index entries.
	Put(ctx context.Context, namespace, id string, doc any, indexes map[string]string) error

	// Get returns the raw document or ErrNotFound.
	Get(ctx context.Context, namespace, id string) (json.RawMessage, error)

	// QueryByIndex returns the documents whose index entry matches value.
	// Order is unspecified; callers sort.
	QueryByIndex(ctx context.Context, namespace, index, value string) ([]json.RawMessage, error)

	// List returns all documents in a namespace ordered by id ascending.
	// Queue items use zero-padded sequence ids, so this is enqueue order.
	List(ctx context.Context, namespace string) ([]json.RawMessage, error)

	// Delete physically removes a document. Domain entities are tombstoned
	// instead; only queue items go through here.
	Delete(ctx context.Context, namespace, id string) error

	// NextSequence returns a monotonically increasing local sequence number.
	NextSequence(ctx context.Context) (int64, error)

	Close() error
}
