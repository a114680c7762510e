package remote

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrNotFound = errors.New("document not found")

// Change is one push notification from the server-of-record. Consumers treat
// it as a hint to refetch the watched set, not as a delta to apply.
type Change struct {
	Collection string
	DocumentID string
	Deleted    bool
}

// Subscription is a live changes feed. Close releases the feed; Changes is
// closed afterwards (or when the feed errors out).
type Subscription interface {
	Changes() <-chan Change
	Close() error
}

// Client is the contract this core consumes from the server-of-record. It is
// the only remote write path in the process; every component goes through the
// sync engine, which goes through here.
type Client interface {
	// GetDocument decodes the document into out, or returns ErrNotFound.
	GetDocument(ctx context.Context, collection, id string, out any) error

	// SetDocument upserts with merge semantics: fields of doc are written
	// over whatever is stored, so replaying an already-applied item is a
	// no-op rather than an error.
	SetDocument(ctx context.Context, collection, id string, doc any) error

	DeleteDocument(ctx context.Context, collection, id string) error

	// ListDocuments returns every document in a collection.
	ListDocuments(ctx context.Context, collection string) ([]json.RawMessage, error)

	// Subscribe opens a push feed for one collection.
	Subscribe(ctx context.Context, collection string) (Subscription, error)
}
