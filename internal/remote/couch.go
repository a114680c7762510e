package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-kivik/kivik/v4"
	"github.com/rs/zerolog"
)

// CouchClient talks to a single CouchDB database. Collection paths such as
// "projects/P1/inspectionEvents/E1/results" become document id prefixes, the
// flat-database equivalent of the original nested collections.
type CouchClient struct {
	client *kivik.Client
	dbName string
	log    zerolog.Logger
}

func NewCouchClient(client *kivik.Client, dbName string, log zerolog.Logger) *CouchClient {
	return &CouchClient{
		client: client,
		dbName: dbName,
		log:    log.With().Str("component", "remote").Logger(),
	}
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

func (c *CouchClient) GetDocument(ctx context.Context, collection, id string, out any) error {
	db := c.client.DB(c.dbName)

	row := db.Get(ctx, docKey(collection, id))
	if err := row.ScanDoc(out); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get document: %w", err)
	}
	return nil
}

// SetDocument merges doc's fields over the stored document. The read-back
// also supplies the current _rev, which CouchDB requires for updates.
func (c *CouchClient) SetDocument(ctx context.Context, collection, id string, doc any) error {
	db := c.client.DB(c.dbName)
	key := docKey(collection, id)

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	existing := map[string]any{}
	row := db.Get(ctx, key)
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) != http.StatusNotFound {
			return fmt.Errorf("failed to fetch document for merge: %w", err)
		}
		existing = map[string]any{}
	}

	for k, v := range fields {
		existing[k] = v
	}
	existing["collection"] = collection

	if _, err := db.Put(ctx, key, existing); err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}
	return nil
}

func (c *CouchClient) DeleteDocument(ctx context.Context, collection, id string) error {
	db := c.client.DB(c.dbName)
	key := docKey(collection, id)

	rev, err := db.GetRev(ctx, key)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to fetch document for delete: %w", err)
	}

	if _, err := db.Delete(ctx, key, rev); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (c *CouchClient) ListDocuments(ctx context.Context, collection string) ([]json.RawMessage, error) {
	db := c.client.DB(c.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"collection": collection,
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var doc json.RawMessage
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

type couchSubscription struct {
	cancel  context.CancelFunc
	changes chan Change
}

func (s *couchSubscription) Changes() <-chan Change {
	return s.changes
}

func (s *couchSubscription) Close() error {
	s.cancel()
	return nil
}

// Subscribe follows the database changes feed from now on and forwards the
// changes whose document id belongs to the collection.
func (c *CouchClient) Subscribe(ctx context.Context, collection string) (Subscription, error) {
	db := c.client.DB(c.dbName)

	feedCtx, cancel := context.WithCancel(ctx)
	feed := db.Changes(feedCtx, kivik.Params(map[string]interface{}{
		"feed":      "continuous",
		"since":     "now",
		"heartbeat": 30000,
	}))
	if err := feed.Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open changes feed: %w", err)
	}

	sub := &couchSubscription{
		cancel:  cancel,
		changes: make(chan Change, 16),
	}
	prefix := collection + "/"

	go func() {
		defer close(sub.changes)
		defer feed.Close()

		for feed.Next() {
			id := feed.ID()
			if !strings.HasPrefix(id, prefix) {
				continue
			}
			change := Change{
				Collection: collection,
				DocumentID: strings.TrimPrefix(id, prefix),
				Deleted:    feed.Deleted(),
			}
			select {
			case sub.changes <- change:
			case <-feedCtx.Done():
				return
			}
		}
		if err := feed.Err(); err != nil && feedCtx.Err() == nil {
			c.log.Warn().Err(err).Str("collection", collection).Msg("changes feed closed with error")
		}
	}()

	return sub, nil
}
