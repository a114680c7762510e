package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"fieldsync-agent/internal/domain"
	"fieldsync-agent/internal/store"

	"github.com/rs/zerolog"
)

type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Item is one durably logged mutation awaiting server confirmation. Items are
// created on write failure or while detached and destroyed on successful
// replay or after the retry cap.
type Item struct {
	ID         int64               `json:"id"`
	Op         Operation           `json:"op"`
	Collection string              `json:"collection"`
	DocumentID string              `json:"document_id"`
	Payload    domain.QueuePayload `json:"payload"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
	RetryCount int                 `json:"retry_count"`
}

// storeKey zero-pads the sequence so lexical order equals enqueue order.
func (i Item) storeKey() string {
	return fmt.Sprintf("%020d", i.ID)
}

// Report summarizes one drain pass.
type Report struct {
	Coalesced bool   `json:"coalesced"`
	Processed int    `json:"processed"`
	Retried   int    `json:"retried"`
	Dropped   []Item `json:"dropped,omitempty"`
}

type Queue struct {
	store      store.Store
	log        zerolog.Logger
	maxRetries int
	draining   atomic.Bool
}

func New(s store.Store, maxRetries int, log zerolog.Logger) *Queue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Queue{
		store:      s,
		maxRetries: maxRetries,
		log:        log.With().Str("component", "queue").Logger(),
	}
}

// Enqueue assigns the next local sequence id and persists the item before
// returning.
func (q *Queue) Enqueue(ctx context.Context, op Operation, collection, documentID string, payload domain.QueuePayload) (Item, error) {
	seq, err := q.store.NextSequence(ctx)
	if err != nil {
		return Item{}, fmt.Errorf("failed to assign queue sequence: %w", err)
	}

	item := Item{
		ID:         seq,
		Op:         op,
		Collection: collection,
		DocumentID: documentID,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}

	if err := q.put(ctx, item); err != nil {
		return Item{}, err
	}

	q.log.Debug().
		Int64("item_id", item.ID).
		Str("op", string(op)).
		Str("document_id", documentID).
		Msg("mutation queued")

	return item, nil
}

// Items returns the queue in enqueue order.
func (q *Queue) Items(ctx context.Context) ([]Item, error) {
	docs, err := q.store.List(ctx, store.NamespaceQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	items := make([]Item, 0, len(docs))
	for _, doc := range docs {
		var item Item
		if err := json.Unmarshal(doc, &item); err != nil {
			return nil, fmt.Errorf("failed to decode queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Drain replays every queued item in enqueue order, one at a time, so the
// server never sees an UPDATE before its preceding CREATE for the same
// document. A failing item is retried on later drains until the cap, then
// dropped and reported; it never stalls the items behind it. Overlapping
// drains coalesce into the one already running.
func (q *Queue) Drain(ctx context.Context, process func(ctx context.Context, item Item) error) (Report, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return Report{Coalesced: true}, nil
	}
	defer q.draining.Store(false)

	items, err := q.Items(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, item := range items {
		if err := process(ctx, item); err != nil {
			item.RetryCount++
			if item.RetryCount >= q.maxRetries {
				if derr := q.store.Delete(ctx, store.NamespaceQueue, item.storeKey()); derr != nil {
					return report, derr
				}
				report.Dropped = append(report.Dropped, item)
				q.log.Error().
					Err(err).
					Int64("item_id", item.ID).
					Str("document_id", item.DocumentID).
					Int("retries", item.RetryCount).
					Msg("replay permanently failed, dropping item; remote copy stays stale until resync")
				continue
			}

			if perr := q.put(ctx, item); perr != nil {
				return report, perr
			}
			report.Retried++
			q.log.Warn().
				Err(err).
				Int64("item_id", item.ID).
				Int("retries", item.RetryCount).
				Msg("replay failed, will retry")
			continue
		}

		if err := q.store.Delete(ctx, store.NamespaceQueue, item.storeKey()); err != nil {
			return report, err
		}
		report.Processed++
	}

	return report, nil
}

func (q *Queue) put(ctx context.Context, item Item) error {
	indexes := map[string]string{
		store.IndexEnqueuedAt: item.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		store.IndexOperation:  string(item.Op),
	}
	if err := q.store.Put(ctx, store.NamespaceQueue, item.storeKey(), item, indexes); err != nil {
		return fmt.Errorf("failed to persist queue item: %w", err)
	}
	return nil
}
