package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"fieldsync-agent/internal/domain"
	"fieldsync-agent/internal/store"

	"github.com/rs/zerolog"
)

// mockStore keeps documents in memory with the same ordering contract as the
// real store: List returns documents by id ascending.
type mockStore struct {
	docs map[string]map[string]json.RawMessage
	seq  int64
}

func newMockStore() *mockStore {
	return &mockStore{docs: make(map[string]map[string]json.RawMessage)}
}

func (m *mockStore) Put(ctx context.Context, namespace, id string, doc any, indexes map[string]string) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if m.docs[namespace] == nil {
		m.docs[namespace] = make(map[string]json.RawMessage)
	}
	m.docs[namespace][id] = raw
	return nil
}

func (m *mockStore) Get(ctx context.Context, namespace, id string) (json.RawMessage, error) {
	doc, ok := m.docs[namespace][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc, nil
}

func (m *mockStore) QueryByIndex(ctx context.Context, namespace, index, value string) ([]json.RawMessage, error) {
	return nil, nil
}

func (m *mockStore) List(ctx context.Context, namespace string) ([]json.RawMessage, error) {
	ids := make([]string, 0, len(m.docs[namespace]))
	for id := range m.docs[namespace] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	docs := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, m.docs[namespace][id])
	}
	return docs, nil
}

func (m *mockStore) Delete(ctx context.Context, namespace, id string) error {
	delete(m.docs[namespace], id)
	return nil
}

func (m *mockStore) NextSequence(ctx context.Context) (int64, error) {
	m.seq++
	return m.seq, nil
}

func (m *mockStore) Close() error { return nil }

func testPayload(docID string) domain.QueuePayload {
	res := domain.NewResult("e1", docID)
	return domain.QueuePayload{
		Kind:   domain.PayloadUpdateResult,
		Update: &domain.UpdateResultPayload{Result: *res},
	}
}

func TestEnqueuePreservesOrder(t *testing.T) {
	q := New(newMockStore(), 3, zerolog.Nop())
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		if _, err := q.Enqueue(ctx, OpUpdate, "results", id, testPayload(id)); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	items, err := q.Items(ctx)
	if err != nil {
		t.Fatalf("items failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, want := range []string{"p1", "p2", "p3"} {
		if items[i].DocumentID != want {
			t.Errorf("item %d: expected document %q, got %q", i, want, items[i].DocumentID)
		}
	}
}

func TestDrainProcessesInOrder(t *testing.T) {
	q := New(newMockStore(), 3, zerolog.Nop())
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		if _, err := q.Enqueue(ctx, OpUpdate, "results", id, testPayload(id)); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	var processed []string
	report, err := q.Drain(ctx, func(ctx context.Context, item Item) error {
		processed = append(processed, item.DocumentID)
		return nil
	})
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if report.Processed != 3 {
		t.Errorf("expected 3 processed, got %d", report.Processed)
	}
	for i, want := range []string{"p1", "p2", "p3"} {
		if processed[i] != want {
			t.Errorf("position %d: expected %q, got %q", i, want, processed[i])
		}
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("len failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty queue after drain, got %d items", n)
	}
}

func TestDrainRetriesThenDrops(t *testing.T) {
	q := New(newMockStore(), 3, zerolog.Nop())
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, OpUpdate, "results", "p1", testPayload("p1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	failing := func(ctx context.Context, item Item) error {
		return errors.New("server rejected")
	}

	// First two drains retry.
	for attempt := 1; attempt <= 2; attempt++ {
		report, err := q.Drain(ctx, failing)
		if err != nil {
			t.Fatalf("drain %d failed: %v", attempt, err)
		}
		if report.Retried != 1 {
			t.Errorf("drain %d: expected 1 retried, got %d", attempt, report.Retried)
		}
		if len(report.Dropped) != 0 {
			t.Errorf("drain %d: expected no drops, got %d", attempt, len(report.Dropped))
		}
	}

	// Third failure hits the cap and drops the item.
	report, err := q.Drain(ctx, failing)
	if err != nil {
		t.Fatalf("final drain failed: %v", err)
	}
	if len(report.Dropped) != 1 {
		t.Fatalf("expected 1 dropped item, got %d", len(report.Dropped))
	}
	if report.Dropped[0].RetryCount != 3 {
		t.Errorf("expected retry count 3 on dropped item, got %d", report.Dropped[0].RetryCount)
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("len failed: %v", err)
	}
	if n != 0 {
		t.Errorf("dropped item should leave the queue, got %d items", n)
	}
}

func TestDrainFailingItemDoesNotStallOthers(t *testing.T) {
	q := New(newMockStore(), 3, zerolog.Nop())
	ctx := context.Background()

	for _, id := range []string{"bad", "good"} {
		if _, err := q.Enqueue(ctx, OpUpdate, "results", id, testPayload(id)); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	report, err := q.Drain(ctx, func(ctx context.Context, item Item) error {
		if item.DocumentID == "bad" {
			return errors.New("server rejected")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if report.Processed != 1 {
		t.Errorf("expected the good item processed, got %d", report.Processed)
	}
	if report.Retried != 1 {
		t.Errorf("expected the bad item retried, got %d", report.Retried)
	}

	items, err := q.Items(ctx)
	if err != nil {
		t.Fatalf("items failed: %v", err)
	}
	if len(items) != 1 || items[0].DocumentID != "bad" {
		t.Fatalf("expected only the failing item to remain, got %+v", items)
	}
}

func TestDrainCoalesces(t *testing.T) {
	q := New(newMockStore(), 3, zerolog.Nop())
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, OpUpdate, "results", "p1", testPayload("p1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan Report, 1)

	go func() {
		report, _ := q.Drain(ctx, func(ctx context.Context, item Item) error {
			close(started)
			<-release
			return nil
		})
		done <- report
	}()

	<-started

	// A drain triggered while one runs must coalesce, not double-replay.
	report, err := q.Drain(ctx, func(ctx context.Context, item Item) error {
		t.Error("coalesced drain must not process items")
		return nil
	})
	if err != nil {
		t.Fatalf("overlapping drain failed: %v", err)
	}
	if !report.Coalesced {
		t.Error("expected overlapping drain to report coalesced")
	}

	close(release)
	first := <-done
	if first.Processed != 1 {
		t.Errorf("expected original drain to process 1 item, got %d", first.Processed)
	}
}
