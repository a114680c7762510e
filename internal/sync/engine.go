package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"fieldsync-agent/internal/connectivity"
	"fieldsync-agent/internal/domain"
	"fieldsync-agent/internal/queue"
	"fieldsync-agent/internal/remote"
	"fieldsync-agent/internal/store"

	"github.com/rs/zerolog"
)

// ErrNotFound surfaces a save or delete against a document whose parent no
// longer resolves. It indicates stale UI state that needs a refresh, so it is
// propagated rather than swallowed.
var ErrNotFound = errors.New("not found")

// SaveError marks a failed optimistic local commit. It is the only way a
// write surfaces an error to the user: there is no degradation path below
// the local store.
type SaveError struct {
	Err error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("local commit failed: %v", e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// Notifier pushes merged state and conflict signals to the UI layer.
type Notifier interface {
	ResultUpdated(result *domain.InspectionResult)
	ResultsReplaced(eventID string, results []*domain.InspectionResult)
	ConflictDetected(result *domain.InspectionResult)
	QueueDrained(report queue.Report)
}

type noopNotifier struct{}

func (noopNotifier) ResultUpdated(*domain.InspectionResult)             {}
func (noopNotifier) ResultsReplaced(string, []*domain.InspectionResult) {}
func (noopNotifier) ConflictDetected(*domain.InspectionResult)          {}
func (noopNotifier) QueueDrained(queue.Report)                          {}

// Engine reconciles local and remote state in both directions. Writes commit
// locally first, then attempt the remote or fall back to the queue; reads
// prefer the remote and degrade to the cache. It is the only component with a
// write path to the server-of-record.
type Engine struct {
	store    store.Store
	remote   remote.Client
	monitor  *connectivity.Monitor
	queue    *queue.Queue
	notifier Notifier
	log      zerolog.Logger

	drainInterval time.Duration
	now           func() time.Time
}

func NewEngine(
	s store.Store,
	r remote.Client,
	m *connectivity.Monitor,
	q *queue.Queue,
	notifier Notifier,
	drainInterval time.Duration,
	log zerolog.Logger,
) *Engine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Engine{
		store:         s,
		remote:        r,
		monitor:       m,
		queue:         q,
		notifier:      notifier,
		log:           log.With().Str("component", "sync").Logger(),
		drainInterval: drainInterval,
		now:           time.Now,
	}
}

// Start hooks the engine into connectivity transitions and the periodic
// resync ticker, and drains immediately when already online.
func (e *Engine) Start(ctx context.Context) {
	e.monitor.OnTransition(func(online bool) {
		if !online {
			return
		}
		if _, err := e.DrainQueue(ctx); err != nil {
			e.log.Error().Err(err).Msg("drain after reconnect failed")
		}
	})

	if e.monitor.IsOnline() {
		if _, err := e.DrainQueue(ctx); err != nil {
			e.log.Error().Err(err).Msg("startup drain failed")
		}
	}

	if e.drainInterval > 0 {
		go func() {
			ticker := time.NewTicker(e.drainInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if !e.monitor.IsOnline() {
						continue
					}
					if _, err := e.DrainQueue(ctx); err != nil {
						e.log.Error().Err(err).Msg("periodic drain failed")
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

func resultsCollection(projectID, eventID string) string {
	return fmt.Sprintf("projects/%s/inspectionEvents/%s/results", projectID, eventID)
}

// SaveResult appends a record to the point's aggregate. Phase one commits the
// computed aggregate locally so the UI can read it back regardless of
// connectivity; phase two attempts the remote write or enqueues. The two
// phases run sequentially inside this call, never as detached tasks.
func (e *Engine) SaveResult(ctx context.Context, projectID, eventID, pointID string, rec domain.InspectionRecord) (*domain.InspectionResult, error) {
	rec.Timestamp = e.now()

	res, err := e.localResult(ctx, eventID, pointID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = domain.NewResult(eventID, pointID)
	}
	res.AppendRecord(rec)

	if err := e.commitLocal(ctx, res); err != nil {
		return nil, err
	}

	e.notifier.ResultUpdated(res.Filtered())
	if res.HasConflict {
		e.notifier.ConflictDetected(res.Filtered())
	}

	e.writeRemoteOrEnqueue(ctx, projectID, eventID, pointID, res, func(wctx context.Context) error {
		return e.remoteAppend(wctx, projectID, eventID, pointID, rec)
	})

	return res.Filtered(), nil
}

// remoteAppend is the authoritative append: it re-reads the server copy and
// appends there, so a concurrent record from another inspector is kept, not
// overwritten.
func (e *Engine) remoteAppend(ctx context.Context, projectID, eventID, pointID string, rec domain.InspectionRecord) error {
	collection := resultsCollection(projectID, eventID)

	res := domain.NewResult(eventID, pointID)
	err := e.remote.GetDocument(ctx, collection, pointID, res)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return err
	}
	res.AppendRecord(rec)

	return e.remote.SetDocument(ctx, collection, pointID, res)
}

// GetResult reads one point's aggregate, remote-first with cache writeback,
// degrading to the local snapshot. Tombstoned records are filtered out of the
// returned copy; the cache keeps the full history.
func (e *Engine) GetResult(ctx context.Context, projectID, eventID, pointID string) (*domain.InspectionResult, error) {
	if e.monitor.IsOnline() {
		res := &domain.InspectionResult{}
		err := e.remote.GetDocument(ctx, resultsCollection(projectID, eventID), pointID, res)
		switch {
		case err == nil:
			if cerr := e.commitLocal(ctx, res); cerr != nil {
				return nil, cerr
			}
			return res.Filtered(), nil
		case errors.Is(err, remote.ErrNotFound):
			return nil, ErrNotFound
		default:
			e.log.Warn().Err(err).Str("point_id", pointID).Msg("remote read failed, falling back to cache")
		}
	}

	res, err := e.localResult(ctx, eventID, pointID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNotFound
	}
	return res.Filtered(), nil
}

// GetResults reads the full result set of one inspection event.
func (e *Engine) GetResults(ctx context.Context, projectID, eventID string) ([]*domain.InspectionResult, error) {
	if e.monitor.IsOnline() {
		results, err := e.fetchAndCacheResults(ctx, projectID, eventID)
		if err == nil {
			return results, nil
		}
		e.log.Warn().Err(err).Str("event_id", eventID).Msg("remote list failed, falling back to cache")
	}

	return e.localResults(ctx, eventID)
}

func (e *Engine) fetchAndCacheResults(ctx context.Context, projectID, eventID string) ([]*domain.InspectionResult, error) {
	docs, err := e.remote.ListDocuments(ctx, resultsCollection(projectID, eventID))
	if err != nil {
		return nil, err
	}

	results := make([]*domain.InspectionResult, 0, len(docs))
	for _, doc := range docs {
		res := &domain.InspectionResult{}
		if err := json.Unmarshal(doc, res); err != nil {
			e.log.Warn().Err(err).Msg("skipping malformed remote result")
			continue
		}
		if err := e.commitLocal(ctx, res); err != nil {
			return nil, err
		}
		results = append(results, res.Filtered())
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

// DeleteRecord tombstones one record by its position in the authoritative
// record list and writes the recomputed aggregate back under the same
// commit-then-attempt contract as SaveResult.
func (e *Engine) DeleteRecord(ctx context.Context, projectID, eventID, pointID string, index int, userID string) (*domain.InspectionResult, error) {
	res, err := e.authoritativeResult(ctx, projectID, eventID, pointID)
	if err != nil {
		return nil, err
	}

	if err := res.TombstoneRecord(index, userID, e.now()); err != nil {
		return nil, ErrNotFound
	}

	if err := e.commitLocal(ctx, res); err != nil {
		return nil, err
	}
	e.notifier.ResultUpdated(res.Filtered())

	payload := domain.QueuePayload{
		Kind: domain.PayloadDeleteRecord,
		Delete: &domain.DeleteRecordPayload{
			Result:       *res,
			RecordIndex:  index,
			TombstonedBy: userID,
		},
	}
	e.attemptOrEnqueue(ctx, projectID, eventID, pointID, payload, func(wctx context.Context) error {
		return e.remote.SetDocument(wctx, resultsCollection(projectID, eventID), pointID, res)
	})

	return res.Filtered(), nil
}

// ResolveConflict marks the aggregate's conflict as reviewed, optionally
// tombstoning one record in the same pass.
func (e *Engine) ResolveConflict(ctx context.Context, projectID, eventID, pointID string, req domain.ResolveConflictRequest, userID string) (*domain.InspectionResult, error) {
	res, err := e.authoritativeResult(ctx, projectID, eventID, pointID)
	if err != nil {
		return nil, err
	}

	if req.TombstoneIndex != nil {
		if err := res.TombstoneRecord(*req.TombstoneIndex, userID, e.now()); err != nil {
			return nil, ErrNotFound
		}
	}
	res.Resolve()
	res.LastUpdated = e.now()

	if err := e.commitLocal(ctx, res); err != nil {
		return nil, err
	}
	e.notifier.ResultUpdated(res.Filtered())

	e.writeRemoteOrEnqueue(ctx, projectID, eventID, pointID, res, func(wctx context.Context) error {
		return e.remote.SetDocument(wctx, resultsCollection(projectID, eventID), pointID, res)
	})

	return res.Filtered(), nil
}

// WatchResults subscribes to server pushes for one event's result set. Every
// change replaces the cached snapshots wholesale and is broadcast to the UI,
// which is how one inspector sees another's concurrent save without a manual
// refresh. On subscription failure it degrades to a one-shot offline read.
func (e *Engine) WatchResults(ctx context.Context, projectID, eventID string) (func(), error) {
	sub, err := e.remote.Subscribe(ctx, resultsCollection(projectID, eventID))
	if err != nil {
		e.log.Warn().Err(err).Str("event_id", eventID).Msg("subscribe failed, serving cached snapshot")
		results, rerr := e.localResults(ctx, eventID)
		if rerr == nil {
			e.notifier.ResultsReplaced(eventID, results)
		}
		return nil, fmt.Errorf("failed to subscribe to result changes: %w", err)
	}

	go func() {
		for range sub.Changes() {
			results, err := e.fetchAndCacheResults(ctx, projectID, eventID)
			if err != nil {
				e.log.Warn().Err(err).Str("event_id", eventID).Msg("refresh after change notification failed")
				continue
			}
			e.notifier.ResultsReplaced(eventID, results)
			for _, res := range results {
				if res.HasConflict && !res.IsResolved {
					e.notifier.ConflictDetected(res)
				}
			}
		}
	}()

	return func() { _ = sub.Close() }, nil
}

// ReplayQueueItem applies one queued mutation against the server-of-record.
// Upserts use merge semantics, so replaying an already-applied item is a
// no-op.
func (e *Engine) ReplayQueueItem(ctx context.Context, item queue.Item) error {
	switch item.Op {
	case queue.OpCreate, queue.OpUpdate:
		doc, err := item.Payload.Document()
		if err != nil {
			return err
		}
		return e.remote.SetDocument(ctx, item.Collection, item.DocumentID, doc)

	case queue.OpDelete:
		return e.remote.DeleteDocument(ctx, item.Collection, item.DocumentID)

	default:
		return fmt.Errorf("unknown queue operation: %s", item.Op)
	}
}

// DrainQueue replays all pending mutations when online. Overlapping triggers
// coalesce inside the queue.
func (e *Engine) DrainQueue(ctx context.Context) (queue.Report, error) {
	if !e.monitor.IsOnline() {
		e.log.Debug().Msg("offline, drain skipped")
		return queue.Report{}, nil
	}

	report, err := e.queue.Drain(ctx, e.ReplayQueueItem)
	if err != nil {
		return report, err
	}
	if !report.Coalesced {
		e.notifier.QueueDrained(report)
		e.log.Info().
			Int("processed", report.Processed).
			Int("retried", report.Retried).
			Int("dropped", len(report.Dropped)).
			Msg("queue drained")
	}
	return report, nil
}

// QueueStatus reports what the UI shows in the sync badge.
func (e *Engine) QueueStatus(ctx context.Context) (online bool, pending int, err error) {
	n, err := e.queue.Len(ctx)
	if err != nil {
		return false, 0, err
	}
	return e.monitor.IsOnline(), n, nil
}

// writeRemoteOrEnqueue runs phase two of a save: try the remote when online,
// enqueue the full computed state on failure or when detached. Transient
// remote failures never surface to the caller.
func (e *Engine) writeRemoteOrEnqueue(ctx context.Context, projectID, eventID, pointID string, res *domain.InspectionResult, write func(ctx context.Context) error) {
	payload := domain.QueuePayload{
		Kind:   domain.PayloadUpdateResult,
		Update: &domain.UpdateResultPayload{Result: *res},
	}
	e.attemptOrEnqueue(ctx, projectID, eventID, pointID, payload, write)
}

func (e *Engine) attemptOrEnqueue(ctx context.Context, projectID, eventID, pointID string, payload domain.QueuePayload, write func(ctx context.Context) error) {
	collection := resultsCollection(projectID, eventID)

	if e.monitor.IsOnline() {
		err := write(ctx)
		if err == nil {
			return
		}
		e.log.Warn().Err(err).Str("point_id", pointID).Msg("remote write failed, queueing")
	}

	if _, err := e.queue.Enqueue(ctx, queue.OpUpdate, collection, pointID, payload); err != nil {
		// Enqueue failing means the local store is broken; the optimistic
		// commit above already succeeded, so log loudly and move on.
		e.log.Error().Err(err).Str("point_id", pointID).Msg("failed to queue mutation")
	}
}

func (e *Engine) commitLocal(ctx context.Context, res *domain.InspectionResult) error {
	indexes := map[string]string{
		store.IndexEventID: res.EventID,
		store.IndexPointID: res.PointID,
	}
	if err := e.store.Put(ctx, store.NamespaceResults, res.ID, res, indexes); err != nil {
		return &SaveError{Err: err}
	}
	return nil
}

func (e *Engine) localResult(ctx context.Context, eventID, pointID string) (*domain.InspectionResult, error) {
	doc, err := e.store.Get(ctx, store.NamespaceResults, domain.ResultID(eventID, pointID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &SaveError{Err: err}
	}

	res := &domain.InspectionResult{}
	if err := json.Unmarshal(doc, res); err != nil {
		return nil, &SaveError{Err: err}
	}
	return res, nil
}

func (e *Engine) localResults(ctx context.Context, eventID string) ([]*domain.InspectionResult, error) {
	docs, err := e.store.QueryByIndex(ctx, store.NamespaceResults, store.IndexEventID, eventID)
	if err != nil {
		return nil, err
	}

	results := make([]*domain.InspectionResult, 0, len(docs))
	for _, doc := range docs {
		res := &domain.InspectionResult{}
		if err := json.Unmarshal(doc, res); err != nil {
			return nil, err
		}
		results = append(results, res.Filtered())
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

// authoritativeResult prefers the server copy, which is what positional
// record indexes are defined against, and degrades to the cache.
func (e *Engine) authoritativeResult(ctx context.Context, projectID, eventID, pointID string) (*domain.InspectionResult, error) {
	if e.monitor.IsOnline() {
		res := &domain.InspectionResult{}
		err := e.remote.GetDocument(ctx, resultsCollection(projectID, eventID), pointID, res)
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, remote.ErrNotFound):
			return nil, ErrNotFound
		default:
			e.log.Warn().Err(err).Str("point_id", pointID).Msg("authoritative read failed, using cache")
		}
	}

	res, err := e.localResult(ctx, eventID, pointID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNotFound
	}
	return res, nil
}
