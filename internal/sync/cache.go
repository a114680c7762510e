package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"fieldsync-agent/internal/domain"
	"fieldsync-agent/internal/store"
)

// Read-through caching for the entities the UI needs while detached. The
// agent never writes these back to the server; project, drawing, point and
// event CRUD belongs to collaborators outside this core. Tombstoned entities
// are cached as-is and filtered at the read boundary.

func drawingsCollection(projectID string) string {
	return fmt.Sprintf("projects/%s/drawings", projectID)
}

func pointsCollection(projectID, drawingID string) string {
	return fmt.Sprintf("projects/%s/drawings/%s/points", projectID, drawingID)
}

func eventsCollection(projectID string) string {
	return fmt.Sprintf("projects/%s/inspectionEvents", projectID)
}

func (e *Engine) GetProjects(ctx context.Context, companyID string) ([]*domain.Project, error) {
	docs, err := e.readThrough(ctx, "projects", store.NamespaceProjects, store.IndexCompanyID, companyID,
		func(doc json.RawMessage) (string, map[string]string, bool, error) {
			var p domain.Project
			if err := json.Unmarshal(doc, &p); err != nil {
				return "", nil, false, err
			}
			keep := p.CompanyID == companyID
			return p.ID, map[string]string{store.IndexCompanyID: p.CompanyID}, keep, nil
		})
	if err != nil {
		return nil, err
	}

	var projects []*domain.Project
	for _, doc := range docs {
		var p domain.Project
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, err
		}
		if p.Deleted {
			continue
		}
		projects = append(projects, &p)
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

func (e *Engine) GetDrawings(ctx context.Context, projectID string) ([]*domain.Drawing, error) {
	docs, err := e.readThrough(ctx, drawingsCollection(projectID), store.NamespaceDrawings, store.IndexProjectID, projectID,
		func(doc json.RawMessage) (string, map[string]string, bool, error) {
			var d domain.Drawing
			if err := json.Unmarshal(doc, &d); err != nil {
				return "", nil, false, err
			}
			return d.ID, map[string]string{store.IndexProjectID: projectID}, true, nil
		})
	if err != nil {
		return nil, err
	}

	var drawings []*domain.Drawing
	for _, doc := range docs {
		var d domain.Drawing
		if err := json.Unmarshal(doc, &d); err != nil {
			return nil, err
		}
		if d.Deleted {
			continue
		}
		d.ProjectID = projectID
		drawings = append(drawings, &d)
	}

	sort.Slice(drawings, func(i, j int) bool {
		return drawings[i].DisplayOrder < drawings[j].DisplayOrder
	})
	return drawings, nil
}

func (e *Engine) GetPoints(ctx context.Context, projectID, drawingID string) ([]*domain.InspectionPoint, error) {
	docs, err := e.readThrough(ctx, pointsCollection(projectID, drawingID), store.NamespacePoints, store.IndexDrawingID, drawingID,
		func(doc json.RawMessage) (string, map[string]string, bool, error) {
			var p domain.InspectionPoint
			if err := json.Unmarshal(doc, &p); err != nil {
				return "", nil, false, err
			}
			return p.ID, map[string]string{store.IndexDrawingID: drawingID}, true, nil
		})
	if err != nil {
		return nil, err
	}

	var points []*domain.InspectionPoint
	for _, doc := range docs {
		var p domain.InspectionPoint
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, err
		}
		if p.Deleted {
			continue
		}
		p.DrawingID = drawingID
		points = append(points, &p)
	}
	return points, nil
}

func (e *Engine) GetEvents(ctx context.Context, projectID string) ([]*domain.InspectionEvent, error) {
	docs, err := e.readThrough(ctx, eventsCollection(projectID), store.NamespaceEvents, store.IndexProjectID, projectID,
		func(doc json.RawMessage) (string, map[string]string, bool, error) {
			var ev domain.InspectionEvent
			if err := json.Unmarshal(doc, &ev); err != nil {
				return "", nil, false, err
			}
			return ev.ID, map[string]string{store.IndexProjectID: projectID}, true, nil
		})
	if err != nil {
		return nil, err
	}

	var events []*domain.InspectionEvent
	for _, doc := range docs {
		var ev domain.InspectionEvent
		if err := json.Unmarshal(doc, &ev); err != nil {
			return nil, err
		}
		if ev.Deleted {
			continue
		}
		ev.ProjectID = projectID
		events = append(events, &ev)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Year > events[j].Year })
	return events, nil
}

// PointHistory collects every year's result for one point across the
// project's inspection events, newest year first.
func (e *Engine) PointHistory(ctx context.Context, projectID, pointID string) ([]*domain.PointHistoryEntry, error) {
	events, err := e.GetEvents(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var history []*domain.PointHistoryEntry
	for _, ev := range events {
		res, err := e.GetResult(ctx, projectID, ev.ID, pointID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if len(res.Records) == 0 {
			continue
		}
		history = append(history, &domain.PointHistoryEntry{
			Year:    ev.Year,
			EventID: ev.ID,
			Result:  res,
		})
	}

	sort.Slice(history, func(i, j int) bool { return history[i].Year > history[j].Year })
	return history, nil
}

// readThrough fetches a collection remote-first, refreshes the cache, and
// degrades to the indexed local read on failure or while offline.
func (e *Engine) readThrough(
	ctx context.Context,
	collection, namespace, index, value string,
	describe func(doc json.RawMessage) (id string, indexes map[string]string, keep bool, err error),
) ([]json.RawMessage, error) {
	if e.monitor.IsOnline() {
		docs, err := e.remote.ListDocuments(ctx, collection)
		if err == nil {
			kept := make([]json.RawMessage, 0, len(docs))
			for _, doc := range docs {
				id, indexes, keep, derr := describe(doc)
				if derr != nil {
					e.log.Warn().Err(derr).Str("collection", collection).Msg("skipping malformed remote document")
					continue
				}
				if !keep {
					continue
				}
				if perr := e.store.Put(ctx, namespace, id, doc, indexes); perr != nil {
					return nil, perr
				}
				kept = append(kept, doc)
			}
			return kept, nil
		}
		e.log.Warn().Err(err).Str("collection", collection).Msg("remote list failed, falling back to cache")
	}

	return e.store.QueryByIndex(ctx, namespace, index, value)
}
