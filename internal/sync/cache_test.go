package sync

import (
	"context"
	"testing"
	"time"

	"fieldsync-agent/internal/domain"
)

func seedProject(t *testing.T, h *testHarness, id, companyID string, createdAt time.Time, deleted bool) {
	t.Helper()
	p := domain.Project{
		ID:           id,
		CustomerName: "customer " + id,
		CompanyID:    companyID,
		Deleted:      deleted,
		CreatedAt:    createdAt,
	}
	if err := h.remote.SetDocument(context.Background(), "projects", id, p); err != nil {
		t.Fatalf("seed project failed: %v", err)
	}
}

func TestGetProjectsFiltersAndSorts(t *testing.T) {
	h := newHarness(true)
	ctx := context.Background()
	now := time.Now()

	seedProject(t, h, "pr1", "c1", now.Add(-2*time.Hour), false)
	seedProject(t, h, "pr2", "c1", now, false)
	seedProject(t, h, "pr3", "c2", now, false)
	seedProject(t, h, "pr4", "c1", now.Add(-time.Hour), true)

	projects, err := h.engine.GetProjects(ctx, "c1")
	if err != nil {
		t.Fatalf("get projects failed: %v", err)
	}

	// Other companies and tombstoned projects are out; newest first.
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
	if projects[0].ID != "pr2" || projects[1].ID != "pr1" {
		t.Errorf("unexpected order: %q then %q", projects[0].ID, projects[1].ID)
	}
}

func TestGetProjectsOfflineServesCache(t *testing.T) {
	h := newHarness(true)
	ctx := context.Background()
	now := time.Now()

	seedProject(t, h, "pr1", "c1", now, false)

	// Warm the cache online, then read detached.
	if _, err := h.engine.GetProjects(ctx, "c1"); err != nil {
		t.Fatalf("online read failed: %v", err)
	}

	h.monitor.SetOnline(false)
	projects, err := h.engine.GetProjects(ctx, "c1")
	if err != nil {
		t.Fatalf("offline read failed: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "pr1" {
		t.Fatalf("expected cached project pr1, got %+v", projects)
	}
}

func TestGetDrawingsSortsByDisplayOrder(t *testing.T) {
	h := newHarness(true)
	ctx := context.Background()
	collection := drawingsCollection("proj1")

	for _, d := range []domain.Drawing{
		{ID: "d1", PDFName: "plan.pdf", DisplayOrder: 2},
		{ID: "d2", PDFName: "site.pdf", DisplayOrder: 1},
	} {
		if err := h.remote.SetDocument(ctx, collection, d.ID, d); err != nil {
			t.Fatalf("seed drawing failed: %v", err)
		}
	}

	drawings, err := h.engine.GetDrawings(ctx, "proj1")
	if err != nil {
		t.Fatalf("get drawings failed: %v", err)
	}
	if len(drawings) != 2 {
		t.Fatalf("expected 2 drawings, got %d", len(drawings))
	}
	if drawings[0].ID != "d2" || drawings[1].ID != "d1" {
		t.Errorf("unexpected order: %q then %q", drawings[0].ID, drawings[1].ID)
	}
}

func TestGetEventsNewestYearFirst(t *testing.T) {
	h := newHarness(true)
	ctx := context.Background()
	collection := eventsCollection("proj1")

	for _, ev := range []domain.InspectionEvent{
		{ID: "e2023", Year: 2023, Status: domain.EventStatusCompleted},
		{ID: "e2025", Year: 2025, Status: domain.EventStatusInProgress},
		{ID: "e2024", Year: 2024, Status: domain.EventStatusCompleted},
	} {
		if err := h.remote.SetDocument(ctx, collection, ev.ID, ev); err != nil {
			t.Fatalf("seed event failed: %v", err)
		}
	}

	events, err := h.engine.GetEvents(ctx, "proj1")
	if err != nil {
		t.Fatalf("get events failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []int{2025, 2024, 2023} {
		if events[i].Year != want {
			t.Errorf("position %d: expected year %d, got %d", i, want, events[i].Year)
		}
	}
}

func TestPointHistorySkipsEmptyYears(t *testing.T) {
	h := newHarness(true)
	ctx := context.Background()

	for _, ev := range []domain.InspectionEvent{
		{ID: "e2023", Year: 2023},
		{ID: "e2024", Year: 2024},
		{ID: "e2025", Year: 2025},
	} {
		if err := h.remote.SetDocument(ctx, eventsCollection("proj1"), ev.ID, ev); err != nil {
			t.Fatalf("seed event failed: %v", err)
		}
	}

	// Results exist only for 2023 and 2025.
	for _, eventID := range []string{"e2023", "e2025"} {
		res := domain.NewResult(eventID, "p1")
		res.AppendRecord(testRecord("u1", domain.StatusOK))
		if err := h.remote.SetDocument(ctx, resultsCollection("proj1", eventID), "p1", res); err != nil {
			t.Fatalf("seed result failed: %v", err)
		}
	}

	history, err := h.engine.PointHistory(ctx, "proj1", "p1")
	if err != nil {
		t.Fatalf("point history failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Year != 2025 || history[1].Year != 2023 {
		t.Errorf("unexpected order: %d then %d", history[0].Year, history[1].Year)
	}
	if history[0].Result == nil || len(history[0].Result.Records) != 1 {
		t.Error("expected the year's result attached to the entry")
	}
}
