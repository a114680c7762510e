package domain

import (
	"errors"
	"time"
)

var ErrRecordNotFound = errors.New("inspection record not found")

type Status string

const (
	StatusOK          Status = "ok"
	StatusFail        Status = "fail"
	StatusUninspected Status = "uninspected"
)

type InputMethod string

const (
	InputMethodVoice  InputMethod = "voice"
	InputMethodManual InputMethod = "manual"
)

type ItemResult struct {
	ItemName string `json:"item_name"`
	Status   Status `json:"status"`
	Notes    string `json:"notes"`
}

// InspectionRecord is immutable once appended, except for the tombstone
// fields. Timestamp is client-assigned at creation and is the ordering key,
// so records created offline sort correctly once synced.
type InspectionRecord struct {
	UserID      string       `json:"user_id"`
	UserName    string       `json:"user_name"`
	DeviceID    string       `json:"device_id"`
	InputMethod InputMethod  `json:"input_method"`
	ItemResults []ItemResult `json:"item_results"`
	Photos      []string     `json:"photos"`
	Timestamp   time.Time    `json:"timestamp"`
	Deleted     bool         `json:"deleted"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
	DeletedBy   string       `json:"deleted_by,omitempty"`
}

func (r *InspectionRecord) HasFail() bool {
	for _, item := range r.ItemResults {
		if item.Status == StatusFail {
			return true
		}
	}
	return false
}

// InspectionResult is the aggregate root for one inspection point within one
// inspection event. Records are append-only; conflicting records are kept
// side by side and surfaced via HasConflict rather than merged.
type InspectionResult struct {
	ID          string             `json:"id"`
	EventID     string             `json:"event_id"`
	PointID     string             `json:"point_id"`
	Status      Status             `json:"status"`
	Records     []InspectionRecord `json:"records"`
	HasConflict bool               `json:"has_conflict"`
	IsResolved  bool               `json:"is_resolved"`
	LastUpdated time.Time          `json:"last_updated"`
}

// ResultID builds the composite document key. It is deterministic so saves
// against the same point upsert the same document.
func ResultID(eventID, pointID string) string {
	return eventID + "_" + pointID
}

func NewResult(eventID, pointID string) *InspectionResult {
	return &InspectionResult{
		ID:      ResultID(eventID, pointID),
		EventID: eventID,
		PointID: pointID,
		Status:  StatusUninspected,
	}
}

// AppendRecord adds a record and recomputes the derived fields. The record's
// tombstone fields are reset: a new record always enters alive.
func (res *InspectionResult) AppendRecord(rec InspectionRecord) {
	rec.Deleted = false
	rec.DeletedAt = nil
	rec.DeletedBy = ""
	res.Records = append(res.Records, rec)
	res.Recompute()
	res.LastUpdated = rec.Timestamp
}

// TombstoneRecord soft-deletes the record at the given position in the full
// record list. Deleting an already-deleted record is a no-op.
func (res *InspectionResult) TombstoneRecord(index int, userID string, at time.Time) error {
	if index < 0 || index >= len(res.Records) {
		return ErrRecordNotFound
	}
	if res.Records[index].Deleted {
		return nil
	}
	res.Records[index].Deleted = true
	res.Records[index].DeletedAt = &at
	res.Records[index].DeletedBy = userID
	res.Recompute()
	res.LastUpdated = at
	return nil
}

// Recompute derives Status and HasConflict from the non-deleted records.
// Status is fail-dominant across all historical non-deleted records, not just
// the most recent one; an old failure keeps the point failing until it is
// explicitly tombstoned.
func (res *InspectionResult) Recompute() {
	active := 0
	failed := false
	for i := range res.Records {
		if res.Records[i].Deleted {
			continue
		}
		active++
		if res.Records[i].HasFail() {
			failed = true
		}
	}

	switch {
	case active == 0:
		res.Status = StatusUninspected
	case failed:
		res.Status = StatusFail
	default:
		res.Status = StatusOK
	}
	res.HasConflict = active > 1
}

// ActiveRecords returns the non-deleted records in append order.
func (res *InspectionResult) ActiveRecords() []InspectionRecord {
	var active []InspectionRecord
	for i := range res.Records {
		if !res.Records[i].Deleted {
			active = append(active, res.Records[i])
		}
	}
	return active
}

// LatestRecord returns the most recently appended non-deleted record. It is
// what the UI pre-fills from; it carries no extra weight in Recompute.
func (res *InspectionResult) LatestRecord() *InspectionRecord {
	for i := len(res.Records) - 1; i >= 0; i-- {
		if !res.Records[i].Deleted {
			return &res.Records[i]
		}
	}
	return nil
}

// Resolve acknowledges a reviewed conflict. The conflicting records stay.
func (res *InspectionResult) Resolve() {
	res.IsResolved = true
}

// Filtered returns a copy of the result with tombstoned records removed,
// the shape handed to the UI. The stored copy keeps the full history.
func (res *InspectionResult) Filtered() *InspectionResult {
	out := *res
	out.Records = res.ActiveRecords()
	return &out
}
