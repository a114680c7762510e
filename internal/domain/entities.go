package domain

import "time"

// Cached entity snapshots. The agent is not the system of record for these;
// it only mirrors them locally so the UI keeps working while detached.
// Deletion is always a tombstone, never physical removal.

type Project struct {
	ID                 string     `json:"id"`
	CustomerName       string     `json:"customer_name"`
	Address            string     `json:"address"`
	CompanyID          string     `json:"company_id"`
	NextInspectionDate *time.Time `json:"next_inspection_date,omitempty"`
	LastInspectionDate *time.Time `json:"last_inspection_date,omitempty"`
	Deleted            bool       `json:"deleted"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
	DeletedBy          string     `json:"deleted_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type Drawing struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	PDFName      string     `json:"pdf_name"`
	PageNumber   int        `json:"page_number"`
	DisplayOrder int        `json:"display_order"`
	StoragePath  string     `json:"storage_path"`
	Deleted      bool       `json:"deleted"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeletedBy    string     `json:"deleted_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type InspectionItem struct {
	ItemName string `json:"item_name"`
	Required bool   `json:"required"`
}

type InspectionPoint struct {
	ID              string           `json:"id"`
	DrawingID       string           `json:"drawing_id"`
	X               float64          `json:"x"`
	Y               float64          `json:"y"`
	Type            string           `json:"type"`
	Name            string           `json:"name"`
	InspectionItems []InspectionItem `json:"inspection_items"`
	Deleted         bool             `json:"deleted"`
	DeletedAt       *time.Time       `json:"deleted_at,omitempty"`
	DeletedBy       string           `json:"deleted_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusInProgress EventStatus = "in_progress"
	EventStatusCompleted  EventStatus = "completed"
)

type InspectionEvent struct {
	ID            string      `json:"id"`
	ProjectID     string      `json:"project_id"`
	Year          int         `json:"year"`
	InspectorName string      `json:"inspector_name"`
	StartDate     time.Time   `json:"start_date"`
	Status        EventStatus `json:"status"`
	Deleted       bool        `json:"deleted"`
	DeletedAt     *time.Time  `json:"deleted_at,omitempty"`
	DeletedBy     string      `json:"deleted_by,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// PointHistoryEntry is one year's worth of inspection history for a point.
type PointHistoryEntry struct {
	Year    int               `json:"year"`
	EventID string            `json:"event_id"`
	Result  *InspectionResult `json:"result"`
}
