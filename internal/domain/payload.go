package domain

import "fmt"

type PayloadKind string

const (
	PayloadCreateResult PayloadKind = "create_result"
	PayloadUpdateResult PayloadKind = "update_result"
	PayloadDeleteRecord PayloadKind = "delete_record"
)

// QueuePayload is the tagged envelope carried by an offline queue item.
// Each kind holds the full computed aggregate, so replay is an idempotent
// full-state upsert rather than a delta.
type QueuePayload struct {
	Kind   PayloadKind          `json:"kind"`
	Create *CreateResultPayload `json:"create,omitempty"`
	Update *UpdateResultPayload `json:"update,omitempty"`
	Delete *DeleteRecordPayload `json:"delete,omitempty"`
}

type CreateResultPayload struct {
	Result InspectionResult `json:"result"`
}

type UpdateResultPayload struct {
	Result InspectionResult `json:"result"`
}

// DeleteRecordPayload carries the aggregate after a record tombstone. The
// document itself survives; only the record inside it is marked deleted.
type DeleteRecordPayload struct {
	Result       InspectionResult `json:"result"`
	RecordIndex  int              `json:"record_index"`
	TombstonedBy string           `json:"tombstoned_by"`
}

// Document returns the full aggregate state to upsert on replay.
func (p *QueuePayload) Document() (*InspectionResult, error) {
	switch p.Kind {
	case PayloadCreateResult:
		if p.Create == nil {
			return nil, fmt.Errorf("payload kind %s without body", p.Kind)
		}
		return &p.Create.Result, nil
	case PayloadUpdateResult:
		if p.Update == nil {
			return nil, fmt.Errorf("payload kind %s without body", p.Kind)
		}
		return &p.Update.Result, nil
	case PayloadDeleteRecord:
		if p.Delete == nil {
			return nil, fmt.Errorf("payload kind %s without body", p.Kind)
		}
		return &p.Delete.Result, nil
	default:
		return nil, fmt.Errorf("unknown payload kind: %s", p.Kind)
	}
}
