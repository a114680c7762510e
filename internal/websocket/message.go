package websocket

import (
	"encoding/json"
	"time"

	"fieldsync-agent/internal/domain"
	"fieldsync-agent/internal/queue"
)

type MessageType string

const (
	TypeResultUpdate    MessageType = "result_update"
	TypeResultsSnapshot MessageType = "results_snapshot"
	TypeConflict        MessageType = "conflict_detected"
	TypeQueueDrained    MessageType = "queue_drained"
	TypeSyncStatus      MessageType = "sync_status"
	TypeWatch           MessageType = "watch"
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ResultUpdatePayload struct {
	Result *domain.InspectionResult `json:"result"`
}

// ResultsSnapshotPayload replaces the UI's view of one event wholesale; the
// server push path never sends deltas.
type ResultsSnapshotPayload struct {
	EventID string                     `json:"event_id"`
	Results []*domain.InspectionResult `json:"results"`
}

type ConflictPayload struct {
	Result *domain.InspectionResult `json:"result"`
}

type QueueDrainedPayload struct {
	Report queue.Report `json:"report"`
}

type SyncStatusPayload struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
}

// WatchPayload asks the agent to follow one event's result set.
type WatchPayload struct {
	ProjectID string `json:"project_id"`
	EventID   string `json:"event_id"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
