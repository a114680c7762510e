package handler

import (
	"net/http"

	"fieldsync-agent/internal/queue"
	"fieldsync-agent/internal/sync"
	"fieldsync-agent/pkg/response"
)

type SyncHandler struct {
	engine *sync.Engine
	queue  *queue.Queue
}

func NewSyncHandler(engine *sync.Engine, q *queue.Queue) *SyncHandler {
	return &SyncHandler{
		engine: engine,
		queue:  q,
	}
}

// Status reports connectivity and pending-mutation count for the sync badge.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	online, pending, err := h.engine.QueueStatus(r.Context())
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, map[string]interface{}{
		"online":  online,
		"pending": pending,
	})
}

// ListQueue exposes the pending mutations for diagnostics.
func (h *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.Items(r.Context())
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, items)
}

// Drain triggers an immediate replay. Overlapping triggers coalesce.
func (h *SyncHandler) Drain(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.DrainQueue(r.Context())
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, report)
}
