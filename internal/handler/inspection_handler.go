package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"fieldsync-agent/internal/domain"
	"fieldsync-agent/internal/middleware"
	"fieldsync-agent/internal/sync"
	"fieldsync-agent/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type InspectionHandler struct {
	engine   *sync.Engine
	validate *validator.Validate
}

func NewInspectionHandler(engine *sync.Engine) *InspectionHandler {
	return &InspectionHandler{
		engine:   engine,
		validate: validator.New(),
	}
}

// SaveRecord appends an inspection record for a point. The save always
// commits locally; only a broken local store surfaces an error here.
func (h *InspectionHandler) SaveRecord(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}
	vars := mux.Vars(r)

	var req domain.SaveRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	rec := domain.InspectionRecord{
		UserID:      userID,
		UserName:    middleware.GetUserName(r),
		DeviceID:    middleware.GetDeviceID(r),
		InputMethod: req.InputMethod,
		ItemResults: req.ItemResults,
		Photos:      req.Photos,
	}

	result, err := h.engine.SaveResult(r.Context(), vars["projectId"], vars["eventId"], vars["pointId"], rec)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Created(w, result)
}

func (h *InspectionHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	result, err := h.engine.GetResult(r.Context(), vars["projectId"], vars["eventId"], vars["pointId"])
	if err != nil {
		if errors.Is(err, sync.ErrNotFound) {
			response.NotFound(w, "result not found")
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, result)
}

func (h *InspectionHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	results, err := h.engine.GetResults(r.Context(), vars["projectId"], vars["eventId"])
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, results)
}

// DeleteRecord tombstones one record by its position in the authoritative
// record list.
func (h *InspectionHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}
	vars := mux.Vars(r)

	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		response.BadRequest(w, "invalid record index")
		return
	}

	result, err := h.engine.DeleteRecord(r.Context(), vars["projectId"], vars["eventId"], vars["pointId"], index, userID)
	if err != nil {
		if errors.Is(err, sync.ErrNotFound) {
			response.NotFound(w, "record not found, refresh and retry")
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, result)
}

func (h *InspectionHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}
	vars := mux.Vars(r)

	var req domain.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	result, err := h.engine.ResolveConflict(r.Context(), vars["projectId"], vars["eventId"], vars["pointId"], req, userID)
	if err != nil {
		if errors.Is(err, sync.ErrNotFound) {
			response.NotFound(w, "result not found, refresh and retry")
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, result)
}

func (h *InspectionHandler) PointHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	history, err := h.engine.PointHistory(r.Context(), vars["projectId"], vars["pointId"])
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, history)
}

func (h *InspectionHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		response.BadRequest(w, "company_id is required")
		return
	}

	projects, err := h.engine.GetProjects(r.Context(), companyID)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, projects)
}

func (h *InspectionHandler) ListDrawings(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	drawings, err := h.engine.GetDrawings(r.Context(), vars["projectId"])
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, drawings)
}

func (h *InspectionHandler) ListPoints(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	points, err := h.engine.GetPoints(r.Context(), vars["projectId"], vars["drawingId"])
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, points)
}

func (h *InspectionHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	events, err := h.engine.GetEvents(r.Context(), vars["projectId"])
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, events)
}
