package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/labbook-edu/labbook-engine/pkg/auth"
	"github.com/labbook-edu/labbook-engine/pkg/models"
	"github.com/labbook-edu/labbook-engine/pkg/services"
)

// RecordsHandler serves record lifecycle, stage movement and section
// form endpoints.
type RecordsHandler struct {
	records services.RecordService
	forms   services.FormService
	logger  *zap.Logger
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(records services.RecordService, forms services.FormService, logger *zap.Logger) *RecordsHandler {
	return &RecordsHandler{
		records: records,
		forms:   forms,
		logger:  logger.Named("records_handler"),
	}
}

// RegisterRoutes registers the record endpoints on the mux.
func (h *RecordsHandler) RegisterRoutes(mux *http.ServeMux, authMW *auth.Middleware) {
	mux.HandleFunc("POST /api/records", authMW.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/records", authMW.RequireAuth(h.List))
	mux.HandleFunc("GET /api/records/{rid}", authMW.RequireAuth(h.Get))
	mux.HandleFunc("GET /api/records/{rid}/summary", authMW.RequireAuth(h.Summary))
	mux.HandleFunc("POST /api/records/{rid}/advance", authMW.RequireAuth(h.Advance))
	mux.HandleFunc("GET /api/records/{rid}/form/{sid}", authMW.RequireAuth(h.GetForm))
	mux.HandleFunc("PUT /api/records/{rid}/form/{sid}", authMW.RequireAuth(h.SaveForm))
	mux.HandleFunc("POST /api/project-groups/{pgid}/lock-notes", authMW.RequireInstructor(h.LockGroupNotes))
}

// Create handles POST /api/records.
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req services.CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if !req.Kind.IsValid() {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_kind", "Unknown record kind")
		return
	}

	record, err := h.records.Create(r.Context(), caller, req)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, record)
}

// List handles GET /api/records?project={pid}&kind={kind}.
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	projectID, err := parseQueryUUID(r, "project")
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_project_id", "Invalid or missing project query parameter")
		return
	}
	kind := models.RecordKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.IsValid() {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_kind", "Unknown record kind")
		return
	}

	records, err := h.records.List(r.Context(), projectID, kind, caller)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}

// Get handles GET /api/records/{rid}.
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	recordID, ok := ParseRecordID(w, r, h.logger)
	if !ok {
		return
	}

	record, err := h.records.Get(r.Context(), recordID, caller)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, record)
}

// Summary handles GET /api/records/{rid}/summary.
func (h *RecordsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	recordID, ok := ParseRecordID(w, r, h.logger)
	if !ok {
		return
	}

	summary, err := h.records.Summary(r.Context(), recordID, caller)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, summary)
}

// Advance handles POST /api/records/{rid}/advance.
func (h *RecordsHandler) Advance(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	recordID, ok := ParseRecordID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.AdvanceStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if !req.Action.IsValid() {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_action", "Unknown stage action")
		return
	}

	stage, err := h.records.AdvanceStage(r.Context(), recordID, req, caller)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"stage": stage})
}

// GetForm handles GET /api/records/{rid}/form/{sid}.
func (h *RecordsHandler) GetForm(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	recordID, ok := ParseRecordID(w, r, h.logger)
	if !ok {
		return
	}
	sectionID, ok := ParseSectionID(w, r, h.logger)
	if !ok {
		return
	}

	form, err := h.forms.GetSectionForm(r.Context(), recordID, sectionID, caller)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, form)
}

// SaveForm handles PUT /api/records/{rid}/form/{sid}.
func (h *RecordsHandler) SaveForm(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	recordID, ok := ParseRecordID(w, r, h.logger)
	if !ok {
		return
	}
	sectionID, ok := ParseSectionID(w, r, h.logger)
	if !ok {
		return
	}

	var body struct {
		Entries []services.FieldResponseEntry `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}

	form, err := h.forms.SaveForm(r.Context(), recordID, sectionID, caller, body.Entries)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, form)
}

// LockGroupNotes handles POST /api/project-groups/{pgid}/lock-notes.
func (h *RecordsHandler) LockGroupNotes(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	groupID, ok := ParseGroupID(w, r, h.logger)
	if !ok {
		return
	}

	locked, err := h.records.LockGroupNotes(r.Context(), groupID, caller)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]int{"locked": locked})
}
