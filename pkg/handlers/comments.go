package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/labbook-edu/labbook-engine/pkg/auth"
	"github.com/labbook-edu/labbook-engine/pkg/services"
)

// CommentsHandler serves the feedback endpoints: comment threads on
// field responses, read receipts and resolution.
type CommentsHandler struct {
	comments services.CommentService
	logger   *zap.Logger
}

// NewCommentsHandler creates a new comments handler.
func NewCommentsHandler(comments services.CommentService, logger *zap.Logger) *CommentsHandler {
	return &CommentsHandler{
		comments: comments,
		logger:   logger.Named("comments_handler"),
	}
}

// RegisterRoutes registers the comment endpoints on the mux.
func (h *CommentsHandler) RegisterRoutes(mux *http.ServeMux, authMW *auth.Middleware) {
	mux.HandleFunc("POST /api/field-responses/{frid}/comments", authMW.RequireAuth(h.AddComment))
	mux.HandleFunc("PUT /api/comments/{cid}/read", authMW.RequireAuth(h.MarkRead))
	mux.HandleFunc("PUT /api/conversations/{cvid}/resolve", authMW.RequireAuth(h.SetResolved))
}

// AddComment handles POST /api/field-responses/{frid}/comments.
func (h *CommentsHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	responseID, ok := ParseFieldResponseID(w, r, h.logger)
	if !ok {
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Value) == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "empty_comment", "Comment value is required")
		return
	}

	conversation, err := h.comments.AddComment(r.Context(), responseID, caller, body.Value)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, conversation)
}

// MarkRead handles PUT /api/comments/{cid}/read.
func (h *CommentsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	commentID, ok := ParseCommentID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.comments.MarkRead(r.Context(), commentID, caller); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetResolved handles PUT /api/conversations/{cvid}/resolve.
func (h *CommentsHandler) SetResolved(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	conversationID, ok := ParseConversationID(w, r, h.logger)
	if !ok {
		return
	}

	var body struct {
		Resolved bool `json:"resolved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}

	conversation, err := h.comments.SetResolved(r.Context(), conversationID, caller, body.Resolved)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, conversation)
}
