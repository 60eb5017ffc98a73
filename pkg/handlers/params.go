package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseRecordID extracts and validates the record ID from the request path.
// Expects path parameter: rid
func ParseRecordID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "rid", "invalid_record_id", "Invalid record ID format", logger)
}

// ParseSectionID extracts and validates the section ID from the request path.
// Expects path parameter: sid
func ParseSectionID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "sid", "invalid_section_id", "Invalid section ID format", logger)
}

// ParseFieldResponseID extracts and validates the field response ID from the request path.
// Expects path parameter: frid
func ParseFieldResponseID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "frid", "invalid_field_response_id", "Invalid field response ID format", logger)
}

// ParseConversationID extracts and validates the conversation ID from the request path.
// Expects path parameter: cvid
func ParseConversationID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "cvid", "invalid_conversation_id", "Invalid conversation ID format", logger)
}

// ParseCommentID extracts and validates the comment ID from the request path.
// Expects path parameter: cid
func ParseCommentID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "cid", "invalid_comment_id", "Invalid comment ID format", logger)
}

// ParseGroupID extracts and validates the project group ID from the request path.
// Expects path parameter: pgid
func ParseGroupID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "pgid", "invalid_group_id", "Invalid project group ID format", logger)
}

// parseQueryUUID parses a UUID query parameter.
func parseQueryUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.URL.Query().Get(name))
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
