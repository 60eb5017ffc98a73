package handlers

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/labbook-edu/labbook-engine/pkg/auth"
	"github.com/labbook-edu/labbook-engine/pkg/config"
	"github.com/labbook-edu/labbook-engine/pkg/models"
	"github.com/labbook-edu/labbook-engine/pkg/storage"
)

// FilesHandler serves blob upload and download for file-type fields.
// Uploads return the metadata the client then submits as the field's
// value; the form engine itself never touches blob bytes.
type FilesHandler struct {
	blobs   storage.BlobStore
	uploads *config.UploadsConfig
	logger  *zap.Logger
}

// NewFilesHandler creates a new files handler.
func NewFilesHandler(blobs storage.BlobStore, uploads *config.UploadsConfig, logger *zap.Logger) *FilesHandler {
	return &FilesHandler{
		blobs:   blobs,
		uploads: uploads,
		logger:  logger.Named("files_handler"),
	}
}

// RegisterRoutes registers the file endpoints on the mux.
func (h *FilesHandler) RegisterRoutes(mux *http.ServeMux, authMW *auth.Middleware) {
	mux.HandleFunc("POST /api/files", authMW.RequireAuth(h.Upload))
	mux.HandleFunc("GET /api/files/{location}", authMW.RequireAuth(h.Download))
}

// Upload handles POST /api/files (multipart form, field "file").
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxSizeBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_upload", "Multipart field 'file' is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !h.uploads.Allowed(ext) {
		_ = ErrorResponse(w, http.StatusBadRequest, "extension_not_allowed", "File extension not allowed")
		return
	}

	location, err := h.blobs.Upload(r.Context(), header.Filename, file)
	if err != nil {
		h.logger.Error("Failed to store blob", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "upload_failed", "Failed to store file")
		return
	}

	_ = WriteJSON(w, http.StatusCreated, models.FileMetadata{
		Location: location,
		Name:     header.Filename,
		Caption:  r.FormValue("caption"),
	})
}

// Download handles GET /api/files/{location}.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	location := r.PathValue("location")

	blob, err := h.blobs.Open(r.Context(), location)
	if err != nil {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "File not found")
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, blob); err != nil {
		h.logger.Debug("Failed to stream blob", zap.Error(err))
	}
}
