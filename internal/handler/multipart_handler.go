package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"flarebin/internal/domain"
	"flarebin/internal/service"
)

// completeBodyLimit: список из 10000 частей с ETag умещается с запасом
const completeBodyLimit = 2 << 20

type MultipartHandler struct {
	multipart *service.MultipartService
	files     *FileHandler
}

func NewMultipartHandler(multipart *service.MultipartService, files *FileHandler) *MultipartHandler {
	return &MultipartHandler{multipart: multipart, files: files}
}

// Start: POST /multipart/start
func (h *MultipartHandler) Start(w http.ResponseWriter, r *http.Request) {
	upload, err := parseUploadParams(r, h.files.opts.DefaultTTL)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	upload.ContentType = r.Header.Get("Content-Type")

	started, err := h.multipart.Start(r.Context(), upload)
	if err != nil {
		writeError(w, r, err, upload.ID)
		return
	}
	writeJSON(w, r, http.StatusOK, started)
}

// UploadPart: POST /multipart?key=&uploadId=&partNumber=
func (h *MultipartHandler) UploadPart(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	partNumber, err := strconv.Atoi(query.Get("partNumber"))
	if err != nil {
		http.Error(w, "partNumber must be an integer.", http.StatusBadRequest)
		return
	}
	if r.ContentLength > h.files.opts.MaxUploadSize {
		http.Error(w, msgTooLarge, http.StatusRequestEntityTooLarge)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.files.opts.MaxUploadSize)
	part, err := h.multipart.UploadPart(r.Context(), query.Get("key"), query.Get("uploadId"), partNumber, body, r.ContentLength)
	if err != nil {
		writeMultipartError(w, r, err, "")
		return
	}
	writeJSON(w, r, http.StatusOK, part)
}

// Complete: POST /multipart/complete?key=&uploadId=
// Отвечает тем же текстом, что и обычная загрузка.
func (h *MultipartHandler) Complete(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	upload, err := parseUploadParams(r, h.files.opts.DefaultTTL)
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	var req domain.CompleteMultipartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, completeBodyLimit)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	uploaded, err := h.multipart.Complete(r.Context(), query.Get("key"), query.Get("uploadId"), req.Parts, upload)
	if err != nil {
		writeMultipartError(w, r, err, upload.ID)
		return
	}
	h.files.writeUploaded(w, r, uploaded)
}

// Abort: POST /multipart/abort?key=&uploadId=
func (h *MultipartHandler) Abort(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if err := h.multipart.Abort(r.Context(), query.Get("key"), query.Get("uploadId")); err != nil {
		writeMultipartError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeMultipartError: NotFound здесь означает неизвестную загрузку, а не файл
func writeMultipartError(w http.ResponseWriter, r *http.Request, err error, fileID string) {
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "Multipart upload does not exist.", http.StatusNotFound)
		return
	}
	writeError(w, r, err, fileID)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to encode response")
	}
}
