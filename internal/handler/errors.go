package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"flarebin/internal/domain"
	"flarebin/internal/storage"
)

const (
	msgUnsupportedUpload = "Unsupported upload method. Please use multipart/form-data with any field name."
	msgNoFileUploaded    = "No file is uploaded. Please use multipart/form-data with any field name."
	msgNotFound          = "File does not exist or has expired."
	msgForbidden         = "File requires the correct token."
	msgObjectMissing     = "File does not exist in the bucket. Something went wrong."
	msgTooLarge          = "File is too large."
	msgInternal          = "Internal server error."
)

// writeError сопоставляет ошибку сервиса со статусом и текстом ответа.
// fileID попадает в сообщение о занятом ID.
func writeError(w http.ResponseWriter, r *http.Request, err error, fileID string) {
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		http.Error(w, msgTooLarge, http.StatusRequestEntityTooLarge)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, msgNotFound, http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, msgForbidden, http.StatusForbidden)
	case errors.Is(err, domain.ErrIDUnavailable):
		if fileID == "" {
			http.Error(w, "No free file ID is available. Please try again.", http.StatusBadRequest)
			return
		}
		http.Error(w, fmt.Sprintf("File ID [%s] is not available.", fileID), http.StatusBadRequest)
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrPreconditionFailed):
		http.Error(w, "Precondition failed.", http.StatusPreconditionFailed)
	case errors.Is(err, storage.ErrInvalidRange):
		http.Error(w, "Requested range not satisfiable.", http.StatusRequestedRangeNotSatisfiable)
	case errors.Is(err, domain.ErrObjectMissing):
		hlog.FromRequest(r).Error().Str("file_id", fileID).Msg("Live file has no object")
		http.Error(w, msgObjectMissing, http.StatusInternalServerError)
	default:
		hlog.FromRequest(r).Error().Err(err).Str("file_id", fileID).Msg("Request failed")
		http.Error(w, msgInternal, http.StatusInternalServerError)
	}
}
