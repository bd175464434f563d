package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"flarebin/internal/domain"
	"flarebin/internal/service"
)

// Sweeper нужен для ручного запуска очистки из POST /clean
type Sweeper interface {
	RunOnce(ctx context.Context) *service.SweepResult
}

// Options содержит параметры HTTP-слоя из конфигурации сервера
type Options struct {
	BaseURL       string
	MaxUploadSize int64
	DefaultTTL    int64
}

type FileHandler struct {
	files   *service.FileService
	sweeper Sweeper
	opts    Options
}

func NewFileHandler(files *service.FileService, sweeper Sweeper, opts Options) *FileHandler {
	return &FileHandler{
		files:   files,
		sweeper: sweeper,
		opts:    opts,
	}
}

// PostUpload принимает multipart/form-data; берётся первая файловая часть с любым именем поля
func (h *FileHandler) PostUpload(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		http.Error(w, msgUnsupportedUpload, http.StatusBadRequest)
		return
	}

	upload, err := parseUploadParams(r, h.opts.DefaultTTL)
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadSize)
	reader, err := r.MultipartReader()
	if err != nil {
		http.Error(w, msgUnsupportedUpload, http.StatusBadRequest)
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			http.Error(w, msgNoFileUploaded, http.StatusBadRequest)
			return
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, err, upload.ID)
				return
			}
			http.Error(w, msgNoFileUploaded, http.StatusBadRequest)
			return
		}

		if part.FileName() == "" {
			part.Close()
			continue
		}

		if upload.Filename == "" {
			upload.Filename = part.FileName()
		}
		upload.ContentType = part.Header.Get("Content-Type")
		upload.Body = part

		h.create(w, r, upload)
		part.Close()
		return
	}
}

// PutUpload сохраняет тело запроса целиком; имя файла по умолчанию: сегмент пути
func (h *FileHandler) PutUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.opts.MaxUploadSize {
		http.Error(w, msgTooLarge, http.StatusRequestEntityTooLarge)
		return
	}

	upload, err := parseUploadParams(r, h.opts.DefaultTTL)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	if upload.Filename == "" {
		upload.Filename = fileIDParam(chi.URLParam(r, "fileID"))
	}
	upload.ContentType = r.Header.Get("Content-Type")
	upload.Size = r.ContentLength
	upload.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadSize)

	h.create(w, r, upload)
}

func (h *FileHandler) create(w http.ResponseWriter, r *http.Request, upload domain.FileUpload) {
	uploaded, err := h.files.CreateFile(r.Context(), upload)
	if err != nil {
		writeError(w, r, err, upload.ID)
		return
	}
	h.writeUploaded(w, r, uploaded)
}

// writeUploaded пишет текстовый ответ для curl
func (h *FileHandler) writeUploaded(w http.ResponseWriter, r *http.Request, uploaded *domain.UploadedFile) {
	var b strings.Builder
	b.WriteString("Upload successful!\n\n")
	fmt.Fprintf(&b, "[URL] %s\n", fileURL(publicBaseURL(r, h.opts.BaseURL), uploaded.ID, uploaded.Record.AccessToken))
	fmt.Fprintf(&b, "[Filename] %s\n", uploaded.Record.Filename)
	fmt.Fprintf(&b, "[Size] %d\n", uploaded.Size)
	if uploaded.Record.ExpireAt == domain.NeverExpires {
		b.WriteString("[Expires at] never\n")
	} else {
		fmt.Fprintf(&b, "[Expires at] %s (UTC)\n", formatExpireAt(uploaded.Record.ExpireAt))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, b.String())
}

// Download отдаёт содержимое с поддержкой Range и условных запросов
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := fileIDParam(chi.URLParam(r, "fileID"))

	download, err := h.files.OpenContent(r.Context(), id, r.URL.Query().Get("token"), getOptions(r))
	if err != nil {
		writeError(w, r, err, id)
		return
	}
	object := download.Object

	header := w.Header()
	if object.ETag != "" {
		header.Set("ETag", object.ETag)
	}
	if !object.LastModified.IsZero() {
		header.Set("Last-Modified", object.LastModified.UTC().Format(http.TimeFormat))
	}
	if object.NotModified() {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	defer object.Body.Close()

	contentType := download.Record.ContentType
	if contentType == "" {
		contentType = object.ContentType
	}
	header.Set("Content-Type", contentType)
	header.Set("Content-Disposition", contentDisposition(download.Record.Filename))
	header.Set("Accept-Ranges", "bytes")
	if object.Size >= 0 {
		header.Set("Content-Length", strconv.FormatInt(object.Size, 10))
	}

	status := http.StatusOK
	if object.Partial() {
		header.Set("Content-Range", object.ContentRange)
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	written, err := io.Copy(w, object.Body)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).
			Str("file_id", id).
			Int64("written", written).
			Msg("Download interrupted")
	}
}

func contentDisposition(filename string) string {
	return `filename="` + strings.ReplaceAll(filename, `"`, `\"`) + `"`
}

// Delete удаляет файл; истёкший файл удаляется и отвечает 404
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := fileIDParam(chi.URLParam(r, "fileID"))

	if _, err := h.files.ResolveFile(r.Context(), id, h.files.Now()); err != nil {
		writeError(w, r, err, id)
		return
	}
	if err := h.files.DeleteFile(r.Context(), id, service.ReasonExplicit); err != nil {
		writeError(w, r, err, id)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "OK")
}

// Clean синхронно запускает очистку. Ошибки отдельных записей не влияют на ответ.
func (h *FileHandler) Clean(w http.ResponseWriter, r *http.Request) {
	result := h.sweeper.RunOnce(r.Context())
	hlog.FromRequest(r).Info().
		Int("deleted", result.Deleted).
		Int("errors", result.Errors).
		Msg("Manual sweep finished")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "OK")
}
