package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flarebin/internal/domain"
	"flarebin/internal/storage"
)

// Заголовки, перекрывающие одноимённые параметры запроса
const (
	headerFileID   = "X-File-ID"
	headerTTL      = "X-TTL"
	headerToken    = "X-Token"
	headerFilename = "X-Filename"
)

// uploadParam берёт значение из заголовка, а если его нет, из query
func uploadParam(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}

// parseUploadParams разбирает id, ttl, token и filename загрузки.
// Отсутствующий или отрицательный ttl заменяется на defaultTTL.
func parseUploadParams(r *http.Request, defaultTTL int64) (domain.FileUpload, error) {
	upload := domain.FileUpload{
		ID:       uploadParam(r, headerFileID, "id"),
		Token:    uploadParam(r, headerToken, "token"),
		Filename: uploadParam(r, headerFilename, "filename"),
		TTL:      defaultTTL,
		Size:     -1,
	}

	if raw := uploadParam(r, headerTTL, "ttl"); raw != "" {
		ttl, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return upload, fmt.Errorf("%w: invalid ttl %q", domain.ErrValidation, raw)
		}
		if ttl >= 0 {
			upload.TTL = ttl
		}
	}
	return upload, nil
}

// fileIDParam декодирует сегмент пути: chi отдаёт его из RawPath как есть
func fileIDParam(raw string) string {
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

// parseRange разбирает заголовок Range с одним диапазоном байт.
// Некорректный заголовок и несколько диапазонов игнорируются: отдаём файл целиком.
func parseRange(header string) *storage.Range {
	if !strings.HasPrefix(header, "bytes=") {
		return nil
	}
	byteRange := strings.TrimSpace(strings.TrimPrefix(header, "bytes="))
	if byteRange == "" || strings.Contains(byteRange, ",") {
		return nil
	}

	first, last, ok := strings.Cut(byteRange, "-")
	if !ok {
		return nil
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	if first == "" {
		// Suffix range: -N
		suffix, err := strconv.ParseInt(last, 10, 64)
		if err != nil || suffix <= 0 {
			return nil
		}
		return &storage.Range{Suffix: suffix}
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil
	}
	if last == "" {
		// Range: N-
		return &storage.Range{Offset: start}
	}

	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return nil
	}
	return &storage.Range{Offset: start, Length: end - start + 1}
}

// getOptions переносит диапазон и условные заголовки в запрос к хранилищу
func getOptions(r *http.Request) storage.GetOptions {
	opts := storage.GetOptions{
		Range:       parseRange(r.Header.Get("Range")),
		IfMatch:     r.Header.Get("If-Match"),
		IfNoneMatch: r.Header.Get("If-None-Match"),
	}
	if t, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil {
		opts.IfModifiedSince = t
	}
	if t, err := http.ParseTime(r.Header.Get("If-Unmodified-Since")); err == nil {
		opts.IfUnmodifiedSince = t
	}
	return opts
}

// publicBaseURL берёт BASE_URL из конфигурации либо схему и Host запроса
func publicBaseURL(r *http.Request, configured string) string {
	if configured != "" {
		return strings.TrimRight(configured, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// fileURL строит ссылку на скачивание, с токеном для защищённых файлов
func fileURL(base, id, token string) string {
	u := base + "/" + url.PathEscape(id)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func formatExpireAt(expireAt int64) string {
	return time.Unix(expireAt, 0).UTC().Format("2006-01-02 15:04:05")
}
