// Package storage: адаптеры хранилища объектов (S3, MinIO, память).
// Ключ объекта непрозрачен для хранилища и не совпадает с публичным ID файла.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	DefaultContentType = "application/octet-stream"
	// MinPartSize: минимальный размер части, кроме последней (ограничение S3)
	MinPartSize = 5 * 1024 * 1024
)

var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidRange       = errors.New("requested range not satisfiable")
	ErrUploadNotFound     = errors.New("multipart upload not found")
	ErrInvalidPart        = errors.New("invalid multipart part")
)

// Storage хранит двоичное содержимое файлов
type Storage interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	// GetObject возвращает Object с nil Body, если условие If-None-Match/If-Modified-Since
	// говорит, что у клиента актуальная копия
	GetObject(ctx context.Context, key string, opts GetOptions) (*Object, error)
	// DeleteObject не считает ошибкой отсутствие объекта
	DeleteObject(ctx context.Context, key string) error

	CreateMultipartUpload(ctx context.Context, key string, contentType string) (string, error)
	UploadPart(ctx context.Context, uploadID string, key string, partNumber int, body io.Reader, size int64) (string, error)
	CompleteMultipartUpload(ctx context.Context, uploadID string, key string, parts []CompletedPart) (*CompletedObject, error)
	AbortMultipartUpload(ctx context.Context, uploadID string, key string) error
}

type CompletedPart struct {
	PartNumber int
	ETag       string
}

// CompletedObject: собранный объект. ContentType тот, что был задан при старте загрузки.
type CompletedObject struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
}

// Range: запрошенный диапазон байт.
// Suffix > 0 означает последние Suffix байт; Length == 0: до конца объекта.
type Range struct {
	Offset int64
	Length int64
	Suffix int64
}

// Header форматирует диапазон для заголовка Range
func (r Range) Header() string {
	switch {
	case r.Suffix > 0:
		return fmt.Sprintf("bytes=-%d", r.Suffix)
	case r.Length > 0:
		return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
	default:
		return fmt.Sprintf("bytes=%d-", r.Offset)
	}
}

// Resolve переводит диапазон в границы [start, end] для объекта размера size
func (r Range) Resolve(size int64) (start, end int64, err error) {
	if r.Suffix > 0 {
		if size == 0 {
			return 0, 0, ErrInvalidRange
		}
		start = size - r.Suffix
		if start < 0 {
			start = 0
		}
		return start, size - 1, nil
	}

	if r.Offset < 0 || r.Offset >= size {
		return 0, 0, ErrInvalidRange
	}
	end = size - 1
	if r.Length > 0 && r.Offset+r.Length-1 < end {
		end = r.Offset + r.Length - 1
	}
	return r.Offset, end, nil
}

// GetOptions: диапазон и условия запроса, передаются в хранилище как есть
type GetOptions struct {
	Range             *Range
	IfMatch           string
	IfNoneMatch       string
	IfModifiedSince   time.Time
	IfUnmodifiedSince time.Time
}

type Object struct {
	Body         io.ReadCloser
	Size         int64 // длина Body
	ContentType  string
	ETag         string
	LastModified time.Time
	ContentRange string // заполнено только для частичного ответа
}

func (o *Object) NotModified() bool {
	return o.Body == nil
}

func (o *Object) Partial() bool {
	return o.ContentRange != ""
}

// ContentRangeHeader формирует значение Content-Range
func ContentRangeHeader(start, end, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}

// QuoteETag приводит ETag к виду в кавычках, как его отдаёт S3
func QuoteETag(etag string) string {
	if etag == "" || strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return `"` + etag + `"`
}
