package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryObject struct {
	data         []byte
	contentType  string
	etag         string
	lastModified time.Time
}

type memoryUpload struct {
	key         string
	contentType string
	parts       map[int][]byte
}

// MemoryStorage хранит объекты в памяти процесса и повторяет
// семантику S3 для диапазонов и условных запросов
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	uploads map[string]*memoryUpload
	now     func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]memoryObject),
		uploads: make(map[string]*memoryUpload),
		now:     time.Now,
	}
}

func (s *MemoryStorage) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if key == "" || body == nil {
		return fmt.Errorf("key and body are required")
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("body length %d does not match declared size %d", len(data), size)
	}

	s.store(key, data, contentType)
	return nil
}

func (s *MemoryStorage) store(key string, data []byte, contentType string) memoryObject {
	sum := md5.Sum(data)
	obj := memoryObject{
		data:         data,
		contentType:  contentTypeOrDefault(contentType),
		etag:         QuoteETag(hex.EncodeToString(sum[:])),
		lastModified: s.now().UTC().Truncate(time.Second),
	}

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()
	return obj
}

func (s *MemoryStorage) GetObject(ctx context.Context, key string, opts GetOptions) (*Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("failed to get object %s: %w", key, ErrObjectNotFound)
	}

	// Порядок проверок как в RFC 7232, раздел 6
	if opts.IfMatch != "" && !etagMatches(opts.IfMatch, obj.etag) {
		return nil, ErrPreconditionFailed
	}
	if opts.IfMatch == "" && !opts.IfUnmodifiedSince.IsZero() && obj.lastModified.After(opts.IfUnmodifiedSince) {
		return nil, ErrPreconditionFailed
	}
	if opts.IfNoneMatch != "" && etagMatches(opts.IfNoneMatch, obj.etag) {
		return &Object{ETag: obj.etag, LastModified: obj.lastModified}, nil
	}
	if opts.IfNoneMatch == "" && !opts.IfModifiedSince.IsZero() && !obj.lastModified.After(opts.IfModifiedSince) {
		return &Object{ETag: obj.etag, LastModified: obj.lastModified}, nil
	}

	result := &Object{
		ContentType:  obj.contentType,
		ETag:         obj.etag,
		LastModified: obj.lastModified,
	}

	data := obj.data
	if opts.Range != nil {
		total := int64(len(obj.data))
		start, end, err := opts.Range.Resolve(total)
		if err != nil {
			return nil, err
		}
		data = obj.data[start : end+1]
		result.ContentRange = ContentRangeHeader(start, end, total)
	}

	result.Body = io.NopCloser(bytes.NewReader(data))
	result.Size = int64(len(data))
	return result, nil
}

func (s *MemoryStorage) DeleteObject(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) CreateMultipartUpload(ctx context.Context, key string, contentType string) (string, error) {
	uploadID := uuid.NewString()

	s.mu.Lock()
	s.uploads[uploadID] = &memoryUpload{
		key:         key,
		contentType: contentType,
		parts:       make(map[int][]byte),
	}
	s.mu.Unlock()
	return uploadID, nil
}

func (s *MemoryStorage) UploadPart(ctx context.Context, uploadID string, key string, partNumber int, body io.Reader, size int64) (string, error) {
	if partNumber < 1 || partNumber > 10000 {
		return "", fmt.Errorf("part number %d: %w", partNumber, ErrInvalidPart)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read part %d: %w", partNumber, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	upload, ok := s.uploads[uploadID]
	if !ok || upload.key != key {
		return "", ErrUploadNotFound
	}
	upload.parts[partNumber] = data

	sum := md5.Sum(data)
	return QuoteETag(hex.EncodeToString(sum[:])), nil
}

func (s *MemoryStorage) CompleteMultipartUpload(ctx context.Context, uploadID string, key string, parts []CompletedPart) (*CompletedObject, error) {
	s.mu.Lock()
	upload, ok := s.uploads[uploadID]
	if !ok || upload.key != key {
		s.mu.Unlock()
		return nil, ErrUploadNotFound
	}

	if len(parts) == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("no parts: %w", ErrInvalidPart)
	}
	if !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber }) {
		s.mu.Unlock()
		return nil, fmt.Errorf("parts must be in ascending order: %w", ErrInvalidPart)
	}

	var buf bytes.Buffer
	for _, part := range parts {
		data, ok := upload.parts[part.PartNumber]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("part %d was not uploaded: %w", part.PartNumber, ErrInvalidPart)
		}
		sum := md5.Sum(data)
		if !etagMatches(part.ETag, hex.EncodeToString(sum[:])) {
			s.mu.Unlock()
			return nil, fmt.Errorf("part %d etag mismatch: %w", part.PartNumber, ErrInvalidPart)
		}
		buf.Write(data)
	}
	delete(s.uploads, uploadID)
	contentType := upload.contentType
	s.mu.Unlock()

	obj := s.store(key, buf.Bytes(), contentType)
	return &CompletedObject{Key: key, Size: int64(len(obj.data)), ETag: obj.etag, ContentType: obj.contentType}, nil
}

func (s *MemoryStorage) AbortMultipartUpload(ctx context.Context, uploadID string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	upload, ok := s.uploads[uploadID]
	if !ok || upload.key != key {
		return ErrUploadNotFound
	}
	delete(s.uploads, uploadID)
	return nil
}

// Has сообщает, есть ли объект с таким ключом
func (s *MemoryStorage) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

// Len: количество объектов
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// etagMatches сравнивает список ETag из заголовка с ETag объекта, "*" совпадает с любым
func etagMatches(header, etag string) bool {
	want := strings.Trim(strings.TrimPrefix(etag, "W/"), `"`)
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.Trim(strings.TrimPrefix(candidate, "W/"), `"`) == want {
			return true
		}
	}
	return false
}
