package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"flarebin/internal/domain"
	"flarebin/internal/identity"
	"flarebin/internal/storage"
)

const maxPartNumber = 10000

// MultipartService ведёт загрузку по частям: части пишутся прямо в хранилище
// объектов, файл регистрируется только после успешного завершения.
type MultipartService struct {
	files   *FileService
	objects storage.Storage
	ids     *identity.Generator
}

func NewMultipartService(files *FileService, objects storage.Storage, ids *identity.Generator) *MultipartService {
	return &MultipartService{files: files, objects: objects, ids: ids}
}

// Start начинает загрузку. Явный ID проверяется сразу, чтобы клиент
// не загружал гигабайты ради отказа в конце.
func (s *MultipartService) Start(ctx context.Context, upload domain.FileUpload) (*domain.MultipartUpload, error) {
	if upload.ID != "" {
		if err := s.files.CheckAvailable(ctx, upload.ID); err != nil {
			return nil, err
		}
	}

	key, err := s.ids.NewObjectKey()
	if err != nil {
		return nil, err
	}

	uploadID, err := s.objects.CreateMultipartUpload(ctx, key, upload.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}

	log.Info().Str("object_key", key).Str("upload_id", uploadID).Msg("Multipart upload started")
	return &domain.MultipartUpload{Key: key, UploadID: uploadID}, nil
}

func (s *MultipartService) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (*domain.UploadedPart, error) {
	if err := validateUploadRef(key, uploadID); err != nil {
		return nil, err
	}
	if partNumber < 1 || partNumber > maxPartNumber {
		return nil, fmt.Errorf("%w: partNumber must be between 1 and %d", domain.ErrValidation, maxPartNumber)
	}

	etag, err := s.objects.UploadPart(ctx, uploadID, key, partNumber, body, size)
	if err != nil {
		return nil, mapMultipartError(err)
	}
	return &domain.UploadedPart{PartNumber: partNumber, ETag: etag}, nil
}

// Complete собирает объект и регистрирует файл. Если ID оказался занят,
// собранный объект удаляется.
func (s *MultipartService) Complete(ctx context.Context, key, uploadID string, parts []domain.UploadedPart, upload domain.FileUpload) (*domain.UploadedFile, error) {
	if err := validateUploadRef(key, uploadID); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: parts are required", domain.ErrValidation)
	}

	completedParts := make([]storage.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completedParts = append(completedParts, storage.CompletedPart{PartNumber: part.PartNumber, ETag: part.ETag})
	}

	completed, err := s.objects.CompleteMultipartUpload(ctx, uploadID, key, completedParts)
	if err != nil {
		return nil, mapMultipartError(err)
	}

	// Тип содержимого задаётся при старте, тело complete несёт только JSON
	upload.ContentType = completed.ContentType
	uploaded, err := s.files.CommitUpload(ctx, upload, completed.Key, completed.Size)
	if err != nil {
		if delErr := s.objects.DeleteObject(ctx, completed.Key); delErr != nil {
			objectDeleteFailuresTotal.Inc()
			log.Warn().Err(delErr).Str("object_key", completed.Key).Msg("Failed to delete unregistered multipart object")
		}
		return nil, err
	}
	return uploaded, nil
}

func (s *MultipartService) Abort(ctx context.Context, key, uploadID string) error {
	if err := validateUploadRef(key, uploadID); err != nil {
		return err
	}
	if err := s.objects.AbortMultipartUpload(ctx, uploadID, key); err != nil {
		return mapMultipartError(err)
	}
	log.Info().Str("object_key", key).Str("upload_id", uploadID).Msg("Multipart upload aborted")
	return nil
}

// validateUploadRef: ключ выдаёт Start, поэтому это всегда UUID
func validateUploadRef(key, uploadID string) error {
	if uploadID == "" {
		return fmt.Errorf("%w: uploadId is required", domain.ErrValidation)
	}
	if _, err := uuid.Parse(key); err != nil {
		return fmt.Errorf("%w: invalid key", domain.ErrValidation)
	}
	return nil
}

func mapMultipartError(err error) error {
	switch {
	case errors.Is(err, storage.ErrUploadNotFound):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case errors.Is(err, storage.ErrInvalidPart):
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
}
