package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage: хранилище поверх minio-go. Core нужен для ручного
// управления загрузкой по частям: обычный клиент делит поток на части сам.
type MinioStorage struct {
	core   *minio.Core
	bucket string
}

func NewMinioStorage(ctx context.Context, conf *MinioConfig) (*MinioStorage, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	core, err := minio.NewCore(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	exists, err := core.BucketExists(ctx, conf.Bucket)
	if err != nil {
		return nil, fmt.Errorf("unable to access bucket %s: %w", conf.Bucket, err)
	}
	if !exists {
		if err := core.MakeBucket(ctx, conf.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", conf.Bucket, err)
		}
	}

	return &MinioStorage{core: core, bucket: conf.Bucket}, nil
}

func (s *MinioStorage) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if key == "" || body == nil {
		return fmt.Errorf("key and body are required")
	}

	// size == -1 допустим: клиент загрузит поток частями
	_, err := s.core.Client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentTypeOrDefault(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

func (s *MinioStorage) GetObject(ctx context.Context, key string, opts GetOptions) (*Object, error) {
	getOpts := minio.GetObjectOptions{}
	if opts.Range != nil {
		getOpts.Set("Range", opts.Range.Header())
	}
	if opts.IfMatch != "" {
		getOpts.Set("If-Match", opts.IfMatch)
	}
	if opts.IfNoneMatch != "" {
		getOpts.Set("If-None-Match", opts.IfNoneMatch)
	}
	if !opts.IfModifiedSince.IsZero() {
		getOpts.Set("If-Modified-Since", opts.IfModifiedSince.UTC().Format(http.TimeFormat))
	}
	if !opts.IfUnmodifiedSince.IsZero() {
		getOpts.Set("If-Unmodified-Since", opts.IfUnmodifiedSince.UTC().Format(http.TimeFormat))
	}

	// Core.GetObject выполняет запрос сразу, поэтому статусы 304/412/416 видны здесь
	body, info, header, err := s.core.GetObject(ctx, s.bucket, key, getOpts)
	if err != nil {
		mapped := mapMinioError(err)
		if mapped == errNotModified {
			// ETag объекта ответ с ошибкой не несёт, а If-None-Match клиента в заголовок не годится
			return &Object{}, nil
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, mapped)
	}

	return &Object{
		Body:         body,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         QuoteETag(info.ETag),
		LastModified: info.LastModified,
		ContentRange: header.Get("Content-Range"),
	}, nil
}

func (s *MinioStorage) DeleteObject(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	err := s.core.Client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !errors.Is(mapMinioError(err), ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (s *MinioStorage) CreateMultipartUpload(ctx context.Context, key string, contentType string) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{
		ContentType: contentTypeOrDefault(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", err)
	}
	return uploadID, nil
}

func (s *MinioStorage) UploadPart(ctx context.Context, uploadID string, key string, partNumber int, body io.Reader, size int64) (string, error) {
	part, err := s.core.PutObjectPart(ctx, s.bucket, key, uploadID, partNumber, body, size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d: %w", partNumber, mapMinioError(err))
	}
	return QuoteETag(part.ETag), nil
}

func (s *MinioStorage) CompleteMultipartUpload(ctx context.Context, uploadID string, key string, parts []CompletedPart) (*CompletedObject, error) {
	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, part := range parts {
		completeParts = append(completeParts, minio.CompletePart{
			PartNumber: part.PartNumber,
			ETag:       part.ETag,
		})
	}

	info, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload: %w", mapMinioError(err))
	}

	stat, err := s.core.Client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to stat completed object %s: %w", key, mapMinioError(err))
	}

	return &CompletedObject{
		Key:         key,
		Size:        stat.Size,
		ETag:        QuoteETag(info.ETag),
		ContentType: contentTypeOrDefault(stat.ContentType),
	}, nil
}

func (s *MinioStorage) AbortMultipartUpload(ctx context.Context, uploadID string, key string) error {
	if err := s.core.AbortMultipartUpload(ctx, s.bucket, key, uploadID); err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", mapMinioError(err))
	}
	return nil
}

func mapMinioError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey":
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	case resp.Code == "NoSuchUpload":
		return fmt.Errorf("%w: %v", ErrUploadNotFound, err)
	case resp.Code == "InvalidPart" || resp.Code == "InvalidPartOrder":
		return fmt.Errorf("%w: %v", ErrInvalidPart, err)
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		return errNotModified
	case http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
	case http.StatusRequestedRangeNotSatisfiable:
		return fmt.Errorf("%w: %v", ErrInvalidRange, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
