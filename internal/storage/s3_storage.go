package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultChunkSize = 5 * 1024 * 1024 // 5MB
	defaultRegion    = "us-east-1"
)

// S3Storage работает с любым S3-совместимым хранилищем через aws-sdk-go-v2
type S3Storage struct {
	client *s3.Client
	bucket string
}

func NewS3Storage(ctx context.Context, conf *S3Config) (*S3Storage, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		conf.AccessKeyID,
		conf.SecretAccessKey,
		"",
	))

	region := conf.Region
	if region == "" {
		region = defaultRegion
	}

	client := s3.New(s3.Options{
		Region:           region,
		Credentials:      creds,
		UsePathStyle:     conf.UsePathStyle,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
	}, func(o *s3.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
		}
	})

	storage := &S3Storage{client: client, bucket: conf.Bucket}

	// Проверяем доступ к бакету при старте
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(conf.Bucket)}); err != nil {
		return nil, fmt.Errorf("unable to access bucket %s: %w", conf.Bucket, err)
	}

	return storage, nil
}

func (s *S3Storage) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if key == "" || body == nil {
		return fmt.Errorf("key and body are required")
	}

	reader, length, err := seekableBody(body, size)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(length),
		ContentType:   aws.String(contentTypeOrDefault(contentType)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) GetObject(ctx context.Context, key string, opts GetOptions) (*Object, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if opts.Range != nil {
		input.Range = aws.String(opts.Range.Header())
	}
	if opts.IfMatch != "" {
		input.IfMatch = aws.String(opts.IfMatch)
	}
	if opts.IfNoneMatch != "" {
		input.IfNoneMatch = aws.String(opts.IfNoneMatch)
	}
	if !opts.IfModifiedSince.IsZero() {
		input.IfModifiedSince = aws.Time(opts.IfModifiedSince)
	}
	if !opts.IfUnmodifiedSince.IsZero() {
		input.IfUnmodifiedSince = aws.Time(opts.IfUnmodifiedSince)
	}

	result, err := s.client.GetObject(ctx, input)
	if err != nil {
		mapped := mapS3Error(err)
		if mapped == errNotModified {
			return &Object{ETag: notModifiedETag(err)}, nil
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, mapped)
	}

	log.Debug().Str("object_key", key).Str("range", aws.ToString(input.Range)).Msg("S3 stream started")

	return &Object{
		Body:         result.Body,
		Size:         aws.ToInt64(result.ContentLength),
		ContentType:  aws.ToString(result.ContentType),
		ETag:         aws.ToString(result.ETag),
		LastModified: aws.ToTime(result.LastModified),
		ContentRange: aws.ToString(result.ContentRange),
	}, nil
}

// DeleteObject: S3 отвечает успехом и на отсутствующий ключ
func (s *S3Storage) DeleteObject(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if errors.Is(mapS3Error(err), ErrObjectNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) CreateMultipartUpload(ctx context.Context, key string, contentType string) (string, error) {
	result, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentTypeOrDefault(contentType)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", err)
	}
	return aws.ToString(result.UploadId), nil
}

func (s *S3Storage) UploadPart(ctx context.Context, uploadID string, key string, partNumber int, body io.Reader, size int64) (string, error) {
	reader, length, err := seekableBody(body, size)
	if err != nil {
		return "", err
	}

	result, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		PartNumber:    aws.Int32(int32(partNumber)),
		UploadId:      aws.String(uploadID),
		Body:          reader,
		ContentLength: aws.Int64(length),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d: %w", partNumber, mapS3Error(err))
	}
	return aws.ToString(result.ETag), nil
}

func (s *S3Storage) CompleteMultipartUpload(ctx context.Context, uploadID string, key string, parts []CompletedPart) (*CompletedObject, error) {
	completedParts := make([]types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completedParts = append(completedParts, types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.PartNumber)),
		})
	}

	result, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload: %w", mapS3Error(err))
	}

	// Размер и тип итогового объекта ответ не содержит
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat completed object %s: %w", key, mapS3Error(err))
	}

	return &CompletedObject{
		Key:         key,
		Size:        aws.ToInt64(head.ContentLength),
		ETag:        aws.ToString(result.ETag),
		ContentType: contentTypeOrDefault(aws.ToString(head.ContentType)),
	}, nil
}

func (s *S3Storage) AbortMultipartUpload(ctx context.Context, uploadID string, key string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", mapS3Error(err))
	}
	return nil
}

var errNotModified = errors.New("not modified")

// notModifiedETag: ETag объекта из ответа 304. If-None-Match клиента
// может быть "*" или списком, поэтому его не возвращаем.
func notModifiedETag(err error) string {
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.Header.Get("ETag")
	}
	return ""
}

// mapS3Error переводит ответы S3 в ошибки пакета, исходная ошибка сохраняется в цепочке
func mapS3Error(err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	var nsu *types.NoSuchUpload
	if errors.As(err, &nsu) {
		return fmt.Errorf("%w: %v", ErrUploadNotFound, err)
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		switch status.HTTPStatusCode() {
		case http.StatusNotModified:
			return errNotModified
		case http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
		case http.StatusRequestedRangeNotSatisfiable:
			return fmt.Errorf("%w: %v", ErrInvalidRange, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
		}
	}
	return err
}

// seekableBody буферизует тело, если его нельзя перемотать:
// SDK подписывает запрос и при повторе читает тело заново
func seekableBody(body io.Reader, size int64) (io.ReadSeeker, int64, error) {
	if rs, ok := body.(io.ReadSeeker); ok && size >= 0 {
		return rs, size, nil
	}

	capacity := int64(defaultChunkSize)
	if size > 0 && size < capacity {
		capacity = size
	}
	buf := bytes.NewBuffer(make([]byte, 0, capacity))
	if _, err := io.Copy(buf, body); err != nil {
		return nil, 0, fmt.Errorf("failed to read body: %w", err)
	}
	return bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil
}

func contentTypeOrDefault(contentType string) string {
	if contentType == "" {
		return DefaultContentType
	}
	return contentType
}
