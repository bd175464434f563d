package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioUser     = "flarebin"
	minioPassword = "flarebin-secret"
)

// startMinio поднимает MinIO; оба адаптера проверяются на одном сервере
func startMinio(t *testing.T) string {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION is not set")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)
	return endpoint
}

func exerciseStorage(t *testing.T, s Storage) {
	ctx := context.Background()
	key := fmt.Sprintf("it-%d", time.Now().UnixNano())

	_, err := s.GetObject(ctx, key, GetOptions{})
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, s.PutObject(ctx, key, strings.NewReader("0123456789"), 10, "text/plain"))

	obj, err := s.GetObject(ctx, key, GetOptions{})
	require.NoError(t, err)
	data, err := io.ReadAll(obj.Body)
	obj.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, "text/plain", obj.ContentType)
	require.NotEmpty(t, obj.ETag)

	obj, err = s.GetObject(ctx, key, GetOptions{Range: &Range{Offset: 2, Length: 3}})
	require.NoError(t, err)
	data, err = io.ReadAll(obj.Body)
	obj.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "234", string(data))
	assert.Equal(t, "bytes 2-4/10", obj.ContentRange)

	notModified, err := s.GetObject(ctx, key, GetOptions{IfNoneMatch: obj.ETag})
	require.NoError(t, err)
	assert.True(t, notModified.NotModified())

	for _, condition := range []string{"*", `"other", ` + obj.ETag} {
		notModified, err = s.GetObject(ctx, key, GetOptions{IfNoneMatch: condition})
		require.NoError(t, err)
		assert.True(t, notModified.NotModified())
		assert.NotEqual(t, condition, notModified.ETag)
	}

	_, err = s.GetObject(ctx, key, GetOptions{IfMatch: `"does-not-match"`})
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	require.NoError(t, s.DeleteObject(ctx, key))
	require.NoError(t, s.DeleteObject(ctx, key))

	// загрузка по частям: первая часть должна быть не меньше 5 МБ
	big := key + "-multipart"
	uploadID, err := s.CreateMultipartUpload(ctx, big, "application/octet-stream")
	require.NoError(t, err)

	first := bytes.Repeat([]byte("a"), MinPartSize)
	etag1, err := s.UploadPart(ctx, uploadID, big, 1, bytes.NewReader(first), int64(len(first)))
	require.NoError(t, err)
	etag2, err := s.UploadPart(ctx, uploadID, big, 2, strings.NewReader("tail"), 4)
	require.NoError(t, err)

	completed, err := s.CompleteMultipartUpload(ctx, uploadID, big, []CompletedPart{
		{PartNumber: 1, ETag: etag1},
		{PartNumber: 2, ETag: etag2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(MinPartSize+4), completed.Size)

	aborted, err := s.CreateMultipartUpload(ctx, big+"-aborted", "")
	require.NoError(t, err)
	require.NoError(t, s.AbortMultipartUpload(ctx, aborted, big+"-aborted"))

	require.NoError(t, s.DeleteObject(ctx, big))
}

func TestMinioStorage_Integration(t *testing.T) {
	endpoint := startMinio(t)

	s, err := NewMinioStorage(context.Background(), &MinioConfig{
		Endpoint:  endpoint,
		AccessKey: minioUser,
		SecretKey: minioPassword,
		Bucket:    "flarebin-minio",
	})
	require.NoError(t, err)
	exerciseStorage(t, s)
}

func TestS3Storage_Integration(t *testing.T) {
	endpoint := startMinio(t)

	// бакет создаём через MinIO-адаптер: S3Storage только проверяет доступ
	_, err := NewMinioStorage(context.Background(), &MinioConfig{
		Endpoint:  endpoint,
		AccessKey: minioUser,
		SecretKey: minioPassword,
		Bucket:    "flarebin-s3",
	})
	require.NoError(t, err)

	s, err := NewS3Storage(context.Background(), &S3Config{
		Endpoint:        "http://" + endpoint,
		Region:          "us-east-1",
		AccessKeyID:     minioUser,
		SecretAccessKey: minioPassword,
		Bucket:          "flarebin-s3",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	exerciseStorage(t, s)
}
