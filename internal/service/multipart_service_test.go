package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flarebin/internal/domain"
	"flarebin/internal/identity"
	"flarebin/internal/storage"
)

func newMultipart(f *fixture) *MultipartService {
	return NewMultipartService(f.files, f.objects, identity.NewGenerator())
}

func TestMultipart_FullFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mp := newMultipart(f)

	meta := domain.FileUpload{ID: "movie", TTL: 600, Filename: "movie.mp4", ContentType: "video/mp4"}
	started, err := mp.Start(ctx, meta)
	require.NoError(t, err)
	require.NotEmpty(t, started.UploadID)

	part1, err := mp.UploadPart(ctx, started.Key, started.UploadID, 1, strings.NewReader("first-"), 6)
	require.NoError(t, err)
	part2, err := mp.UploadPart(ctx, started.Key, started.UploadID, 2, strings.NewReader("second"), 6)
	require.NoError(t, err)

	// complete не знает тип содержимого: он берётся из загрузки
	commit := meta
	commit.ContentType = ""
	uploaded, err := mp.Complete(ctx, started.Key, started.UploadID, []domain.UploadedPart{*part1, *part2}, commit)
	require.NoError(t, err)
	assert.Equal(t, "movie", uploaded.ID)
	assert.Equal(t, int64(12), uploaded.Size)
	assert.Equal(t, started.Key, uploaded.Record.ObjectKey)
	assert.Equal(t, testNow+600, uploaded.Record.ExpireAt)

	download, err := f.files.OpenContent(ctx, "movie", "", storage.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first-second", readBody(t, download.Object))
	assert.Equal(t, "movie.mp4", download.Record.Filename)
	assert.Equal(t, "video/mp4", download.Record.ContentType)
}

func TestMultipart_DerivedID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mp := newMultipart(f)

	started, err := mp.Start(ctx, domain.FileUpload{Filename: "x.bin"})
	require.NoError(t, err)
	part, err := mp.UploadPart(ctx, started.Key, started.UploadID, 1, bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	uploaded, err := mp.Complete(ctx, started.Key, started.UploadID, []domain.UploadedPart{*part}, domain.FileUpload{Filename: "x.bin"})
	require.NoError(t, err)

	expected, err := identity.NewGenerator().DeriveID(started.Key)
	require.NoError(t, err)
	assert.Equal(t, expected, uploaded.ID)
}

func TestMultipart_StartRejectsTakenID(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "taken", 0, "")

	_, err := newMultipart(f).Start(context.Background(), domain.FileUpload{ID: "taken"})
	assert.ErrorIs(t, err, domain.ErrIDUnavailable)

	_, err = newMultipart(f).Start(context.Background(), domain.FileUpload{ID: "list"})
	assert.ErrorIs(t, err, domain.ErrIDUnavailable)
}

func TestMultipart_CompleteRemovesObjectWhenIDTaken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mp := newMultipart(f)

	meta := domain.FileUpload{ID: "race", Filename: "r"}
	started, err := mp.Start(ctx, meta)
	require.NoError(t, err)
	part, err := mp.UploadPart(ctx, started.Key, started.UploadID, 1, strings.NewReader("data"), 4)
	require.NoError(t, err)

	// пока шла загрузка, ID занял другой клиент
	f.seed(t, "race", 0, "")

	_, err = mp.Complete(ctx, started.Key, started.UploadID, []domain.UploadedPart{*part}, meta)
	assert.ErrorIs(t, err, domain.ErrIDUnavailable)
	assert.False(t, f.objects.Has(started.Key))
	assert.True(t, f.objects.Has("object-race"))
}

func TestMultipart_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mp := newMultipart(f)

	started, err := mp.Start(ctx, domain.FileUpload{})
	require.NoError(t, err)

	_, err = mp.UploadPart(ctx, started.Key, started.UploadID, 0, strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = mp.UploadPart(ctx, "not-a-uuid", started.UploadID, 1, strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = mp.UploadPart(ctx, started.Key, "", 1, strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = mp.Complete(ctx, started.Key, started.UploadID, nil, domain.FileUpload{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = mp.Complete(ctx, started.Key, started.UploadID, []domain.UploadedPart{{PartNumber: 1, ETag: `"x"`}}, domain.FileUpload{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMultipart_Abort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mp := newMultipart(f)

	started, err := mp.Start(ctx, domain.FileUpload{})
	require.NoError(t, err)

	require.NoError(t, mp.Abort(ctx, started.Key, started.UploadID))
	assert.ErrorIs(t, mp.Abort(ctx, started.Key, started.UploadID), domain.ErrNotFound)

	_, err = mp.UploadPart(ctx, started.Key, started.UploadID, 1, strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
