package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flarebin/internal/auth"
	"flarebin/internal/domain"
	"flarebin/internal/identity"
	"flarebin/internal/repository"
	"flarebin/internal/service"
	"flarebin/internal/storage"
)

const testNow int64 = 1_700_000_000

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	router  http.Handler
	store   *repository.MemoryStore
	objects *storage.MemoryStorage
	clock   *testClock
}

func newTestServer(t *testing.T, password string, opts Options) *testServer {
	t.Helper()

	if opts.MaxUploadSize == 0 {
		opts.MaxUploadSize = 1 << 20
	}

	ts := &testServer{
		store:   repository.NewMemoryStore(),
		objects: storage.NewMemoryStorage(),
		clock:   &testClock{now: time.Unix(testNow, 0)},
	}
	ids := identity.NewGenerator()
	files := service.NewFileService(ts.store, ts.objects, ids, service.WithClock(ts.clock.Now))
	sweeper := service.NewSweepService(files, ts.store, 0, 100)

	fileHandler := NewFileHandler(files, sweeper, opts)
	multipartHandler := NewMultipartHandler(service.NewMultipartService(files, ts.objects, ids), fileHandler)
	ts.router = NewRouter(zerolog.Nop(), auth.Config{Password: password}, fileHandler, multipartHandler)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// formUpload собирает multipart/form-data с одним файлом
func formUpload(t *testing.T, target, filename, contentType, content string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("comment", "ignored"))

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="a"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPostUpload_RoundTrip(t *testing.T) {
	ts := newTestServer(t, "", Options{DefaultTTL: 3600})

	rec := ts.do(formUpload(t, "/?id=hello&ttl=60", "notes.txt", "text/plain", "hello"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	expected := "Upload successful!\n\n" +
		"[URL] http://example.com/hello\n" +
		"[Filename] notes.txt\n" +
		"[Size] 5\n" +
		"[Expires at] 2023-11-14 22:14:20 (UTC)\n"
	assert.Equal(t, expected, rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/hello", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, `filename="notes.txt"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
}

func TestPostUpload_DerivedIDAndDefaultTTL(t *testing.T) {
	ts := newTestServer(t, "", Options{DefaultTTL: 3600, BaseURL: "https://bin.example.org/"})

	rec := ts.do(formUpload(t, "/?ttl=-1", "a.bin", "application/octet-stream", "xyz"))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "[URL] https://bin.example.org/")
	assert.Contains(t, body, "[Expires at] 2023-11-14 23:13:20 (UTC)")

	page, err := ts.store.List(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Len(t, page.Entries[0].ID, identity.DefaultIDLength)
	assert.Equal(t, testNow+3600, page.Entries[0].Summary.ExpireAt)
}

func TestPostUpload_Rejections(t *testing.T) {
	ts := newTestServer(t, "", Options{})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("raw"))
	req.Header.Set("Content-Type", "text/plain")
	rec := ts.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgUnsupportedUpload+"\n", rec.Body.String())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("text", "no file here"))
	require.NoError(t, mw.Close())
	req = httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = ts.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgNoFileUploaded+"\n", rec.Body.String())

	rec = ts.do(formUpload(t, "/?ttl=soon", "a", "text/plain", "x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid ttl")
}

func TestUpload_IDUnavailable(t *testing.T) {
	ts := newTestServer(t, "", Options{})

	rec := ts.do(formUpload(t, "/?id=taken", "a", "text/plain", "x"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(formUpload(t, "/?id=taken", "b", "text/plain", "y"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "File ID [taken] is not available.\n", rec.Body.String())

	for _, reserved := range []string{"list", "clean", "files", "multipart"} {
		rec = ts.do(formUpload(t, "/?id="+reserved, "c", "text/plain", "z"))
		assert.Equal(t, http.StatusBadRequest, rec.Code, reserved)
	}
}

func TestUpload_ExpiredIDIsReused(t *testing.T) {
	ts := newTestServer(t, "", Options{})

	require.Equal(t, http.StatusOK, ts.do(formUpload(t, "/?id=slot&ttl=10", "old", "text/plain", "old")).Code)
	ts.clock.Advance(10 * time.Second)

	rec := ts.do(formUpload(t, "/?id=slot&ttl=0", "new", "text/plain", "new"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "[Expires at] never")

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/slot", nil))
	assert.Equal(t, "new", rec.Body.String())
	assert.Equal(t, 1, ts.objects.Len())
}

func TestPutUpload(t *testing.T) {
	ts := newTestServer(t, "", Options{DefaultTTL: 60})

	req := httptest.NewRequest(http.MethodPut, "/report%20final.csv?id=query-id&token=s3cret", strings.NewReader("a,b\n1,2\n"))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set(headerFileID, "header-id")
	req.Header.Set(headerTTL, "0")
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "[URL] http://example.com/header-id?token=s3cret\n")
	assert.Contains(t, rec.Body.String(), "[Filename] report final.csv\n")
	assert.Contains(t, rec.Body.String(), "[Size] 8\n")
	assert.Contains(t, rec.Body.String(), "[Expires at] never\n")

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/header-id?token=s3cret", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "a,b\n1,2\n", rec.Body.String())
}

func TestPutUpload_TooLarge(t *testing.T) {
	ts := newTestServer(t, "", Options{MaxUploadSize: 4})

	rec := ts.do(httptest.NewRequest(http.MethodPut, "/big.bin", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, ts.store.Len())
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, "pw", Options{})

	rec := ts.do(formUpload(t, "/?id=secret", "a", "text/plain", "x"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, auth.Realm, rec.Header().Get("WWW-Authenticate"))

	req := formUpload(t, "/?id=secret", "a", "text/plain", "x")
	req.SetBasicAuth("", "pw")
	require.Equal(t, http.StatusOK, ts.do(req).Code)

	// скачивание не требует пароля
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, ts.do(httptest.NewRequest(http.MethodGet, "/list", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(httptest.NewRequest(http.MethodPost, "/clean", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(httptest.NewRequest(http.MethodDelete, "/secret", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(httptest.NewRequest(http.MethodPost, "/multipart/start", nil)).Code)
}

func TestDownload_Token(t *testing.T) {
	ts := newTestServer(t, "", Options{})
	require.Equal(t, http.StatusOK, ts.do(formUpload(t, "/?id=locked&token=t0k", "a", "text/plain", "payload")).Code)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/locked", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, msgForbidden+"\n", rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/locked?token=wrong", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/locked?token=t0k", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
}

func TestDownload_ExpiredWithoutSweep(t *testing.T) {
	ts := newTestServer(t, "", Options{})
	require.Equal(t, http.StatusOK, ts.do(formUpload(t, "/?id=brief&ttl=30", "a", "text/plain", "x")).Code)

	ts.clock.Advance(29 * time.Second)
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest(http.MethodGet, "/brief", nil)).Code)

	ts.clock.Advance(time.Second)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/brief", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, msgNotFound+"\n", rec.Body.String())
	assert.Equal(t, 0, ts.store.Len())
	assert.Equal(t, 0, ts.objects.Len())
}

func TestDownload_ObjectMissing(t *testing.T) {
	ts := newTestServer(t, "", Options{})
	record := &domain.FileRecord{ObjectKey: "nowhere", Filename: "x"}
	require.NoError(t, ts.store.Put(context.Background(), "orphan", record, record.Summary(1)))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/orphan", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, msgObjectMissing+"\n", rec.Body.String())
}

func TestDownload_RangeAndConditional(t *testing.T) {
	ts := newTestServer(t, "", Options{})
	require.Equal(t, http.StatusOK, ts.do(formUpload(t, "/?id=r&filename=quo%22te.txt", "digits.txt", "text/plain", "0123456789")).Code)

	req := httptest.NewRequest(http.MethodGet, "/r", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := ts.do(req)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())
	assert.Equal(t, "bytes 2-5/10", rec.Header().Get("Content-Range"))
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.Equal(t, `filename="quo\"te.txt"`, rec.Header().Get("Content-Disposition"))

	req = httptest.NewRequest(http.MethodGet, "/r", nil)
	req.Header.Set("Range", "bytes=-3")
	rec = ts.do(req)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "789", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/r", nil)
	req.Header.Set("Range", "bytes=50-")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, ts.do(req).Code)

	// несколько диапазонов не поддерживаются: отдаём файл целиком
	req = httptest.NewRequest(http.MethodGet, "/r", nil)
	req.Header.Set("Range", "bytes=0-1,4-5")
	rec = ts.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req = httptest.NewRequest(http.MethodGet, "/r", nil)
	req.Header.Set("If-None-Match", etag)
	rec = ts.do(req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/r", nil)
	req.Header.Set("If-Match", `"something-else"`)
	assert.Equal(t, http.StatusPreconditionFailed, ts.do(req).Code)
}

func TestDelete(t *testing.T) {
	ts := newTestServer(t, "", Options{})
	require.Equal(t, http.StatusOK, ts.do(formUpload(t, "/?id=doomed", "a", "text/plain", "x")).Code)

	rec := ts.do(httptest.NewRequest(http.MethodDelete, "/doomed", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, 0, ts.objects.Len())

	rec = ts.do(httptest.NewRequest(http.MethodDelete, "/doomed", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete_Expired(t *testing.T) {
	ts := newTestServer(t, "", Options{})
	require.Equal(t, http.StatusOK, ts.do(formUpload(t, "/?id=stale&ttl=5", "a", "text/plain", "x")).Code)
	ts.clock.Advance(time.Minute)

	rec := ts.do(httptest.NewRequest(http.MethodDelete, "/stale", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, ts.store.Len())
}

func TestListAndClean(t *testing.T) {
	ts := newTestServer(t, "", Options{})
	require.Equal(t, http.StatusOK, ts.do(formUpload(t, "/?id=keep&ttl=0", "keep.txt", "text/plain", "abc")).Code)
	require.Equal(t, http.StatusOK, ts.do(formUpload(t, "/?id=guarded&ttl=100&token=a%20b", "g.txt", "text/plain", "x")).Code)
	require.Equal(t, http.StatusOK, ts.do(formUpload(t, "/?id=short&ttl=10", "s.txt", "text/plain", "x")).Code)

	ts.clock.Advance(20 * time.Second)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/list", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Regexp(t, `^FILE ID\s+FILENAME\s+SIZE\s+EXPIRE AT \(UTC\)\s+URL$`, lines[0])
	assert.Regexp(t, `^guarded\s+g\.txt\s+1\s+2023-11-14 22:15:00\s+http://example\.com/guarded\?token=a\+b$`, lines[1])
	assert.Regexp(t, `^keep\s+keep\.txt\s+3\s+Never\s+http://example\.com/keep$`, lines[2])

	// истёкшая запись скрыта из листинга, но лежит до очистки
	assert.Equal(t, 3, ts.store.Len())

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/clean", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, 2, ts.store.Len())
	assert.Equal(t, 2, ts.objects.Len())
}

func TestMultipartUpload(t *testing.T) {
	ts := newTestServer(t, "", Options{})

	req := httptest.NewRequest(http.MethodPost, "/multipart/start?id=big&filename=big.iso&ttl=0", nil)
	req.Header.Set("Content-Type", "application/x-iso9660-image")
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var started domain.MultipartUpload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.Key)
	require.NotEmpty(t, started.UploadID)

	var parts []domain.UploadedPart
	for i, chunk := range []string{"part-one|", "part-two"} {
		target := "/multipart?key=" + started.Key + "&uploadId=" + started.UploadID + "&partNumber=" + strconv.Itoa(i+1)
		rec = ts.do(httptest.NewRequest(http.MethodPost, target, strings.NewReader(chunk)))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var part domain.UploadedPart
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &part))
		assert.Equal(t, i+1, part.PartNumber)
		parts = append(parts, part)
	}

	payload, err := json.Marshal(domain.CompleteMultipartRequest{Parts: parts})
	require.NoError(t, err)
	target := "/multipart/complete?key=" + started.Key + "&uploadId=" + started.UploadID + "&id=big&filename=big.iso&ttl=0"
	complete := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(payload))
	complete.Header.Set("Content-Type", "application/json")
	rec = ts.do(complete)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "[URL] http://example.com/big\n")
	assert.Contains(t, rec.Body.String(), "[Size] 17\n")

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/big", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "part-one|part-two", rec.Body.String())
	assert.Equal(t, "application/x-iso9660-image", rec.Header().Get("Content-Type"))
}

func TestMultipartUpload_Errors(t *testing.T) {
	ts := newTestServer(t, "", Options{})
	require.Equal(t, http.StatusOK, ts.do(formUpload(t, "/?id=taken", "a", "text/plain", "x")).Code)

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/multipart/start?id=taken", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "File ID [taken] is not available.\n", rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/multipart?key=k&uploadId=u&partNumber=x", strings.NewReader("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodPost,
		"/multipart?key=9b2f6f5e-8a0f-4d36-9a59-3c7b0c5c1f10&uploadId=unknown&partNumber=1", strings.NewReader("x")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/multipart/complete?key=k&uploadId=u", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMultipartAbort(t *testing.T) {
	ts := newTestServer(t, "", Options{})

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/multipart/start", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var started domain.MultipartUpload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	target := "/multipart/abort?key=" + started.Key + "&uploadId=" + started.UploadID
	assert.Equal(t, http.StatusNoContent, ts.do(httptest.NewRequest(http.MethodPost, target, nil)).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodPost, target, nil)).Code)
}

func TestUsage(t *testing.T) {
	ts := newTestServer(t, "pw", Options{DefaultTTL: 604800})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "files.local"
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), ">>> Flare Bin Usage <<<"))
	assert.Contains(t, rec.Body.String(), "'http://files.local/list'")
	assert.Contains(t, rec.Body.String(), "604800 seconds by default")
}
