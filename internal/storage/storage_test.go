package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/config"
)

var (
	pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	gifHeader = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00")
	pdfHeader = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
)

func newTestUploader(t *testing.T, maxSize int64) (*Uploader, *LocalStore) {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return NewUploader(store, &config.UploadConfig{
		MaxFileSize: maxSize,
		AllowedMIME: []string{"image/jpeg", "image/png", "image/gif"},
	}), store
}

func TestUploader_AcceptsImages(t *testing.T) {
	uploader, store := newTestUploader(t, 1<<20)
	ctx := context.Background()

	ref, err := uploader.Upload(ctx, bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "post-"))
	assert.True(t, strings.HasSuffix(ref, ".png"))

	path, cleanup, err := store.Open(ctx, ref)
	require.NoError(t, err)
	defer cleanup()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)

	ref, err = uploader.Upload(ctx, bytes.NewReader(gifHeader))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ref, ".gif"))
	assert.Equal(t, "/uploads/"+ref, store.URL(ref))
}

func TestUploader_RejectsOtherTypes(t *testing.T) {
	uploader, _ := newTestUploader(t, 1<<20)

	_, err := uploader.Upload(context.Background(), bytes.NewReader(pdfHeader))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = uploader.Upload(context.Background(), strings.NewReader("just some text"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestUploader_RejectsLargeFiles(t *testing.T) {
	uploader, _ := newTestUploader(t, 32)

	big := append(append([]byte{}, pngHeader...), make([]byte, 64)...)
	_, err := uploader.Upload(context.Background(), bytes.NewReader(big))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestLocalStore_OpenAndDelete(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Save(ctx, "post-abc.png", "image/png", bytes.NewReader(pngHeader))
	require.NoError(t, err)

	// Directory components in a ref are ignored.
	path, cleanup, err := store.Open(ctx, "../../"+ref)
	require.NoError(t, err)
	cleanup()
	assert.FileExists(t, path)

	require.NoError(t, store.Delete(ctx, ref))
	_, _, err = store.Open(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is fine.
	assert.NoError(t, store.Delete(ctx, ref))
}

func TestNewObjectName(t *testing.T) {
	a, err := NewObjectName("jpg")
	require.NoError(t, err)
	b, err := NewObjectName(".jpg")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(b, ".jpg"))
	assert.False(t, strings.Contains(b, "..jpg"))
}

// fakeBucket is a minimal path-style S3 endpoint.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		_, _ = w.Write(body)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeBucket) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func TestS3Store_RoundTrip(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}}
	server := httptest.NewServer(bucket)
	defer server.Close()

	store, err := NewS3Store(context.Background(), &config.S3Config{
		Endpoint:  server.URL,
		Region:    "auto",
		Bucket:    "media",
		AccessKey: "test",
		SecretKey: "secret",
		PathStyle: true,
	}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Save(ctx, "post-xyz.gif", "image/gif", bytes.NewReader(gifHeader))
	require.NoError(t, err)
	assert.Equal(t, "post-xyz.gif", ref)
	assert.True(t, bucket.has("media/post-xyz.gif"))

	path, cleanup, err := store.Open(ctx, ref)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, gifHeader, data)
	cleanup()
	assert.NoFileExists(t, path)

	assert.Equal(t, server.URL+"/media/post-xyz.gif", store.URL(ref))

	require.NoError(t, store.Delete(ctx, ref))
	assert.False(t, bucket.has("media/post-xyz.gif"))
}
