package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verawat1234/tchat-sub013/internal/core/ports"
)

var (
	_ ports.ObjectStorage = (*FileStorage)(nil)
	_ ports.ObjectStorage = (*S3Storage)(nil)
)

func TestApplyPrefix(t *testing.T) {
	tests := []struct {
		prefix, key, want string
	}{
		{"", "recordings/s1/index.m3u8", "recordings/s1/index.m3u8"},
		{"live", "recordings/s1/index.m3u8", "live/recordings/s1/index.m3u8"},
		{"/live/", "/recordings/x", "live/recordings/x"},
		{"live", "live/recordings/x", "live/recordings/x"},
		{"live", "", "live"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, applyPrefix(tt.prefix, tt.key), "prefix=%q key=%q", tt.prefix, tt.key)
	}
}

func TestFileStorage(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir, "vod", "https://cdn.example.com/")
	require.NoError(t, err)
	ctx := context.Background()

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	body := []byte("#EXTM3U\n")
	require.NoError(t, s.Put(ctx, "recordings/s1/20240101T000000Z/index.m3u8", bytes.NewReader(body), int64(len(body)), "application/vnd.apple.mpegurl", expires))

	path := filepath.Join(dir, "vod", "recordings", "s1", "20240101T000000Z", "index.m3u8")
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(expires))

	assert.Equal(t, "https://cdn.example.com/vod/recordings/s1/index.m3u8", s.PublicURL("recordings/s1/index.m3u8"))

	require.NoError(t, s.Delete(ctx, "recordings/s1/20240101T000000Z/index.m3u8"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, s.Delete(ctx, "recordings/s1/20240101T000000Z/index.m3u8"), "deleting a missing object is not an error")
}

func TestFileStorage_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFileStorage(t.TempDir(), "", "")
	require.NoError(t, err)

	for _, key := range []string{"../etc/passwd", "a/../../b", "/"} {
		err := s.Put(context.Background(), key, strings.NewReader("x"), 1, "", time.Time{})
		assert.Error(t, err, key)
	}
}

func TestFileStorage_SizeMismatch(t *testing.T) {
	s, err := NewFileStorage(t.TempDir(), "", "")
	require.NoError(t, err)

	err = s.Put(context.Background(), "a.ts", strings.NewReader("abc"), 10, "video/mp2t", time.Time{})
	assert.Error(t, err)
}

type s3Request struct {
	method  string
	path    string
	body    string
	expires string
	tagging string
	ctype   string
}

// fakeS3 answers PutObject and DeleteObject for a path-style bucket.
func fakeS3(t *testing.T) (*httptest.Server, func() []s3Request) {
	var (
		mu       sync.Mutex
		requests []s3Request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, s3Request{
			method:  r.Method,
			path:    r.URL.Path,
			body:    string(body),
			expires: r.Header.Get("Expires"),
			tagging: r.Header.Get("X-Amz-Tagging"),
			ctype:   r.Header.Get("Content-Type"),
		})
		mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	return srv, func() []s3Request {
		mu.Lock()
		defer mu.Unlock()
		return append([]s3Request(nil), requests...)
	}
}

func TestS3Storage(t *testing.T) {
	srv, requests := fakeS3(t)
	ctx := context.Background()

	s, err := NewS3Storage(ctx, S3Config{
		Bucket:    "media",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "test",
		SecretKey: "test",
		PathStyle: true,
		Prefix:    "live",
	})
	require.NoError(t, err)

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	payload := []byte("segment-bytes")
	require.NoError(t, s.Put(ctx, "recordings/s1/seg_00001.ts", bytes.NewReader(payload), int64(len(payload)), "video/mp2t", expires))
	require.NoError(t, s.Delete(ctx, "recordings/s1/seg_00001.ts"))

	reqs := requests()
	require.Len(t, reqs, 2)

	put := reqs[0]
	assert.Equal(t, http.MethodPut, put.method)
	assert.Equal(t, "/media/live/recordings/s1/seg_00001.ts", put.path)
	assert.Equal(t, string(payload), put.body)
	assert.Equal(t, "video/mp2t", put.ctype)
	assert.Contains(t, put.expires, "2030")
	assert.Equal(t, "expires-at=2030-01-01T00%3A00%3A00Z", put.tagging)

	assert.Equal(t, http.MethodDelete, reqs[1].method)
	assert.Equal(t, "/media/live/recordings/s1/seg_00001.ts", reqs[1].path)
}

func TestS3Storage_PublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{
			name: "cdn base",
			cfg:  S3Config{Bucket: "media", PublicURL: "https://cdn.example.com", Prefix: "live"},
			want: "https://cdn.example.com/live/recordings/s1/index.m3u8",
		},
		{
			name: "custom endpoint",
			cfg:  S3Config{Bucket: "media", Endpoint: "http://minio:9000/"},
			want: "http://minio:9000/media/recordings/s1/index.m3u8",
		},
		{
			name: "aws bucket url",
			cfg:  S3Config{Bucket: "media", Region: "eu-west-1"},
			want: "https://media.s3.eu-west-1.amazonaws.com/recordings/s1/index.m3u8",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewS3StorageWithClient(nil, tt.cfg)
			assert.Equal(t, tt.want, s.PublicURL("recordings/s1/index.m3u8"))
		})
	}
}
