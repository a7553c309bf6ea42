package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/staffdrive/staffdrive/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The registry is process-global and write-once, so every test here runs
// with metrics enabled.
func init() {
	InitRegistry()
}

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInitRegistryIdempotent(t *testing.T) {
	reg := GetRegistry()
	InitRegistry()
	assert.Same(t, reg, GetRegistry())
	assert.True(t, IsEnabled())
}

func TestVFSMetrics(t *testing.T) {
	m := NewVFSMetrics()

	m.ObserveOperation("list", 20*time.Millisecond, nil)
	m.ObserveOperation("delete_file", time.Millisecond, &vfs.Error{Code: vfs.NotFound})
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.SetCacheEntries(3)
	m.RecordInvalidation()
	m.RecordLinkFailure()

	out := scrape(t)
	assert.Contains(t, out, `staffdrive_vfs_operations_total{code="",operation="list",status="success"} 1`)
	assert.Contains(t, out, `staffdrive_vfs_operations_total{code="not_found",operation="delete_file",status="error"} 1`)
	assert.Contains(t, out, `staffdrive_listing_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, out, `staffdrive_listing_cache_entries 3`)
	assert.Contains(t, out, `staffdrive_link_failures_total 1`)
}

func TestHTTPMetrics(t *testing.T) {
	m := NewHTTPMetrics()

	m.RecordRequestStart()
	m.RecordRequest("/api/files", http.MethodGet, http.StatusOK, 5*time.Millisecond)
	m.RecordRequest("/api/files", http.MethodGet, http.StatusNotFound, time.Millisecond)
	m.RecordRequestEnd()
	m.RecordBytesTransferred("out", 128)

	out := scrape(t)
	assert.Contains(t, out, `staffdrive_http_requests_total{method="GET",route="/api/files",status="2xx"} 1`)
	assert.Contains(t, out, `staffdrive_http_requests_total{method="GET",route="/api/files",status="4xx"} 1`)
	assert.Contains(t, out, `staffdrive_http_requests_in_flight 0`)
	assert.Contains(t, out, `staffdrive_http_bytes_transferred_total{direction="out"} 128`)
}

func TestS3Metrics(t *testing.T) {
	m := NewS3Metrics()
	require.NotNil(t, m)

	m.ObserveOperation("PutObject", 30*time.Millisecond, nil)
	m.ObserveOperation("GetObject", 30*time.Millisecond, errors.New("timeout"))
	m.RecordBytes("write", 42)

	out := scrape(t)
	assert.Contains(t, out, `staffdrive_s3_operations_total{operation="PutObject",status="success"} 1`)
	assert.Contains(t, out, `staffdrive_s3_operations_total{operation="GetObject",status="error"} 1`)
	assert.Contains(t, out, `staffdrive_s3_bytes_transferred_total{direction="write"} 42`)
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{200: "2xx", 201: "2xx", 302: "3xx", 400: "4xx", 404: "4xx", 502: "5xx", 503: "5xx"}
	for code, want := range tests {
		assert.Equal(t, want, statusLabel(code), "status %d", code)
	}
}

func TestHandlerIndex(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "/metrics"))

	rec = httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerStopIdempotent(t *testing.T) {
	s := NewServer(ServerConfig{})
	assert.Equal(t, 9090, s.Port())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
	assert.NoError(t, s.Stop(ctx))
}
