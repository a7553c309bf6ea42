package api

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *testServer) sendChunk(t *testing.T, token, fileID, fileName, path string, index, total int, data []byte) int {
	t.Helper()
	rec := s.multipartForm(t, "/api/upload/chunk", token, "chunk", "blob", data, map[string]string{
		"fileId":      fileID,
		"fileName":    fileName,
		"chunkIndex":  strconv.Itoa(index),
		"totalChunks": strconv.Itoa(total),
		"path":        path,
	})
	return rec.Code
}

func TestChunkedUpload(t *testing.T) {
	s := newTestServer(t, Config{})
	token := s.login(t, adaID)

	parts := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}

	// Chunks may arrive in any order.
	for _, i := range []int{2, 0, 1} {
		require.Equal(t, http.StatusOK, s.sendChunk(t, token, "up-1", "video.mp4", "", i, len(parts), parts[i]))
	}
	assert.Equal(t, 1, s.api.chunks.pending())

	rec := s.do(t, http.MethodPost, "/api/upload/finalize", token, map[string]string{
		"fileId": "up-1", "fileName": "video.mp4",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[fileResponse](t, rec)
	require.True(t, resp.Success)
	require.NotNil(t, resp.File)
	assert.Equal(t, adaID+"/video.mp4", resp.File.Path)
	assert.Equal(t, int64(len("first-second-third")), resp.File.Size)
	assert.Equal(t, 0, s.api.chunks.pending())

	link, err := url.Parse(resp.File.SecureURL)
	require.NoError(t, err)
	dl := s.do(t, http.MethodGet, link.Path, "", nil)
	require.Equal(t, http.StatusOK, dl.Code)
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "first-second-third", string(body))
}

func TestChunkedUpload_ConcurrentChunks(t *testing.T) {
	s := newTestServer(t, Config{})
	token := s.login(t, adaID)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/files", token, nil).Code)

	const total = 8
	var wg sync.WaitGroup
	codes := make([]int, total)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = s.sendChunk(t, token, "par", "data.bin", "", i, total, bytes.Repeat([]byte{byte('a' + i)}, 4))
		}(i)
	}
	wg.Wait()
	for i, c := range codes {
		require.Equal(t, http.StatusOK, c, "chunk %d", i)
	}

	rec := s.do(t, http.MethodPost, "/api/upload/finalize", token, map[string]string{
		"fileId": "par", "fileName": "data.bin",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(4*total), decode[fileResponse](t, rec).File.Size)
}

func TestChunkedUpload_Incomplete(t *testing.T) {
	s := newTestServer(t, Config{})
	token := s.login(t, adaID)

	require.Equal(t, http.StatusOK, s.sendChunk(t, token, "up-2", "a.txt", "", 0, 2, []byte("a")))

	rec := s.do(t, http.MethodPost, "/api/upload/finalize", token, map[string]string{
		"fileId": "up-2", "fileName": "a.txt",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "incomplete upload: received 1/2 chunks", errorOf(t, rec))

	// The session survives and can be completed.
	require.Equal(t, http.StatusOK, s.sendChunk(t, token, "up-2", "a.txt", "", 1, 2, []byte("b")))
	rec = s.do(t, http.MethodPost, "/api/upload/finalize", token, map[string]string{
		"fileId": "up-2", "fileName": "a.txt",
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestChunkedUpload_Errors(t *testing.T) {
	s := newTestServer(t, Config{MaxChunks: 4})
	ada := s.login(t, adaID)
	bob := s.login(t, bobID)

	assert.Equal(t, http.StatusBadRequest, s.sendChunk(t, ada, "", "a.txt", "", 0, 1, []byte("a")), "missing fileId")
	assert.Equal(t, http.StatusBadRequest, s.sendChunk(t, ada, "e", "a.txt", "", 3, 2, []byte("a")), "index past total")
	assert.Equal(t, http.StatusBadRequest, s.sendChunk(t, ada, "e", "a.txt", "", -1, 2, []byte("a")), "negative index")
	assert.Equal(t, http.StatusBadRequest, s.sendChunk(t, ada, "e", "a.txt", "", 0, 5, []byte("a")), "too many chunks")
	assert.Equal(t, http.StatusForbidden, s.sendChunk(t, ada, "e", "a.txt", "../x", 0, 1, []byte("a")), "escaping path")

	require.Equal(t, http.StatusOK, s.sendChunk(t, ada, "e", "a.txt", "", 0, 2, []byte("a")))
	assert.Equal(t, http.StatusConflict, s.sendChunk(t, ada, "e", "b.txt", "", 1, 2, []byte("b")), "renamed upload")
	assert.Equal(t, http.StatusConflict, s.sendChunk(t, ada, "e", "a.txt", "", 1, 3, []byte("b")), "changed total")

	rec := s.do(t, http.MethodPost, "/api/upload/finalize", ada, map[string]string{"fileId": "nope", "fileName": "a.txt"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/upload/finalize", ada, map[string]string{"fileId": "e", "fileName": "other.txt"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/upload/finalize", ada, map[string]string{"fileId": "e"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "fileName is required", errorOf(t, rec))

	// Sessions are private to the employee who started them.
	rec = s.do(t, http.MethodPost, "/api/upload/finalize", bob, map[string]string{"fileId": "e", "fileName": "a.txt"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChunkedUpload_MissingFolder(t *testing.T) {
	s := newTestServer(t, Config{})
	token := s.login(t, adaID)

	require.Equal(t, http.StatusOK, s.sendChunk(t, token, "f", "a.txt", "missing", 0, 1, []byte("a")))

	rec := s.do(t, http.MethodPost, "/api/upload/finalize", token, map[string]string{"fileId": "f", "fileName": "a.txt"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A failed finalize keeps the chunks so the client can retry once the
	// folder exists.
	assert.Equal(t, 1, s.api.chunks.pending())
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/files", token, map[string]string{"name": "missing"}).Code)

	rec = s.do(t, http.MethodPost, "/api/upload/finalize", token, map[string]string{"fileId": "f", "fileName": "a.txt"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, adaID+"/missing/a.txt", decode[fileResponse](t, rec).File.Path)
}

func TestChunkedUpload_SameNameAsExisting(t *testing.T) {
	s := newTestServer(t, Config{})
	token := s.login(t, adaID)

	rec := s.multipartForm(t, "/api/upload", token, "file", "a.txt", []byte("old"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[fileResponse](t, rec).File
	require.NotNil(t, first)

	require.Equal(t, http.StatusOK, s.sendChunk(t, token, "again", "a.txt", "", 0, 1, []byte("newer")))
	rec = s.do(t, http.MethodPost, "/api/upload/finalize", token, map[string]string{"fileId": "again", "fileName": "a.txt"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The response describes the node just written, not the older namesake.
	got := decode[fileResponse](t, rec).File
	require.NotNil(t, got)
	assert.NotEqual(t, first.ID, got.ID)
	assert.Equal(t, int64(len("newer")), got.Size)

	link, err := url.Parse(got.SecureURL)
	require.NoError(t, err)
	dl := s.do(t, http.MethodGet, link.Path, "", nil)
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "newer", dl.Body.String())
}

func TestChunkManager_Sweep(t *testing.T) {
	m, err := newChunkManager(t.TempDir(), time.Minute)
	require.NoError(t, err)

	now := time.Now()
	m.now = func() time.Time { return now }

	stale, err := m.session(adaID, "stale", "a.txt", "", 2)
	require.NoError(t, err)
	_, err = m.put(stale, 0, strings.NewReader("a"))
	require.NoError(t, err)
	staleDir := stale.dir

	now = now.Add(50 * time.Second)
	fresh, err := m.session(adaID, "fresh", "b.txt", "", 1)
	require.NoError(t, err)
	_, err = m.put(fresh, 0, strings.NewReader("b"))
	require.NoError(t, err)

	now = now.Add(20 * time.Second)
	assert.Equal(t, 1, m.sweep())
	assert.Equal(t, 1, m.pending())

	_, err = os.Stat(staleDir)
	assert.True(t, os.IsNotExist(err), "expired chunks should be removed")

	// A chunk for the swept session starts over.
	again, err := m.session(adaID, "stale", "a.txt", "", 2)
	require.NoError(t, err)
	assert.Empty(t, again.received)

	_, err = m.put(stale, 1, strings.NewReader("late"))
	assert.ErrorIs(t, err, errSessionClosed)
}

func TestChunkManager_Close(t *testing.T) {
	root := t.TempDir()
	m, err := newChunkManager(root, time.Hour)
	require.NoError(t, err)
	m.start()

	s, err := m.session(adaID, "x", "a.txt", "", 1)
	require.NoError(t, err)
	_, err = m.put(s, 0, strings.NewReader("a"))
	require.NoError(t, err)

	require.NoError(t, m.close())
	require.NoError(t, m.close())
	assert.Equal(t, 0, m.pending())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChunkManager_ResendReplacesChunk(t *testing.T) {
	m, err := newChunkManager(t.TempDir(), time.Hour)
	require.NoError(t, err)

	s, err := m.session(adaID, "x", "a.txt", "", 1)
	require.NoError(t, err)

	n, err := m.put(s, 0, strings.NewReader("first"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = m.put(s, 0, strings.NewReader("again"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s.mu.Lock()
	r, closeAll, err := s.assemble()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	closeAll()
	s.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, "again", string(data))
	assert.Equal(t, int64(5), s.size())
}
