package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/auth"
)

var (
	errSessionNotFound = errors.New("upload not found")
	errSessionClosed   = errors.New("upload is no longer active")
)

// chunkSession collects the chunks of one file. Chunks are stored as
// separate files named by index and concatenated on finalize.
type chunkSession struct {
	mu       sync.Mutex
	dir      string
	owner    string
	fileName string
	path     string
	total    int
	received map[int]int64
	updated  time.Time
	closed   bool
}

func (s *chunkSession) chunkPath(index int) string {
	return filepath.Join(s.dir, strconv.Itoa(index)+".part")
}

// size returns the assembled size. Callers hold mu.
func (s *chunkSession) size() int64 {
	var n int64
	for _, sz := range s.received {
		n += sz
	}
	return n
}

// chunkManager tracks chunked uploads in progress.
//
// Thread Safety: Safe for concurrent use. Chunks of the same upload may
// arrive concurrently.
type chunkManager struct {
	root     string
	expiry   time.Duration
	sessions *xsync.Map[string, *chunkSession]
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newChunkManager(root string, expiry time.Duration) (*chunkManager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "staffdrive-chunks")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory %s: %w", root, err)
	}
	return &chunkManager{
		root:     root,
		expiry:   expiry,
		sessions: xsync.NewMap[string, *chunkSession](),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

func sessionKey(owner, fileID string) string {
	return owner + "\x00" + fileID
}

// session returns the session for fileID, creating it on the first chunk.
// An existing session must agree on fileName and total.
func (m *chunkManager) session(owner, fileID, fileName, path string, total int) (*chunkSession, error) {
	fresh := &chunkSession{
		owner:    owner,
		fileName: fileName,
		path:     path,
		total:    total,
		received: make(map[int]int64),
		updated:  m.now(),
	}
	s, loaded := m.sessions.LoadOrStore(sessionKey(owner, fileID), fresh)
	if loaded && (s.fileName != fileName || s.total != total || s.path != path) {
		return nil, fmt.Errorf("upload %s was started for %q with %d chunks", fileID, s.fileName, s.total)
	}
	return s, nil
}

// put stores one chunk. Re-sending an index replaces it.
func (m *chunkManager) put(s *chunkSession, index int, r io.Reader) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errSessionClosed
	}
	if s.dir == "" {
		s.dir = filepath.Join(m.root, uuid.NewString())
		if err := os.MkdirAll(s.dir, 0o700); err != nil {
			return 0, fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(s.dir, ".chunk-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create chunk file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), s.chunkPath(index))
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}

	s.received[index] = n
	s.updated = m.now()
	return len(s.received), nil
}

// take claims a complete session for assembly. The session stays registered
// so a failed finalize can be retried; release or drop ends it.
func (m *chunkManager) take(owner, fileID string) (*chunkSession, error) {
	s, ok := m.sessions.Load(sessionKey(owner, fileID))
	if !ok {
		return nil, errSessionNotFound
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errSessionClosed
	}
	return s, nil
}

// release unlocks a session claimed by take after a failed finalize.
func (m *chunkManager) release(s *chunkSession) {
	s.updated = m.now()
	s.mu.Unlock()
}

// drop ends a session claimed by take and deletes its chunks.
func (m *chunkManager) drop(fileID string, s *chunkSession) {
	s.closed = true
	m.sessions.Delete(sessionKey(s.owner, fileID))
	if s.dir != "" {
		if err := os.RemoveAll(s.dir); err != nil {
			logger.Warn("Failed to remove chunk directory %s: %v", s.dir, err)
		}
	}
	s.mu.Unlock()
}

// assemble opens every chunk in order. Callers hold s.mu.
func (s *chunkSession) assemble() (io.Reader, func(), error) {
	files := make([]*os.File, 0, s.total)
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	readers := make([]io.Reader, 0, s.total)
	for i := 0; i < s.total; i++ {
		f, err := os.Open(s.chunkPath(i))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to open chunk %d: %w", i, err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	return io.MultiReader(readers...), closeAll, nil
}

func (m *chunkManager) start() {
	interval := m.expiry / 4
	if interval < time.Second {
		interval = time.Second
	}
	go m.sweeper(interval)
}

func (m *chunkManager) sweeper(interval time.Duration) {
	defer close(m.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.sweep(); n > 0 {
				logger.Info("Removed %d expired chunked upload(s)", n)
			}
		case <-m.stopCh:
			return
		}
	}
}

// sweep drops sessions idle for longer than the expiry. Sessions being
// finalized are skipped.
func (m *chunkManager) sweep() int {
	cutoff := m.now().Add(-m.expiry)
	removed := 0

	m.sessions.Range(func(key string, s *chunkSession) bool {
		if !s.mu.TryLock() {
			return true
		}
		if s.closed || s.updated.After(cutoff) {
			s.mu.Unlock()
			return true
		}
		s.closed = true
		m.sessions.Delete(key)
		dir := s.dir
		s.mu.Unlock()

		if dir != "" {
			if err := os.RemoveAll(dir); err != nil {
				logger.Warn("Failed to remove chunk directory %s: %v", dir, err)
			}
		}
		removed++
		return true
	})
	return removed
}

func (m *chunkManager) close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
		m.sessions.Range(func(key string, s *chunkSession) bool {
			s.mu.Lock()
			s.closed = true
			dir := s.dir
			s.mu.Unlock()
			m.sessions.Delete(key)
			if dir != "" {
				_ = os.RemoveAll(dir)
			}
			return true
		})
	})
	return nil
}

// pending reports how many uploads are in progress.
func (m *chunkManager) pending() int {
	return m.sessions.Size()
}

type chunkResponse struct {
	Success     bool `json:"success"`
	Received    int  `json:"received"`
	TotalChunks int  `json:"totalChunks"`
}

// handleChunk handles POST /api/upload/chunk.
func (a *API) handleChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxUploadSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeMultipartError(w, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	fileID := r.FormValue("fileId")
	fileName := r.FormValue("fileName")
	if fileID == "" || fileName == "" {
		writeError(w, http.StatusBadRequest, "fileId and fileName are required")
		return
	}
	index, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid chunk index")
		return
	}
	total, err := strconv.Atoi(r.FormValue("totalChunks"))
	if err != nil || total <= 0 || total > a.config.MaxChunks {
		writeError(w, http.StatusBadRequest, "invalid total chunks")
		return
	}
	if index >= total {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("chunk index %d >= total chunks %d", index, total))
		return
	}

	chunk, _, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no chunk provided")
		return
	}
	defer chunk.Close()

	claims, path, ok := a.scoped(w, r, r.FormValue("path"))
	if !ok {
		return
	}

	s, err := a.chunks.session(claims.EmployeeID, fileID, fileName, path, total)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	received, err := a.chunks.put(s, index, chunk)
	switch {
	case errors.Is(err, errSessionClosed):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		logger.Error("Store chunk %d of %s: %v", index, fileID, err)
		writeError(w, http.StatusInternalServerError, "failed to store chunk")
		return
	}

	logger.Debug("Chunk %d/%d of %q received for %s", index+1, total, fileName, claims.EmployeeID)
	writeJSON(w, http.StatusOK, chunkResponse{Success: true, Received: received, TotalChunks: total})
}

type finalizeRequest struct {
	FileID   string `json:"fileId" validate:"required"`
	FileName string `json:"fileName" validate:"required"`
	Path     string `json:"path"`
}

// handleFinalize handles POST /api/upload/finalize: the received chunks are
// uploaded as one file and the result is verified by looking it up in its
// folder.
func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
		return
	}

	s, err := a.chunks.take(claims.EmployeeID, req.FileID)
	switch {
	case errors.Is(err, errSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	if s.fileName != req.FileName {
		a.chunks.release(s)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("upload %s is for %q", req.FileID, s.fileName))
		return
	}
	if len(s.received) != s.total {
		a.chunks.release(s)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("incomplete upload: received %d/%d chunks", len(s.received), s.total))
		return
	}

	body, closeAll, err := s.assemble()
	if err != nil {
		a.chunks.release(s)
		logger.Error("Assemble %s: %v", req.FileID, err)
		writeError(w, http.StatusInternalServerError, "failed to assemble upload")
		return
	}

	uploaded, err := a.fs.Upload(r.Context(), s.path, s.fileName, body, s.size())
	closeAll()
	if err != nil {
		a.chunks.release(s)
		writeFSError(w, r, err)
		return
	}

	path := s.path
	a.chunks.drop(req.FileID, s)

	info, err := a.fs.LookupID(r.Context(), path, uploaded.ID)
	if err != nil {
		logger.Error("Verify upload of %q (%s) in %q: %v", req.FileName, uploaded.ID, path, err)
		writeError(w, http.StatusBadGateway, "file upload verification failed")
		return
	}
	writeJSON(w, http.StatusOK, fileResponse{Success: true, File: &info})
}
