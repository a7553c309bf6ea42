package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/staffdrive/staffdrive/pkg/store/content"
)

// MemoryContentStore keeps content in process memory.
//
// Content is lost when the process exits. Suited to tests and small
// throwaway deployments.
//
// Thread Safety:
// All operations are protected by a read-write mutex. Readers returned by
// ReadContent work on a private copy and are unaffected by later writes.
type MemoryContentStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryContentStore returns an empty store.
func NewMemoryContentStore(ctx context.Context) (*MemoryContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &MemoryContentStore{data: make(map[string][]byte)}, nil
}

func (s *MemoryContentStore) WriteContent(ctx context.Context, id string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Read outside the lock; slow readers must not block other ids.
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, content.ExactReader(r, size)); err != nil {
		return fmt.Errorf("write content %s: %w", id, err)
	}

	s.mu.Lock()
	s.data[id] = buf.Bytes()
	s.mu.Unlock()
	return nil
}

func (s *MemoryContentStore) ReadContent(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	return io.NopCloser(bytes.NewReader(cp)), nil
}

func (s *MemoryContentStore) DeleteContent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryContentStore) ContentExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	_, ok := s.data[id]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryContentStore) ListContent(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}
