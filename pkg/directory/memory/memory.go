// Package memory provides an in-process employee store, seeded from
// configuration.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/staffdrive/staffdrive/pkg/directory"
)

// MemoryStore keeps employees in a map. Contents are lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	employees map[string]directory.Employee
	now       func() time.Time
}

// NewMemoryStore returns a store holding copies of seed.
func NewMemoryStore(seed ...directory.Employee) (*MemoryStore, error) {
	s := &MemoryStore{
		employees: make(map[string]directory.Employee, len(seed)),
		now:       time.Now,
	}
	for i := range seed {
		e := seed[i]
		if err := s.Create(context.Background(), &e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemoryStore) Get(ctx context.Context, employeeID string) (*directory.Employee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.employees[employeeID]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStore) Create(ctx context.Context, e *directory.Employee) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.employees[e.EmployeeID]; ok {
		return directory.ErrExists
	}

	now := s.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	s.employees[e.EmployeeID] = *e
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*directory.Employee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]*directory.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		e := e
		out = append(out, &e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
