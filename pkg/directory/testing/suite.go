// Package testing provides a conformance suite for directory.Store
// implementations.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/staffdrive/staffdrive/pkg/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite runs the same behavioral checks against any store.
// NewStore must return an empty store.
type StoreTestSuite struct {
	NewStore func(t *testing.T) directory.Store
}

// Run executes every test in the suite as a subtest.
func (s *StoreTestSuite) Run(t *testing.T) {
	t.Run("CreateGet", s.testCreateGet)
	t.Run("GetNotFound", s.testGetNotFound)
	t.Run("CreateDuplicate", s.testCreateDuplicate)
	t.Run("ListOrdered", s.testListOrdered)
	t.Run("ListEmpty", s.testListEmpty)
	t.Run("NextEmployeeID", s.testNextEmployeeID)
	t.Run("ConcurrentCreate", s.testConcurrentCreate)
}

func employee(id string) *directory.Employee {
	return &directory.Employee{
		EmployeeID:   id,
		Name:         "Name " + id,
		Department:   "Engineering",
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuu",
	}
}

func (s *StoreTestSuite) testCreateGet(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()

	e := employee("3S001")
	e.Admin = true
	require.NoError(t, store.Create(ctx, e))
	assert.False(t, e.CreatedAt.IsZero())

	got, err := store.Get(ctx, "3S001")
	require.NoError(t, err)
	assert.Equal(t, "Name 3S001", got.Name)
	assert.Equal(t, "Engineering", got.Department)
	assert.Equal(t, e.PasswordHash, got.PasswordHash)
	assert.True(t, got.Admin)
	assert.WithinDuration(t, e.CreatedAt, got.CreatedAt, time.Millisecond)
}

func (s *StoreTestSuite) testGetNotFound(t *testing.T) {
	store := s.NewStore(t)
	_, err := store.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func (s *StoreTestSuite) testCreateDuplicate(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, employee("3S001")))
	err := store.Create(ctx, employee("3S001"))
	assert.ErrorIs(t, err, directory.ErrExists)
}

func (s *StoreTestSuite) testListOrdered(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()

	for _, id := range []string{"3S003", "3S001", "3S002"} {
		require.NoError(t, store.Create(ctx, employee(id)))
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "3S001", list[0].EmployeeID)
	assert.Equal(t, "3S002", list[1].EmployeeID)
	assert.Equal(t, "3S003", list[2].EmployeeID)
}

func (s *StoreTestSuite) testListEmpty(t *testing.T) {
	store := s.NewStore(t)
	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func (s *StoreTestSuite) testNextEmployeeID(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()

	id, err := directory.NextEmployeeID(ctx, store, "3S", 3, 3)
	require.NoError(t, err)
	assert.Equal(t, "3S001", id)

	require.NoError(t, store.Create(ctx, employee("3S001")))
	require.NoError(t, store.Create(ctx, employee("3S003")))

	id, err = directory.NextEmployeeID(ctx, store, "3S", 3, 3)
	require.NoError(t, err)
	assert.Equal(t, "3S002", id, "gaps are filled first")

	require.NoError(t, store.Create(ctx, employee("3S002")))
	_, err = directory.NextEmployeeID(ctx, store, "3S", 3, 3)
	assert.ErrorIs(t, err, directory.ErrNoIDsAvailable)
}

func (s *StoreTestSuite) testConcurrentCreate(t *testing.T) {
	store := s.NewStore(t)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.Create(ctx, employee("3S042"))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range results {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, directory.ErrExists)
		}
	}
	assert.Equal(t, 1, created)
}
