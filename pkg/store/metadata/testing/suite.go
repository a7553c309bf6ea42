// Package testing provides a conformance suite that every metadata.Store
// implementation must pass.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/staffdrive/staffdrive/pkg/backend"
	"github.com/staffdrive/staffdrive/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite runs the conformance tests against a store implementation.
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh Store instance
	// for each test. This ensures test isolation.
	NewStore func(t *testing.T) metadata.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.TestPutGet)
	t.Run("GetNotFound", suite.TestGetNotFound)
	t.Run("GetReturnsCopy", suite.TestGetReturnsCopy)
	t.Run("ChildrenCreationOrder", suite.TestChildrenCreationOrder)
	t.Run("ChildrenEmpty", suite.TestChildrenEmpty)
	t.Run("AllCreationOrder", suite.TestAllCreationOrder)
	t.Run("UpdateKeepsPosition", suite.TestUpdateKeepsPosition)
	t.Run("Reparent", suite.TestReparent)
	t.Run("Delete", suite.TestDelete)
	t.Run("DeleteNotFound", suite.TestDeleteNotFound)
	t.Run("CancelledContext", suite.TestCancelledContext)
	t.Run("ConcurrentPut", suite.TestConcurrentPut)
}

func newNode(id, parentID, name string, dir bool) *backend.Node {
	n := &backend.Node{
		ID:        id,
		ParentID:  parentID,
		Name:      name,
		Dir:       dir,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if !dir {
		n.Size = 128
		n.ContentID = "content-" + id
	}
	return n
}

func names(nodes []*backend.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func (suite *StoreTestSuite) TestPutGet(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	want := newNode("f1", "root", "report.pdf", false)
	require.NoError(t, store.Put(ctx, want))

	got, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.ParentID, got.ParentID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Size, got.Size)
	assert.Equal(t, want.ContentID, got.ContentID)
	assert.False(t, got.Dir)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func (suite *StoreTestSuite) TestGetNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func (suite *StoreTestSuite) TestGetReturnsCopy(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	node := newNode("d1", "root", "docs", true)
	require.NoError(t, store.Put(ctx, node))
	node.Name = "mutated"

	got, err := store.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "docs", got.Name)

	got.Name = "mutated again"
	again, err := store.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "docs", again.Name)
}

func (suite *StoreTestSuite) TestChildrenCreationOrder(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newNode("root", "", "", true)))
	for _, name := range []string{"zeta", "alpha", "mid", "beta"} {
		require.NoError(t, store.Put(ctx, newNode("id-"+name, "root", name, false)))
	}
	require.NoError(t, store.Put(ctx, newNode("other", "elsewhere", "ignored", false)))

	children, err := store.Children(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid", "beta"}, names(children))
}

func (suite *StoreTestSuite) TestChildrenEmpty(t *testing.T) {
	store := suite.NewStore(t)

	children, err := store.Children(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func (suite *StoreTestSuite) TestAllCreationOrder(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newNode("root", "", "", true)))
	require.NoError(t, store.Put(ctx, newNode("a", "root", "a", true)))
	require.NoError(t, store.Put(ctx, newNode("b", "a", "b", false)))
	require.NoError(t, store.Put(ctx, newNode("c", "root", "c", false)))

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "a", "b", "c"}, names(all))
}

func (suite *StoreTestSuite) TestUpdateKeepsPosition(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newNode("a", "root", "a", false)))
	require.NoError(t, store.Put(ctx, newNode("b", "root", "b", false)))

	updated := newNode("a", "root", "a", false)
	updated.Size = 4096
	require.NoError(t, store.Put(ctx, updated))

	children, err := store.Children(ctx, "root")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].Name)
	assert.Equal(t, int64(4096), children[0].Size)
}

func (suite *StoreTestSuite) TestReparent(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newNode("f", "p1", "f", false)))
	require.NoError(t, store.Put(ctx, newNode("f", "p2", "f", false)))

	old, err := store.Children(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, old)

	moved, err := store.Children(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, names(moved))
}

func (suite *StoreTestSuite) TestDelete(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newNode("root", "", "", true)))
	require.NoError(t, store.Put(ctx, newNode("a", "root", "a", false)))
	require.NoError(t, store.Put(ctx, newNode("b", "root", "b", false)))

	require.NoError(t, store.Delete(ctx, "a"))

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	children, err := store.Children(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names(children))

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "b"}, names(all))
}

func (suite *StoreTestSuite) TestDeleteNotFound(t *testing.T) {
	store := suite.NewStore(t)

	err := store.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func (suite *StoreTestSuite) TestCancelledContext(t *testing.T) {
	store := suite.NewStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Put(ctx, newNode("x", "root", "x", false)), context.Canceled)
	_, err := store.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Children(ctx, "root")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.All(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func (suite *StoreTestSuite) TestConcurrentPut(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				if err := store.Put(ctx, newNode(id, "root", id, false)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	children, err := store.Children(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, children, workers*perWorker)
}
