// Package testing provides a conformance suite that every content.Store
// implementation must pass.
package testing

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/staffdrive/staffdrive/pkg/store/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite runs the conformance tests against a content store.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) content.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("WriteRead", suite.TestWriteRead)
	t.Run("WriteEmpty", suite.TestWriteEmpty)
	t.Run("Overwrite", suite.TestOverwrite)
	t.Run("ReadNotFound", suite.TestReadNotFound)
	t.Run("ShortReader", suite.TestShortReader)
	t.Run("LongReader", suite.TestLongReader)
	t.Run("Delete", suite.TestDelete)
	t.Run("DeleteMissing", suite.TestDeleteMissing)
	t.Run("CancelledContext", suite.TestCancelledContext)
	t.Run("ListContent", suite.TestListContent)
}

func readAll(t *testing.T, store content.Store, id string) []byte {
	t.Helper()

	r, err := store.ReadContent(context.Background(), id)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func (suite *StoreTestSuite) TestWriteRead(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("staffdrive"), 1000)
	require.NoError(t, store.WriteContent(ctx, "blob-1", bytes.NewReader(payload), int64(len(payload))))

	assert.Equal(t, payload, readAll(t, store, "blob-1"))

	ok, err := store.ContentExists(ctx, "blob-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func (suite *StoreTestSuite) TestWriteEmpty(t *testing.T) {
	store := suite.NewStore(t)

	require.NoError(t, store.WriteContent(context.Background(), "empty", strings.NewReader(""), 0))
	assert.Empty(t, readAll(t, store, "empty"))
}

func (suite *StoreTestSuite) TestOverwrite(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteContent(ctx, "blob", strings.NewReader("first"), 5))
	require.NoError(t, store.WriteContent(ctx, "blob", strings.NewReader("second!"), 7))

	assert.Equal(t, "second!", string(readAll(t, store, "blob")))
}

func (suite *StoreTestSuite) TestReadNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.ReadContent(context.Background(), "missing")
	assert.ErrorIs(t, err, content.ErrContentNotFound)

	ok, err := store.ContentExists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func (suite *StoreTestSuite) TestShortReader(t *testing.T) {
	store := suite.NewStore(t)

	err := store.WriteContent(context.Background(), "short", strings.NewReader("abc"), 10)
	assert.ErrorIs(t, err, content.ErrSizeMismatch)

	ok, err := store.ContentExists(context.Background(), "short")
	require.NoError(t, err)
	assert.False(t, ok, "failed writes must not leave content behind")
}

func (suite *StoreTestSuite) TestLongReader(t *testing.T) {
	store := suite.NewStore(t)

	err := store.WriteContent(context.Background(), "long", strings.NewReader("abcdef"), 3)
	assert.ErrorIs(t, err, content.ErrSizeMismatch)
}

func (suite *StoreTestSuite) TestDelete(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteContent(ctx, "gone", strings.NewReader("x"), 1))
	require.NoError(t, store.DeleteContent(ctx, "gone"))

	_, err := store.ReadContent(ctx, "gone")
	assert.ErrorIs(t, err, content.ErrContentNotFound)
}

func (suite *StoreTestSuite) TestDeleteMissing(t *testing.T) {
	store := suite.NewStore(t)

	assert.NoError(t, store.DeleteContent(context.Background(), "never-written"))
}

func (suite *StoreTestSuite) TestCancelledContext(t *testing.T) {
	store := suite.NewStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.WriteContent(ctx, "x", strings.NewReader("x"), 1), context.Canceled)
	_, err := store.ReadContent(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

// TestListContent only runs for stores implementing content.Lister.
func (suite *StoreTestSuite) TestListContent(t *testing.T) {
	store := suite.NewStore(t)
	lister, ok := store.(content.Lister)
	if !ok {
		t.Skip("store does not implement content.Lister")
	}
	ctx := context.Background()

	ids, err := lister.ListContent(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []string{"abc-1", "abc-2", "zz"} {
		require.NoError(t, store.WriteContent(ctx, id, strings.NewReader(id), int64(len(id))))
	}
	require.NoError(t, store.DeleteContent(ctx, "abc-2"))

	// A failed write must not show up.
	_ = store.WriteContent(ctx, "short", strings.NewReader("ab"), 5)

	ids, err = lister.ListContent(ctx)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"abc-1", "zz"}, ids)
}
