package local

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/staffdrive/staffdrive/pkg/backend"
	contentmemory "github.com/staffdrive/staffdrive/pkg/store/content/memory"
	metadatamemory "github.com/staffdrive/staffdrive/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	backend *Backend
	content *contentmemory.MemoryContentStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	cs, err := contentmemory.NewMemoryContentStore(ctx)
	require.NoError(t, err)

	signer, err := NewLinkSigner("secret", "https://files.example.com/", time.Hour)
	require.NoError(t, err)

	b, err := New(Config{
		Nodes:   metadatamemory.NewMemoryMetadataStore(),
		Content: cs,
		Signer:  signer,
	})
	require.NoError(t, err)
	require.NoError(t, b.Open(ctx, backend.Credentials{}))

	return &fixture{backend: b, content: cs}
}

func code(t *testing.T, err error) backend.ErrorCode {
	t.Helper()
	c, ok := backend.CodeOf(err)
	require.True(t, ok, "expected StoreError, got %v", err)
	return c
}

func TestNew_Validation(t *testing.T) {
	cs, err := contentmemory.NewMemoryContentStore(context.Background())
	require.NoError(t, err)

	_, err = New(Config{Content: cs})
	assert.Error(t, err, "node store missing")

	_, err = New(Config{Nodes: metadatamemory.NewMemoryMetadataStore()})
	assert.Error(t, err, "content store missing")

	_, err = New(Config{Nodes: metadatamemory.NewMemoryMetadataStore(), Content: cs})
	assert.Error(t, err, "memory content cannot presign so a signer is required")
}

func TestNotOpen(t *testing.T) {
	cs, _ := contentmemory.NewMemoryContentStore(context.Background())
	signer, _ := NewLinkSigner("s", "http://localhost", time.Minute)
	b, err := New(Config{Nodes: metadatamemory.NewMemoryMetadataStore(), Content: cs, Signer: signer})
	require.NoError(t, err)

	_, err = b.Root(context.Background())
	assert.Equal(t, backend.ErrNotOpen, code(t, err))
}

func TestOpenCreatesRootOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.backend.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, RootID, root.ID)
	assert.True(t, root.Dir)
	assert.True(t, root.IsRoot())

	require.NoError(t, f.backend.Open(ctx, backend.Credentials{}))

	nodes, err := f.backend.Nodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestMkdir(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dir, err := f.backend.Mkdir(ctx, RootID, "E001")
	require.NoError(t, err)
	assert.True(t, dir.Dir)
	assert.Equal(t, RootID, dir.ParentID)
	assert.NotEmpty(t, dir.ID)
	assert.False(t, dir.CreatedAt.IsZero())

	children, err := f.backend.Children(ctx, RootID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "E001", children[0].Name)
}

func TestMkdir_ExistingDirectoryReturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.backend.Mkdir(ctx, RootID, "E001")
	require.NoError(t, err)
	second, err := f.backend.Mkdir(ctx, RootID, "E001")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	children, err := f.backend.Children(ctx, RootID)
	require.NoError(t, err)
	assert.Len(t, children, 1)
}

func TestMkdir_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file, err := f.backend.Upload(ctx, RootID, "a.txt", strings.NewReader("a"), 1)
	require.NoError(t, err)

	tests := []struct {
		name     string
		parentID string
		dirName  string
		want     backend.ErrorCode
	}{
		{"empty name", RootID, "", backend.ErrInvalidArgument},
		{"slash in name", RootID, "a/b", backend.ErrInvalidArgument},
		{"dot dot", RootID, "..", backend.ErrInvalidArgument},
		{"missing parent", "nope", "x", backend.ErrNotFound},
		{"parent is file", file.ID, "x", backend.ErrNotDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.backend.Mkdir(ctx, tt.parentID, tt.dirName)
			assert.Equal(t, tt.want, code(t, err))
		})
	}
}

func TestUploadAndRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	node, err := f.backend.Upload(ctx, RootID, "notes.txt", strings.NewReader("hello world"), 11)
	require.NoError(t, err)
	assert.False(t, node.Dir)
	assert.Equal(t, int64(11), node.Size)

	rc, got, err := f.backend.ReadContent(ctx, node.ID)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, "notes.txt", got.Name)
}

func TestUpload_SizeMismatchLeavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.backend.Upload(ctx, RootID, "short.txt", strings.NewReader("abc"), 10)
	assert.Equal(t, backend.ErrIOError, code(t, err))

	children, err := f.backend.Children(ctx, RootID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	top, err := f.backend.Mkdir(ctx, RootID, "E001")
	require.NoError(t, err)
	sub, err := f.backend.Mkdir(ctx, top.ID, "reports")
	require.NoError(t, err)
	file, err := f.backend.Upload(ctx, sub.ID, "q1.pdf", strings.NewReader("pdf"), 3)
	require.NoError(t, err)
	keep, err := f.backend.Upload(ctx, RootID, "keep.txt", strings.NewReader("k"), 1)
	require.NoError(t, err)

	require.NoError(t, f.backend.Delete(ctx, top.ID))

	for _, id := range []string{top.ID, sub.ID, file.ID} {
		_, err := f.backend.Get(ctx, id)
		assert.True(t, backend.IsNotFound(err), "node %s should be gone", id)
	}

	exists, err := f.content.ContentExists(ctx, file.ContentID)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = f.backend.Get(ctx, keep.ID)
	assert.NoError(t, err)
}

func TestDelete_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, backend.ErrInvalidArgument, code(t, f.backend.Delete(ctx, RootID)))
	assert.Equal(t, backend.ErrNotFound, code(t, f.backend.Delete(ctx, "missing")))
}

func TestLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file, err := f.backend.Upload(ctx, RootID, "a.txt", strings.NewReader("a"), 1)
	require.NoError(t, err)

	link, err := f.backend.Link(ctx, file.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "https://files.example.com/api/download/"), link)

	token := strings.TrimPrefix(link, "https://files.example.com/api/download/")
	id, err := f.backend.Signer().Verify(token)
	require.NoError(t, err)
	assert.Equal(t, file.ID, id)

	dir, err := f.backend.Mkdir(ctx, RootID, "d")
	require.NoError(t, err)
	_, err = f.backend.Link(ctx, dir.ID)
	assert.Equal(t, backend.ErrIsDirectory, code(t, err))
}

func TestLinkSigner(t *testing.T) {
	signer, err := NewLinkSigner("secret", "http://localhost:8080", time.Minute)
	require.NoError(t, err)

	link, err := signer.Sign("node-1")
	require.NoError(t, err)
	token := strings.TrimPrefix(link, "http://localhost:8080/api/download/")

	t.Run("valid", func(t *testing.T) {
		id, err := signer.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "node-1", id)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewLinkSigner("other", "http://localhost:8080", time.Minute)
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		later, err := NewLinkSigner("secret", "http://localhost:8080", time.Minute)
		require.NoError(t, err)
		later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		_, err = later.Verify(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := signer.Verify("not-a-token")
		assert.Error(t, err)
	})

	_, err = NewLinkSigner("", "http://localhost", time.Minute)
	assert.Error(t, err)
}
