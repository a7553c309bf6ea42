package vfs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/staffdrive/staffdrive/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T, b backend.Backend) *FS {
	t.Helper()
	fs := New(b, Config{Cache: DefaultCacheConfig(), LinkConcurrency: 4}, nil)
	require.NoError(t, fs.Initialize(context.Background(), backend.Credentials{Email: "a", Password: "b"}))
	return fs
}

func names(listing []FileInfo) []string {
	out := make([]string, len(listing))
	for i, fi := range listing {
		out[i] = fi.Name
	}
	return out
}

// seed builds root -> {reports/, readme.txt(120)}.
func seed(f *fakeBackend) (reports *backend.Node) {
	reports = f.add("root", "reports", true, 0)
	f.add("root", "readme.txt", false, 120)
	return reports
}

func TestListRoot(t *testing.T) {
	f := newFakeBackend()
	reports := seed(f)
	fs := newTestFS(t, f)

	listing, err := fs.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, listing, 2)

	assert.Equal(t, FileInfo{
		ID:        reports.ID,
		Name:      "reports",
		Path:      "reports",
		Type:      KindFolder,
		CreatedAt: reports.CreatedAt,
	}, listing[0])

	readme := listing[1]
	assert.Equal(t, "readme.txt", readme.Name)
	assert.Equal(t, "readme.txt", readme.Path)
	assert.Equal(t, KindFile, readme.Type)
	assert.Equal(t, int64(120), readme.Size)
	assert.Equal(t, "https://links.example.com/"+readme.ID, readme.SecureURL)
}

func TestListRootVariants(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	fs := newTestFS(t, f)

	for _, p := range []string{"", "/", "//"} {
		listing, err := fs.List(context.Background(), p)
		require.NoError(t, err, "path %q", p)
		assert.Equal(t, []string{"reports", "readme.txt"}, names(listing))
	}
	assert.Equal(t, int32(1), f.nodeCalls.Load(), "all root spellings share one cache entry")
}

func TestListUsesCache(t *testing.T) {
	f := newFakeBackend()
	reports := seed(f)
	f.add(reports.ID, "q1.pdf", false, 10)
	m := newRecordingMetrics()

	fs := New(f, Config{Cache: DefaultCacheConfig()}, m)
	require.NoError(t, fs.Initialize(context.Background(), backend.Credentials{}))

	first, err := fs.List(context.Background(), "reports")
	require.NoError(t, err)
	calls := f.nodeCalls.Load()

	second, err := fs.List(context.Background(), "/reports/")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, calls, f.nodeCalls.Load(), "second listing must not enumerate the backend")
	assert.Equal(t, 1, m.hits)
	assert.Equal(t, 1, m.misses)
}

func TestListBuildsIndexOncePerOperation(t *testing.T) {
	f := newFakeBackend()
	a := f.add("root", "a", true, 0)
	b := f.add(a.ID, "b", true, 0)
	c := f.add(b.ID, "c", true, 0)
	f.add(c.ID, "deep.txt", false, 1)
	fs := newTestFS(t, f)

	listing, err := fs.List(context.Background(), "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"deep.txt"}, names(listing))
	assert.Equal(t, "a/b/c/deep.txt", listing[0].Path)
	assert.Equal(t, int32(1), f.nodeCalls.Load())
}

func TestListWithChildLister(t *testing.T) {
	f := newFakeBackend()
	reports := seed(f)
	f.add(reports.ID, "q1.pdf", false, 10)
	lb := &listingBackend{fakeBackend: f}
	fs := newTestFS(t, lb)

	listing, err := fs.List(context.Background(), "reports")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1.pdf"}, names(listing))
	assert.Equal(t, int32(0), f.nodeCalls.Load(), "flat enumeration must not be used")
	assert.Equal(t, int32(2), lb.childCalls.Load())
}

func TestListNotFound(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	fs := newTestFS(t, f)

	_, err := fs.List(context.Background(), "nonexistent/path")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), `"nonexistent"`)

	var ve *Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "list", ve.Op)
	assert.Equal(t, "nonexistent/path", ve.Path)
}

func TestListFileSegment(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	fs := newTestFS(t, f)

	_, err := fs.List(context.Background(), "readme.txt")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "not a directory")
}

func TestListDirectoryWinsOverFileWithSameName(t *testing.T) {
	f := newFakeBackend()
	f.add("root", "dup", false, 3)
	dir := f.add("root", "dup", true, 0)
	f.add(dir.ID, "inside.txt", false, 1)
	fs := newTestFS(t, f)

	listing, err := fs.List(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, []string{"inside.txt"}, names(listing))
}

func TestListDuplicateDirectoriesFirstMatchWins(t *testing.T) {
	f := newFakeBackend()
	first := f.add("root", "dup", true, 0)
	second := f.add("root", "dup", true, 0)
	f.add(first.ID, "from-first", false, 1)
	f.add(second.ID, "from-second", false, 1)
	fs := newTestFS(t, f)

	listing, err := fs.List(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, []string{"from-first"}, names(listing))
}

func TestListLinkFailureIsPartial(t *testing.T) {
	f := newFakeBackend()
	good := f.add("root", "good.txt", false, 1)
	bad := f.add("root", "bad.txt", false, 2)
	f.linkErr[bad.ID] = backend.NewError(backend.ErrIOError, "quota exceeded")
	m := newRecordingMetrics()

	fs := New(f, Config{Cache: DefaultCacheConfig()}, m)
	require.NoError(t, fs.Initialize(context.Background(), backend.Credentials{}))

	listing, err := fs.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, listing, 2)
	assert.Equal(t, "https://links.example.com/"+good.ID, listing[0].SecureURL)
	assert.Equal(t, "", listing[1].SecureURL)
	assert.Equal(t, 1, m.linkFailures)
}

func TestListCancelled(t *testing.T) {
	f := newFakeBackend()
	f.add("root", "a.txt", false, 1)
	fs := newTestFS(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fs.List(ctx, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fs.Cache().Len())
}

func TestCreateFolder(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	fs := newTestFS(t, f)
	ctx := context.Background()

	before, err := fs.List(ctx, "reports")
	require.NoError(t, err)
	assert.Empty(t, before)

	fi, err := fs.CreateFolder(ctx, "2024", "reports")
	require.NoError(t, err)
	assert.Equal(t, "2024", fi.Name)
	assert.Equal(t, "reports/2024", fi.Path)
	assert.Equal(t, KindFolder, fi.Type)
	assert.Empty(t, fi.SecureURL)

	after, err := fs.List(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024"}, names(after))
}

func TestCreateFolderIdempotent(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	fs := newTestFS(t, f)
	ctx := context.Background()

	first, err := fs.CreateFolder(ctx, "X", "reports")
	require.NoError(t, err)

	_, err = fs.List(ctx, "reports")
	require.NoError(t, err)
	require.Equal(t, 1, fs.Cache().Len())

	second, err := fs.CreateFolder(ctx, "X", "reports")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(1), f.mkdirCalls.Load())
	assert.Equal(t, 1, fs.Cache().Len(), "an existing folder must not invalidate the cache")
}

func TestCreateFolderIgnoresFileWithSameName(t *testing.T) {
	f := newFakeBackend()
	f.add("root", "notes", false, 4)
	fs := newTestFS(t, f)

	fi, err := fs.CreateFolder(context.Background(), "notes", "")
	require.NoError(t, err)
	assert.Equal(t, KindFolder, fi.Type)
	assert.Equal(t, int32(1), f.mkdirCalls.Load())
}

func TestCreateFolderErrors(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	fs := newTestFS(t, f)

	tests := []struct {
		name   string
		folder string
		path   string
		want   Code
	}{
		{"empty name", "", "reports", InvalidInput},
		{"slash", "a/b", "reports", InvalidInput},
		{"dot dot", "..", "reports", InvalidInput},
		{"missing parent", "x", "nope", NotFound},
		{"no deep creation", "x", "reports/2024", NotFound},
		{"parent is file", "x", "readme.txt", NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fs.CreateFolder(context.Background(), tt.folder, tt.path)
			assert.Equal(t, tt.want, CodeOf(err), "error: %v", err)
		})
	}
	assert.Equal(t, int32(0), f.mkdirCalls.Load())
}

func TestUpload(t *testing.T) {
	f := newFakeBackend()
	reports := seed(f)
	f.add(reports.ID, "2024", true, 0)
	fs := newTestFS(t, f)
	ctx := context.Background()

	_, err := fs.List(ctx, "reports/2024")
	require.NoError(t, err)

	fi, err := fs.Upload(ctx, "reports/2024", "a.txt", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", fi.Name)
	assert.Equal(t, "reports/2024/a.txt", fi.Path)
	assert.Equal(t, int64(5), fi.Size)
	assert.Equal(t, KindFile, fi.Type)
	assert.NotEmpty(t, fi.SecureURL)

	listing, err := fs.List(ctx, "reports/2024")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names(listing))
}

func TestUploadErrors(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	fs := newTestFS(t, f)
	ctx := context.Background()

	_, err := fs.Upload(ctx, "reports", "", strings.NewReader("x"), 1)
	assert.True(t, IsInvalidInput(err))

	_, err = fs.Upload(ctx, "reports", "a.txt", nil, 0)
	assert.True(t, IsInvalidInput(err))

	_, err = fs.Upload(ctx, "reports", "a.txt", strings.NewReader("x"), -1)
	assert.True(t, IsInvalidInput(err))

	_, err = fs.Upload(ctx, "missing", "a.txt", strings.NewReader("x"), 1)
	assert.True(t, IsNotFound(err))

	f.uploadErr = backend.NewError(backend.ErrIOError, "over quota")
	_, err = fs.Upload(ctx, "reports", "a.txt", strings.NewReader("x"), 1)
	assert.True(t, IsBackingStore(err))
	assert.Contains(t, err.Error(), "over quota")
	assert.Contains(t, err.Error(), "reports/a.txt")
}

func TestUploadLinkFailureStillInvalidates(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	fs := newTestFS(t, f)
	ctx := context.Background()

	_, err := fs.List(ctx, "reports")
	require.NoError(t, err)

	// The next node the fake creates is n3.
	f.linkErr["n3"] = errBoom

	_, err = fs.Upload(ctx, "reports", "a.txt", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.True(t, IsBackingStore(err))
	assert.ErrorIs(t, err, errBoom)

	listing, err := fs.List(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names(listing))
}

func TestDeleteFile(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	fs := newTestFS(t, f)
	ctx := context.Background()

	listing, err := fs.List(ctx, "")
	require.NoError(t, err)

	require.NoError(t, fs.DeleteFile(ctx, listing[1].ID))

	listing, err = fs.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"reports"}, names(listing))
}

func TestDeleteFileUnknownIDLeavesCache(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	m := newRecordingMetrics()
	fs := New(f, Config{Cache: DefaultCacheConfig()}, m)
	require.NoError(t, fs.Initialize(context.Background(), backend.Credentials{}))
	ctx := context.Background()

	_, err := fs.List(ctx, "")
	require.NoError(t, err)

	err = fs.DeleteFile(ctx, "does-not-exist")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 1, fs.Cache().Len())
	assert.Equal(t, 0, m.invalidations)
	assert.Equal(t, int32(0), f.deleteCalls.Load())
	assert.Equal(t, NotFound, m.failures["delete_file"])
}

func TestDeleteFileEmptyID(t *testing.T) {
	fs := newTestFS(t, newFakeBackend())
	assert.True(t, IsInvalidInput(fs.DeleteFile(context.Background(), "")))
}

func TestDeleteFolder(t *testing.T) {
	f := newFakeBackend()
	reports := seed(f)
	y := f.add(reports.ID, "2024", true, 0)
	f.add(y.ID, "a.txt", false, 5)
	fs := newTestFS(t, f)
	ctx := context.Background()

	before, err := fs.List(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024"}, names(before))

	require.NoError(t, fs.DeleteFolder(ctx, "reports/2024"))

	after, err := fs.List(ctx, "reports")
	require.NoError(t, err)
	assert.Empty(t, after)

	_, err = fs.List(ctx, "reports/2024")
	assert.True(t, IsNotFound(err))
}

func TestDeleteFolderErrors(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	fs := newTestFS(t, f)
	ctx := context.Background()

	for _, root := range []string{"", "/"} {
		assert.True(t, IsInvalidInput(fs.DeleteFolder(ctx, root)))
	}
	assert.True(t, IsNotFound(fs.DeleteFolder(ctx, "missing")))
	assert.True(t, IsNotFound(fs.DeleteFolder(ctx, "readme.txt")))
	assert.Equal(t, int32(0), f.deleteCalls.Load())
}

func TestMutationsInvalidateAncestorListings(t *testing.T) {
	f := newFakeBackend()
	reports := seed(f)
	f.add(reports.ID, "old", true, 0)
	fs := newTestFS(t, f)
	ctx := context.Background()

	warm := func() {
		for _, p := range []string{"", "reports", "reports/old"} {
			_, err := fs.List(ctx, p)
			require.NoError(t, err)
		}
		require.Equal(t, 3, fs.Cache().Len())
	}

	warm()
	_, err := fs.CreateFolder(ctx, "new", "reports")
	require.NoError(t, err)
	assert.Equal(t, 0, fs.Cache().Len())

	warm()
	_, err = fs.Upload(ctx, "reports/old", "f.txt", strings.NewReader("f"), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, fs.Cache().Len())

	warm()
	listing, err := fs.List(ctx, "reports/old")
	require.NoError(t, err)
	require.NoError(t, fs.DeleteFile(ctx, listing[0].ID))
	assert.Equal(t, 0, fs.Cache().Len())

	warm()
	require.NoError(t, fs.DeleteFolder(ctx, "reports/new"))
	assert.Equal(t, 0, fs.Cache().Len())
}

func TestLookupID(t *testing.T) {
	f := newFakeBackend()
	seed(f)
	fs := newTestFS(t, f)
	ctx := context.Background()

	second, err := fs.Upload(ctx, "", "readme.txt", strings.NewReader("newer"), 5)
	require.NoError(t, err)

	// Two entries share the name; the id picks the right one.
	fi, err := fs.LookupID(ctx, "", second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), fi.Size)
	assert.Equal(t, second.ID, fi.ID)

	_, err = fs.LookupID(ctx, "", "nope")
	assert.True(t, IsNotFound(err))

	_, err = fs.LookupID(ctx, "missing", second.ID)
	assert.True(t, IsNotFound(err))
}

func TestNotInitialized(t *testing.T) {
	fs := New(newFakeBackend(), Config{}, nil)
	ctx := context.Background()

	_, err := fs.List(ctx, "")
	assert.True(t, IsNotInitialized(err))
	_, err = fs.CreateFolder(ctx, "x", "")
	assert.True(t, IsNotInitialized(err))
	_, err = fs.Upload(ctx, "", "x", strings.NewReader("x"), 1)
	assert.True(t, IsNotInitialized(err))
	assert.True(t, IsNotInitialized(fs.DeleteFile(ctx, "n1")))
	assert.True(t, IsNotInitialized(fs.DeleteFolder(ctx, "x")))
}

func TestInitializeConcurrentCallersShareOneAttempt(t *testing.T) {
	f := newFakeBackend()
	f.openGate = make(chan struct{})
	fs := New(f, Config{}, nil)

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fs.Initialize(context.Background(), backend.Credentials{})
		}(i)
	}

	// Let every caller reach the in-flight attempt before it completes.
	time.Sleep(50 * time.Millisecond)
	close(f.openGate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.openCalls.Load())
	assert.True(t, fs.Ready())

	require.NoError(t, fs.Initialize(context.Background(), backend.Credentials{}))
	assert.Equal(t, int32(1), f.openCalls.Load())
}

func TestInitializeFailurePropagatesAndRetries(t *testing.T) {
	f := newFakeBackend()
	f.openErr = backend.WrapError(backend.ErrIOError, errBoom, "login failed")
	fs := New(f, Config{}, nil)

	err := fs.Initialize(context.Background(), backend.Credentials{})
	require.Error(t, err)
	assert.True(t, IsBackingStore(err))
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, fs.Ready())

	f.openErr = nil
	require.NoError(t, fs.Initialize(context.Background(), backend.Credentials{}))
	assert.Equal(t, int32(2), f.openCalls.Load())
}

func TestInitializeCallerTimeout(t *testing.T) {
	f := newFakeBackend()
	f.openGate = make(chan struct{})
	defer close(f.openGate)
	fs := New(f, Config{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := fs.Initialize(ctx, backend.Credentials{})
	require.Error(t, err)
	assert.False(t, fs.Ready())
}

func TestFileInfoJSON(t *testing.T) {
	fi := FileInfo{
		ID:        "n1",
		Name:      "a.txt",
		Path:      "reports/a.txt",
		Size:      5,
		Type:      KindFile,
		CreatedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600)),
		SecureURL: "https://x",
	}

	data, err := json.Marshal(fi)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]any{
		"id":         "n1",
		"name":       "a.txt",
		"path":       "reports/a.txt",
		"size":       float64(5),
		"type":       "file",
		"created_at": "2024-03-01T08:30:00.000Z",
		"secure_url": "https://x",
	}, got)
}
