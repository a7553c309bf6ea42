// Package vfs emulates hierarchical folders on top of a flat backend node
// graph.
//
// A logical path such as "E001/reports/2024" is resolved by walking the
// backend's directory nodes from the root, one segment at a time. Folder
// listings are cached per path and the whole cache is dropped after any
// mutation. Access control is not enforced here: callers are expected to
// scope paths to the requesting user before calling FS.
package vfs

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/internal/ratelimiter"
	"github.com/staffdrive/staffdrive/pkg/backend"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Config tunes an FS.
type Config struct {
	Cache CacheConfig

	// LinkConcurrency bounds how many download links a single listing derives
	// in parallel (default: 8).
	LinkConcurrency int

	// LinkLimiter throttles link derivation across all listings. nil means
	// unlimited.
	LinkLimiter *ratelimiter.RateLimiter
}

// FS is the virtual folder layer.
//
// Thread Safety:
// All methods are safe for concurrent use. Concurrent mutations are not
// coordinated with each other; each one invalidates the listing cache when
// it completes.
type FS struct {
	backend backend.Backend
	cache   *ListingCache
	metrics Metrics
	limiter *ratelimiter.RateLimiter
	linkPar int

	initGroup singleflight.Group
	ready     atomic.Bool
}

// New returns an FS over b. Initialize must succeed before other methods
// can be used.
func New(b backend.Backend, cfg Config, m Metrics) *FS {
	if m == nil {
		m = NewNoopMetrics()
	}
	par := cfg.LinkConcurrency
	if par <= 0 {
		par = 8
	}
	return &FS{
		backend: b,
		cache:   NewListingCache(cfg.Cache),
		metrics: m,
		limiter: cfg.LinkLimiter,
		linkPar: par,
	}
}

// Cache exposes the listing cache for inspection.
func (fs *FS) Cache() *ListingCache {
	return fs.cache
}

// Backend returns the underlying backend.
func (fs *FS) Backend() backend.Backend {
	return fs.backend
}

// Initialize opens the backend session.
//
// The first call performs the open; callers arriving while it is in flight
// wait for that same attempt and receive its result. Once it has succeeded,
// further calls return immediately. After a failure the next call tries
// again. The shared attempt is detached from the first caller's
// cancellation; each caller still stops waiting when its own ctx is done.
func (fs *FS) Initialize(ctx context.Context, creds backend.Credentials) error {
	if fs.ready.Load() {
		return nil
	}

	ch := fs.initGroup.DoChan("init", func() (any, error) {
		if fs.ready.Load() {
			return nil, nil
		}

		start := time.Now()
		if err := fs.backend.Open(context.WithoutCancel(ctx), creds); err != nil {
			logger.Error("Backing store initialization failed: %v", err)
			return nil, fromBackend("initialize", "", err)
		}

		fs.ready.Store(true)
		logger.Info("Backing store initialized in %v", time.Since(start).Round(time.Millisecond))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return newError(BackingStoreFailure, "initialize", "", "gave up waiting: %v", ctx.Err())
	}
}

// Ready reports whether Initialize has succeeded.
func (fs *FS) Ready() bool {
	return fs.ready.Load()
}

func (fs *FS) checkReady(op, path string) error {
	if !fs.ready.Load() {
		return newError(NotInitialized, op, path, "backing store is not initialized")
	}
	return nil
}

func (fs *FS) observe(op string, start time.Time, err error) {
	fs.metrics.ObserveOperation(op, time.Since(start), err)
}

func (fs *FS) invalidate() {
	fs.cache.InvalidateAll()
	fs.metrics.RecordInvalidation()
	fs.metrics.SetCacheEntries(0)
}

// List returns the immediate children of the folder at path.
//
// Entries come in backing store enumeration order. Each file carries a
// download link; a link that cannot be derived is logged and left empty
// without failing the listing.
func (fs *FS) List(ctx context.Context, path string) (listing []FileInfo, err error) {
	const op = "list"
	start := time.Now()
	defer func() { fs.observe(op, start, err) }()

	path = Clean(path)
	if err := fs.checkReady(op, path); err != nil {
		return nil, err
	}

	if cached, ok := fs.cache.Get(path); ok {
		fs.metrics.RecordCacheLookup(true)
		logger.Debug("List %q: cache hit (%d entries)", path, len(cached))
		return cached, nil
	}
	fs.metrics.RecordCacheLookup(false)

	gen := fs.cache.Generation()
	list := fs.children()

	dir, err := fs.resolve(ctx, op, Segments(path), list)
	if err != nil {
		return nil, err
	}

	children, err := list(ctx, dir.ID)
	if err != nil {
		return nil, fromBackend(op, path, err)
	}

	listing, err = fs.describeAll(ctx, op, path, children)
	if err != nil {
		return nil, err
	}

	if fs.cache.PutIfGeneration(path, listing, gen) {
		fs.metrics.SetCacheEntries(fs.cache.Len())
	}
	logger.Debug("List %q: %d entries", path, len(listing))
	return listing, nil
}

// describeAll builds descriptors for children of the folder at dir, deriving
// file links concurrently.
func (fs *FS) describeAll(ctx context.Context, op, dir string, children []*backend.Node) ([]FileInfo, error) {
	listing := make([]FileInfo, len(children))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fs.linkPar)

	for i, n := range children {
		if n.Dir {
			listing[i] = describe(n, dir, "")
			continue
		}

		g.Go(func() error {
			if err := fs.limiter.Wait(gctx); err != nil {
				return err
			}
			link, err := fs.backend.Link(gctx, n.ID)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				fs.metrics.RecordLinkFailure()
				logger.Warn("List %q: failed to derive link for %q (%s): %v", dir, n.Name, n.ID, err)
				link = ""
			}
			listing[i] = describe(n, dir, link)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, &Error{Code: BackingStoreFailure, Op: op, Path: dir, Message: "listing interrupted", Err: err}
	}
	return listing, nil
}

// CreateFolder creates a folder called name inside the folder at path.
//
// If path already holds a folder with that name, its descriptor is returned
// and nothing changes. Intermediate folders are not created.
func (fs *FS) CreateFolder(ctx context.Context, name, path string) (info FileInfo, err error) {
	const op = "create_folder"
	start := time.Now()
	defer func() { fs.observe(op, start, err) }()

	path = Clean(path)
	if !validName(name) {
		return FileInfo{}, newError(InvalidInput, op, path, "invalid folder name %q", name)
	}
	if err := fs.checkReady(op, path); err != nil {
		return FileInfo{}, err
	}

	list := fs.children()
	parent, err := fs.resolve(ctx, op, Segments(path), list)
	if err != nil {
		return FileInfo{}, err
	}

	siblings, err := list(ctx, parent.ID)
	if err != nil {
		return FileInfo{}, fromBackend(op, path, err)
	}
	for _, s := range siblings {
		if s.Dir && s.Name == name {
			logger.Debug("CreateFolder %q in %q: already exists (%s)", name, path, s.ID)
			return describe(s, path, ""), nil
		}
	}

	node, err := fs.backend.Mkdir(ctx, parent.ID, name)
	if err != nil {
		return FileInfo{}, fromBackend(op, Join(path, name), err)
	}

	fs.invalidate()
	logger.Info("Created folder %q (%s)", Join(path, name), node.ID)
	return describe(node, path, ""), nil
}

// Upload stores size bytes from r as a file called name in the folder at
// path and returns its descriptor, download link included.
//
// If the upload succeeds but the link cannot be derived, the file exists and
// the cache is invalidated, but a BackingStoreFailure is returned.
func (fs *FS) Upload(ctx context.Context, path, name string, r io.Reader, size int64) (info FileInfo, err error) {
	const op = "upload"
	start := time.Now()
	defer func() { fs.observe(op, start, err) }()

	path = Clean(path)
	switch {
	case !validName(name):
		return FileInfo{}, newError(InvalidInput, op, path, "invalid file name %q", name)
	case r == nil:
		return FileInfo{}, newError(InvalidInput, op, path, "no content for %q", name)
	case size < 0:
		return FileInfo{}, newError(InvalidInput, op, path, "negative size %d for %q", size, name)
	}
	if err := fs.checkReady(op, path); err != nil {
		return FileInfo{}, err
	}

	parent, err := fs.resolve(ctx, op, Segments(path), fs.children())
	if err != nil {
		return FileInfo{}, err
	}

	node, err := fs.backend.Upload(ctx, parent.ID, name, r, size)
	if err != nil {
		return FileInfo{}, fromBackend(op, Join(path, name), err)
	}
	fs.invalidate()

	if err := fs.limiter.Wait(ctx); err != nil {
		return FileInfo{}, &Error{Code: BackingStoreFailure, Op: op, Path: Join(path, name), Message: "link derivation interrupted", Err: err}
	}
	link, err := fs.backend.Link(ctx, node.ID)
	if err != nil {
		fs.metrics.RecordLinkFailure()
		return FileInfo{}, &Error{
			Code:    BackingStoreFailure,
			Op:      op,
			Path:    Join(path, name),
			Message: "uploaded but link derivation failed",
			Err:     err,
		}
	}

	logger.Info("Uploaded %q (%d bytes, %s)", Join(path, name), node.Size, node.ID)
	return describe(node, path, link), nil
}

// DeleteFile deletes the node with the given id. An unknown id fails with
// NotFound and leaves the cache untouched.
func (fs *FS) DeleteFile(ctx context.Context, id string) (err error) {
	const op = "delete_file"
	start := time.Now()
	defer func() { fs.observe(op, start, err) }()

	if id == "" {
		return newError(InvalidInput, op, "", "file id is required")
	}
	if err := fs.checkReady(op, id); err != nil {
		return err
	}

	node, err := fs.backend.Get(ctx, id)
	if err != nil {
		return fromBackend(op, id, err)
	}

	if err := fs.backend.Delete(ctx, node.ID); err != nil {
		return fromBackend(op, id, err)
	}

	fs.invalidate()
	logger.Info("Deleted node %q (%s)", node.Name, node.ID)
	return nil
}

// DeleteFolder deletes the folder at path together with everything inside
// it. The root cannot be deleted.
func (fs *FS) DeleteFolder(ctx context.Context, path string) (err error) {
	const op = "delete_folder"
	start := time.Now()
	defer func() { fs.observe(op, start, err) }()

	path = Clean(path)
	if path == "" {
		return newError(InvalidInput, op, path, "the root folder cannot be deleted")
	}
	if err := fs.checkReady(op, path); err != nil {
		return err
	}

	dir, err := fs.resolve(ctx, op, Segments(path), fs.children())
	if err != nil {
		return err
	}

	if err := fs.backend.Delete(ctx, dir.ID); err != nil {
		return fromBackend(op, path, err)
	}

	fs.invalidate()
	logger.Info("Deleted folder %q (%s)", path, dir.ID)
	return nil
}

// LookupID finds the entry with the given id in the folder at path. It goes
// through List, so it confirms the node is listed where it was created.
func (fs *FS) LookupID(ctx context.Context, path, id string) (FileInfo, error) {
	listing, err := fs.List(ctx, path)
	if err != nil {
		return FileInfo{}, err
	}
	for _, fi := range listing {
		if fi.ID == id {
			return fi, nil
		}
	}
	return FileInfo{}, newError(NotFound, "lookup", path, "no entry with id %q", id)
}

// Close releases the backend session.
func (fs *FS) Close() error {
	fs.ready.Store(false)
	fs.invalidate()
	return fs.backend.Close()
}
