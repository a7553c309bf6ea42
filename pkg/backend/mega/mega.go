// Package mega adapts a MEGA cloud drive account to backend.Backend.
package mega

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/backend"
	gomega "github.com/t3rm1n4l/go-mega"
)

// Backend talks to MEGA through go-mega.
//
// go-mega keeps the account's whole node tree in memory after login and keeps
// it current from the server's event stream, so enumeration and child listing
// are local operations. Mutations and link derivation are network calls.
//
// MEGA node handles carry no parent pointer we can read back, so the adapter
// records parent ids whenever it sees a node through enumeration, child
// listing or creation. Get fills in a missing parent with one full walk.
type Backend struct {
	mu   sync.RWMutex
	srv  *gomega.Mega
	tree tree

	parents *xsync.Map[string, string]
}

// New returns an unopened backend.
func New() *Backend {
	return &Backend{parents: xsync.NewMap[string, string]()}
}

// Open logs in to the account. Subsequent calls are no-ops.
func (b *Backend) Open(ctx context.Context, creds backend.Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return backend.NewError(backend.ErrInvalidArgument, "MEGA email and password are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tree != nil {
		return nil
	}

	srv := gomega.New()
	if err := srv.Login(creds.Email, creds.Password); err != nil {
		return backend.WrapError(backend.ErrIOError, err, "MEGA login failed for %s", creds.Email)
	}
	b.srv = srv
	b.tree = megaTree{fs: srv.FS}

	logger.Info("MEGA session established for %s", creds.Email)
	return nil
}

// view returns the in-memory node tree of the open session.
func (b *Backend) view() (tree, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.tree == nil {
		return nil, backend.NewError(backend.ErrNotOpen, "MEGA session is not open")
	}
	return b.tree, nil
}

// session returns the client used for calls that reach the MEGA API.
func (b *Backend) session() (*gomega.Mega, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.srv == nil {
		return nil, backend.NewError(backend.ErrNotOpen, "MEGA session is not open")
	}
	return b.srv, nil
}

func (b *Backend) convert(n entry, parentID string) *backend.Node {
	id := n.GetHash()
	if parentID != "" {
		b.parents.Store(id, parentID)
	} else if p, ok := b.parents.Load(id); ok {
		parentID = p
	}

	return &backend.Node{
		ID:        id,
		ParentID:  parentID,
		Name:      n.GetName(),
		Dir:       isDir(n),
		Size:      n.GetSize(),
		CreatedAt: n.GetTimeStamp().UTC(),
	}
}

func rootOf(t tree) (entry, error) {
	root := t.Root()
	if root == nil {
		return nil, backend.NewError(backend.ErrIOError, "MEGA filesystem has no root")
	}
	return root, nil
}

func (b *Backend) Root(ctx context.Context) (*backend.Node, error) {
	t, err := b.view()
	if err != nil {
		return nil, err
	}
	root, err := rootOf(t)
	if err != nil {
		return nil, err
	}
	return &backend.Node{
		ID:        root.GetHash(),
		Dir:       true,
		CreatedAt: root.GetTimeStamp().UTC(),
	}, nil
}

// Nodes walks the tree breadth first from the root. Children are visited in
// the order go-mega reports them.
func (b *Backend) Nodes(ctx context.Context) ([]*backend.Node, error) {
	t, err := b.view()
	if err != nil {
		return nil, err
	}
	rootEntry, err := rootOf(t)
	if err != nil {
		return nil, err
	}
	root, err := b.Root(ctx)
	if err != nil {
		return nil, err
	}

	out := []*backend.Node{root}
	queue := []entry{rootEntry}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cur := queue[0]
		queue = queue[1:]

		children, err := t.Children(cur)
		if err != nil {
			return nil, backend.WrapError(backend.ErrIOError, err, "failed to list children of %s", cur.GetHash())
		}
		for _, c := range children {
			node := b.convert(c, cur.GetHash())
			out = append(out, node)
			if node.Dir {
				queue = append(queue, c)
			}
		}
	}
	return out, nil
}

// Children implements backend.ChildLister.
func (b *Backend) Children(ctx context.Context, parentID string) ([]*backend.Node, error) {
	t, err := b.view()
	if err != nil {
		return nil, err
	}
	parent, err := lookup(t, parentID)
	if err != nil {
		return nil, err
	}

	children, err := t.Children(parent)
	if err != nil {
		return nil, backend.WrapError(backend.ErrIOError, err, "failed to list children of %s", parentID)
	}

	out := make([]*backend.Node, 0, len(children))
	for _, c := range children {
		out = append(out, b.convert(c, parentID))
	}
	return out, nil
}

func lookup(t tree, id string) (entry, error) {
	n := t.Lookup(id)
	if n == nil {
		return nil, backend.NewError(backend.ErrNotFound, "node %s not found", id)
	}
	return n, nil
}

// Get returns the node with the given hash. A node whose parent has not been
// seen yet triggers a walk from the root; one the walk does not reach lives
// outside the cloud drive (rubbish bin, inbox) and is reported as not found.
func (b *Backend) Get(ctx context.Context, id string) (*backend.Node, error) {
	t, err := b.view()
	if err != nil {
		return nil, err
	}
	n, err := lookup(t, id)
	if err != nil {
		return nil, err
	}

	if root, err := rootOf(t); err == nil && root.GetHash() == id {
		return b.Root(ctx)
	}

	if _, ok := b.parents.Load(id); !ok {
		if _, err := b.Nodes(ctx); err != nil {
			return nil, err
		}
		if _, ok := b.parents.Load(id); !ok {
			return nil, backend.NewError(backend.ErrNotFound, "node %s is not in the cloud drive", id)
		}
	}
	return b.convert(n, ""), nil
}

// raw looks up id for a call that reaches the MEGA API.
func (b *Backend) raw(srv *gomega.Mega, id string) (*gomega.Node, error) {
	n := srv.FS.HashLookup(id)
	if n == nil {
		return nil, backend.NewError(backend.ErrNotFound, "node %s not found", id)
	}
	return n, nil
}

func (b *Backend) directory(srv *gomega.Mega, id string) (*gomega.Node, error) {
	n, err := b.raw(srv, id)
	if err != nil {
		return nil, err
	}
	if !isDir(n) {
		return nil, backend.NewError(backend.ErrNotDirectory, "node %s is not a directory", id)
	}
	return n, nil
}

func (b *Backend) Mkdir(ctx context.Context, parentID, name string) (*backend.Node, error) {
	if name == "" {
		return nil, backend.NewError(backend.ErrInvalidArgument, "directory name is required")
	}
	srv, err := b.session()
	if err != nil {
		return nil, err
	}
	parent, err := b.directory(srv, parentID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := srv.CreateDir(name, parent)
	if err != nil {
		return nil, backend.WrapError(backend.ErrIOError, err, "failed to create directory %q", name)
	}
	return b.convert(n, parentID), nil
}

// Upload streams r to MEGA chunk by chunk. go-mega encrypts each chunk, so the
// chunk layout it reports must be followed exactly.
func (b *Backend) Upload(ctx context.Context, parentID, name string, r io.Reader, size int64) (*backend.Node, error) {
	if name == "" {
		return nil, backend.NewError(backend.ErrInvalidArgument, "file name is required")
	}
	if size < 0 {
		return nil, backend.NewError(backend.ErrInvalidArgument, "negative size %d", size)
	}
	srv, err := b.session()
	if err != nil {
		return nil, err
	}
	parent, err := b.directory(srv, parentID)
	if err != nil {
		return nil, err
	}

	u, err := srv.NewUpload(parent, name, size)
	if err != nil {
		return nil, backend.WrapError(backend.ErrIOError, err, "failed to start upload of %q", name)
	}

	for id := 0; id < u.Chunks(); id++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_, chunkSize, err := u.ChunkLocation(id)
		if err != nil {
			return nil, backend.WrapError(backend.ErrIOError, err, "failed to locate chunk %d of %q", id, name)
		}

		chunk := make([]byte, chunkSize)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, backend.WrapError(backend.ErrInvalidArgument, err, "short read on chunk %d of %q", id, name)
		}

		if err := u.UploadChunk(id, chunk); err != nil {
			return nil, backend.WrapError(backend.ErrIOError, err, "failed to upload chunk %d of %q", id, name)
		}
	}

	n, err := u.Finish()
	if err != nil {
		return nil, backend.WrapError(backend.ErrIOError, err, "failed to finish upload of %q", name)
	}
	return b.convert(n, parentID), nil
}

// Delete moves the node to the rubbish bin rather than destroying it, which
// keeps an accidental delete recoverable from the MEGA web client.
func (b *Backend) Delete(ctx context.Context, id string) error {
	srv, err := b.session()
	if err != nil {
		return err
	}
	n, err := b.raw(srv, id)
	if err != nil {
		return err
	}
	if n.GetType() == gomega.ROOT {
		return backend.NewError(backend.ErrInvalidArgument, "the root node cannot be deleted")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := srv.Delete(n, false); err != nil {
		if errors.Is(err, gomega.ENOENT) {
			return backend.WrapError(backend.ErrNotFound, err, "node %s not found", id)
		}
		return backend.WrapError(backend.ErrIOError, err, "failed to delete %s", id)
	}
	b.parents.Delete(id)
	return nil
}

// Link exports the node and returns a public link that includes the
// decryption key.
func (b *Backend) Link(ctx context.Context, id string) (string, error) {
	srv, err := b.session()
	if err != nil {
		return "", err
	}
	n, err := b.raw(srv, id)
	if err != nil {
		return "", err
	}
	if n.GetType() != gomega.FILE {
		return "", backend.NewError(backend.ErrIsDirectory, "cannot link directory %s", id)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	link, err := srv.Link(n, true)
	if err != nil {
		return "", backend.WrapError(backend.ErrIOError, err, "failed to export %s", id)
	}
	return link, nil
}

// Close drops the session. go-mega has no logout call; the session simply
// expires server side.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.srv = nil
	b.tree = nil
	return nil
}

func (b *Backend) String() string {
	return fmt.Sprintf("mega(open=%v)", b.isOpen())
}

func (b *Backend) isOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tree != nil
}
