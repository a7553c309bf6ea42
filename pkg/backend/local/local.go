// Package local implements a self-hosted backing store: node metadata in a
// metadata.Store, file bytes in a content.Store.
package local

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/backend"
	"github.com/staffdrive/staffdrive/pkg/store/content"
	"github.com/staffdrive/staffdrive/pkg/store/metadata"
)

// RootID is the id of the root node of every local backend.
const RootID = "root"

// Backend composes a node store and a content store into a backend.Backend.
//
// Thread Safety:
// Both stores are safe for concurrent use. mu serializes structural changes
// (mkdir, upload commit, delete) so that a cascade delete never races with a
// node being created inside the subtree it is removing.
type Backend struct {
	nodes   metadata.Store
	content content.Store
	signer  *LinkSigner
	now     func() time.Time

	mu     sync.Mutex
	opened atomic.Bool
}

// Config wires the stores together.
type Config struct {
	Nodes   metadata.Store
	Content content.Store

	// Signer issues download links when Content is not a content.Presigner.
	Signer *LinkSigner
}

// New returns a backend. Open must be called before use.
func New(cfg Config) (*Backend, error) {
	if cfg.Nodes == nil {
		return nil, errors.New("node store is required")
	}
	if cfg.Content == nil {
		return nil, errors.New("content store is required")
	}
	if _, ok := cfg.Content.(content.Presigner); !ok && cfg.Signer == nil {
		return nil, errors.New("link signer is required when the content store cannot presign")
	}
	return &Backend{
		nodes:   cfg.Nodes,
		content: cfg.Content,
		signer:  cfg.Signer,
		now:     time.Now,
	}, nil
}

// Open creates the root node if the node store has none. Credentials are
// ignored; access control happens in front of the backend.
func (b *Backend) Open(ctx context.Context, _ backend.Credentials) error {
	if b.opened.Load() {
		return nil
	}

	_, err := b.nodes.Get(ctx, RootID)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		root := &backend.Node{ID: RootID, Dir: true, CreatedAt: b.now().UTC()}
		if err := b.nodes.Put(ctx, root); err != nil {
			return backend.WrapError(backend.ErrIOError, err, "failed to create root node")
		}
		logger.Info("Local backend: created root node")
	case err != nil:
		return backend.WrapError(backend.ErrIOError, err, "failed to load root node")
	}

	b.opened.Store(true)
	return nil
}

func (b *Backend) checkOpen() error {
	if !b.opened.Load() {
		return backend.NewError(backend.ErrNotOpen, "local backend is not open")
	}
	return nil
}

func (b *Backend) Root(ctx context.Context) (*backend.Node, error) {
	return b.Get(ctx, RootID)
}

func (b *Backend) Nodes(ctx context.Context) ([]*backend.Node, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	nodes, err := b.nodes.All(ctx)
	if err != nil {
		return nil, backend.WrapError(backend.ErrIOError, err, "failed to enumerate nodes")
	}
	return nodes, nil
}

// Children implements backend.ChildLister.
func (b *Backend) Children(ctx context.Context, parentID string) ([]*backend.Node, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	children, err := b.nodes.Children(ctx, parentID)
	if err != nil {
		return nil, backend.WrapError(backend.ErrIOError, err, "failed to list children of %s", parentID)
	}
	return children, nil
}

func (b *Backend) Get(ctx context.Context, id string) (*backend.Node, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	node, err := b.nodes.Get(ctx, id)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, backend.NewError(backend.ErrNotFound, "node %s not found", id)
	}
	if err != nil {
		return nil, backend.WrapError(backend.ErrIOError, err, "failed to load node %s", id)
	}
	return node, nil
}

// directory loads parentID and checks that it is a directory.
func (b *Backend) directory(ctx context.Context, parentID string) (*backend.Node, error) {
	parent, err := b.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.Dir {
		return nil, backend.NewError(backend.ErrNotDirectory, "node %s is not a directory", parentID)
	}
	return parent, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return backend.NewError(backend.ErrInvalidArgument, "invalid name %q", name)
	}
	return nil
}

func (b *Backend) Mkdir(ctx context.Context, parentID, name string) (*backend.Node, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.directory(ctx, parentID); err != nil {
		return nil, err
	}

	// Two racing creates of the same folder must not leave two siblings with
	// one name behind; the loser gets the winner's node.
	siblings, err := b.nodes.Children(ctx, parentID)
	if err != nil {
		return nil, backend.WrapError(backend.ErrIOError, err, "failed to list children of %s", parentID)
	}
	for _, s := range siblings {
		if s.Dir && s.Name == name {
			return s, nil
		}
	}

	node := &backend.Node{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Name:      name,
		Dir:       true,
		CreatedAt: b.now().UTC(),
	}
	if err := b.nodes.Put(ctx, node); err != nil {
		return nil, backend.WrapError(backend.ErrIOError, err, "failed to create directory %q", name)
	}
	return node, nil
}

func (b *Backend) Upload(ctx context.Context, parentID, name string, r io.Reader, size int64) (*backend.Node, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, backend.NewError(backend.ErrInvalidArgument, "negative size %d", size)
	}
	if _, err := b.directory(ctx, parentID); err != nil {
		return nil, err
	}

	node := &backend.Node{
		ID:       uuid.NewString(),
		ParentID: parentID,
		Name:     name,
		Size:     size,
	}
	node.ContentID = node.ID

	// Bytes go in before the node becomes visible, so a listing never shows a
	// file whose content is missing.
	if err := b.content.WriteContent(ctx, node.ContentID, r, size); err != nil {
		return nil, backend.WrapError(backend.ErrIOError, err, "failed to store content for %q", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// The parent may have been deleted while the bytes were in flight.
	if _, err := b.directory(ctx, parentID); err != nil {
		b.discardContent(node.ContentID)
		return nil, err
	}

	node.CreatedAt = b.now().UTC()
	if err := b.nodes.Put(ctx, node); err != nil {
		b.discardContent(node.ContentID)
		return nil, backend.WrapError(backend.ErrIOError, err, "failed to record file %q", name)
	}
	return node, nil
}

func (b *Backend) discardContent(contentID string) {
	if err := b.content.DeleteContent(context.Background(), contentID); err != nil {
		logger.Warn("Local backend: failed to discard orphaned content %s: %v", contentID, err)
	}
}

// Delete removes the node and, for directories, every descendant. Content of
// removed files is deleted after the nodes are gone; a failure there leaves
// an orphaned blob and is only logged.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if id == RootID {
		return backend.NewError(backend.ErrInvalidArgument, "the root node cannot be deleted")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	node, err := b.Get(ctx, id)
	if err != nil {
		return err
	}

	subtree := []*backend.Node{node}
	for i := 0; i < len(subtree); i++ {
		if !subtree[i].Dir {
			continue
		}
		children, err := b.nodes.Children(ctx, subtree[i].ID)
		if err != nil {
			return backend.WrapError(backend.ErrIOError, err, "failed to list children of %s", subtree[i].ID)
		}
		subtree = append(subtree, children...)
	}

	// Deepest first, so an interrupted delete never leaves orphans whose
	// parent is already gone.
	for i := len(subtree) - 1; i >= 0; i-- {
		n := subtree[i]
		if err := b.nodes.Delete(ctx, n.ID); err != nil && !errors.Is(err, metadata.ErrNotFound) {
			return backend.WrapError(backend.ErrIOError, err, "failed to delete node %s", n.ID)
		}
		if !n.Dir && n.ContentID != "" {
			if err := b.content.DeleteContent(ctx, n.ContentID); err != nil {
				logger.Warn("Local backend: failed to delete content %s: %v", n.ContentID, err)
			}
		}
	}

	logger.Debug("Local backend: deleted %s (%d nodes)", id, len(subtree))
	return nil
}

func (b *Backend) Link(ctx context.Context, id string) (string, error) {
	node, err := b.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if node.Dir {
		return "", backend.NewError(backend.ErrIsDirectory, "cannot link directory %s", id)
	}

	if p, ok := b.content.(content.Presigner); ok {
		ttl := 24 * time.Hour
		if b.signer != nil {
			ttl = b.signer.TTL()
		}
		link, err := p.PresignGet(ctx, node.ContentID, node.Name, ttl)
		if err != nil {
			return "", backend.WrapError(backend.ErrIOError, err, "failed to presign %s", id)
		}
		return link, nil
	}

	link, err := b.signer.Sign(node.ID)
	if err != nil {
		return "", backend.WrapError(backend.ErrIOError, err, "failed to sign link for %s", id)
	}
	return link, nil
}

// ReadContent implements backend.ContentReader.
func (b *Backend) ReadContent(ctx context.Context, id string) (io.ReadCloser, *backend.Node, error) {
	node, err := b.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if node.Dir {
		return nil, nil, backend.NewError(backend.ErrIsDirectory, "cannot read directory %s", id)
	}

	rc, err := b.content.ReadContent(ctx, node.ContentID)
	if errors.Is(err, content.ErrContentNotFound) {
		return nil, nil, backend.WrapError(backend.ErrNotFound, err, "content of %s is missing", id)
	}
	if err != nil {
		return nil, nil, backend.WrapError(backend.ErrIOError, err, "failed to read %s", id)
	}
	return rc, node, nil
}

// Signer returns the link signer, or nil when links are presigned.
func (b *Backend) Signer() *LinkSigner {
	return b.signer
}

func (b *Backend) Close() error {
	b.opened.Store(false)

	var errs []error
	if err := b.nodes.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := b.content.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
