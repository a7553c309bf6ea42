package api

import (
	"context"
	"errors"
	"strings"

	"github.com/staffdrive/staffdrive/pkg/auth"
	"github.com/staffdrive/staffdrive/pkg/backend"
	"github.com/staffdrive/staffdrive/pkg/vfs"
)

// ErrOutOfScope is returned for paths that try to leave the caller's folder.
var ErrOutOfScope = errors.New("path is outside your folder")

// maxDepth bounds the parent walk in ownerOf.
const maxDepth = 256

// ScopePath confines path to the caller's namespace.
//
// Admins get the cleaned path unchanged, the empty path naming the root.
// Everyone else is rooted at their folder: a path already starting with it
// is used as-is, any other path is placed beneath it, and the empty path
// is the folder itself. "." and ".." segments are rejected for everyone.
func ScopePath(c *auth.Claims, path string) (string, error) {
	segs := vfs.Segments(path)
	for _, s := range segs {
		if s == "." || s == ".." {
			return "", ErrOutOfScope
		}
	}
	clean := strings.Join(segs, "/")

	if c.Admin {
		return clean, nil
	}
	if len(segs) > 0 && segs[0] == c.Folder {
		return clean, nil
	}
	return vfs.Join(c.Folder, clean), nil
}

// isNamespaceRoot reports whether a scoped path is the caller's own folder,
// which only admins may delete.
func isNamespaceRoot(c *auth.Claims, path string) bool {
	return !c.Admin && vfs.Clean(path) == c.Folder
}

// ensureNamespace creates the caller's top-level folder if it is missing.
// CreateFolder is idempotent, so this is safe on every request.
func (a *API) ensureNamespace(ctx context.Context, c *auth.Claims) error {
	if c.Admin || c.Folder == "" {
		return nil
	}
	_, err := a.fs.CreateFolder(ctx, c.Folder, "")
	return err
}

// ownerOf walks the parents of node id up to the root and returns the name
// of its top-level folder. The root itself has no owner.
func ownerOf(ctx context.Context, b backend.Backend, id string) (string, error) {
	node, err := b.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if node.IsRoot() {
		return "", nil
	}

	for i := 0; i < maxDepth; i++ {
		parent, err := b.Get(ctx, node.ParentID)
		if err != nil {
			return "", err
		}
		if parent.IsRoot() {
			return node.Name, nil
		}
		node = parent
	}
	return "", errors.New("node hierarchy too deep")
}
