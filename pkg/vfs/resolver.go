package vfs

import (
	"context"
	"strings"

	"github.com/staffdrive/staffdrive/pkg/backend"
)

// childSource returns the immediate children of a node in backing store
// enumeration order.
type childSource func(ctx context.Context, parentID string) ([]*backend.Node, error)

// children returns a childSource for one operation.
//
// Backends that can list a node's children directly are asked per call.
// Otherwise the flat node enumeration is fetched once, on first use, and
// indexed by parent id; every later lookup in the same operation reuses that
// index instead of walking the whole graph per path segment.
func (fs *FS) children() childSource {
	if cl, ok := fs.backend.(backend.ChildLister); ok {
		return cl.Children
	}

	var index map[string][]*backend.Node
	return func(ctx context.Context, parentID string) ([]*backend.Node, error) {
		if index == nil {
			nodes, err := fs.backend.Nodes(ctx)
			if err != nil {
				return nil, err
			}
			index = make(map[string][]*backend.Node, len(nodes))
			for _, n := range nodes {
				if n.ParentID != "" {
					index[n.ParentID] = append(index[n.ParentID], n)
				}
			}
		}
		return index[parentID], nil
	}
}

// resolve walks segments from the root and returns the directory node they
// name.
//
// At each step only directory children are candidates; the first one whose
// name matches wins. A segment that names only a file fails with NotFound
// ("not a directory"). The empty path resolves to the root.
func (fs *FS) resolve(ctx context.Context, op string, segments []string, list childSource) (*backend.Node, error) {
	path := strings.Join(segments, "/")

	cur, err := fs.backend.Root(ctx)
	if err != nil {
		return nil, fromBackend(op, path, err)
	}

	for i, seg := range segments {
		children, err := list(ctx, cur.ID)
		if err != nil {
			return nil, fromBackend(op, path, err)
		}

		var next *backend.Node
		fileMatch := false
		for _, c := range children {
			if c.Name != seg {
				continue
			}
			if c.Dir {
				next = c
				break
			}
			fileMatch = true
		}

		walked := strings.Join(segments[:i], "/")
		switch {
		case next != nil:
			cur = next
		case fileMatch:
			return nil, newError(NotFound, op, path, "%q in %q is not a directory", seg, walked)
		default:
			return nil, newError(NotFound, op, path, "folder %q not found in %q", seg, walked)
		}
	}
	return cur, nil
}
