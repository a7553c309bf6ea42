// Package backend defines the flat node store that the virtual folder layer
// runs on top of.
//
// A backing store knows nothing about paths. It exposes nodes that carry a
// parent reference, a name that is unique among siblings only, and a directory
// flag. Folder semantics (resolving "E001/reports/2024" to a node) live in
// package vfs.
package backend

import (
	"context"
	"io"
	"time"
)

// Node is a unit in a backing store's object graph.
type Node struct {
	// ID is the opaque, stable identifier assigned by the store.
	ID string `json:"id"`

	// ParentID references the parent node. Empty only for the root.
	ParentID string `json:"parent_id,omitempty"`

	// Name is the display name. Empty only for the root.
	Name string `json:"name"`

	// Dir is true for directories. Directories may have children, files carry
	// a size and can be linked.
	Dir bool `json:"dir"`

	// Size is the content length of a file in bytes. Zero for directories.
	Size int64 `json:"size"`

	// CreatedAt is assigned by the store when the node is created.
	CreatedAt time.Time `json:"created_at"`

	// ContentID locates the file's bytes in a content store. Only used by
	// backends that keep metadata and content apart.
	ContentID string `json:"content_id,omitempty"`
}

// IsRoot reports whether n is the root node.
func (n *Node) IsRoot() bool {
	return n.ParentID == ""
}

// Credentials authenticate a session against a backing store. Which fields are
// required depends on the backend.
type Credentials struct {
	Email    string
	Password string
}

// Backend is a flat node store.
//
// Open must succeed before any other method is called; other methods return
// a StoreError with ErrNotOpen otherwise. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Open establishes the session. Calling Open on an open backend is a no-op.
	Open(ctx context.Context, creds Credentials) error

	// Root returns the root node.
	Root(ctx context.Context) (*Node, error)

	// Nodes enumerates every node reachable from the root, including the root.
	// The order is stable between calls as long as nothing is mutated.
	Nodes(ctx context.Context) ([]*Node, error)

	// Get looks a node up by id. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Node, error)

	// Mkdir creates a directory under parentID.
	Mkdir(ctx context.Context, parentID, name string) (*Node, error)

	// Upload stores size bytes read from r as a new file under parentID and
	// returns the node once the store has acknowledged it.
	Upload(ctx context.Context, parentID, name string, r io.Reader, size int64) (*Node, error)

	// Delete removes the node. Deleting a directory removes its descendants.
	Delete(ctx context.Context, id string) error

	// Link derives a shareable download URL for a file node.
	Link(ctx context.Context, id string) (string, error)

	// Close releases the session.
	Close() error
}

// ChildLister is implemented by backends that can list a node's immediate
// children without enumerating the whole graph.
type ChildLister interface {
	Children(ctx context.Context, parentID string) ([]*Node, error)
}

// ContentReader is implemented by backends that can stream file content back.
// The local backend uses it to serve signed download links.
type ContentReader interface {
	ReadContent(ctx context.Context, id string) (io.ReadCloser, *Node, error)
}
