// Package metadata defines persistent storage for the node graph of the local
// backend.
//
// A Store only persists nodes and their parent/child relationships. It does not
// enforce sibling-name uniqueness or cascade deletes; package backend/local
// builds those rules on top.
package metadata

import (
	"context"
	"errors"

	"github.com/staffdrive/staffdrive/pkg/backend"
)

// ErrNotFound is returned when a node id is not in the store.
var ErrNotFound = errors.New("node not found")

// Store persists backend nodes.
//
// Enumeration order is creation order: Children and All return nodes in the
// order they were first Put. Re-putting an existing id updates the node in
// place without moving it.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	// Put inserts or updates a node.
	Put(ctx context.Context, node *backend.Node) error

	// Get returns a copy of the node with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*backend.Node, error)

	// Delete removes a single node. Children are not touched. Returns
	// ErrNotFound if the id is unknown.
	Delete(ctx context.Context, id string) error

	// Children returns the immediate children of parentID in creation order.
	Children(ctx context.Context, parentID string) ([]*backend.Node, error)

	// All returns every node in creation order.
	All(ctx context.Context) ([]*backend.Node, error)

	// Close releases resources held by the store.
	Close() error
}
