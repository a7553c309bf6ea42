package mega

import (
	"time"

	gomega "github.com/t3rm1n4l/go-mega"
)

// entry is the part of a MEGA node the adapter reads. *gomega.Node
// satisfies it.
type entry interface {
	GetHash() string
	GetName() string
	GetType() int
	GetSize() int64
	GetTimeStamp() time.Time
}

// tree is the account's node tree as go-mega keeps it in memory.
type tree interface {
	Root() entry
	Children(e entry) ([]entry, error)
	// Lookup returns nil for an unknown hash.
	Lookup(hash string) entry
}

type megaTree struct {
	fs *gomega.MegaFS
}

func (t megaTree) Root() entry {
	if r := t.fs.GetRoot(); r != nil {
		return r
	}
	return nil
}

func (t megaTree) Children(e entry) ([]entry, error) {
	children, err := t.fs.GetChildren(e.(*gomega.Node))
	if err != nil {
		return nil, err
	}
	out := make([]entry, len(children))
	for i, c := range children {
		out[i] = c
	}
	return out, nil
}

func (t megaTree) Lookup(hash string) entry {
	if n := t.fs.HashLookup(hash); n != nil {
		return n
	}
	return nil
}

func isDir(e entry) bool {
	t := e.GetType()
	return t == gomega.FOLDER || t == gomega.ROOT
}
