package memory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/staffdrive/staffdrive/pkg/backend"
	"github.com/staffdrive/staffdrive/pkg/store/metadata"
)

// entry pairs a node with its insertion sequence number so that enumeration
// can follow creation order.
type entry struct {
	node *backend.Node
	seq  uint64
}

// MemoryMetadataStore keeps nodes in process memory.
//
// Nodes live in a concurrent map keyed by id. A second map tracks the ids of
// each parent's children so that Children does not scan the whole graph.
// Everything is lost when the process exits, which makes this store suited
// to tests and throwaway deployments.
//
// Thread Safety:
// The node map is an xsync.Map and tolerates concurrent access on its own. The
// child index is guarded by mu because a Put or Delete touches two entries
// (the node and its parent's child set) that must change together.
type MemoryMetadataStore struct {
	nodes *xsync.Map[string, entry]

	mu       sync.RWMutex
	children map[string]map[string]struct{}

	seq atomic.Uint64
}

// NewMemoryMetadataStore returns an empty store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		nodes:    xsync.NewMap[string, entry](),
		children: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryMetadataStore) Put(ctx context.Context, node *backend.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cp := *node

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.nodes.Load(cp.ID)
	seq := prev.seq
	if !exists {
		seq = s.seq.Add(1)
	} else if prev.node.ParentID != cp.ParentID {
		s.unlinkLocked(prev.node.ParentID, cp.ID)
	}

	s.nodes.Store(cp.ID, entry{node: &cp, seq: seq})

	if cp.ParentID != "" {
		set, ok := s.children[cp.ParentID]
		if !ok {
			set = make(map[string]struct{})
			s.children[cp.ParentID] = set
		}
		set[cp.ID] = struct{}{}
	}
	return nil
}

func (s *MemoryMetadataStore) Get(ctx context.Context, id string) (*backend.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e, ok := s.nodes.Load(id)
	if !ok {
		return nil, metadata.ErrNotFound
	}
	cp := *e.node
	return &cp, nil
}

func (s *MemoryMetadataStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.nodes.LoadAndDelete(id)
	if !ok {
		return metadata.ErrNotFound
	}
	s.unlinkLocked(e.node.ParentID, id)
	return nil
}

func (s *MemoryMetadataStore) unlinkLocked(parentID, id string) {
	set, ok := s.children[parentID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(s.children, parentID)
	}
}

func (s *MemoryMetadataStore) Children(ctx context.Context, parentID string) ([]*backend.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]entry, 0, len(s.children[parentID]))
	for id := range s.children[parentID] {
		if e, ok := s.nodes.Load(id); ok {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	return sorted(entries), nil
}

func (s *MemoryMetadataStore) All(ctx context.Context) ([]*backend.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]entry, 0, s.nodes.Size())
	s.nodes.Range(func(_ string, e entry) bool {
		entries = append(entries, e)
		return true
	})
	return sorted(entries), nil
}

func (s *MemoryMetadataStore) Close() error {
	return nil
}

func sorted(entries []entry) []*backend.Node {
	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	out := make([]*backend.Node, len(entries))
	for i, e := range entries {
		cp := *e.node
		out[i] = &cp
	}
	return out
}
