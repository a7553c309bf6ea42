package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/staffdrive/staffdrive/pkg/backend"
)

// fakeBackend is a flat node map without child listing, the shape of the
// MEGA client's node table.
type fakeBackend struct {
	mu     sync.Mutex
	nodes  []*backend.Node
	nextID int
	open   bool

	openErr   error
	openCalls atomic.Int32
	openGate  chan struct{}

	nodeCalls   atomic.Int32
	linkErr     map[string]error
	uploadErr   error
	mkdirCalls  atomic.Int32
	deleteCalls atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nodes:   []*backend.Node{{ID: "root", Dir: true, CreatedAt: time.Unix(0, 0).UTC()}},
		linkErr: make(map[string]error),
	}
}

// add inserts a node directly, bypassing the Backend API.
func (f *fakeBackend) add(parentID, name string, dir bool, size int64) *backend.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(parentID, name, dir, size)
}

func (f *fakeBackend) addLocked(parentID, name string, dir bool, size int64) *backend.Node {
	f.nextID++
	n := &backend.Node{
		ID:        fmt.Sprintf("n%d", f.nextID),
		ParentID:  parentID,
		Name:      name,
		Dir:       dir,
		Size:      size,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	f.nodes = append(f.nodes, n)
	return n
}

func (f *fakeBackend) Open(ctx context.Context, creds backend.Credentials) error {
	f.openCalls.Add(1)
	if f.openGate != nil {
		<-f.openGate
	}
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	f.open = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Root(ctx context.Context) (*backend.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.nodes[0]
	return &cp, nil
}

func (f *fakeBackend) Nodes(ctx context.Context) ([]*backend.Node, error) {
	f.nodeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*backend.Node, len(f.nodes))
	for i, n := range f.nodes {
		cp := *n
		out[i] = &cp
	}
	return out, nil
}

func (f *fakeBackend) findLocked(id string) int {
	for i, n := range f.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (f *fakeBackend) Get(ctx context.Context, id string) (*backend.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.findLocked(id); i >= 0 {
		cp := *f.nodes[i]
		return &cp, nil
	}
	return nil, backend.NewError(backend.ErrNotFound, "node %s not found", id)
}

func (f *fakeBackend) Mkdir(ctx context.Context, parentID, name string) (*backend.Node, error) {
	f.mkdirCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findLocked(parentID) < 0 {
		return nil, backend.NewError(backend.ErrNotFound, "parent %s not found", parentID)
	}
	cp := *f.addLocked(parentID, name, true, 0)
	return &cp, nil
}

func (f *fakeBackend) Upload(ctx context.Context, parentID, name string, r io.Reader, size int64) (*backend.Node, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.addLocked(parentID, name, false, int64(len(data)))
	return &cp, nil
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	f.deleteCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	doomed := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for _, n := range f.nodes {
			if doomed[n.ParentID] && !doomed[n.ID] {
				doomed[n.ID] = true
				changed = true
			}
		}
	}

	kept := f.nodes[:0]
	for _, n := range f.nodes {
		if !doomed[n.ID] {
			kept = append(kept, n)
		}
	}
	f.nodes = kept
	return nil
}

func (f *fakeBackend) Link(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	err := f.linkErr[id]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "https://links.example.com/" + id, nil
}

func (f *fakeBackend) Close() error {
	return nil
}

// listingBackend adds direct child listing to fakeBackend.
type listingBackend struct {
	*fakeBackend
	childCalls atomic.Int32
}

func (l *listingBackend) Children(ctx context.Context, parentID string) ([]*backend.Node, error) {
	l.childCalls.Add(1)
	nodes, err := l.fakeBackend.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	l.fakeBackend.nodeCalls.Add(-1)

	var out []*backend.Node
	for _, n := range nodes {
		if n.ParentID == parentID {
			out = append(out, n)
		}
	}
	return out, nil
}

// recordingMetrics captures what FS reports.
type recordingMetrics struct {
	mu            sync.Mutex
	ops           map[string]int
	failures      map[string]Code
	hits, misses  int
	invalidations int
	linkFailures  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ops: map[string]int{}, failures: map[string]Code{}}
}

func (m *recordingMetrics) ObserveOperation(op string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op]++
	if err != nil {
		m.failures[op] = CodeOf(err)
	}
}

func (m *recordingMetrics) RecordCacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *recordingMetrics) SetCacheEntries(int) {}

func (m *recordingMetrics) RecordInvalidation() {
	m.mu.Lock()
	m.invalidations++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordLinkFailure() {
	m.mu.Lock()
	m.linkFailures++
	m.mu.Unlock()
}

var errBoom = errors.New("boom")
