// Package gc removes content blobs that no node of the local backend refers
// to any more.
//
// Orphans appear when the process dies between a node delete and the matching
// content delete, or when a content delete fails and is only logged. Uploads
// write content before the node is stored, so a blob may legitimately look
// orphaned for a short time. The collector therefore only deletes a blob once
// it has been seen unreferenced in two consecutive runs.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/store/content"
	"github.com/staffdrive/staffdrive/pkg/store/metadata"
)

// ContentStore is what the collector needs from a content store.
type ContentStore interface {
	content.Lister
	DeleteContent(ctx context.Context, id string) error
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether the background worker runs.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is how often to run (default: 1h)
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// RunTimeout bounds a single background run (default: 10m)
	RunTimeout time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`

	// DryRun logs what would be deleted without deleting anything.
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// Collector performs periodic garbage collection on a content store.
//
// Thread Safety: Safe for concurrent use. Runs are serialized.
type Collector struct {
	nodes   metadata.Store
	content ContentStore
	config  Config

	runMu   sync.Mutex
	suspect map[string]struct{}

	stopOnce sync.Once
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a collector. Call Start to begin background runs.
func NewCollector(nodes metadata.Store, store content.Store, config Config) (*Collector, error) {
	if nodes == nil {
		return nil, fmt.Errorf("node store is required")
	}
	cs, ok := store.(ContentStore)
	if !ok {
		return nil, fmt.Errorf("content store %T cannot list its content", store)
	}

	if config.Interval == 0 {
		config.Interval = time.Hour
	}
	if config.RunTimeout == 0 {
		config.RunTimeout = 10 * time.Minute
	}

	return &Collector{
		nodes:   nodes,
		content: cs,
		config:  config,
		suspect: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start launches the background worker. It is a no-op when disabled.
// Start must be called at most once.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		return
	}

	logger.Info("Starting garbage collector: interval=%s dry_run=%v", c.config.Interval, c.config.DryRun)
	c.started = true
	go c.worker()
}

// Stop signals the worker and waits for an in-progress run to finish or ctx
// to expire. Safe to call multiple times.
func (c *Collector) Stop(ctx context.Context) error {
	if !c.started {
		return nil
	}

	c.stopOnce.Do(func() {
		logger.Info("Stopping garbage collector...")
		close(c.stopCh)
	})

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one collection run and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.RunTimeout)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	// List content before nodes. A blob written after the listing cannot be
	// judged this run, and its node, if any, is already stored by the time
	// the node listing starts.
	existing, err := c.content.ListContent(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list content: %w", err)
	}
	stats.ExistingCount = uint64(len(existing))

	nodes, err := c.nodes.All(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list nodes: %w", err)
	}

	referenced := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if !n.Dir && n.ContentID != "" {
			referenced[n.ContentID] = struct{}{}
		}
	}
	stats.ReferencedCount = uint64(len(referenced))

	next := make(map[string]struct{})
	var doomed []string
	for _, id := range existing {
		if _, ok := referenced[id]; ok {
			continue
		}
		stats.OrphanedCount++
		if _, seen := c.suspect[id]; seen {
			doomed = append(doomed, id)
		} else {
			next[id] = struct{}{}
		}
	}

	if c.config.DryRun {
		for _, id := range doomed {
			logger.Info("GC: dry run, would delete %s", id)
		}
		// Keep everything suspect so a later real run still needs one pass.
		for _, id := range doomed {
			next[id] = struct{}{}
		}
		c.suspect = next
		return stats, nil
	}

	for _, id := range doomed {
		if err := ctx.Err(); err != nil {
			c.suspect = next
			return stats, err
		}
		if err := c.content.DeleteContent(ctx, id); err != nil {
			logger.Warn("GC: failed to delete %s: %v", id, err)
			stats.FailedCount++
			next[id] = struct{}{}
			continue
		}
		stats.DeletedCount++
	}

	c.suspect = next
	return stats, nil
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime       time.Time
	EndTime         time.Time
	ReferencedCount uint64 // content ids referenced by nodes
	ExistingCount   uint64 // content ids in the content store
	OrphanedCount   uint64 // unreferenced this run, deleted or not
	DeletedCount    uint64
	FailedCount     uint64
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d existing=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.ReferencedCount, s.ExistingCount, s.OrphanedCount,
		s.DeletedCount, s.FailedCount, s.Duration())
}
