package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/backend"
	"github.com/staffdrive/staffdrive/pkg/store/metadata"
)

// BadgerMetadataStore persists the node graph in BadgerDB.
//
// Each node is stored once under its id. Two secondary indexes (children per
// parent, global creation order) are written in the same transaction so they
// never disagree with the node records. See keys.go for the layout.
//
// Thread Safety:
// BadgerDB transactions are serializable, so the store needs no locking of
// its own. Transactions that lose a write conflict are retried by update.
type BadgerMetadataStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// BadgerMetadataStoreConfig configures a BadgerMetadataStore.
type BadgerMetadataStoreConfig struct {
	// DBPath is the directory BadgerDB writes its files to.
	DBPath string `mapstructure:"db_path"`

	// InMemory runs BadgerDB without touching disk. DBPath is ignored.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// record is the value stored under n:<id>.
type record struct {
	Node backend.Node `json:"node"`
	Seq  uint64       `json:"seq"`
}

// NewBadgerMetadataStore opens (or creates) a BadgerDB database.
func NewBadgerMetadataStore(ctx context.Context, config BadgerMetadataStoreConfig) (*BadgerMetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := config.DBPath
	if config.InMemory {
		path = ""
	}

	// Node records are small JSON blobs; compression costs more than it saves.
	opts := badger.DefaultOptions(path).
		WithInMemory(config.InMemory).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None)

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20).WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	seq, err := db.GetSequence([]byte(keySequence), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to lease node sequence: %w", err)
	}

	logger.Debug("BadgerDB node store opened: path=%s in_memory=%v", config.DBPath, config.InMemory)

	return &BadgerMetadataStore{db: db, seq: seq}, nil
}

func (s *BadgerMetadataStore) Put(ctx context.Context, node *backend.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		prev, err := getRecord(txn, node.ID)
		switch {
		case errors.Is(err, metadata.ErrNotFound):
			next, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("failed to allocate sequence: %w", err)
			}
			rec := record{Node: *node, Seq: next + 1}
			if err := txn.Set(keyOrder(rec.Seq, node.ID), []byte(node.ID)); err != nil {
				return err
			}
			return putRecord(txn, rec)

		case err != nil:
			return err
		}

		if prev.Node.ParentID != node.ParentID {
			if err := txn.Delete(keyChild(prev.Node.ParentID, prev.Seq, node.ID)); err != nil {
				return err
			}
		}
		return putRecord(txn, record{Node: *node, Seq: prev.Seq})
	})
}

func (s *BadgerMetadataStore) Get(ctx context.Context, id string) (*backend.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var node *backend.Node
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		node = &rec.Node
		return nil
	})
	return node, err
}

func (s *BadgerMetadataStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if rec.Node.ParentID != "" {
			if err := txn.Delete(keyChild(rec.Node.ParentID, rec.Seq, id)); err != nil {
				return err
			}
		}
		if err := txn.Delete(keyOrder(rec.Seq, id)); err != nil {
			return err
		}
		return txn.Delete(keyNode(id))
	})
}

func (s *BadgerMetadataStore) Children(ctx context.Context, parentID string) ([]*backend.Node, error) {
	return s.scan(ctx, keyChildPrefix(parentID))
}

func (s *BadgerMetadataStore) All(ctx context.Context) ([]*backend.Node, error) {
	return s.scan(ctx, []byte(prefixOrder))
}

// scan walks an index prefix whose values are node ids and loads each node.
func (s *BadgerMetadataStore) scan(ctx context.Context, prefix []byte) ([]*backend.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var nodes []*backend.Node
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read index value: %w", err)
			}

			rec, err := getRecord(txn, string(id))
			if err != nil {
				return fmt.Errorf("index entry %s points at missing node: %w", id, err)
			}
			node := rec.Node
			nodes = append(nodes, &node)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// maxConflictRetries bounds how often update re-runs a transaction that lost a
// write conflict.
const maxConflictRetries = 5

func (s *BadgerMetadataStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerMetadataStore) Close() error {
	if err := s.seq.Release(); err != nil {
		logger.Warn("Failed to release node sequence: %v", err)
	}
	return s.db.Close()
}

func getRecord(txn *badger.Txn, id string) (record, error) {
	var rec record

	item, err := txn.Get(keyNode(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, metadata.ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to get node %s: %w", id, err)
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return rec, fmt.Errorf("failed to decode node %s: %w", id, err)
	}
	return rec, nil
}

func putRecord(txn *badger.Txn, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode node %s: %w", rec.Node.ID, err)
	}
	if err := txn.Set(keyNode(rec.Node.ID), data); err != nil {
		return err
	}
	if rec.Node.ParentID != "" {
		return txn.Set(keyChild(rec.Node.ParentID, rec.Seq, rec.Node.ID), []byte(rec.Node.ID))
	}
	return nil
}
