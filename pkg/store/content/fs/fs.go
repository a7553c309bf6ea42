package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/staffdrive/staffdrive/pkg/store/content"
)

// FSContentStore stores each content id as a file under a base directory.
//
// Files are sharded by the first two characters of the id to keep directory
// sizes manageable. Writes go to a temporary file that is renamed into place,
// so readers never observe partial content.
type FSContentStore struct {
	basePath string
}

// FSContentStoreConfig configures an FSContentStore.
type FSContentStoreConfig struct {
	// Path is the base directory. It is created if missing.
	Path string `mapstructure:"path" validate:"required"`

	// DirMode is the permission used for created directories (default: 0755)
	DirMode os.FileMode `mapstructure:"dir_mode"`
}

// NewFSContentStore creates the base directory if needed and returns a store.
func NewFSContentStore(ctx context.Context, cfg FSContentStoreConfig) (*FSContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, errors.New("content path is required")
	}

	mode := cfg.DirMode
	if mode == 0 {
		mode = 0755
	}
	if err := os.MkdirAll(cfg.Path, mode); err != nil {
		return nil, fmt.Errorf("failed to create content directory %s: %w", cfg.Path, err)
	}

	return &FSContentStore{basePath: cfg.Path}, nil
}

func (s *FSContentStore) pathFor(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid content id %q", id)
	}
	shard := id
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(s.basePath, shard, id), nil
}

func (s *FSContentStore) WriteContent(ctx context.Context, id string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.pathFor(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, content.ExactReader(r, size))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write content %s: %w", id, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit content %s: %w", id, err)
	}
	return nil
}

func (s *FSContentStore) ReadContent(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.pathFor(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open content %s: %w", id, err)
	}
	return f, nil
}

func (s *FSContentStore) DeleteContent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.pathFor(id)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete content %s: %w", id, err)
	}
	return nil
}

func (s *FSContentStore) ContentExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path, err := s.pathFor(id)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat content %s: %w", id, err)
	}
}

// ListContent walks the shard directories. In-flight temp files are skipped.
func (s *FSContentStore) ListContent(ctx context.Context) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		ids = append(ids, d.Name())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	return ids, nil
}
