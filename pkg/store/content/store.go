// Package content defines byte storage for the files of the local backend.
package content

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrContentNotFound indicates the requested content does not exist.
	ErrContentNotFound = errors.New("content not found")

	// ErrSizeMismatch indicates the reader produced a different number of
	// bytes than announced.
	ErrSizeMismatch = errors.New("content size mismatch")
)

// Store keeps opaque blobs addressed by a content id.
//
// The content store trusts ids handed to it by the node store and performs no
// access control. Writing an id that already exists replaces its content.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	// WriteContent stores exactly size bytes read from r under id.
	// Implementations return ErrSizeMismatch if r yields more or fewer bytes.
	WriteContent(ctx context.Context, id string, r io.Reader, size int64) error

	// ReadContent opens the content for reading. The caller closes the reader.
	ReadContent(ctx context.Context, id string) (io.ReadCloser, error)

	// DeleteContent removes the content. Deleting a missing id is not an error.
	DeleteContent(ctx context.Context, id string) error

	// ContentExists reports whether id has content.
	ContentExists(ctx context.Context, id string) (bool, error)
}

// Lister is implemented by stores that can enumerate their content ids.
// The garbage collector needs it to find blobs no node refers to.
type Lister interface {
	// ListContent returns every stored content id in no particular order.
	ListContent(ctx context.Context) ([]string, error)
}

// Presigner is implemented by stores that can hand out time-limited URLs
// which download content directly from the storage service.
type Presigner interface {
	// PresignGet returns a URL valid for ttl. filename is suggested to the
	// client as the download name.
	PresignGet(ctx context.Context, id, filename string, ttl time.Duration) (string, error)
}

// CountingReader tracks the number of bytes read through it.
type CountingReader struct {
	R io.Reader
	N int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.N += int64(n)
	return n, err
}

// ExactReader limits r to size bytes and fails with ErrSizeMismatch once it
// sees that r holds fewer or more bytes.
func ExactReader(r io.Reader, size int64) io.Reader {
	return &exactReader{r: io.LimitReader(r, size+1), remaining: size}
}

type exactReader struct {
	r         io.Reader
	remaining int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	e.remaining -= int64(n)
	if e.remaining < 0 {
		return n, ErrSizeMismatch
	}
	if err == io.EOF && e.remaining > 0 {
		return n, ErrSizeMismatch
	}
	return n, err
}
