package vfs

import (
	"encoding/json"
	"time"

	"github.com/staffdrive/staffdrive/pkg/backend"
)

// Kind is the descriptor type string.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// FileInfo describes one entry of a folder listing as returned to clients.
type FileInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Type      Kind      `json:"type"`
	CreatedAt time.Time `json:"created_at"`

	// SecureURL is the download link. Empty for folders and for files whose
	// link could not be derived.
	SecureURL string `json:"secure_url"`
}

// IsFolder reports whether the entry is a folder.
func (fi FileInfo) IsFolder() bool {
	return fi.Type == KindFolder
}

// MarshalJSON renders CreatedAt as an ISO-8601 UTC timestamp with
// millisecond precision.
func (fi FileInfo) MarshalJSON() ([]byte, error) {
	type alias FileInfo
	return json.Marshal(struct {
		alias
		CreatedAt string `json:"created_at"`
	}{
		alias:     alias(fi),
		CreatedAt: fi.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func describe(n *backend.Node, dir, link string) FileInfo {
	fi := FileInfo{
		ID:        n.ID,
		Name:      n.Name,
		Path:      Join(dir, n.Name),
		CreatedAt: n.CreatedAt,
		SecureURL: link,
	}
	if n.Dir {
		fi.Type = KindFolder
	} else {
		fi.Type = KindFile
		fi.Size = n.Size
	}
	return fi
}
