// Package devseed loads JSON seed files that pre-populate the in-memory
// namespace used by the mock backend and the sandbox server.
package devseed

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
)

// Entry describes one seeded path. Files carry their content either as Base64
// or Text; directories set Type to "dir".
type Entry struct {
	Path        string     `json:"path"`
	Type        string     `json:"type,omitempty"`
	Base64      string     `json:"base64,omitempty"`
	Text        string     `json:"text,omitempty"`
	Owner       string     `json:"owner,omitempty"`
	Group       string     `json:"group,omitempty"`
	Permission  string     `json:"permission,omitempty"`
	Replication int        `json:"replication,omitempty"`
	BlockSize   string     `json:"block_size,omitempty"`
	ModTime     *time.Time `json:"mod_time,omitempty"`
}

// IsDir reports whether the entry seeds a directory.
func (e Entry) IsDir() bool {
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case "dir", "directory":
		return true
	}
	return false
}

// Data returns the decoded file content.
func (e Entry) Data() ([]byte, error) {
	if e.Base64 != "" {
		data, err := base64.StdEncoding.DecodeString(e.Base64)
		if err != nil {
			return nil, fmt.Errorf("devseed: decode base64 for %s: %w", e.Path, err)
		}
		return data, nil
	}
	return []byte(e.Text), nil
}

// BlockSizeBytes parses BlockSize ("1MB", "64k", "1048576"). Zero means unset.
func (e Entry) BlockSizeBytes() (int64, error) {
	if strings.TrimSpace(e.BlockSize) == "" {
		return 0, nil
	}
	size, err := datasize.ParseString(e.BlockSize)
	if err != nil {
		return 0, fmt.Errorf("devseed: block size for %s: %w", e.Path, err)
	}
	return int64(size.Bytes()), nil
}

// Load reads a JSON array of entries from path.
func Load(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devseed: read %s: %w", path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("devseed: decode %s: %w", path, err)
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Path) == "" {
			return nil, fmt.Errorf("devseed: entry %d missing path", i)
		}
	}
	return entries, nil
}
