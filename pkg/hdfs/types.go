package hdfs

import (
	"context"
	"io"
	"os"
	"time"
)

// FileStatus describes a namespace entry as reported by the name-node.
type FileStatus struct {
	Path        string
	Name        string
	Length      int64
	BlockSize   int64
	Replication int
	Permission  os.FileMode
	Owner       string
	Group       string
	ModTime     time.Time
	AccessTime  time.Time
	IsDir       bool
	// BlockLocations is only populated by ListFiles.
	BlockLocations []BlockLocation
}

// IsFile reports whether the entry is a regular file.
func (s FileStatus) IsFile() bool {
	return !s.IsDir
}

// BlockLocation describes one block of a file and the hosts holding replicas.
type BlockLocation struct {
	Offset  int64
	Length  int64
	Hosts   []string
	Names   []string
	Corrupt bool
}

// FileChecksum is the service-side checksum of a stored file.
type FileChecksum struct {
	Algorithm   string
	BytesPerCRC int
	CRCPerBlock int64
	MD5         []byte
}

// CreateOptions control how a backend writes a new file.
type CreateOptions struct {
	Overwrite   bool
	Replication int
	BlockSize   int64
	Perm        os.FileMode
	// Size is the content length when known, -1 otherwise.
	Size int64
}

// CopyInOptions control Session.CopyIn.
type CopyInOptions struct {
	// DeleteSource removes the local source once every remote write succeeded.
	DeleteSource bool
	// Overwrite replaces an existing remote file instead of failing.
	Overwrite bool
}

// CopyOutOptions control Session.CopyOut.
type CopyOutOptions struct {
	// DeleteSource removes the remote source once the local copy is complete.
	DeleteSource bool
	// VerifyChecksum compares the downloaded content against the checksum
	// reported by the service before the copy is committed.
	VerifyChecksum bool
}

// Backend is the transport seam between a Session and a concrete service.
// Implementations return *Error values or errors that classify through
// errors.Is against the os package sentinels.
type Backend interface {
	Stat(ctx context.Context, path string) (*FileStatus, error)
	Mkdirs(ctx context.Context, path string, perm os.FileMode) error
	Create(ctx context.Context, path string, data io.Reader, opts CreateOptions) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string, recursive bool) (bool, error)
	Rename(ctx context.Context, src, dst string) error
	OpenDir(ctx context.Context, path string) (DirLister, error)
	BlockLocations(ctx context.Context, path string, offset, length int64) ([]BlockLocation, error)
	Checksum(ctx context.Context, path string) (*FileChecksum, error)
	Close() error
}

// DirLister pages through a directory. Next returns io.EOF after the last page.
type DirLister interface {
	Next(ctx context.Context) ([]FileStatus, error)
	Close() error
}
