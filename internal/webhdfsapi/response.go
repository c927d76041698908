// Package webhdfsapi holds the JSON shapes exchanged with a WebHDFS REST
// endpoint (/webhdfs/v1) and helpers to decode them. It is shared by the
// client backend and the in-memory sandbox server so both sides agree on the
// wire format.
package webhdfsapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PathPrefix is the URL prefix under which the REST API is served.
const PathPrefix = "/webhdfs/v1"

// Operation names understood by the REST endpoint.
const (
	OpGetFileStatus         = "GETFILESTATUS"
	OpListStatusBatch       = "LISTSTATUS_BATCH"
	OpMkdirs                = "MKDIRS"
	OpCreate                = "CREATE"
	OpOpen                  = "OPEN"
	OpDelete                = "DELETE"
	OpRename                = "RENAME"
	OpGetFileBlockLocations = "GETFILEBLOCKLOCATIONS"
	OpGetFileChecksum       = "GETFILECHECKSUM"
)

// Entry types reported in FileStatus.Type.
const (
	TypeFile      = "FILE"
	TypeDirectory = "DIRECTORY"
	TypeSymlink   = "SYMLINK"
)

// FileStatus is the JSON representation of a namespace entry.
type FileStatus struct {
	AccessTime       int64  `json:"accessTime"`
	BlockSize        int64  `json:"blockSize"`
	ChildrenNum      int64  `json:"childrenNum"`
	FileID           int64  `json:"fileId"`
	Group            string `json:"group"`
	Length           int64  `json:"length"`
	ModificationTime int64  `json:"modificationTime"`
	Owner            string `json:"owner"`
	PathSuffix       string `json:"pathSuffix"`
	Permission       string `json:"permission"`
	Replication      int    `json:"replication"`
	Type             string `json:"type"`
}

// FileStatusResponse wraps GETFILESTATUS results.
type FileStatusResponse struct {
	FileStatus FileStatus `json:"FileStatus"`
}

// DirectoryListingResponse wraps LISTSTATUS_BATCH results.
type DirectoryListingResponse struct {
	DirectoryListing struct {
		PartialListing struct {
			FileStatuses struct {
				FileStatus []FileStatus `json:"FileStatus"`
			} `json:"FileStatuses"`
		} `json:"partialListing"`
		RemainingEntries int `json:"remainingEntries"`
	} `json:"DirectoryListing"`
}

// BooleanResponse wraps MKDIRS, DELETE and RENAME results.
type BooleanResponse struct {
	Boolean bool `json:"boolean"`
}

// BlockLocation describes one block of a file and its replicas.
type BlockLocation struct {
	CachedHosts   []string `json:"cachedHosts"`
	Corrupt       bool     `json:"corrupt"`
	Hosts         []string `json:"hosts"`
	Length        int64    `json:"length"`
	Names         []string `json:"names"`
	Offset        int64    `json:"offset"`
	StorageTypes  []string `json:"storageTypes"`
	TopologyPaths []string `json:"topologyPaths"`
}

// BlockLocationsResponse wraps GETFILEBLOCKLOCATIONS results.
type BlockLocationsResponse struct {
	BlockLocations struct {
		BlockLocation []BlockLocation `json:"BlockLocation"`
	} `json:"BlockLocations"`
}

// FileChecksum is the JSON checksum payload; Bytes is hex encoded.
type FileChecksum struct {
	Algorithm string `json:"algorithm"`
	Bytes     string `json:"bytes"`
	Length    int    `json:"length"`
}

// FileChecksumResponse wraps GETFILECHECKSUM results.
type FileChecksumResponse struct {
	FileChecksum FileChecksum `json:"FileChecksum"`
}

// RemoteException is the error body returned for failed operations.
type RemoteException struct {
	Exception     string `json:"exception"`
	JavaClassName string `json:"javaClassName"`
	Message       string `json:"message"`
}

func (e *RemoteException) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Exception, e.Message)
}

// RemoteExceptionResponse wraps a RemoteException.
type RemoteExceptionResponse struct {
	RemoteException *RemoteException `json:"RemoteException"`
}

// Decode unmarshals a JSON body into out. An empty body decodes as null.
func Decode(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		trimmed = []byte("null")
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("webhdfsapi: decode response: %w", err)
	}
	return nil
}

// ExtractRemoteException returns the exception embedded in an error body, if
// the body has one.
func ExtractRemoteException(body []byte) (*RemoteException, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var envelope RemoteExceptionResponse
	if err := json.Unmarshal(trimmed, &envelope); err != nil || envelope.RemoteException == nil {
		return nil, false
	}
	ex := envelope.RemoteException
	if ex.Exception == "" && ex.JavaClassName != "" {
		ex.Exception = ex.JavaClassName[strings.LastIndex(ex.JavaClassName, ".")+1:]
	}
	return ex, true
}

// ParsePermission converts an octal permission string ("755", "1777") into
// file mode bits. The sticky bit is preserved.
func ParsePermission(s string) (os.FileMode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("webhdfsapi: invalid permission %q: %w", s, err)
	}
	mode := os.FileMode(v & 0o777)
	if v&0o1000 != 0 {
		mode |= os.ModeSticky
	}
	return mode, nil
}

// FormatPermission renders mode bits in the octal form the API expects.
func FormatPermission(mode os.FileMode) string {
	v := uint32(mode.Perm())
	if mode&os.ModeSticky != 0 {
		v |= 0o1000
	}
	return strconv.FormatUint(uint64(v), 8)
}
