package mock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/hsdata/hdfs_sdk_go/internal/checksum"
	"github.com/hsdata/hdfs_sdk_go/internal/webhdfsapi"
	"github.com/hsdata/hdfs_sdk_go/pkg/hdfs"
)

// DefaultUser is assumed when a request carries no user.name parameter.
const DefaultUser = "dr.who"

// NewWebHDFSHandler serves m over the WebHDFS REST API under /webhdfs/v1.
// Data transfers (CREATE, OPEN, GETFILECHECKSUM) answer the first request
// with a 307 redirect carrying data=true, like a name-node handing the
// client off to a data-node.
func NewWebHDFSHandler(m *Mock) http.Handler {
	return &webHDFSHandler{m: m}
}

type webHDFSHandler struct {
	m *Mock
}

func (h *webHDFSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, webhdfsapi.PathPrefix) {
		http.NotFound(w, r)
		return
	}
	p := cleanPath(strings.TrimPrefix(r.URL.Path, webhdfsapi.PathPrefix))
	q := r.URL.Query()
	user := q.Get("user.name")
	if user == "" {
		user = DefaultUser
	}
	conn := h.m.Connect(user)
	op := strings.ToUpper(q.Get("op"))
	dataHop := q.Get("data") == "true"

	switch {
	case r.Method == http.MethodGet && op == webhdfsapi.OpGetFileStatus:
		e, err := h.m.stat(p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, webhdfsapi.FileStatusResponse{FileStatus: toWire(e, "")})

	case r.Method == http.MethodGet && op == webhdfsapi.OpListStatusBatch:
		h.listBatch(w, user, p, q.Get("startAfter"))

	case r.Method == http.MethodPut && op == webhdfsapi.OpMkdirs:
		perm, err := permissionParam(q, 0o755)
		if err != nil {
			writeIllegalArgument(w, err)
			return
		}
		if err := conn.Mkdirs(r.Context(), p, perm); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, webhdfsapi.BooleanResponse{Boolean: true})

	case r.Method == http.MethodPut && op == webhdfsapi.OpCreate && !dataHop:
		redirectToDataNode(w, r)

	case r.Method == http.MethodPut && op == webhdfsapi.OpCreate:
		h.create(w, r, conn, p, q)

	case r.Method == http.MethodGet && (op == webhdfsapi.OpOpen || op == webhdfsapi.OpGetFileChecksum) && !dataHop:
		if _, err := h.m.stat(p); err != nil {
			writeError(w, err)
			return
		}
		redirectToDataNode(w, r)

	case r.Method == http.MethodGet && op == webhdfsapi.OpOpen:
		h.open(w, r, conn, p, q)

	case r.Method == http.MethodGet && op == webhdfsapi.OpGetFileChecksum:
		sum, err := conn.Checksum(r.Context(), p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, webhdfsapi.FileChecksumResponse{FileChecksum: webhdfsapi.FileChecksum{
			Algorithm: sum.Algorithm,
			Bytes:     checksum.EncodeBytes(sum.BytesPerCRC, sum.CRCPerBlock, sum.MD5),
			Length:    28,
		}})

	case r.Method == http.MethodDelete && op == webhdfsapi.OpDelete:
		deleted, err := conn.Delete(r.Context(), p, q.Get("recursive") == "true")
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, webhdfsapi.BooleanResponse{Boolean: deleted})

	case r.Method == http.MethodPut && op == webhdfsapi.OpRename:
		dst := q.Get("destination")
		if !strings.HasPrefix(dst, "/") {
			writeIllegalArgument(w, fmt.Errorf("invalid destination %q", dst))
			return
		}
		if err := conn.Rename(r.Context(), p, dst); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, webhdfsapi.BooleanResponse{Boolean: true})

	case r.Method == http.MethodGet && op == webhdfsapi.OpGetFileBlockLocations:
		h.blockLocations(w, r, conn, p, q)

	default:
		writeRemoteException(w, http.StatusBadRequest, "UnsupportedOperationException",
			"java.lang.UnsupportedOperationException", fmt.Sprintf("%s %s is not supported", r.Method, op))
	}
}

func (h *webHDFSHandler) listBatch(w http.ResponseWriter, user, p, startAfter string) {
	entries, remaining, err := h.m.page(user, p, startAfter)
	if err != nil {
		writeError(w, err)
		return
	}
	var resp webhdfsapi.DirectoryListingResponse
	statuses := make([]webhdfsapi.FileStatus, 0, len(entries))
	for _, e := range entries {
		suffix := e.status.Name
		if e.status.Path == p {
			suffix = ""
		}
		statuses = append(statuses, toWire(e, suffix))
	}
	resp.DirectoryListing.PartialListing.FileStatuses.FileStatus = statuses
	resp.DirectoryListing.RemainingEntries = remaining
	writeJSON(w, http.StatusOK, resp)
}

func (h *webHDFSHandler) create(w http.ResponseWriter, r *http.Request, conn *Conn, p string, q url.Values) {
	perm, err := permissionParam(q, 0o644)
	if err != nil {
		writeIllegalArgument(w, err)
		return
	}
	opts := hdfs.CreateOptions{Overwrite: q.Get("overwrite") == "true", Perm: perm, Size: -1}
	if v := q.Get("replication"); v != "" {
		if opts.Replication, err = strconv.Atoi(v); err != nil {
			writeIllegalArgument(w, err)
			return
		}
	}
	if v := q.Get("blocksize"); v != "" {
		if opts.BlockSize, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeIllegalArgument(w, err)
			return
		}
	}
	if err := conn.Create(r.Context(), p, r.Body, opts); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "hdfs://"+r.Host+p)
	w.WriteHeader(http.StatusCreated)
}

func (h *webHDFSHandler) open(w http.ResponseWriter, r *http.Request, conn *Conn, p string, q url.Values) {
	rc, err := conn.Open(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := int64Param(q, "offset", 0)
	if err != nil {
		writeIllegalArgument(w, err)
		return
	}
	length, err := int64Param(q, "length", int64(len(data)))
	if err != nil {
		writeIllegalArgument(w, err)
		return
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(end-offset, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data[offset:end])
}

func (h *webHDFSHandler) blockLocations(w http.ResponseWriter, r *http.Request, conn *Conn, p string, q url.Values) {
	offset, err := int64Param(q, "offset", 0)
	if err != nil {
		writeIllegalArgument(w, err)
		return
	}
	length, err := int64Param(q, "length", 1<<62)
	if err != nil {
		writeIllegalArgument(w, err)
		return
	}
	locs, err := conn.BlockLocations(r.Context(), p, offset, length)
	if err != nil {
		writeError(w, err)
		return
	}
	var resp webhdfsapi.BlockLocationsResponse
	out := make([]webhdfsapi.BlockLocation, 0, len(locs))
	for _, l := range locs {
		topology := make([]string, len(l.Names))
		storage := make([]string, len(l.Names))
		for i, name := range l.Names {
			topology[i] = "/default-rack/" + name
			storage[i] = "DISK"
		}
		out = append(out, webhdfsapi.BlockLocation{
			CachedHosts:   []string{},
			Corrupt:       l.Corrupt,
			Hosts:         l.Hosts,
			Length:        l.Length,
			Names:         l.Names,
			Offset:        l.Offset,
			StorageTypes:  storage,
			TopologyPaths: topology,
		})
	}
	resp.BlockLocations.BlockLocation = out
	writeJSON(w, http.StatusOK, resp)
}

// redirectToDataNode answers with a relative Location for the data hop.
func redirectToDataNode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	q.Set("data", "true")
	loc := url.URL{Path: r.URL.Path, RawQuery: q.Encode()}
	w.Header().Set("Location", loc.String())
	w.WriteHeader(http.StatusTemporaryRedirect)
}

func toWire(e entry, suffix string) webhdfsapi.FileStatus {
	st := e.status
	ws := webhdfsapi.FileStatus{
		AccessTime:       st.AccessTime.UnixMilli(),
		BlockSize:        st.BlockSize,
		ChildrenNum:      int64(e.children),
		FileID:           e.id,
		Group:            st.Group,
		Length:           st.Length,
		ModificationTime: st.ModTime.UnixMilli(),
		Owner:            st.Owner,
		PathSuffix:       suffix,
		Permission:       webhdfsapi.FormatPermission(st.Permission),
		Replication:      st.Replication,
		Type:             webhdfsapi.TypeFile,
	}
	if st.IsDir {
		ws.Type = webhdfsapi.TypeDirectory
		ws.AccessTime = 0
	}
	return ws
}

func permissionParam(q url.Values, def uint32) (perm os.FileMode, err error) {
	if q.Get("permission") == "" {
		return os.FileMode(def), nil
	}
	return webhdfsapi.ParsePermission(q.Get("permission"))
}

func int64Param(q url.Values, name string, def int64) (int64, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid value for %s: %q", name, v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeIllegalArgument(w http.ResponseWriter, err error) {
	writeRemoteException(w, http.StatusBadRequest, "IllegalArgumentException", "java.lang.IllegalArgumentException", err.Error())
}

func writeRemoteException(w http.ResponseWriter, status int, exception, class, msg string) {
	writeJSON(w, status, webhdfsapi.RemoteExceptionResponse{RemoteException: &webhdfsapi.RemoteException{
		Exception:     exception,
		JavaClassName: class,
		Message:       msg,
	}})
}

// writeError renders err as the RemoteException a name-node would send.
func writeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	var e *hdfs.Error
	if errors.As(err, &e) && e.Err != nil {
		msg = e.Err.Error()
	}
	switch hdfs.KindOf(err) {
	case hdfs.KindNotFound:
		writeRemoteException(w, http.StatusNotFound, "FileNotFoundException", "java.io.FileNotFoundException", msg)
	case hdfs.KindPermission:
		writeRemoteException(w, http.StatusForbidden, "AccessControlException", "org.apache.hadoop.security.AccessControlException", msg)
	case hdfs.KindAlreadyExists:
		if strings.HasPrefix(msg, "Parent path is not a directory") {
			writeRemoteException(w, http.StatusForbidden, "ParentNotDirectoryException", "org.apache.hadoop.fs.ParentNotDirectoryException", msg)
			return
		}
		writeRemoteException(w, http.StatusForbidden, "FileAlreadyExistsException", "org.apache.hadoop.fs.FileAlreadyExistsException", msg)
	case hdfs.KindNotEmpty:
		writeRemoteException(w, http.StatusForbidden, "PathIsNotEmptyDirectoryException", "org.apache.hadoop.fs.PathIsNotEmptyDirectoryException", msg)
	default:
		writeRemoteException(w, http.StatusInternalServerError, "IOException", "java.io.IOException", msg)
	}
}
