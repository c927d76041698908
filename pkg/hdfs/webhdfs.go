package hdfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/hsdata/hdfs_sdk_go/internal/checksum"
	"github.com/hsdata/hdfs_sdk_go/internal/httpx"
	"github.com/hsdata/hdfs_sdk_go/internal/webhdfsapi"
)

// WebHDFSBackend talks to the /webhdfs/v1 REST endpoint of a name-node.
type WebHDFSBackend struct {
	client *httpx.Client
	user   string
}

// NewWebHDFSBackend creates a backend for baseURL (scheme://host:port, without
// the /webhdfs/v1 prefix) acting as user.
func NewWebHDFSBackend(baseURL, user string, opts ...httpx.Option) (*WebHDFSBackend, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("hdfs: invalid base URL: %w", err)
	}
	u.Path = path.Join("/", u.Path, webhdfsapi.PathPrefix)
	client, err := httpx.NewClient(u.String(), opts...)
	if err != nil {
		return nil, err
	}
	return &WebHDFSBackend{client: client, user: user}, nil
}

func (b *WebHDFSBackend) query(op string, kv ...string) url.Values {
	q := url.Values{"op": {op}}
	if b.user != "" {
		q.Set("user.name", b.user)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	return q
}

func (b *WebHDFSBackend) call(ctx context.Context, method, p string, q url.Values, out any) error {
	resp, err := b.client.Do(ctx, &httpx.Request{Method: method, Path: p, Query: q})
	if err != nil {
		return translateHTTP(err)
	}
	body, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return newError(KindConnection, SourceRemote, fmt.Errorf("read response: %w", err))
	}
	if out == nil {
		return nil
	}
	if err := webhdfsapi.Decode(body, out); err != nil {
		return newError(KindConnection, SourceRemote, err)
	}
	return nil
}

// redirected issues a request that the name-node answers with a redirect to a
// data-node, then performs the second hop. Servers that answer directly are
// accepted too.
func (b *WebHDFSBackend) redirected(ctx context.Context, p string, q url.Values) (*http.Response, error) {
	resp, err := b.client.Do(ctx, &httpx.Request{Method: http.MethodGet, Path: p, Query: q})
	if err != nil {
		return nil, translateHTTP(err)
	}
	if !isRedirect(resp.StatusCode) {
		return resp, nil
	}
	loc, err := b.location(resp)
	if err != nil {
		return nil, err
	}
	resp, err = b.client.Do(ctx, &httpx.Request{Method: http.MethodGet, URL: loc})
	if err != nil {
		return nil, translateHTTP(err)
	}
	return resp, nil
}

func (b *WebHDFSBackend) location(resp *http.Response) (string, error) {
	httpx.DrainAndClose(resp.Body)
	raw := resp.Header.Get("Location")
	if raw == "" {
		return "", newError(KindConnection, SourceRemote, fmt.Errorf("redirect %d without Location", resp.StatusCode))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", newError(KindConnection, SourceRemote, fmt.Errorf("invalid data-node location: %w", err))
	}
	return b.client.BaseURL().ResolveReference(u).String(), nil
}

func isRedirect(code int) bool {
	return code == http.StatusTemporaryRedirect || code == http.StatusFound ||
		code == http.StatusSeeOther || code == http.StatusPermanentRedirect
}

func (b *WebHDFSBackend) Stat(ctx context.Context, p string) (*FileStatus, error) {
	var out webhdfsapi.FileStatusResponse
	if err := b.call(ctx, http.MethodGet, p, b.query(webhdfsapi.OpGetFileStatus), &out); err != nil {
		return nil, err
	}
	st := fromWire(p, out.FileStatus)
	return &st, nil
}

func (b *WebHDFSBackend) Mkdirs(ctx context.Context, p string, perm os.FileMode) error {
	var out webhdfsapi.BooleanResponse
	q := b.query(webhdfsapi.OpMkdirs, "permission", webhdfsapi.FormatPermission(perm))
	if err := b.call(ctx, http.MethodPut, p, q, &out); err != nil {
		return err
	}
	if !out.Boolean {
		return newError(KindConnection, SourceRemote, errors.New("mkdirs refused by name-node"))
	}
	return nil
}

func (b *WebHDFSBackend) Create(ctx context.Context, p string, data io.Reader, opts CreateOptions) error {
	q := b.query(webhdfsapi.OpCreate,
		"overwrite", strconv.FormatBool(opts.Overwrite),
		"replication", strconv.Itoa(opts.Replication),
		"blocksize", strconv.FormatInt(opts.BlockSize, 10),
		"permission", webhdfsapi.FormatPermission(opts.Perm),
	)
	resp, err := b.client.Do(ctx, &httpx.Request{Method: http.MethodPut, Path: p, Query: q, DisableRetry: true})
	if err != nil {
		return translateHTTP(err)
	}
	if !isRedirect(resp.StatusCode) {
		httpx.DrainAndClose(resp.Body)
		return newError(KindConnection, SourceRemote, fmt.Errorf("create: expected data-node redirect, got %d", resp.StatusCode))
	}
	loc, err := b.location(resp)
	if err != nil {
		return err
	}
	req := &httpx.Request{
		Method:       http.MethodPut,
		URL:          loc,
		Body:         io.NopCloser(data),
		DisableRetry: true,
		Header:       http.Header{"Content-Type": {"application/octet-stream"}},
	}
	if opts.Size > 0 {
		req.ContentLength = opts.Size
	}
	resp, err = b.client.Do(ctx, req)
	if err != nil {
		return translateHTTP(err)
	}
	httpx.DrainAndClose(resp.Body)
	return nil
}

func (b *WebHDFSBackend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := b.redirected(ctx, p, b.query(webhdfsapi.OpOpen))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (b *WebHDFSBackend) Delete(ctx context.Context, p string, recursive bool) (bool, error) {
	var out webhdfsapi.BooleanResponse
	q := b.query(webhdfsapi.OpDelete, "recursive", strconv.FormatBool(recursive))
	if err := b.call(ctx, http.MethodDelete, p, q, &out); err != nil {
		return false, err
	}
	return out.Boolean, nil
}

func (b *WebHDFSBackend) Rename(ctx context.Context, src, dst string) error {
	var out webhdfsapi.BooleanResponse
	q := b.query(webhdfsapi.OpRename, "destination", dst)
	if err := b.call(ctx, http.MethodPut, src, q, &out); err != nil {
		return err
	}
	if !out.Boolean {
		// The name-node answers false instead of raising when the source
		// vanished or the destination parent is missing.
		return newError(KindNotFound, SourceRemote, fmt.Errorf("rename to %s refused by name-node", dst))
	}
	return nil
}

func (b *WebHDFSBackend) OpenDir(ctx context.Context, p string) (DirLister, error) {
	return &webHDFSLister{backend: b, dir: p}, nil
}

type webHDFSLister struct {
	backend *WebHDFSBackend
	dir     string
	cursor  string
	done    bool
}

func (l *webHDFSLister) Next(ctx context.Context) ([]FileStatus, error) {
	if l.done {
		return nil, io.EOF
	}
	q := l.backend.query(webhdfsapi.OpListStatusBatch)
	if l.cursor != "" {
		q.Set("startAfter", l.cursor)
	}
	var out webhdfsapi.DirectoryListingResponse
	if err := l.backend.call(ctx, http.MethodGet, l.dir, q, &out); err != nil {
		return nil, err
	}
	raw := out.DirectoryListing.PartialListing.FileStatuses.FileStatus
	entries := make([]FileStatus, 0, len(raw))
	for _, w := range raw {
		entries = append(entries, fromWire(path.Join(l.dir, w.PathSuffix), w))
	}
	if out.DirectoryListing.RemainingEntries > 0 && len(raw) > 0 {
		l.cursor = raw[len(raw)-1].PathSuffix
	} else {
		l.done = true
	}
	if len(entries) == 0 && l.done {
		return nil, io.EOF
	}
	return entries, nil
}

func (l *webHDFSLister) Close() error {
	l.done = true
	return nil
}

func (b *WebHDFSBackend) BlockLocations(ctx context.Context, p string, offset, length int64) ([]BlockLocation, error) {
	var out webhdfsapi.BlockLocationsResponse
	q := b.query(webhdfsapi.OpGetFileBlockLocations,
		"offset", strconv.FormatInt(offset, 10),
		"length", strconv.FormatInt(length, 10),
	)
	if err := b.call(ctx, http.MethodGet, p, q, &out); err != nil {
		return nil, err
	}
	raw := out.BlockLocations.BlockLocation
	locs := make([]BlockLocation, 0, len(raw))
	for _, w := range raw {
		locs = append(locs, BlockLocation{
			Offset:  w.Offset,
			Length:  w.Length,
			Hosts:   w.Hosts,
			Names:   w.Names,
			Corrupt: w.Corrupt,
		})
	}
	return locs, nil
}

func (b *WebHDFSBackend) Checksum(ctx context.Context, p string) (*FileChecksum, error) {
	resp, err := b.redirected(ctx, p, b.query(webhdfsapi.OpGetFileChecksum))
	if err != nil {
		return nil, err
	}
	body, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, newError(KindConnection, SourceRemote, fmt.Errorf("read checksum: %w", err))
	}
	var out webhdfsapi.FileChecksumResponse
	if err := webhdfsapi.Decode(body, &out); err != nil {
		return nil, newError(KindConnection, SourceRemote, err)
	}
	bytesPerCRC, crcPerBlock, sum, err := checksum.DecodeBytes(out.FileChecksum.Bytes)
	if err != nil {
		return nil, newError(KindConnection, SourceRemote, err)
	}
	return &FileChecksum{
		Algorithm:   out.FileChecksum.Algorithm,
		BytesPerCRC: bytesPerCRC,
		CRCPerBlock: crcPerBlock,
		MD5:         sum,
	}, nil
}

// Close releases idle connections.
func (b *WebHDFSBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func fromWire(p string, w webhdfsapi.FileStatus) FileStatus {
	perm, _ := webhdfsapi.ParsePermission(w.Permission)
	name := w.PathSuffix
	if name == "" {
		name = path.Base(p)
		if name == "/" {
			name = ""
		}
	}
	return FileStatus{
		Path:        p,
		Name:        name,
		Length:      w.Length,
		BlockSize:   w.BlockSize,
		Replication: w.Replication,
		Permission:  perm,
		Owner:       w.Owner,
		Group:       w.Group,
		ModTime:     time.UnixMilli(w.ModificationTime),
		AccessTime:  time.UnixMilli(w.AccessTime),
		IsDir:       w.Type == webhdfsapi.TypeDirectory,
	}
}

// translateHTTP maps transport failures and RemoteException bodies onto the
// error taxonomy.
func translateHTTP(err error) error {
	var httpErr *httpx.HTTPError
	if !errors.As(err, &httpErr) {
		return newError(classify(err, KindConnection), SourceRemote, err)
	}
	if ex, ok := webhdfsapi.ExtractRemoteException(httpErr.Body); ok {
		return newError(exceptionKind(ex.Exception), SourceRemote, fmt.Errorf("%s: %w", ex, httpErr))
	}
	switch httpErr.StatusCode {
	case http.StatusNotFound:
		return newError(KindNotFound, SourceRemote, httpErr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return newError(KindPermission, SourceRemote, httpErr)
	}
	return newError(KindConnection, SourceRemote, httpErr)
}

func exceptionKind(name string) Kind {
	switch name {
	case "FileNotFoundException":
		return KindNotFound
	case "AccessControlException", "SecurityException", "AuthorizationException":
		return KindPermission
	case "FileAlreadyExistsException", "ParentNotDirectoryException", "AlreadyBeingCreatedException":
		return KindAlreadyExists
	case "PathIsNotEmptyDirectoryException":
		return KindNotEmpty
	case "ChecksumException":
		return KindChecksumMismatch
	}
	return KindConnection
}
