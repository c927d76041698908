package hdfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hsdata/hdfs_sdk_go/internal/checksum"
)

// Session is a connection to one filesystem service under one identity.
//
// Read-only calls (ListFiles, ListStatus) may be shared between goroutines.
// Mutating calls need external synchronisation or one Session per goroutine.
// Close waits for in-flight calls and makes every later call fail with
// ErrClosedSession.
type Session struct {
	mu      sync.RWMutex
	closed  bool
	cfg     Config
	backend Backend
	log     logrus.FieldLogger
}

// Open validates cfg, connects to the service it names and probes the
// namespace root. No Session is returned when the service is unreachable.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	o := defaultOpenOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, annotate("open", cfg.URI, err)
	}
	backend, err := newBackend(cfg, o)
	if err != nil {
		return nil, asError("open", cfg.URI, SourceRemote, err)
	}
	s := newSession(cfg, backend, o)
	if err := s.probe(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithBackend wraps an already constructed backend, e.g. an in-memory one.
// The backend is probed like in Open.
func OpenWithBackend(ctx context.Context, cfg Config, backend Backend, opts ...Option) (*Session, error) {
	o := defaultOpenOptions()
	for _, opt := range opts {
		opt(o)
	}
	if backend == nil {
		return nil, errors.New("hdfs: backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, annotate("open", cfg.URI, err)
	}
	s := newSession(cfg, backend, o)
	if err := s.probe(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newSession(cfg Config, backend Backend, o *openOptions) *Session {
	cfg = cfg.clone()
	return &Session{
		cfg:     cfg,
		backend: backend,
		log: o.logger.WithFields(logrus.Fields{
			"user":    cfg.User,
			"backend": cfg.Scheme(),
		}),
	}
}

func annotate(op, p string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return asError(op, p, e.Source, err)
	}
	return err
}

func (s *Session) probe(ctx context.Context) error {
	ctx, cancel := s.metaCtx(ctx)
	defer cancel()
	if _, err := s.backend.Stat(ctx, "/"); err != nil {
		return s.fail("open", s.cfg.URI, err)
	}
	s.log.WithField("uri", s.cfg.URI).Debug("hdfs: session opened")
	return nil
}

// Config returns a copy of the session configuration.
func (s *Session) Config() Config {
	return s.cfg.clone()
}

// User returns the identity operations are performed as.
func (s *Session) User() string {
	return s.cfg.User
}

// Close releases the backend. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Debug("hdfs: session closed")
	if err := s.backend.Close(); err != nil {
		return asError("close", "", SourceRemote, err)
	}
	return nil
}

// acquire holds the lifecycle read lock for the duration of one call.
func (s *Session) acquire(op, p string) (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, &Error{Kind: KindClosedSession, Source: SourceLocal, Op: op, Path: p}
	}
	return s.mu.RUnlock, nil
}

func (s *Session) metaCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

func (s *Session) trace(op, p string) {
	s.log.WithFields(logrus.Fields{"op": op, "path": p}).Debug("hdfs: call")
}

func (s *Session) fail(op, p string, err error) error {
	e := asError(op, p, SourceRemote, err)
	s.log.WithFields(logrus.Fields{"op": op, "path": p}).WithError(e).Debug("hdfs: call failed")
	return e
}

func (s *Session) failLocal(op, p string, err error) error {
	e := asError(op, p, SourceLocal, err)
	s.log.WithFields(logrus.Fields{"op": op, "path": p}).WithError(e).Debug("hdfs: local failure")
	return e
}

// cleanPath rejects empty and relative remote paths.
func cleanPath(p string) (string, error) {
	if p == "" || !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return path.Clean(p), nil
}

func (s *Session) stat(ctx context.Context, p string) (*FileStatus, error) {
	ctx, cancel := s.metaCtx(ctx)
	defer cancel()
	return s.backend.Stat(ctx, p)
}

// exists reports whether p is present. Failures other than not-found are
// returned as errors.
func (s *Session) exists(ctx context.Context, p string) (*FileStatus, bool, error) {
	st, err := s.stat(ctx, p)
	if err == nil {
		return st, true, nil
	}
	if KindOf(asError("", p, SourceRemote, err)) == KindNotFound {
		return nil, false, nil
	}
	return nil, false, err
}

// Mkdirs creates p and any missing ancestors. It reports true when p exists
// as a directory afterwards, including when it already did.
func (s *Session) Mkdirs(ctx context.Context, p string) (bool, error) {
	const op = "mkdirs"
	p, err := cleanPath(p)
	if err != nil {
		return false, err
	}
	release, err := s.acquire(op, p)
	if err != nil {
		return false, err
	}
	defer release()
	s.trace(op, p)

	ctx, cancel := s.metaCtx(ctx)
	defer cancel()
	if err := s.backend.Mkdirs(ctx, p, s.cfg.DirPerm()); err != nil {
		return false, s.fail(op, p, err)
	}
	return true, nil
}

// CopyIn uploads a local file or directory tree to remotePath. When
// remotePath is an existing directory the source is placed inside it. With
// DeleteSource the local source is removed only after every remote write
// succeeded.
func (s *Session) CopyIn(ctx context.Context, localPath, remotePath string, opts *CopyInOptions) error {
	const op = "copy-in"
	var o CopyInOptions
	if opts != nil {
		o = *opts
	}
	remote, err := cleanPath(remotePath)
	if err != nil {
		return err
	}
	release, err := s.acquire(op, remote)
	if err != nil {
		return err
	}
	defer release()
	s.log.WithFields(logrus.Fields{"op": op, "path": remote, "local": localPath}).Debug("hdfs: call")

	info, err := os.Stat(localPath)
	if err != nil {
		return s.failLocal(op, localPath, err)
	}
	target := remote
	st, ok, err := s.exists(ctx, remote)
	if err != nil {
		return s.fail(op, remote, err)
	}
	if ok && st.IsDir {
		target = path.Join(remote, filepath.Base(localPath))
	}

	if !info.IsDir() {
		if err := s.copyInFile(ctx, localPath, target, info.Size(), o); err != nil {
			return err
		}
		if o.DeleteSource {
			if err := os.Remove(localPath); err != nil {
				return s.failLocal(op, localPath, err)
			}
		}
		return nil
	}

	tree, err := s.copyInDir(ctx, localPath, target, o)
	if err != nil {
		return err
	}
	if o.DeleteSource {
		return s.removeUploaded(tree)
	}
	return nil
}

// uploadedTree records what a directory copy-in transferred. Entries that
// were skipped are not listed and so survive DeleteSource.
type uploadedTree struct {
	files []string
	dirs  []string
}

// removeUploaded deletes the uploaded files, then every directory left empty,
// deepest first. Directories still holding skipped entries are kept.
func (s *Session) removeUploaded(tree uploadedTree) error {
	const op = "copy-in"
	for _, f := range tree.files {
		if err := os.Remove(f); err != nil {
			return s.failLocal(op, f, err)
		}
	}
	for i := len(tree.dirs) - 1; i >= 0; i-- {
		d := tree.dirs[i]
		if err := os.Remove(d); err != nil {
			if entries, rerr := os.ReadDir(d); rerr == nil && len(entries) > 0 {
				s.log.WithFields(logrus.Fields{"op": op, "local": d}).Debug("hdfs: keeping directory with skipped entries")
				continue
			}
			return s.failLocal(op, d, err)
		}
	}
	return nil
}

func (s *Session) copyInFile(ctx context.Context, local, target string, size int64, o CopyInOptions) error {
	const op = "copy-in"
	if !o.Overwrite {
		_, ok, err := s.exists(ctx, target)
		if err != nil {
			return s.fail(op, target, err)
		}
		if ok {
			return &Error{Kind: KindAlreadyExists, Source: SourceRemote, Op: op, Path: target}
		}
	}
	f, err := os.Open(local)
	if err != nil {
		return s.failLocal(op, local, err)
	}
	defer f.Close()

	src := &trackedReader{r: f}
	err = s.backend.Create(ctx, target, src, CreateOptions{
		Overwrite:   o.Overwrite,
		Replication: s.cfg.Replication,
		BlockSize:   s.cfg.BlockSize,
		Perm:        s.cfg.FilePerm(),
		Size:        size,
	})
	if src.err != nil {
		return s.failLocal(op, local, src.err)
	}
	if err != nil {
		return s.fail(op, target, err)
	}
	return nil
}

func (s *Session) copyInDir(ctx context.Context, local, target string, o CopyInOptions) (uploadedTree, error) {
	const op = "copy-in"
	var tree uploadedTree
	err := filepath.WalkDir(local, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return s.failLocal(op, p, walkErr)
		}
		rel, err := filepath.Rel(local, p)
		if err != nil {
			return s.failLocal(op, p, err)
		}
		dst := path.Join(target, filepath.ToSlash(rel))
		if d.IsDir() {
			mctx, cancel := s.metaCtx(ctx)
			defer cancel()
			if err := s.backend.Mkdirs(mctx, dst, s.cfg.DirPerm()); err != nil {
				return s.fail(op, dst, err)
			}
			tree.dirs = append(tree.dirs, p)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return s.failLocal(op, p, err)
		}
		if !info.Mode().IsRegular() {
			s.log.WithFields(logrus.Fields{"op": op, "local": p, "mode": info.Mode().String()}).Warn("hdfs: skipping non-regular file")
			return nil
		}
		if err := s.copyInFile(ctx, p, dst, info.Size(), o); err != nil {
			return err
		}
		tree.files = append(tree.files, p)
		return nil
	})
	return tree, err
}

// CopyOut downloads a remote file or directory tree to localPath. When
// localPath is an existing directory the source is placed inside it. Files
// are written to a temporary sibling and renamed into place once complete,
// and with VerifyChecksum only after the content matched the service
// checksum. With DeleteSource the remote source is removed afterwards.
func (s *Session) CopyOut(ctx context.Context, remotePath, localPath string, opts *CopyOutOptions) error {
	const op = "copy-out"
	var o CopyOutOptions
	if opts != nil {
		o = *opts
	}
	remote, err := cleanPath(remotePath)
	if err != nil {
		return err
	}
	release, err := s.acquire(op, remote)
	if err != nil {
		return err
	}
	defer release()
	s.log.WithFields(logrus.Fields{"op": op, "path": remote, "local": localPath}).Debug("hdfs: call")

	st, err := s.stat(ctx, remote)
	if err != nil {
		return s.fail(op, remote, err)
	}
	target := localPath
	if li, err := os.Stat(localPath); err == nil && li.IsDir() && st.Name != "" {
		target = filepath.Join(localPath, st.Name)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return s.failLocal(op, localPath, err)
	}

	if st.IsDir {
		err = s.copyOutDir(ctx, remote, target, o)
	} else {
		err = s.copyOutFile(ctx, st, target, o)
	}
	if err != nil {
		return err
	}

	if o.DeleteSource {
		dctx, cancel := s.metaCtx(ctx)
		defer cancel()
		if _, err := s.backend.Delete(dctx, remote, st.IsDir); err != nil {
			return s.fail(op, remote, err)
		}
	}
	return nil
}

func (s *Session) copyOutDir(ctx context.Context, remote, target string, o CopyOutOptions) error {
	const op = "copy-out"
	if err := os.MkdirAll(target, 0o755); err != nil {
		return s.failLocal(op, target, err)
	}
	children, err := s.readDir(ctx, remote)
	if err != nil {
		return s.fail(op, remote, err)
	}
	for i := range children {
		child := &children[i]
		dst := filepath.Join(target, child.Name)
		if child.IsDir {
			err = s.copyOutDir(ctx, child.Path, dst, o)
		} else {
			err = s.copyOutFile(ctx, child, dst, o)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) copyOutFile(ctx context.Context, st *FileStatus, target string, o CopyOutOptions) error {
	const op = "copy-out"
	var (
		want   *FileChecksum
		hasher *checksum.Hasher
	)
	if o.VerifyChecksum {
		cctx, cancel := s.metaCtx(ctx)
		sum, err := s.backend.Checksum(cctx, st.Path)
		cancel()
		if err != nil {
			return s.fail(op, st.Path, err)
		}
		alg, err := checksum.ParseAlgorithm(sum.Algorithm)
		if err != nil {
			return &Error{Kind: KindChecksumMismatch, Source: SourceRemote, Op: op, Path: st.Path, Err: err}
		}
		want = sum
		hasher = checksum.NewHasher(sum.BytesPerCRC, st.BlockSize, alg.CRCType)
	}

	rc, err := s.backend.Open(ctx, st.Path)
	if err != nil {
		return s.fail(op, st.Path, err)
	}
	defer rc.Close()

	tmp := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return s.failLocal(op, target, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	var w io.Writer = f
	if hasher != nil {
		w = io.MultiWriter(f, hasher)
	}
	src := &trackedReader{r: rc}
	n, err := io.Copy(w, src)
	if src.err != nil {
		return s.fail(op, st.Path, src.err)
	}
	if err != nil {
		return s.failLocal(op, target, err)
	}
	if n != st.Length {
		err := fmt.Errorf("received %d of %d bytes", n, st.Length)
		if o.VerifyChecksum {
			return &Error{Kind: KindChecksumMismatch, Source: SourceRemote, Op: op, Path: st.Path, Err: err}
		}
		return &Error{Kind: KindConnection, Source: SourceRemote, Op: op, Path: st.Path, Err: err}
	}
	if hasher != nil {
		if got := hasher.Sum(); !bytes.Equal(got, want.MD5) {
			return &Error{
				Kind:   KindChecksumMismatch,
				Source: SourceRemote,
				Op:     op,
				Path:   st.Path,
				Err:    fmt.Errorf("local %x, remote %x", got, want.MD5),
			}
		}
	}
	if err := f.Close(); err != nil {
		return s.failLocal(op, target, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return s.failLocal(op, target, err)
	}
	committed = true
	return nil
}

// Delete removes p. It reports false when p does not exist. A non-empty
// directory is only removed when recursive is set.
func (s *Session) Delete(ctx context.Context, p string, recursive bool) (bool, error) {
	const op = "delete"
	p, err := cleanPath(p)
	if err != nil {
		return false, err
	}
	release, err := s.acquire(op, p)
	if err != nil {
		return false, err
	}
	defer release()
	s.trace(op, p)

	st, ok, err := s.exists(ctx, p)
	if err != nil {
		return false, s.fail(op, p, err)
	}
	if !ok {
		return false, nil
	}
	ctx, cancel := s.metaCtx(ctx)
	defer cancel()
	if st.IsDir && !recursive {
		lister, err := s.backend.OpenDir(ctx, p)
		if err != nil {
			return false, s.fail(op, p, err)
		}
		page, err := lister.Next(ctx)
		_ = lister.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return false, s.fail(op, p, err)
		}
		if len(page) > 0 {
			return false, &Error{Kind: KindNotEmpty, Source: SourceRemote, Op: op, Path: p}
		}
	}
	deleted, err := s.backend.Delete(ctx, p, recursive)
	if err != nil {
		return false, s.fail(op, p, err)
	}
	return deleted, nil
}

// Rename moves src to dst atomically. dst must not exist.
func (s *Session) Rename(ctx context.Context, src, dst string) (bool, error) {
	const op = "rename"
	src, err := cleanPath(src)
	if err != nil {
		return false, err
	}
	dst, err = cleanPath(dst)
	if err != nil {
		return false, err
	}
	release, err := s.acquire(op, src)
	if err != nil {
		return false, err
	}
	defer release()
	s.log.WithFields(logrus.Fields{"op": op, "path": src, "destination": dst}).Debug("hdfs: call")

	if _, ok, err := s.exists(ctx, src); err != nil {
		return false, s.fail(op, src, err)
	} else if !ok {
		return false, &Error{Kind: KindNotFound, Source: SourceRemote, Op: op, Path: src}
	}
	if _, ok, err := s.exists(ctx, dst); err != nil {
		return false, s.fail(op, dst, err)
	} else if ok {
		return false, &Error{Kind: KindAlreadyExists, Source: SourceRemote, Op: op, Path: dst}
	}
	ctx, cancel := s.metaCtx(ctx)
	defer cancel()
	if err := s.backend.Rename(ctx, src, dst); err != nil {
		return false, s.fail(op, src, err)
	}
	return true, nil
}

// ListStatus returns the immediate children of p sorted by name. For a file
// it returns the file itself.
func (s *Session) ListStatus(ctx context.Context, p string) ([]FileStatus, error) {
	const op = "list-status"
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	release, err := s.acquire(op, p)
	if err != nil {
		return nil, err
	}
	defer release()
	s.trace(op, p)

	st, err := s.stat(ctx, p)
	if err != nil {
		return nil, s.fail(op, p, err)
	}
	if !st.IsDir {
		return []FileStatus{*st}, nil
	}
	entries, err := s.readDir(ctx, p)
	if err != nil {
		return nil, s.fail(op, p, err)
	}
	return entries, nil
}

// readDir drains every page of a directory listing, sorted by name.
func (s *Session) readDir(ctx context.Context, p string) ([]FileStatus, error) {
	lctx, cancel := s.metaCtx(ctx)
	lister, err := s.backend.OpenDir(lctx, p)
	cancel()
	if err != nil {
		return nil, err
	}
	defer lister.Close()
	var entries []FileStatus
	for {
		lctx, cancel := s.metaCtx(ctx)
		page, err := lister.Next(lctx)
		cancel()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, page...)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ListFiles returns a lazy iterator over the files under p. Directories are
// descended into when recursive is set and never yielded themselves. Each
// file carries its block locations, except on hdfs:// sessions where the
// native client cannot report them and BlockLocations stays empty.
func (s *Session) ListFiles(ctx context.Context, p string, recursive bool) *FileIterator {
	it := &FileIterator{ctx: ctx, s: s, recursive: recursive}
	if ctx == nil {
		it.ctx = context.Background()
	}
	it.root, it.err = cleanPath(p)
	if it.err != nil {
		it.done = true
	}
	return it
}

// trackedReader records read errors so a failed transfer can be attributed
// to its source side.
type trackedReader struct {
	r   io.Reader
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
