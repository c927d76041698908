// Package mock provides an in-memory namespace that behaves like a small
// HDFS cluster: a directory tree with owners and permissions, files split
// into blocks placed on fake data-nodes, and MD5-of-MD5-of-CRC32C checksums.
// It backs the sandbox server and the package tests.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hsdata/hdfs_sdk_go/internal/checksum"
	"github.com/hsdata/hdfs_sdk_go/internal/devseed"
	"github.com/hsdata/hdfs_sdk_go/internal/webhdfsapi"
	"github.com/hsdata/hdfs_sdk_go/pkg/hdfs"
)

const (
	// Superuser bypasses permission checks, like the user running the name-node.
	Superuser = "hdfs"
	// Supergroup owns the root directory.
	Supergroup = "supergroup"

	DefaultDataNodes   = 5
	DefaultReplication = 3
	DefaultBlockSize   = int64(128 << 20)
	DefaultPageSize    = 1000

	dataNodePort = 9866
)

type block struct {
	id     string
	offset int64
	length int64
	nodes  []int
}

type inode struct {
	id          int64
	name        string
	dir         bool
	children    map[string]*inode
	data        []byte
	blocks      []block
	owner       string
	group       string
	perm        os.FileMode
	replication int
	blockSize   int64
	modTime     time.Time
	accessTime  time.Time
}

// Mock is a thread-safe in-memory namespace.
type Mock struct {
	mu        sync.RWMutex
	root      *inode
	nextID    int64
	dataNodes int
	placement int
	pageSize  int
	now       func() time.Time
}

// Option configures a Mock.
type Option func(*Mock)

// WithDataNodes sets the number of fake data-nodes blocks are placed on.
func WithDataNodes(n int) Option {
	return func(m *Mock) {
		if n > 0 {
			m.dataNodes = n
		}
	}
}

// WithPageSize bounds the number of entries returned per listing page.
func WithPageSize(n int) Option {
	return func(m *Mock) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// WithRootPermission sets the mode of "/". The default is 0777 so any
// identity may create top-level entries.
func WithRootPermission(perm os.FileMode) Option {
	return func(m *Mock) {
		m.root.perm = perm
	}
}

// New returns an empty namespace.
func New(opts ...Option) *Mock {
	m := &Mock{
		dataNodes: DefaultDataNodes,
		pageSize:  DefaultPageSize,
		now:       time.Now,
	}
	m.nextID = 16385
	m.root = &inode{
		id:       m.nextID,
		dir:      true,
		children: map[string]*inode{},
		owner:    Superuser,
		group:    Supergroup,
		perm:     0o777,
		modTime:  m.now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DataNodes lists the host names of the fake data-nodes.
func (m *Mock) DataNodes() []string {
	hosts := make([]string, m.dataNodes)
	for i := range hosts {
		hosts[i] = dataNodeHost(i)
	}
	return hosts
}

func dataNodeHost(i int) string {
	return fmt.Sprintf("dn-%d", i+1)
}

// Connect returns a backend acting as user.
func (m *Mock) Connect(user string) *Conn {
	return &Conn{m: m, user: user}
}

// Seed loads directories and files as the superuser. Missing parents are
// created.
func (m *Mock) Seed(entries []devseed.Entry) error {
	for _, e := range entries {
		p := cleanPath(e.Path)
		perm, err := webhdfsapi.ParsePermission(e.Permission)
		if err != nil {
			return fmt.Errorf("mock: seed %s: %w", p, err)
		}
		owner := e.Owner
		if owner == "" {
			owner = Superuser
		}
		if e.IsDir() {
			if perm == 0 {
				perm = 0o755
			}
			if err := m.mkdirs(Superuser, p, perm); err != nil {
				return fmt.Errorf("mock: seed %s: %w", p, err)
			}
		} else {
			data, err := e.Data()
			if err != nil {
				return err
			}
			blockSize, err := e.BlockSizeBytes()
			if err != nil {
				return err
			}
			if perm == 0 {
				perm = 0o644
			}
			opts := hdfs.CreateOptions{Overwrite: true, Replication: e.Replication, BlockSize: blockSize, Perm: perm}
			if err := m.create(Superuser, p, data, opts); err != nil {
				return fmt.Errorf("mock: seed %s: %w", p, err)
			}
		}
		m.mu.Lock()
		if n, _ := m.lookup(p); n != nil {
			n.owner = owner
			if e.Group != "" {
				n.group = e.Group
			}
			if e.ModTime != nil {
				n.modTime = *e.ModTime
			}
		}
		m.mu.Unlock()
	}
	return nil
}

func cleanPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func splitPath(p string) []string {
	p = strings.Trim(cleanPath(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func fail(kind hdfs.Kind, format string, args ...any) error {
	return &hdfs.Error{Kind: kind, Source: hdfs.SourceRemote, Err: fmt.Errorf(format, args...)}
}

// lookup walks to p. The second result is the parent when only the last
// component is missing. Callers hold m.mu.
func (m *Mock) lookup(p string) (*inode, *inode) {
	n := m.root
	parts := splitPath(p)
	for i, part := range parts {
		if !n.dir {
			return nil, nil
		}
		child, ok := n.children[part]
		if !ok {
			if i == len(parts)-1 {
				return nil, n
			}
			return nil, nil
		}
		n = child
	}
	return n, nil
}

func (m *Mock) find(p string) (*inode, error) {
	n, _ := m.lookup(p)
	if n == nil {
		return nil, fail(hdfs.KindNotFound, "File does not exist: %s", p)
	}
	return n, nil
}

func (m *Mock) newID() int64 {
	m.nextID++
	return m.nextID
}

func permBits(user string, n *inode) os.FileMode {
	if n.owner == user {
		return (n.perm >> 6) & 7
	}
	return n.perm & 7
}

func (m *Mock) checkAccess(user string, n *inode, want os.FileMode, p string) error {
	if user == Superuser || permBits(user, n)&want == want {
		return nil
	}
	access := "WRITE"
	if want == 4 {
		access = "READ"
	}
	kind := "-"
	if n.dir {
		kind = "d"
	}
	return fail(hdfs.KindPermission, "Permission denied: user=%s, access=%s, inode=%q:%s:%s:%s%s",
		user, access, p, n.owner, n.group, kind, n.perm.Perm().String()[1:])
}

func (m *Mock) mkdirs(user, p string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.root
	cur := "/"
	for _, part := range splitPath(p) {
		cur = path.Join(cur, part)
		child, ok := n.children[part]
		if ok {
			if !child.dir {
				return fail(hdfs.KindAlreadyExists, "Parent path is not a directory: %s", cur)
			}
			n = child
			continue
		}
		if err := m.checkAccess(user, n, 2, path.Dir(cur)); err != nil {
			return err
		}
		child = &inode{
			id:       m.newID(),
			name:     part,
			dir:      true,
			children: map[string]*inode{},
			owner:    user,
			group:    n.group,
			perm:     perm,
			modTime:  m.now(),
		}
		n.children[part] = child
		n.modTime = child.modTime
		n = child
	}
	return nil
}

func (m *Mock) create(user, p string, data []byte, opts hdfs.CreateOptions) error {
	if p == "/" {
		return fail(hdfs.KindAlreadyExists, "/ is a directory")
	}
	if err := m.mkdirs(user, path.Dir(p), 0o755); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, err := m.find(path.Dir(p))
	if err != nil {
		return err
	}
	name := path.Base(p)
	if existing, ok := parent.children[name]; ok {
		if existing.dir {
			return fail(hdfs.KindAlreadyExists, "%s already exists as a directory", p)
		}
		if !opts.Overwrite {
			return fail(hdfs.KindAlreadyExists, "%s for client already exists", p)
		}
	}
	if err := m.checkAccess(user, parent, 2, path.Dir(p)); err != nil {
		return err
	}
	replication := opts.Replication
	if replication <= 0 {
		replication = DefaultReplication
	}
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	perm := opts.Perm
	if perm == 0 {
		perm = 0o644
	}
	now := m.now()
	parent.children[name] = &inode{
		id:          m.newID(),
		name:        name,
		data:        append([]byte(nil), data...),
		blocks:      m.place(int64(len(data)), blockSize, replication),
		owner:       user,
		group:       parent.group,
		perm:        perm,
		replication: replication,
		blockSize:   blockSize,
		modTime:     now,
		accessTime:  now,
	}
	parent.modTime = now
	return nil
}

// place splits length bytes into blocks and assigns replicas round-robin.
// Callers hold m.mu.
func (m *Mock) place(length, blockSize int64, replication int) []block {
	if replication > m.dataNodes {
		replication = m.dataNodes
	}
	var blocks []block
	for off := int64(0); off < length; off += blockSize {
		n := blockSize
		if off+n > length {
			n = length - off
		}
		nodes := make([]int, replication)
		for r := range nodes {
			nodes[r] = (m.placement + r) % m.dataNodes
		}
		m.placement = (m.placement + 1) % m.dataNodes
		blocks = append(blocks, block{id: uuid.NewString(), offset: off, length: n, nodes: nodes})
	}
	return blocks
}

func (m *Mock) remove(user, p string, recursive bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cleanPath(p) == "/" {
		return false, nil
	}
	n, _ := m.lookup(p)
	if n == nil {
		return false, nil
	}
	parent, _ := m.lookup(path.Dir(p))
	if n.dir && len(n.children) > 0 && !recursive {
		return false, fail(hdfs.KindNotEmpty, "`%s is non empty': Directory is not empty", p)
	}
	if err := m.checkAccess(user, parent, 2, path.Dir(p)); err != nil {
		return false, err
	}
	delete(parent.children, n.name)
	parent.modTime = m.now()
	return true, nil
}

func (m *Mock) rename(user, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, dst = cleanPath(src), cleanPath(dst)
	n, _ := m.lookup(src)
	if n == nil || src == "/" {
		return fail(hdfs.KindNotFound, "File does not exist: %s", src)
	}
	if dst == src || strings.HasPrefix(dst, src+"/") {
		return fail(hdfs.KindAlreadyExists, "Cannot rename %s to its own subtree %s", src, dst)
	}
	if existing, _ := m.lookup(dst); existing != nil {
		return fail(hdfs.KindAlreadyExists, "Failed to rename %s to %s because destination exists", src, dst)
	}
	dstParent, _ := m.lookup(path.Dir(dst))
	if dstParent == nil {
		return fail(hdfs.KindNotFound, "Parent directory doesn't exist: %s", path.Dir(dst))
	}
	if !dstParent.dir {
		return fail(hdfs.KindAlreadyExists, "Parent path is not a directory: %s", path.Dir(dst))
	}
	srcParent, _ := m.lookup(path.Dir(src))
	if err := m.checkAccess(user, srcParent, 2, path.Dir(src)); err != nil {
		return err
	}
	if err := m.checkAccess(user, dstParent, 2, path.Dir(dst)); err != nil {
		return err
	}
	delete(srcParent.children, n.name)
	n.name = path.Base(dst)
	dstParent.children[n.name] = n
	now := m.now()
	srcParent.modTime, dstParent.modTime = now, now
	return nil
}

func (m *Mock) status(p string, n *inode) hdfs.FileStatus {
	st := hdfs.FileStatus{
		Path:       p,
		Name:       n.name,
		Permission: n.perm,
		Owner:      n.owner,
		Group:      n.group,
		ModTime:    n.modTime,
		AccessTime: n.accessTime,
		IsDir:      n.dir,
	}
	if !n.dir {
		st.Length = int64(len(n.data))
		st.BlockSize = n.blockSize
		st.Replication = n.replication
	}
	return st
}

// entry is a listing row: the status plus the wire-only inode details.
type entry struct {
	status   hdfs.FileStatus
	id       int64
	children int
}

func (m *Mock) entryOf(p string, n *inode) entry {
	return entry{status: m.status(p, n), id: n.id, children: len(n.children)}
}

// page returns up to pageSize children of dir sorted by name and strictly
// after startAfter, plus the number of entries left behind. A file lists as
// itself.
func (m *Mock) page(user, dir, startAfter string) ([]entry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.find(dir)
	if err != nil {
		return nil, 0, err
	}
	if !n.dir {
		if startAfter != "" {
			return nil, 0, nil
		}
		return []entry{m.entryOf(dir, n)}, 0, nil
	}
	if err := m.checkAccess(user, n, 4, dir); err != nil {
		return nil, 0, err
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		if name > startAfter {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	remaining := 0
	if len(names) > m.pageSize {
		remaining = len(names) - m.pageSize
		names = names[:m.pageSize]
	}
	out := make([]entry, len(names))
	for i, name := range names {
		out[i] = m.entryOf(path.Join(dir, name), n.children[name])
	}
	return out, remaining, nil
}

func (m *Mock) read(user, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.find(p)
	if err != nil {
		return nil, err
	}
	if n.dir {
		return nil, fail(hdfs.KindNotFound, "Path is not a file: %s", p)
	}
	if err := m.checkAccess(user, n, 4, p); err != nil {
		return nil, err
	}
	n.accessTime = m.now()
	return append([]byte(nil), n.data...), nil
}

func (m *Mock) locations(user, p string, offset, length int64) ([]hdfs.BlockLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.find(p)
	if err != nil {
		return nil, err
	}
	if n.dir {
		return nil, fail(hdfs.KindNotFound, "Path is not a file: %s", p)
	}
	if err := m.checkAccess(user, n, 4, p); err != nil {
		return nil, err
	}
	end := offset + length
	var locs []hdfs.BlockLocation
	for _, b := range n.blocks {
		if b.offset+b.length <= offset || b.offset >= end {
			continue
		}
		loc := hdfs.BlockLocation{Offset: b.offset, Length: b.length}
		for _, dn := range b.nodes {
			host := dataNodeHost(dn)
			loc.Hosts = append(loc.Hosts, host)
			loc.Names = append(loc.Names, fmt.Sprintf("%s:%d", host, dataNodePort))
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func (m *Mock) checksum(user, p string) (*hdfs.FileChecksum, error) {
	m.mu.RLock()
	n, err := m.find(p)
	if err == nil && n.dir {
		err = fail(hdfs.KindNotFound, "Path is not a file: %s", p)
	}
	if err == nil {
		err = m.checkAccess(user, n, 4, p)
	}
	var (
		data      []byte
		blockSize int64
	)
	if err == nil {
		data, blockSize = n.data, n.blockSize
	}
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	h := checksum.NewHasher(checksum.DefaultBytesPerCRC, blockSize, checksum.CRC32C)
	_, _ = h.Write(data)
	sum := h.Sum()
	return &hdfs.FileChecksum{
		Algorithm:   h.Algorithm(),
		BytesPerCRC: checksum.DefaultBytesPerCRC,
		CRCPerBlock: h.CRCPerBlock(),
		MD5:         sum,
	}, nil
}

// Conn is a Backend bound to one identity.
type Conn struct {
	m    *Mock
	user string
}

var _ hdfs.Backend = (*Conn)(nil)

// User returns the identity the connection acts as.
func (c *Conn) User() string {
	return c.user
}

func (m *Mock) stat(p string) (entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.find(p)
	if err != nil {
		return entry{}, err
	}
	return m.entryOf(p, n), nil
}

func (c *Conn) Stat(ctx context.Context, p string) (*hdfs.FileStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := c.m.stat(cleanPath(p))
	if err != nil {
		return nil, err
	}
	return &e.status, nil
}

func (c *Conn) Mkdirs(ctx context.Context, p string, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.m.mkdirs(c.user, cleanPath(p), perm)
}

func (c *Conn) Create(ctx context.Context, p string, data io.Reader, opts hdfs.CreateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	return c.m.create(c.user, cleanPath(p), buf, opts)
}

func (c *Conn) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := c.m.read(c.user, cleanPath(p))
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *Conn) Delete(ctx context.Context, p string, recursive bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.m.remove(c.user, cleanPath(p), recursive)
}

func (c *Conn) Rename(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.m.rename(c.user, src, dst)
}

func (c *Conn) OpenDir(ctx context.Context, p string) (hdfs.DirLister, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &lister{c: c, dir: cleanPath(p)}, nil
}

func (c *Conn) BlockLocations(ctx context.Context, p string, offset, length int64) ([]hdfs.BlockLocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.m.locations(c.user, cleanPath(p), offset, length)
}

func (c *Conn) Checksum(ctx context.Context, p string) (*hdfs.FileChecksum, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.m.checksum(c.user, cleanPath(p))
}

func (c *Conn) Close() error {
	return nil
}

type lister struct {
	c      *Conn
	dir    string
	cursor string
	done   bool
}

func (l *lister) Next(ctx context.Context) ([]hdfs.FileStatus, error) {
	if l.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, remaining, err := l.c.m.page(l.c.user, l.dir, l.cursor)
	if err != nil {
		return nil, err
	}
	if remaining == 0 {
		l.done = true
	}
	if len(entries) == 0 {
		l.done = true
		return nil, io.EOF
	}
	l.cursor = entries[len(entries)-1].status.Name
	out := make([]hdfs.FileStatus, len(entries))
	for i, e := range entries {
		out[i] = e.status
	}
	return out, nil
}

func (l *lister) Close() error {
	l.done = true
	return nil
}
