package mock_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/hsdata/hdfs_sdk_go/internal/checksum"
	"github.com/hsdata/hdfs_sdk_go/internal/devseed"
	"github.com/hsdata/hdfs_sdk_go/pkg/hdfs"
	"github.com/hsdata/hdfs_sdk_go/pkg/hdfs/mock"
)

func create(t *testing.T, c *mock.Conn, p, data string, opts hdfs.CreateOptions) {
	t.Helper()
	if err := c.Create(context.Background(), p, bytes.NewReader([]byte(data)), opts); err != nil {
		t.Fatalf("Create %s: %v", p, err)
	}
}

func TestListingPages(t *testing.T) {
	ctx := context.Background()
	m := mock.New(mock.WithPageSize(2))
	c := m.Connect("alice")
	if err := c.Mkdirs(ctx, "/data/sub", 0o755); err != nil {
		t.Fatalf("Mkdirs: %v", err)
	}
	for _, name := range []string{"c", "a", "b"} {
		create(t, c, "/data/"+name, name, hdfs.CreateOptions{})
	}

	lister, err := c.OpenDir(ctx, "/data")
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	var pages [][]string
	for {
		page, err := lister.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		var names []string
		for _, st := range page {
			names = append(names, st.Name)
		}
		pages = append(pages, names)
	}
	if len(pages) != 2 || len(pages[0]) != 2 || len(pages[1]) != 2 {
		t.Fatalf("expected two pages of two, got %v", pages)
	}
	if pages[0][0] != "a" || pages[0][1] != "b" || pages[1][0] != "c" || pages[1][1] != "sub" {
		t.Fatalf("unexpected order: %v", pages)
	}
}

func TestBlockPlacement(t *testing.T) {
	ctx := context.Background()
	m := mock.New(mock.WithDataNodes(4))
	c := m.Connect("alice")
	create(t, c, "/blocks.bin", "0123456789", hdfs.CreateOptions{BlockSize: 4, Replication: 3})

	st, err := c.Stat(ctx, "/blocks.bin")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Length != 10 || st.BlockSize != 4 || st.Replication != 3 || st.Owner != "alice" {
		t.Fatalf("unexpected status: %#v", st)
	}
	locs, err := c.BlockLocations(ctx, "/blocks.bin", 0, st.Length)
	if err != nil {
		t.Fatalf("BlockLocations: %v", err)
	}
	if len(locs) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(locs))
	}
	var total int64
	for i, loc := range locs {
		total += loc.Length
		if len(loc.Hosts) != 3 {
			t.Fatalf("block %d: expected 3 replicas, got %v", i, loc.Hosts)
		}
		seen := map[string]bool{}
		for _, h := range loc.Hosts {
			if seen[h] {
				t.Fatalf("block %d: duplicate replica host %s", i, h)
			}
			seen[h] = true
		}
	}
	if total != st.Length {
		t.Fatalf("block lengths sum to %d, want %d", total, st.Length)
	}

	tail, err := c.BlockLocations(ctx, "/blocks.bin", 9, 1)
	if err != nil || len(tail) != 1 || tail[0].Offset != 8 {
		t.Fatalf("expected last block only, got %#v err=%v", tail, err)
	}
}

func TestPermissionChecks(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	admin := m.Connect(mock.Superuser)
	alice := m.Connect("alice")

	if err := admin.Mkdirs(ctx, "/secure", 0o755); err != nil {
		t.Fatalf("Mkdirs: %v", err)
	}
	err := alice.Create(ctx, "/secure/x", bytes.NewReader(nil), hdfs.CreateOptions{})
	if !errors.Is(err, hdfs.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if err := alice.Mkdirs(ctx, "/secure/inner", 0o755); !errors.Is(err, hdfs.ErrPermission) {
		t.Fatalf("expected permission error for mkdirs, got %v", err)
	}
	if err := alice.Mkdirs(ctx, "/alice/projects", 0o755); err != nil {
		t.Fatalf("Mkdirs under writable root: %v", err)
	}

	create(t, admin, "/secure/private", "x", hdfs.CreateOptions{Perm: 0o600})
	if _, err := alice.Open(ctx, "/secure/private"); !errors.Is(err, hdfs.ErrPermission) {
		t.Fatalf("expected read permission error, got %v", err)
	}
}

func TestDeleteAndRename(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	c := m.Connect("alice")
	create(t, c, "/dir/file", "x", hdfs.CreateOptions{})
	create(t, c, "/other", "y", hdfs.CreateOptions{})

	if _, err := c.Delete(ctx, "/dir", false); !errors.Is(err, hdfs.ErrNotEmpty) {
		t.Fatalf("expected not-empty error, got %v", err)
	}
	if err := c.Rename(ctx, "/dir/file", "/other"); !errors.Is(err, hdfs.ErrAlreadyExists) {
		t.Fatalf("expected already-exists error, got %v", err)
	}
	if err := c.Rename(ctx, "/missing", "/x"); !errors.Is(err, hdfs.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if err := c.Rename(ctx, "/dir", "/dir/inside"); err == nil {
		t.Fatalf("expected error renaming into own subtree")
	}
	if err := c.Rename(ctx, "/dir/file", "/moved"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := c.Stat(ctx, "/moved"); err != nil {
		t.Fatalf("Stat after rename: %v", err)
	}
	deleted, err := c.Delete(ctx, "/dir", false)
	if err != nil || !deleted {
		t.Fatalf("expected empty dir delete, got %v %v", deleted, err)
	}
	deleted, err = c.Delete(ctx, "/dir", false)
	if err != nil || deleted {
		t.Fatalf("expected false for missing path, got %v %v", deleted, err)
	}
}

func TestCreateConflicts(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	c := m.Connect("alice")
	create(t, c, "/f", "one", hdfs.CreateOptions{})

	if err := c.Create(ctx, "/f", bytes.NewReader([]byte("two")), hdfs.CreateOptions{}); !errors.Is(err, hdfs.ErrAlreadyExists) {
		t.Fatalf("expected already-exists error, got %v", err)
	}
	create(t, c, "/f", "two", hdfs.CreateOptions{Overwrite: true})
	rc, err := c.Open(ctx, "/f")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "two" {
		t.Fatalf("expected overwritten content, got %q", data)
	}
	if err := c.Mkdirs(ctx, "/f/sub", 0o755); !errors.Is(err, hdfs.ErrAlreadyExists) {
		t.Fatalf("expected already-exists for file ancestor, got %v", err)
	}
}

func TestChecksumMatchesHasher(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	c := m.Connect("alice")
	payload := bytes.Repeat([]byte("huaguoshan"), 300)
	create(t, c, "/sum.bin", string(payload), hdfs.CreateOptions{BlockSize: 1024})

	sum, err := c.Checksum(ctx, "/sum.bin")
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	h := checksum.NewHasher(checksum.DefaultBytesPerCRC, 1024, checksum.CRC32C)
	h.Write(payload)
	if !bytes.Equal(sum.MD5, h.Sum()) {
		t.Fatalf("checksum mismatch")
	}
	if sum.Algorithm != "MD5-of-2MD5-of-512CRC32C" {
		t.Fatalf("unexpected algorithm %q", sum.Algorithm)
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	err := m.Seed([]devseed.Entry{
		{Path: "/xiyou", Type: "dir"},
		{Path: "/xiyou/huaguoshan/monkey.txt", Text: "sun wukong", Owner: "wukong", Permission: "600", BlockSize: "1KB"},
	})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	st, err := m.Connect("wukong").Stat(ctx, "/xiyou/huaguoshan/monkey.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Owner != "wukong" || st.Permission != 0o600 || st.BlockSize != 1024 || st.Length != 10 {
		t.Fatalf("unexpected seeded status: %#v", st)
	}
	if _, err := m.Connect("bajie").Open(ctx, "/xiyou/huaguoshan/monkey.txt"); !errors.Is(err, hdfs.ErrPermission) {
		t.Fatalf("expected permission error for other user, got %v", err)
	}
}
