package hdfs

import (
	"context"
	"errors"
	"os"
	"testing"
)

// fakeRenamer mimics the native client: Rename replaces dst.
type fakeRenamer struct {
	paths   map[string]bool
	statErr error
	renamed bool
}

func (f *fakeRenamer) Stat(name string) (os.FileInfo, error) {
	if f.statErr != nil {
		return nil, f.statErr
	}
	if f.paths[name] {
		return nil, nil
	}
	return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
}

func (f *fakeRenamer) Rename(oldpath, newpath string) error {
	delete(f.paths, oldpath)
	f.paths[newpath] = true
	f.renamed = true
	return nil
}

func TestRenameNoReplace(t *testing.T) {
	fs := &fakeRenamer{paths: map[string]bool{"/a1": true, "/a2": true}}
	err := renameNoReplace(fs, "/a1", "/a2")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected already-exists, got %v", err)
	}
	if fs.renamed || !fs.paths["/a1"] {
		t.Fatalf("existing destination must not be replaced")
	}

	fs = &fakeRenamer{paths: map[string]bool{"/a1": true}}
	if err := renameNoReplace(fs, "/a1", "/a2"); err != nil {
		t.Fatalf("renameNoReplace: %v", err)
	}
	if !fs.paths["/a2"] || fs.paths["/a1"] {
		t.Fatalf("unexpected namespace after rename: %v", fs.paths)
	}

	fs = &fakeRenamer{paths: map[string]bool{"/a1": true}, statErr: os.ErrPermission}
	if err := renameNoReplace(fs, "/a1", "/a2"); !errors.Is(err, os.ErrPermission) || fs.renamed {
		t.Fatalf("expected stat failure to abort the rename, got %v", err)
	}
}

func TestNativeBlockLocationsAreEmpty(t *testing.T) {
	locs, err := (&NativeBackend{}).BlockLocations(context.Background(), "/xiyou/huaguoshan/test.txt", 0, 1024)
	if err != nil || len(locs) != 0 {
		t.Fatalf("expected no block locations, got %v %v", locs, err)
	}
}
