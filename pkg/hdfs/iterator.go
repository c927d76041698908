package hdfs

import (
	"context"
	"errors"
	"io"
)

// FileIterator walks the files under a path one listing page at a time.
// It is forward-only and single-pass:
//
//	it := session.ListFiles(ctx, "/", true)
//	defer it.Close()
//	for it.Next() {
//		fmt.Println(it.FileStatus().Path)
//	}
//	if err := it.Err(); err != nil { ... }
//
// Closing the Session stops the iterator with ErrClosedSession.
type FileIterator struct {
	ctx       context.Context
	s         *Session
	root      string
	recursive bool

	started bool
	pending []string
	lister  DirLister
	buf     []FileStatus
	cur     FileStatus
	err     error
	done    bool
}

// Next advances to the next file, fetching listing pages as needed.
func (it *FileIterator) Next() bool {
	if it.done {
		return false
	}
	for {
		if len(it.buf) > 0 {
			st := it.buf[0]
			it.buf = it.buf[1:]
			if st.IsDir {
				if it.recursive {
					it.pending = append(it.pending, st.Path)
				}
				continue
			}
			if err := it.withLocations(&st); err != nil {
				return it.stop(err)
			}
			it.cur = st
			return true
		}

		if it.lister != nil {
			page, err := it.nextPage()
			if errors.Is(err, io.EOF) {
				_ = it.lister.Close()
				it.lister = nil
				continue
			}
			if err != nil {
				return it.stop(err)
			}
			it.buf = page
			continue
		}

		if !it.started {
			it.started = true
			st, err := it.statRoot()
			if err != nil {
				return it.stop(err)
			}
			if st.IsDir {
				it.pending = append(it.pending, st.Path)
			} else {
				it.buf = append(it.buf, *st)
			}
			continue
		}

		if len(it.pending) == 0 {
			it.done = true
			return false
		}
		dir := it.pending[len(it.pending)-1]
		it.pending = it.pending[:len(it.pending)-1]
		if err := it.openDir(dir); err != nil {
			return it.stop(err)
		}
	}
}

// FileStatus returns the file the iterator is positioned on.
func (it *FileIterator) FileStatus() FileStatus {
	return it.cur
}

// Err returns the error that ended iteration, if any.
func (it *FileIterator) Err() error {
	return it.err
}

// Close abandons the iteration and releases the open listing, if any.
func (it *FileIterator) Close() error {
	it.done = true
	it.buf = nil
	it.pending = nil
	if it.lister != nil {
		err := it.lister.Close()
		it.lister = nil
		return err
	}
	return nil
}

func (it *FileIterator) stop(err error) bool {
	it.err = err
	_ = it.Close()
	return false
}

const listFilesOp = "list-files"

func (it *FileIterator) statRoot() (*FileStatus, error) {
	release, err := it.s.acquire(listFilesOp, it.root)
	if err != nil {
		return nil, err
	}
	defer release()
	it.s.trace(listFilesOp, it.root)
	st, err := it.s.stat(it.ctx, it.root)
	if err != nil {
		return nil, it.s.fail(listFilesOp, it.root, err)
	}
	return st, nil
}

func (it *FileIterator) openDir(dir string) error {
	release, err := it.s.acquire(listFilesOp, dir)
	if err != nil {
		return err
	}
	defer release()
	ctx, cancel := it.s.metaCtx(it.ctx)
	defer cancel()
	lister, err := it.s.backend.OpenDir(ctx, dir)
	if err != nil {
		return it.s.fail(listFilesOp, dir, err)
	}
	it.lister = lister
	return nil
}

func (it *FileIterator) nextPage() ([]FileStatus, error) {
	release, err := it.s.acquire(listFilesOp, it.root)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx, cancel := it.s.metaCtx(it.ctx)
	defer cancel()
	page, err := it.lister.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, it.s.fail(listFilesOp, it.root, err)
	}
	return page, err
}

func (it *FileIterator) withLocations(st *FileStatus) error {
	if st.Length == 0 {
		return nil
	}
	release, err := it.s.acquire(listFilesOp, st.Path)
	if err != nil {
		return err
	}
	defer release()
	ctx, cancel := it.s.metaCtx(it.ctx)
	defer cancel()
	locs, err := it.s.backend.BlockLocations(ctx, st.Path, 0, st.Length)
	if err != nil {
		return it.s.fail(listFilesOp, st.Path, err)
	}
	st.BlockLocations = locs
	return nil
}
