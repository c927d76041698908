package hdfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"time"

	"github.com/colinmarc/hdfs/v2"

	"github.com/hsdata/hdfs_sdk_go/internal/checksum"
)

// nativePageSize is the number of entries requested per Readdir call.
const nativePageSize = 1000

// NativeBackend speaks the Hadoop RPC protocol directly to the name-node and
// data-nodes. Known limits of the underlying client:
//
//   - Block locations are not exposed, so ListFiles returns files with empty
//     BlockLocations when this backend is used.
//   - Rename always replaces an existing destination. Rename checks dst right
//     before the call, but a dst created by another client after that check is
//     overwritten.
type NativeBackend struct {
	client *hdfs.Client
}

// NewNativeBackend dials the name-node at addr (host:port) as user.
func NewNativeBackend(addr, user string) (*NativeBackend, error) {
	client, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses: []string{addr},
		User:      user,
	})
	if err != nil {
		return nil, newError(KindConnection, SourceRemote, err)
	}
	return &NativeBackend{client: client}, nil
}

func (b *NativeBackend) Stat(_ context.Context, p string) (*FileStatus, error) {
	fi, err := b.client.Stat(p)
	if err != nil {
		return nil, err
	}
	st := fromFileInfo(p, fi)
	return &st, nil
}

func (b *NativeBackend) Mkdirs(_ context.Context, p string, perm os.FileMode) error {
	return b.client.MkdirAll(p, perm)
}

func (b *NativeBackend) Create(_ context.Context, p string, data io.Reader, opts CreateOptions) error {
	if opts.Overwrite {
		if err := b.client.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	w, err := b.client.CreateFile(p, opts.Replication, opts.BlockSize, opts.Perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		_ = b.client.Remove(p)
		return err
	}
	return closeWriter(w)
}

// closeWriter retries Close while the last block is still replicating.
func closeWriter(w *hdfs.FileWriter) error {
	var err error
	for i := 0; i < 5; i++ {
		if err = w.Close(); err == nil || !hdfs.IsErrReplicating(err) {
			return err
		}
		time.Sleep(time.Duration(100<<i) * time.Millisecond)
	}
	return err
}

func (b *NativeBackend) Open(_ context.Context, p string) (io.ReadCloser, error) {
	return b.client.Open(p)
}

func (b *NativeBackend) Delete(_ context.Context, p string, recursive bool) (bool, error) {
	var err error
	if recursive {
		err = b.client.RemoveAll(p)
	} else {
		err = b.client.Remove(p)
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *NativeBackend) Rename(_ context.Context, src, dst string) error {
	return renameNoReplace(b.client, src, dst)
}

type renamer interface {
	Stat(name string) (os.FileInfo, error)
	Rename(oldpath, newpath string) error
}

// renameNoReplace refuses an existing dst. The client renames with
// overwrite set, so this narrows but does not close the race with writers.
func renameNoReplace(fs renamer, src, dst string) error {
	if _, err := fs.Stat(dst); err == nil {
		return newError(KindAlreadyExists, SourceRemote, &os.PathError{Op: "rename", Path: dst, Err: os.ErrExist})
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return fs.Rename(src, dst)
}

func (b *NativeBackend) OpenDir(_ context.Context, p string) (DirLister, error) {
	f, err := b.client.Open(p)
	if err != nil {
		return nil, err
	}
	return &nativeLister{dir: p, f: f}, nil
}

type nativeLister struct {
	dir string
	f   *hdfs.FileReader
}

func (l *nativeLister) Next(context.Context) ([]FileStatus, error) {
	infos, err := l.f.Readdir(nativePageSize)
	if len(infos) == 0 && err == nil {
		err = io.EOF
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	entries := make([]FileStatus, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, fromFileInfo(path.Join(l.dir, fi.Name()), fi))
	}
	if len(entries) == 0 {
		return nil, io.EOF
	}
	return entries, nil
}

func (l *nativeLister) Close() error {
	return l.f.Close()
}

// BlockLocations always reports none.
func (b *NativeBackend) BlockLocations(context.Context, string, int64, int64) ([]BlockLocation, error) {
	return nil, nil
}

// Checksum asks the data-nodes for the file checksum. The underlying client
// only reports the MD5, so the default chunk size and CRC32C are assumed.
func (b *NativeBackend) Checksum(_ context.Context, p string) (*FileChecksum, error) {
	f, err := b.client.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sum, err := f.Checksum()
	if err != nil {
		return nil, err
	}
	return &FileChecksum{
		Algorithm:   checksum.AlgorithmName(0, checksum.DefaultBytesPerCRC, checksum.CRC32C),
		BytesPerCRC: checksum.DefaultBytesPerCRC,
		MD5:         sum,
	}, nil
}

func (b *NativeBackend) Close() error {
	return b.client.Close()
}

type hdfsFileInfo interface {
	Owner() string
	OwnerGroup() string
	AccessTime() time.Time
}

type hdfsFileProto interface {
	GetBlockReplication() uint32
	GetBlocksize() uint64
}

func fromFileInfo(p string, fi os.FileInfo) FileStatus {
	st := FileStatus{
		Path:       p,
		Name:       fi.Name(),
		Length:     fi.Size(),
		Permission: fi.Mode() & (os.ModePerm | os.ModeSticky),
		ModTime:    fi.ModTime(),
		IsDir:      fi.IsDir(),
	}
	if p == "/" {
		st.Name = ""
	}
	if hi, ok := fi.(hdfsFileInfo); ok {
		st.Owner = hi.Owner()
		st.Group = hi.OwnerGroup()
		st.AccessTime = hi.AccessTime()
	}
	if proto, ok := fi.Sys().(hdfsFileProto); ok {
		st.Replication = int(proto.GetBlockReplication())
		st.BlockSize = int64(proto.GetBlocksize())
	}
	return st
}
