// Package fusefs serves a pathfs.FS through FUSE.
//
// Nodes carry no state besides the file system; every operation resolves the
// node's path again. Inode numbers are block ids plus one, so the root
// directory gets inode 1.
package fusefs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/keks/simplefs"
	"github.com/keks/simplefs/pathfs"
)

type node struct {
	fs.Inode

	fsys *pathfs.FS
	log  *slog.Logger
}

var (
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeSetattrer = (*node)(nil)
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeMkdirer   = (*node)(nil)
	_ fs.NodeMknoder   = (*node)(nil)
	_ fs.NodeCreater   = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeReader    = (*node)(nil)
	_ fs.NodeWriter    = (*node)(nil)
)

// Options configures Mount.
type Options struct {
	Logger *slog.Logger

	// Debug logs every FUSE request.
	Debug bool
}

// Root returns the root node of fsys.
func Root(fsys *pathfs.FS, log *slog.Logger) fs.InodeEmbedder {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &node{fsys: fsys, log: log}
}

// Mount serves fsys at dir. The caller waits on and unmounts the returned
// server.
func Mount(dir string, fsys *pathfs.FS, opts Options) (*fuse.Server, error) {
	root := Root(fsys, opts.Logger)
	return fs.Mount(dir, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName: "simplefs",
			Name:   "simplefs",
			Debug:  opts.Debug,
		},
	})
}

func (n *node) path() string {
	return "/" + n.Path(nil)
}

func (n *node) child(name string) string {
	return path.Join(n.path(), name)
}

func (n *node) newChild(ctx context.Context, a pathfs.Attr, out *fuse.EntryOut) *fs.Inode {
	fillAttr(a, &out.Attr)
	child := &node{fsys: n.fsys, log: n.log}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fileType(a), Ino: ino(a.ID)})
}

func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	a, err := n.fsys.Stat(n.path())
	if err != nil {
		return n.errno("getattr", n.path(), err)
	}
	fillAttr(a, &out.Attr)
	return fs.OK
}

// Setattr accepts mode and time changes without storing them. Images carry
// neither, and file sizes only change by writing.
func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	a, err := n.fsys.Stat(n.path())
	if err != nil {
		return n.errno("setattr", n.path(), err)
	}
	if size, ok := in.GetSize(); ok && int64(size) != a.Size {
		return syscall.ENOTSUP
	}
	fillAttr(a, &out.Attr)
	return fs.OK
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	a, err := n.fsys.Stat(n.child(name))
	if err != nil {
		// misses are routine, keep them out of the log
		return nil, errno(err)
	}
	return n.newChild(ctx, a, out), fs.OK
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	ents, err := n.fsys.ReadDir(n.path())
	if err != nil {
		return nil, n.errno("readdir", n.path(), err)
	}

	out := make([]fuse.DirEntry, 0, len(ents))
	for _, ent := range ents {
		mode := uint32(fuse.S_IFREG)
		if ent.Kind == simplefs.KindDirectory {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: ent.Name, Ino: ino(ent.ID), Mode: mode})
	}
	return fs.NewListDirStream(out), fs.OK
}

func (n *node) create(ctx context.Context, name string, kind simplefs.Kind, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if _, err := n.fsys.Create(p, kind); err != nil {
		return nil, n.errno("create", p, err)
	}
	a, err := n.fsys.Stat(p)
	if err != nil {
		return nil, n.errno("create", p, err)
	}
	return n.newChild(ctx, a, out), fs.OK
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return n.create(ctx, name, simplefs.KindDirectory, out)
}

func (n *node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if mode&syscall.S_IFMT != syscall.S_IFREG && mode&syscall.S_IFMT != 0 {
		return nil, syscall.EPERM
	}
	return n.create(ctx, name, simplefs.KindFile, out)
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child, st := n.create(ctx, name, simplefs.KindFile, out)
	return child, nil, 0, st
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	a, err := n.fsys.Stat(n.path())
	if err != nil {
		return nil, 0, n.errno("open", n.path(), err)
	}
	if a.IsDir() {
		return nil, 0, syscall.EISDIR
	}
	if flags&syscall.O_TRUNC != 0 && a.Size != 0 {
		return nil, 0, syscall.ENOTSUP
	}
	return nil, fuse.FOPEN_DIRECT_IO, fs.OK
}

func (n *node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	k, err := n.fsys.Read(n.path(), dest, off)
	if err != nil {
		return nil, n.errno("read", n.path(), err)
	}
	return fuse.ReadResultData(dest[:k]), fs.OK
}

func (n *node) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	k, err := n.fsys.Write(n.path(), data, off)
	return n.written(n.path(), k, err)
}

// written turns the result of a write into its reply. Bytes that reached the
// image are reported even if the write failed afterwards; the error is only
// logged then.
func (n *node) written(p string, k int, err error) (uint32, syscall.Errno) {
	if err != nil {
		e := n.errno("write", p, err)
		if k == 0 {
			return 0, e
		}
	}
	return uint32(k), fs.OK
}

func (n *node) errno(op, p string, err error) syscall.Errno {
	e := errno(err)
	n.log.Debug("request failed", "op", op, "path", p, "err", err, "errno", e)
	return e
}

var errnos = []struct {
	err   error
	errno syscall.Errno
}{
	{simplefs.ErrNotFound, syscall.ENOENT},
	{simplefs.ErrNotDirectory, syscall.ENOTDIR},
	{simplefs.ErrIsDirectory, syscall.EISDIR},
	{simplefs.ErrExist, syscall.EEXIST},
	{simplefs.ErrNoSpace, syscall.ENOSPC},
	{simplefs.ErrNameTooLong, syscall.ENAMETOOLONG},
	{simplefs.ErrInvalid, syscall.EINVAL},
	{simplefs.ErrFileTooLarge, syscall.EFBIG},
	{simplefs.ErrCorrupt, syscall.EIO},
}

// errno maps file system errors to the errno FUSE reports. Errors without a
// mapping, such as failed image I/O, become EIO.
func errno(err error) syscall.Errno {
	if err == nil {
		return fs.OK
	}
	for _, e := range errnos {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	return syscall.EIO
}

func ino(id simplefs.BlockID) uint64 {
	return uint64(id) + 1
}

func fileType(a pathfs.Attr) uint32 {
	if a.IsDir() {
		return fuse.S_IFDIR
	}
	return fuse.S_IFREG
}

func fillAttr(a pathfs.Attr, out *fuse.Attr) {
	out.Ino = ino(a.ID)
	out.Mode = fileType(a) | uint32(a.Mode&os.ModePerm)
	out.Size = uint64(a.Size)
	out.Nlink = a.Nlink
	out.Blocks = (out.Size + 511) / 512
	out.Owner = fuse.Owner{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
}
