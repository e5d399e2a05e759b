// Package pathfs implements path-addressed filesystem operations on top of a
// block store: resolving paths through directory blocks, creating files and
// directories, and reading and writing file chains.
//
// All operations of an FS are serialized by one lock. Operations that write
// several blocks are not atomic; an interrupted operation can leave the image
// inconsistent, which Check reports.
package pathfs

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/keks/simplefs"
	"github.com/keks/simplefs/blkfile"
)

// MaxPathLen is the length a path must stay below.
const MaxPathLen = 256

// FS is a filesystem on a block store.
type FS struct {
	l sync.Mutex

	st  *blkfile.Store
	log *slog.Logger
}

// Option configures an FS.
type Option func(*FS)

// WithLogger makes the FS log block allocations and chain extensions.
func WithLogger(log *slog.Logger) Option {
	return func(fs *FS) {
		fs.log = log
	}
}

// New returns an FS on st. The caller keeps ownership of st.
func New(st *blkfile.Store, opts ...Option) *FS {
	fs := &FS{
		st:  st,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Attr describes a file or directory.
type Attr struct {
	ID   simplefs.BlockID
	Kind simplefs.Kind
	Name string

	// Size is the file length; zero for directories.
	Size  int64
	Mode  os.FileMode
	Nlink uint32
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool {
	return a.Kind == simplefs.KindDirectory
}

// DirEntry is one child of a directory.
type DirEntry struct {
	Name string
	ID   simplefs.BlockID
	Kind simplefs.Kind
}

// Resolve returns the id of the block path names.
func (fs *FS) Resolve(path string) (simplefs.BlockID, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	blk, err := fs.resolve(path)
	if err != nil {
		return simplefs.NoBlock, err
	}
	return blk.ID, nil
}

func (fs *FS) resolve(path string) (blkfile.Block, error) {
	switch {
	case path == "":
		return blkfile.Block{}, simplefs.ErrInvalid
	case len(path) >= MaxPathLen:
		return blkfile.Block{}, simplefs.ErrNameTooLong
	case path[0] != '/':
		return blkfile.Block{}, simplefs.ErrInvalid
	}

	cur, err := fs.st.ReadBlock(simplefs.RootID)
	if err != nil {
		return blkfile.Block{}, err
	}

	for _, tok := range strings.Split(path, "/") {
		if tok == "" {
			continue
		}

		dir, ok := cur.Content.(*blkfile.Directory)
		if !ok {
			return blkfile.Block{}, simplefs.ErrNotFound
		}

		cur, err = fs.lookup(dir, blkfile.TruncateName(tok))
		if err != nil {
			return blkfile.Block{}, err
		}
	}

	return cur, nil
}

// lookup returns the first child of dir called name.
func (fs *FS) lookup(dir *blkfile.Directory, name string) (blkfile.Block, error) {
	for _, id := range dir.Entries() {
		child, err := fs.st.ReadBlock(id)
		if err != nil {
			return blkfile.Block{}, err
		}
		if child.Name == name {
			return child, nil
		}
	}
	return blkfile.Block{}, simplefs.ErrNotFound
}

// Stat returns the attributes of path.
func (fs *FS) Stat(path string) (Attr, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	blk, err := fs.resolve(path)
	if err != nil {
		return Attr{}, err
	}

	attr := Attr{
		ID:   blk.ID,
		Kind: blk.Kind(),
		Name: blk.Name,
	}

	switch c := blk.Content.(type) {
	case *blkfile.Directory:
		attr.Mode = os.ModeDir | 0755
		attr.Nlink = 2
	case *blkfile.File:
		attr.Size = int64(c.Size)
		attr.Mode = 0644
		attr.Nlink = 1
	default:
		return Attr{}, corrupt(blk, "named %v block", blk.Kind())
	}

	return attr, nil
}

// ReadDir lists the children of the directory path in slot order.
func (fs *FS) ReadDir(path string) ([]DirEntry, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	blk, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}

	dir, ok := blk.Content.(*blkfile.Directory)
	if !ok {
		return nil, simplefs.ErrNotDirectory
	}

	var ents []DirEntry
	for _, id := range dir.Entries() {
		child, err := fs.st.ReadBlock(id)
		if err != nil {
			return nil, err
		}
		ents = append(ents, DirEntry{
			Name: child.Name,
			ID:   child.ID,
			Kind: child.Kind(),
		})
	}

	return ents, nil
}

// Mkdir creates the directory path.
func (fs *FS) Mkdir(path string) (simplefs.BlockID, error) {
	return fs.Create(path, simplefs.KindDirectory)
}

// Mknod creates the empty file path.
func (fs *FS) Mknod(path string) (simplefs.BlockID, error) {
	return fs.Create(path, simplefs.KindFile)
}

// Create makes a new block of kind, which must be a file or a directory, and
// links it into the parent directory of path. Names longer than
// blkfile.MaxNameLen are truncated. A name that is already taken in the
// parent, compared after truncation, is rejected with ErrExist.
func (fs *FS) Create(path string, kind simplefs.Kind) (simplefs.BlockID, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	var content blkfile.Content
	switch kind {
	case simplefs.KindDirectory:
		content = blkfile.NewDirectory()
	case simplefs.KindFile:
		content = &blkfile.File{}
	default:
		return simplefs.NoBlock, simplefs.ErrInvalid
	}

	if len(path) >= MaxPathLen {
		return simplefs.NoBlock, simplefs.ErrNameTooLong
	}

	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return simplefs.NoBlock, simplefs.ErrInvalid
	}

	parentPath, name := path[:i], blkfile.TruncateName(path[i+1:])
	if parentPath == "" {
		parentPath = "/"
	}
	if name == "" {
		return simplefs.NoBlock, simplefs.ErrInvalid
	}

	parent, err := fs.resolve(parentPath)
	if err != nil {
		return simplefs.NoBlock, err
	}

	dir, ok := parent.Content.(*blkfile.Directory)
	if !ok {
		return simplefs.NoBlock, simplefs.ErrNotDirectory
	}

	if _, err := fs.lookup(dir, name); err == nil {
		return simplefs.NoBlock, simplefs.ErrExist
	} else if !errors.Is(err, simplefs.ErrNotFound) {
		return simplefs.NoBlock, err
	}

	if dir.Full() {
		return simplefs.NoBlock, simplefs.ErrNoSpace
	}

	id, err := fs.st.Allocate()
	if err != nil {
		return simplefs.NoBlock, err
	}

	dir.Link(id)
	if err := fs.st.WriteBlock(parent); err != nil {
		return simplefs.NoBlock, err
	}

	blk := blkfile.Block{
		ID:      id,
		Name:    name,
		Next:    simplefs.NoBlock,
		Content: content,
	}
	if err := fs.st.WriteBlock(blk); err != nil {
		return simplefs.NoBlock, err
	}

	fs.log.Debug("created node", "path", path, "kind", kind, "block", id, "parent", parent.ID)

	return id, nil
}
