package pathfs

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/keks/simplefs"
	"github.com/keks/simplefs/blkfile"
)

// errChainEnd is returned by advance when a chain ends and may not be
// extended.
var errChainEnd = errors.New("end of chain")

func corrupt(blk blkfile.Block, format string, args ...interface{}) error {
	return fmt.Errorf("block %d: %s: %w", blk.ID, fmt.Sprintf(format, args...), simplefs.ErrCorrupt)
}

// head resolves path to the head block of a file.
func (fs *FS) head(path string) (blkfile.Block, *blkfile.File, error) {
	blk, err := fs.resolve(path)
	if err != nil {
		return blkfile.Block{}, nil, err
	}

	switch c := blk.Content.(type) {
	case *blkfile.File:
		return blk, c, nil
	case *blkfile.Directory:
		return blkfile.Block{}, nil, simplefs.ErrIsDirectory
	default:
		return blkfile.Block{}, nil, corrupt(blk, "named %v block", blk.Kind())
	}
}

// advance moves cur to the next block of its chain. If the chain ends there
// and extend is set, a new Data block is allocated, written and linked, and
// the predecessor written again.
func (fs *FS) advance(cur *blkfile.Block, extend bool) error {
	if cur.Next != simplefs.NoBlock {
		next, err := fs.st.ReadBlock(cur.Next)
		if err != nil {
			return err
		}
		if next.Kind() != simplefs.KindData {
			return corrupt(*cur, "links to %v block %d", next.Kind(), cur.Next)
		}
		*cur = next
		return nil
	}

	if !extend {
		return errChainEnd
	}

	id, err := fs.st.Allocate()
	if err != nil {
		return err
	}

	next := blkfile.Block{
		ID:      id,
		Next:    simplefs.NoBlock,
		Content: &blkfile.Data{},
	}
	if err := fs.st.WriteBlock(next); err != nil {
		return err
	}

	cur.Next = id
	if err := fs.st.WriteBlock(*cur); err != nil {
		return err
	}

	fs.log.Debug("extended chain", "from", cur.ID, "block", id)

	*cur = next
	return nil
}

// Read reads up to len(p) bytes of the file path starting at off. Reads are
// clamped to the file size; reading at or past the end returns 0 bytes and a
// nil error. A chain shorter than the file size yields a short read.
func (fs *FS) Read(path string, p []byte, off int64) (int, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	if off < 0 {
		return 0, simplefs.ErrInvalid
	}

	cur, f, err := fs.head(path)
	if err != nil {
		return 0, err
	}

	size := int64(f.Size)
	if off >= size {
		return 0, nil
	}

	want := len(p)
	if int64(want) > size-off {
		want = int(size - off)
	}

	blockOff := int(off % blkfile.PayloadSize)
	for i := off / blkfile.PayloadSize; i > 0; i-- {
		err := fs.advance(&cur, false)
		if errors.Is(err, errChainEnd) || errors.Is(err, simplefs.ErrCorrupt) {
			return 0, nil
		} else if err != nil {
			return 0, err
		}
	}

	var n int
	for n < want {
		n += copy(p[n:want], cur.Payload()[blockOff:])
		blockOff = 0

		if n < want {
			err := fs.advance(&cur, false)
			if errors.Is(err, errChainEnd) || errors.Is(err, simplefs.ErrCorrupt) {
				fs.log.Debug("short chain", "path", path, "read", n, "want", want)
				break
			} else if err != nil {
				return n, err
			}
		}
	}

	return n, nil
}

// Write writes p to the file path at off, extending the block chain as
// needed, and grows the file size to cover the written bytes. If the image
// runs out of blocks after the first block was written, Write stops and
// returns the number of bytes written so far with a nil error.
func (fs *FS) Write(path string, p []byte, off int64) (int, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	if off < 0 {
		return 0, simplefs.ErrInvalid
	}

	cur, _, err := fs.head(path)
	if err != nil {
		return 0, err
	}
	headID := cur.ID

	if len(p) == 0 {
		return 0, nil
	}
	if off > math.MaxInt32 || int64(len(p)) > math.MaxInt32-off {
		return 0, simplefs.ErrFileTooLarge
	}

	blockOff := int(off % blkfile.PayloadSize)
	for i := off / blkfile.PayloadSize; i > 0; i-- {
		if err := fs.advance(&cur, true); err != nil {
			return 0, err
		}
	}

	var n int
	for n < len(p) {
		m := copy(cur.Payload()[blockOff:], p[n:])
		if err := fs.st.WriteBlock(cur); err != nil {
			return n, err
		}
		n += m
		blockOff = 0

		if n < len(p) {
			err := fs.advance(&cur, true)
			if errors.Is(err, simplefs.ErrNoSpace) {
				fs.log.Debug("partial write", "path", path, "written", n, "want", len(p))
				break
			} else if err != nil {
				return n, err
			}
		}
	}

	return n, fs.grow(headID, off+int64(n))
}

// grow raises the size of the file headed by id to end if it is smaller.
func (fs *FS) grow(id simplefs.BlockID, end int64) error {
	head, err := fs.st.ReadBlock(id)
	if err != nil {
		return err
	}

	f, ok := head.Content.(*blkfile.File)
	if !ok {
		return corrupt(head, "file head turned into %v block", head.Kind())
	}
	if end <= int64(f.Size) {
		return nil
	}

	f.Size = int32(end)
	return fs.st.WriteBlock(head)
}

// Open returns a handle to the file path.
func (fs *FS) Open(path string) (simplefs.File, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	blk, _, err := fs.head(path)
	if err != nil {
		return nil, err
	}

	return &file{fs: fs, path: path, name: blk.Name}, nil
}

// file is a handle that addresses its file by path.
type file struct {
	fs   *FS
	path string
	name string
}

func (f *file) Name() string {
	return f.name
}

func (f *file) Size() (int64, error) {
	attr, err := f.fs.Stat(f.path)
	if err != nil {
		return 0, err
	}
	return attr.Size, nil
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.fs.Read(f.path, p, off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.fs.Write(f.path, p, off)
	if err == nil && n < len(p) {
		err = simplefs.ErrNoSpace
	}
	return n, err
}
