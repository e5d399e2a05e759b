package blkfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/keks/simplefs"
)

// DefaultBlocks is the number of blocks in a freshly formatted image.
const DefaultBlocks = 1024

// RootName is the name stored in the root directory block.
const RootName = "/"

// Store reads and writes block records of an image. It does no locking;
// callers serialize access.
type Store struct {
	lower simplefs.ReadWriterAt
	count int

	closer io.Closer
}

// FormatOptions controls the geometry of a new image.
type FormatOptions struct {
	// Blocks is the number of blocks in the image. Zero means DefaultBlocks.
	Blocks int
}

func (o FormatOptions) blocks() int {
	if o.Blocks == 0 {
		return DefaultBlocks
	}
	return o.Blocks
}

// Format writes an empty image to rwa: every block zeroed, block 0 the root
// directory.
func Format(rwa simplefs.ReadWriterAt, opts FormatOptions) (*Store, error) {
	count := opts.blocks()
	if count < 1 || count > math.MaxInt32 {
		return nil, fmt.Errorf("format: block count %d: %w", count, simplefs.ErrInvalid)
	}

	st := &Store{lower: rwa, count: count}

	const chunk = 64
	zero := make([]byte, chunk*BlockSize)
	for i := 0; i < count; i += chunk {
		n := chunk
		if count-i < n {
			n = count - i
		}
		if _, err := rwa.WriteAt(zero[:n*BlockSize], offset(simplefs.BlockID(i))); err != nil {
			return nil, fmt.Errorf("format: zero blocks at %d: %w", i, err)
		}
	}

	root := Block{
		ID:      simplefs.RootID,
		Name:    RootName,
		Next:    simplefs.NoBlock,
		Content: NewDirectory(),
	}
	if err := st.WriteBlock(root); err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}

	return st, nil
}

// Open uses rwa, holding size bytes, as an existing image.
func Open(rwa simplefs.ReadWriterAt, size int64) (*Store, error) {
	if size <= 0 || size%BlockSize != 0 {
		return nil, fmt.Errorf("invalid image size (%d, expected a non-zero multiple of %d)", size, BlockSize)
	}

	st := &Store{lower: rwa, count: int(size / BlockSize)}

	root, err := st.ReadBlock(simplefs.RootID)
	if err != nil {
		return nil, err
	}
	if root.Kind() != simplefs.KindDirectory {
		return nil, fmt.Errorf("block 0 is a %v block, not the root directory", root.Kind())
	}

	return st, nil
}

// CreateFile creates or truncates the image file name and formats it.
func CreateFile(name string, opts FormatOptions) (*Store, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	st, err := Format(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}

	st.closer = f
	return st, nil
}

// OpenFile opens the existing image file name.
func OpenFile(name string) (*Store, error) {
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	st, err := Open(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	st.closer = f
	return st, nil
}

// Close closes the image file if the store opened it.
func (st *Store) Close() error {
	if st.closer == nil {
		return nil
	}
	err := st.closer.Close()
	st.closer = nil
	return err
}

// Count returns the number of blocks in the image.
func (st *Store) Count() int {
	return st.count
}

// Lower returns the medium the store reads from.
func (st *Store) Lower() simplefs.ReadWriterAt {
	return st.lower
}

// ReadBlock reads block id. The returned block carries id, not the id field
// of the record. A record that lies (partly) beyond the end of the medium
// reads as a Free block.
func (st *Store) ReadBlock(id simplefs.BlockID) (Block, error) {
	if !id.Valid() {
		return Block{}, fmt.Errorf("read block %d: %w", id, simplefs.ErrInvalid)
	}

	var rec record
	err := binary.Read(recordReader(st.lower, id), binary.LittleEndian, &rec)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Block{ID: id, Next: simplefs.NoBlock, Content: Free{}}, nil
	} else if err != nil {
		return Block{}, fmt.Errorf("read block %d: %w", id, err)
	}

	var blk Block
	if err := blk.fromRecord(&rec); err != nil {
		return Block{}, err
	}
	// writes go back to the slot the block was read from, whatever its id
	// field says
	blk.ID = id

	return blk, nil
}

// StoredID returns the id field of the record in slot id. It differs from id
// only in a damaged image.
func (st *Store) StoredID(id simplefs.BlockID) (simplefs.BlockID, error) {
	if !id.Valid() {
		return simplefs.NoBlock, fmt.Errorf("read block %d: %w", id, simplefs.ErrInvalid)
	}

	var v int32
	err := binary.Read(recordReader(st.lower, id), binary.LittleEndian, &v)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return id, nil
	} else if err != nil {
		return simplefs.NoBlock, fmt.Errorf("read block %d: %w", id, err)
	}

	return simplefs.BlockID(v), nil
}

// WriteBlock writes blk to the slot named by blk.ID.
func (st *Store) WriteBlock(blk Block) error {
	if !blk.ID.Valid() {
		return fmt.Errorf("write block %d: %w", blk.ID, simplefs.ErrInvalid)
	}

	data, err := blk.MarshalBinary()
	if err != nil {
		return err
	}

	_, err = recordWriter(st.lower, blk.ID).Write(data)
	if err != nil {
		return fmt.Errorf("write block %d: %w", blk.ID, err)
	}

	return nil
}

// Allocate returns the lowest-numbered Free block. The block stays Free
// until the caller writes it.
func (st *Store) Allocate() (simplefs.BlockID, error) {
	for i := 0; i < st.count; i++ {
		id := simplefs.BlockID(i)
		blk, err := st.ReadBlock(id)
		if err != nil {
			return simplefs.NoBlock, err
		}
		if blk.Kind() == simplefs.KindFree {
			return id, nil
		}
	}

	return simplefs.NoBlock, simplefs.ErrNoSpace
}

// Usage counts the blocks of each kind.
func (st *Store) Usage() (map[simplefs.Kind]int, error) {
	usage := make(map[simplefs.Kind]int)
	for i := 0; i < st.count; i++ {
		blk, err := st.ReadBlock(simplefs.BlockID(i))
		if err != nil {
			return nil, err
		}
		usage[blk.Kind()]++
	}
	return usage, nil
}
