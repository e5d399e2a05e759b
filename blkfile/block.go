package blkfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/keks/simplefs"
)

const (
	// BlockSize is the size of a block record in bytes.
	BlockSize = 512

	// NameSize is the size of the name field, including the terminating NUL.
	NameSize = 32

	// MaxNameLen is the number of usable name bytes.
	MaxNameLen = NameSize - 1

	// BlockHeaderSize is the size of the fixed fields of each block in bytes:
	// id, kind, size, name and next.
	BlockHeaderSize = 4 + 4 + 4 + NameSize + 4

	// PayloadSize is the number of content bytes a File or Data block holds.
	PayloadSize = BlockSize - BlockHeaderSize

	// MaxChildren is the number of child slots in a Directory block.
	MaxChildren = PayloadSize / 4
)

// record is the packed on-disk layout of a block.
type record struct {
	ID      int32
	Kind    int32
	Size    int32
	Name    [NameSize]byte
	Content [PayloadSize]byte
	Next    int32
}

// Content is the kind-specific part of a block. It is one of Free,
// *Directory, *File or *Data.
type Content interface {
	Kind() simplefs.Kind
}

// Free is the content of an unused block.
type Free struct{}

func (Free) Kind() simplefs.Kind { return simplefs.KindFree }

// Directory holds the ids of a directory's children. Empty slots are
// simplefs.NoBlock; slot order is listing order.
type Directory struct {
	Children [MaxChildren]simplefs.BlockID
}

// NewDirectory returns a Directory with all slots empty.
func NewDirectory() *Directory {
	d := &Directory{}
	for i := range d.Children {
		d.Children[i] = simplefs.NoBlock
	}
	return d
}

func (*Directory) Kind() simplefs.Kind { return simplefs.KindDirectory }

// Link stores id in the first empty slot. It returns false if the
// directory is full.
func (d *Directory) Link(id simplefs.BlockID) bool {
	for i, c := range d.Children {
		if c == simplefs.NoBlock {
			d.Children[i] = id
			return true
		}
	}
	return false
}

// Full reports whether every slot is in use.
func (d *Directory) Full() bool {
	for _, c := range d.Children {
		if c == simplefs.NoBlock {
			return false
		}
	}
	return true
}

// Entries returns the used slots in order.
func (d *Directory) Entries() []simplefs.BlockID {
	var ids []simplefs.BlockID
	for _, c := range d.Children {
		if c != simplefs.NoBlock {
			ids = append(ids, c)
		}
	}
	return ids
}

// File is the content of a file's head block. Size is the length of the
// whole file, not of Data.
type File struct {
	Size int32
	Data [PayloadSize]byte
}

func (*File) Kind() simplefs.Kind { return simplefs.KindFile }

// Data is the content of a chain continuation block.
type Data struct {
	Data [PayloadSize]byte
}

func (*Data) Kind() simplefs.Kind { return simplefs.KindData }

// Block is the decoded form of a block record.
type Block struct {
	ID simplefs.BlockID

	// Name is only stored for Directory and File blocks.
	Name string

	// Next is the following block of a file chain, or simplefs.NoBlock.
	Next simplefs.BlockID

	Content Content
}

// Kind returns the kind of the block's content.
func (b *Block) Kind() simplefs.Kind {
	if b.Content == nil {
		return simplefs.KindFree
	}
	return b.Content.Kind()
}

// Payload returns the content bytes of a File or Data block, nil otherwise.
// The slice aliases the block, so writes to it are kept by the next WriteBlock.
func (b *Block) Payload() []byte {
	switch c := b.Content.(type) {
	case *File:
		return c.Data[:]
	case *Data:
		return c.Data[:]
	default:
		return nil
	}
}

// TruncateName cuts name to the bytes a block can store. The cut backs off
// to a rune boundary, so a valid UTF-8 name stays valid.
func TruncateName(name string) string {
	if len(name) <= MaxNameLen {
		return name
	}
	i := MaxNameLen
	for i > 0 && !utf8.RuneStart(name[i]) {
		i--
	}
	return name[:i]
}

func encodeLink(id simplefs.BlockID) (int32, error) {
	switch {
	case id == simplefs.NoBlock:
		return 0, nil
	case id == simplefs.RootID || !id.Valid():
		// 0 on disk means "none", so the root can never be linked to.
		return 0, fmt.Errorf("cannot link to block %d: %w", id, simplefs.ErrInvalid)
	default:
		return int32(id), nil
	}
}

func decodeLink(v int32) simplefs.BlockID {
	if v <= 0 {
		return simplefs.NoBlock
	}
	return simplefs.BlockID(v)
}

// MarshalBinary encodes the block into its BlockSize on-disk form.
func (b *Block) MarshalBinary() ([]byte, error) {
	var rec record
	rec.ID = int32(b.ID)
	rec.Kind = int32(b.Kind())

	switch c := b.Content.(type) {
	case nil, Free:
		rec = record{ID: int32(b.ID)}
	case *Directory:
		copy(rec.Name[:], TruncateName(b.Name))
		for i, child := range c.Children {
			v, err := encodeLink(child)
			if err != nil {
				return nil, fmt.Errorf("block %d slot %d: %w", b.ID, i, err)
			}
			binary.LittleEndian.PutUint32(rec.Content[i*4:], uint32(v))
		}
	case *File:
		copy(rec.Name[:], TruncateName(b.Name))
		rec.Size = c.Size
		rec.Content = c.Data
	case *Data:
		rec.Content = c.Data
	default:
		return nil, fmt.Errorf("block %d: unknown content %T: %w", b.ID, b.Content, simplefs.ErrInvalid)
	}

	if b.Kind() == simplefs.KindFile || b.Kind() == simplefs.KindData {
		next, err := encodeLink(b.Next)
		if err != nil {
			return nil, fmt.Errorf("block %d next: %w", b.ID, err)
		}
		rec.Next = next
	}

	var buf bytes.Buffer
	buf.Grow(BlockSize)
	err := binary.Write(&buf, binary.LittleEndian, &rec)
	return buf.Bytes(), err
}

// UnmarshalBinary decodes a BlockSize on-disk record.
func (b *Block) UnmarshalBinary(data []byte) error {
	if len(data) < BlockSize {
		return io.ErrUnexpectedEOF
	}

	var rec record
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &rec)
	if err != nil {
		return err
	}

	return b.fromRecord(&rec)
}

func (b *Block) fromRecord(rec *record) error {
	*b = Block{
		ID:   simplefs.BlockID(rec.ID),
		Next: simplefs.NoBlock,
	}

	switch simplefs.Kind(rec.Kind) {
	case simplefs.KindFree:
		b.Content = Free{}
	case simplefs.KindDirectory:
		d := &Directory{}
		for i := range d.Children {
			d.Children[i] = decodeLink(int32(binary.LittleEndian.Uint32(rec.Content[i*4:])))
		}
		b.Name = cstring(rec.Name[:])
		b.Content = d
	case simplefs.KindFile:
		b.Name = cstring(rec.Name[:])
		b.Next = decodeLink(rec.Next)
		b.Content = &File{Size: rec.Size, Data: rec.Content}
	case simplefs.KindData:
		b.Next = decodeLink(rec.Next)
		b.Content = &Data{Data: rec.Content}
	default:
		return fmt.Errorf("block %d: unknown kind %d: %w", rec.ID, rec.Kind, simplefs.ErrCorrupt)
	}

	return nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
