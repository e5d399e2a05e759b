package simplefs // import "github.com/keks/simplefs"

import (
	"errors"
	"io"
)

// Basic Types

// ReadWriterAt is both a ReaderAt and a WriterAt.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Block Layer

// BlockID identifies blocks. It is the slot index of the block in the image.
type BlockID int32

const (
	// RootID is the id of the root directory block.
	RootID BlockID = 0

	// NoBlock marks an absent link: an empty children slot or the end of a
	// chain. It is never a valid block id.
	NoBlock BlockID = -1
)

// Valid reports whether id can name a block.
func (id BlockID) Valid() bool {
	return id >= 0
}

// Kind is the on-disk type tag of a block.
type Kind int32

const (
	KindFree      Kind = 0
	KindDirectory Kind = 1
	KindFile      Kind = 2
	KindData      Kind = 99
)

func (k Kind) String() string {
	switch k {
	case KindFree:
		return "free"
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// File Layer

// File is an open file of the filesystem. ReadAt follows the io.ReaderAt
// contract and reports io.EOF at the end of the file.
type File interface {
	Name() string
	Size() (int64, error)

	ReadWriterAt
}

// Errors

var (
	ErrNotFound     = errors.New("no such file or directory")
	ErrNotDirectory = errors.New("not a directory")
	ErrIsDirectory  = errors.New("is a directory")
	ErrExist        = errors.New("file exists")
	ErrNoSpace      = errors.New("no space left on device")
	ErrNameTooLong  = errors.New("file name too long")
	ErrInvalid      = errors.New("invalid argument")
	ErrFileTooLarge = errors.New("file too large")
	ErrCorrupt      = errors.New("structure needs cleaning")
)
