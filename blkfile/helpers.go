package blkfile

import (
	"io"

	"github.com/keks/simplefs"
)

// offset returns the position of the record of block id in the image.
func offset(id simplefs.BlockID) int64 {
	return int64(id) * BlockSize
}

type funcWriter func([]byte) (int, error)

func (w funcWriter) Write(data []byte) (int, error) {
	return w(data)
}

// recordWriter writes sequentially into wa, starting at the record of id.
func recordWriter(wa io.WriterAt, id simplefs.BlockID) io.Writer {
	off := offset(id)
	return funcWriter(func(data []byte) (int, error) {
		n, err := wa.WriteAt(data, off)
		off += int64(n)
		return n, err
	})
}

type funcReader func([]byte) (int, error)

func (r funcReader) Read(buf []byte) (int, error) {
	return r(buf)
}

// recordReader reads sequentially from ra, starting at the record of id.
func recordReader(ra io.ReaderAt, id simplefs.BlockID) io.Reader {
	off := offset(id)
	return funcReader(func(buf []byte) (int, error) {
		n, err := ra.ReadAt(buf, off)
		off += int64(n)
		return n, err
	})
}
