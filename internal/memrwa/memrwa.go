// Package memrwa provides an in-memory ReadWriterAt that grows on write,
// standing in for an image file in tests and tools.
package memrwa

import (
	"io"
)

// Buffer is a growable byte slice addressed by offset.
type Buffer struct {
	buf []byte
}

// New returns a zero-filled Buffer of size bytes.
func New(size int) *Buffer {
	return &Buffer{buf: make([]byte, size)}
}

// Bytes returns the underlying storage. It aliases the buffer.
func (rwa *Buffer) Bytes() []byte {
	return rwa.buf
}

// Size returns the current length of the buffer.
func (rwa *Buffer) Size() int64 {
	return int64(len(rwa.buf))
}

func (rwa *Buffer) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 || off != int64(int(off)) {
		return 0, io.EOF
	}

	if int(off) >= len(rwa.buf) {
		return 0, io.EOF
	}

	max := len(rwa.buf) - int(off)
	var err error
	if max < len(buf) {
		buf = buf[:max]
		err = io.EOF
	}

	copy(buf, rwa.buf[int(off):])

	return len(buf), err
}

func (rwa *Buffer) WriteAt(data []byte, off int64) (int, error) {
	if off < 0 || off != int64(int(off)) {
		return 0, io.EOF
	}

	if int(off)+len(data) > len(rwa.buf) {
		rwa.buf = append(rwa.buf, make([]byte, int(off)+len(data)-len(rwa.buf))...)
	}

	copy(rwa.buf[int(off):], data)

	return len(data), nil
}
