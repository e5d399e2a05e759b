// Package parity protects an image with Reed-Solomon parity kept in a
// sidecar file.
//
// The image is cut into DataShards equally sized shards (the last one zero
// padded) and ParityShards parity shards are computed over them. The sidecar
// holds a header, a CRC-32C of every shard, and the parity shards. The CRCs
// locate damaged shards, which are then rebuilt from the remaining ones.
package parity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/google/uuid"
	"github.com/keks/simplefs"
	"github.com/klauspost/reedsolomon"
)

// Magic identifies a parity sidecar.
var Magic = [4]byte{'S', 'F', 'P', 'R'}

// Version is the sidecar format version.
const Version = 1

const (
	DefaultDataShards   = 8
	DefaultParityShards = 2
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrNotSidecar is returned for input that does not start with Magic.
var ErrNotSidecar = errors.New("not a parity sidecar")

// Options selects the shard geometry.
type Options struct {
	DataShards   int
	ParityShards int
}

func (o Options) withDefaults() Options {
	if o.DataShards == 0 {
		o.DataShards = DefaultDataShards
	}
	if o.ParityShards == 0 {
		o.ParityShards = DefaultParityShards
	}
	return o
}

// Header is the fixed part of a sidecar.
type Header struct {
	Magic        [4]byte
	Version      uint16
	DataShards   uint16
	ParityShards uint16
	ShardSize    uint32
	ImageSize    uint64
	SetID        uuid.UUID
}

func (h Header) shards() int {
	return int(h.DataShards) + int(h.ParityShards)
}

// Result describes the state of an image against its sidecar.
type Result struct {
	Header Header

	// Corrupt lists damaged shards. Indexes below DataShards are image
	// shards, the rest parity shards.
	Corrupt []int
}

// OK reports whether no shard is damaged.
func (r *Result) OK() bool {
	return len(r.Corrupt) == 0
}

// DataCorrupt reports whether a shard of the image itself is damaged.
func (r *Result) DataCorrupt() bool {
	for _, i := range r.Corrupt {
		if i < int(r.Header.DataShards) {
			return true
		}
	}
	return false
}

// Build computes parity for the size bytes of img and writes the sidecar to w.
func Build(img io.ReaderAt, size int64, w io.Writer, opts Options) (Header, error) {
	opts = opts.withDefaults()
	if size <= 0 {
		return Header{}, fmt.Errorf("image size %d: %w", size, simplefs.ErrInvalid)
	}
	if opts.DataShards > 0xffff || opts.ParityShards > 0xffff {
		return Header{}, fmt.Errorf("shard count too large: %w", simplefs.ErrInvalid)
	}

	enc, err := reedsolomon.New(opts.DataShards, opts.ParityShards)
	if err != nil {
		return Header{}, err
	}

	hdr := Header{
		Magic:        Magic,
		Version:      Version,
		DataShards:   uint16(opts.DataShards),
		ParityShards: uint16(opts.ParityShards),
		ShardSize:    uint32(shardSize(size, opts.DataShards)),
		ImageSize:    uint64(size),
		SetID:        uuid.New(),
	}

	shards, err := readShards(img, hdr)
	if err != nil {
		return Header{}, err
	}
	for i := opts.DataShards; i < hdr.shards(); i++ {
		shards[i] = make([]byte, hdr.ShardSize)
	}

	if err := enc.Encode(shards); err != nil {
		return Header{}, err
	}

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return Header{}, err
	}
	if err := binary.Write(w, binary.LittleEndian, checksums(shards)); err != nil {
		return Header{}, err
	}
	for _, shard := range shards[opts.DataShards:] {
		if _, err := w.Write(shard); err != nil {
			return Header{}, err
		}
	}

	return hdr, nil
}

// Verify checks img against the sidecar read from r.
func Verify(img io.ReaderAt, r io.Reader) (*Result, error) {
	res, _, _, err := check(img, r)
	return res, err
}

// Repair rebuilds the damaged shards of img from the sidecar read from r and
// writes the image shards back. The returned Result describes the damage
// found before repairing.
func Repair(img simplefs.ReadWriterAt, r io.Reader) (*Result, error) {
	res, shards, enc, err := check(img, r)
	if err != nil {
		return nil, err
	}
	if !res.DataCorrupt() {
		return res, nil
	}

	for _, i := range res.Corrupt {
		shards[i] = nil
	}
	if err := enc.ReconstructData(shards); err != nil {
		return res, fmt.Errorf("reconstruct %d damaged shards: %w", len(res.Corrupt), err)
	}

	// only image shards are written back, the sidecar is left alone
	var buf bytes.Buffer
	buf.Grow(int(res.Header.ImageSize))
	if err := enc.Join(&buf, shards, int(res.Header.ImageSize)); err != nil {
		return res, err
	}
	if _, err := img.WriteAt(buf.Bytes(), 0); err != nil {
		return res, err
	}

	return res, nil
}

// ReadHeader reads and validates a sidecar header.
func ReadHeader(r io.Reader) (Header, error) {
	var hdr Header
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return Header{}, fmt.Errorf("read sidecar header: %w", err)
	}
	if hdr.Magic != Magic {
		return Header{}, ErrNotSidecar
	}
	if hdr.Version != Version {
		return Header{}, fmt.Errorf("sidecar version %d not supported", hdr.Version)
	}
	if hdr.DataShards == 0 || hdr.ParityShards == 0 {
		return Header{}, fmt.Errorf("sidecar shard counts %d+%d: %w", hdr.DataShards, hdr.ParityShards, simplefs.ErrCorrupt)
	}
	if uint64(hdr.ShardSize) != uint64(shardSize(int64(hdr.ImageSize), int(hdr.DataShards))) {
		return Header{}, fmt.Errorf("sidecar shard size %d: %w", hdr.ShardSize, simplefs.ErrCorrupt)
	}
	return hdr, nil
}

func check(img io.ReaderAt, r io.Reader) (*Result, [][]byte, reedsolomon.Encoder, error) {
	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, nil, nil, err
	}

	enc, err := reedsolomon.New(int(hdr.DataShards), int(hdr.ParityShards))
	if err != nil {
		return nil, nil, nil, err
	}

	sums := make([]uint32, hdr.shards())
	if err := binary.Read(r, binary.LittleEndian, sums); err != nil {
		return nil, nil, nil, fmt.Errorf("read sidecar checksums: %w", err)
	}

	shards, err := readShards(img, hdr)
	if err != nil {
		return nil, nil, nil, err
	}
	// parity shards cut off a truncated sidecar count as damaged
	lost := make(map[int]bool)
	for i := int(hdr.DataShards); i < hdr.shards(); i++ {
		shards[i] = make([]byte, hdr.ShardSize)
		_, err := io.ReadFull(r, shards[i])
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			lost[i] = true
		} else if err != nil {
			return nil, nil, nil, fmt.Errorf("read parity shard %d: %w", i, err)
		}
	}

	res := &Result{Header: hdr}
	for i, sum := range checksums(shards) {
		if lost[i] || sum != sums[i] {
			res.Corrupt = append(res.Corrupt, i)
		}
	}

	return res, shards, enc, nil
}

// readShards reads the image into the data shards of a fresh shard set.
// Bytes beyond the end of img read as zero.
func readShards(img io.ReaderAt, hdr Header) ([][]byte, error) {
	buf := make([]byte, int(hdr.ShardSize)*int(hdr.DataShards))
	_, err := img.ReadAt(buf[:hdr.ImageSize], 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read image: %w", err)
	}

	shards := make([][]byte, hdr.shards())
	for i := 0; i < int(hdr.DataShards); i++ {
		shards[i] = buf[i*int(hdr.ShardSize) : (i+1)*int(hdr.ShardSize)]
	}
	return shards, nil
}

func checksums(shards [][]byte) []uint32 {
	sums := make([]uint32, len(shards))
	for i, shard := range shards {
		sums[i] = crc32.Checksum(shard, castagnoli)
	}
	return sums
}

func shardSize(size int64, dataShards int) int64 {
	return (size + int64(dataShards) - 1) / int64(dataShards)
}
