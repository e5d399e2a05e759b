package blkfile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/keks/simplefs"
	"github.com/keks/simplefs/internal/memrwa"
	"github.com/stretchr/testify/require"
)

func fileBlock(id simplefs.BlockID, name string, size int32, next simplefs.BlockID, data string) Block {
	f := &File{Size: size}
	copy(f.Data[:], data)
	return Block{ID: id, Name: name, Next: next, Content: f}
}

func dataBlock(id simplefs.BlockID, next simplefs.BlockID, data string) Block {
	d := &Data{}
	copy(d.Data[:], data)
	return Block{ID: id, Next: next, Content: d}
}

func dirBlock(id simplefs.BlockID, name string, children ...simplefs.BlockID) Block {
	d := NewDirectory()
	for _, c := range children {
		d.Link(c)
	}
	return Block{ID: id, Name: name, Next: simplefs.NoBlock, Content: d}
}

func freeBlock(id simplefs.BlockID) Block {
	return Block{ID: id, Next: simplefs.NoBlock, Content: Free{}}
}

func TestStore(t *testing.T) {
	type testcase struct {
		name string
		ops  []op
	}

	mktest := func(tc testcase) func(*testing.T) {
		return func(t *testing.T) {
			// test with memory ReadWriterAt
			rwa := memrwa.New(0)
			for _, op := range tc.ops {
				op.Do(t, rwa)
				t.Logf("ok: %T", op)
			}

			// test with os.File as ReadWriterAt
			f, err := os.CreateTemp(t.TempDir(), "TestStore-*")
			require.NoError(t, err)
			defer f.Close()

			for _, op := range tc.ops {
				op.Do(t, f)
				t.Logf("ok: %T", op)
			}
		}
	}

	var (
		st, st2 *Store
	)

	var tcs = []testcase{
		{
			name: "format then read root",
			ops: []op{
				storeFormatOp{st: &st, blocks: 8},
				blkReadOp{
					st:  &st,
					id:  simplefs.RootID,
					exp: dirBlock(simplefs.RootID, "/"),
				},
				blkReadOp{
					st:  &st,
					id:  7,
					exp: freeBlock(7),
				},
			},
		},
		{
			name: "read beyond extent is free",
			ops: []op{
				storeFormatOp{st: &st, blocks: 4},
				blkReadOp{
					st:  &st,
					id:  100,
					exp: freeBlock(100),
				},
				blkReadOp{
					st:     &st,
					id:     -3,
					expErr: simplefs.ErrInvalid,
				},
			},
		},
		{
			name: "write, read, reopen, read",
			ops: []op{
				storeFormatOp{st: &st, blocks: 8},
				blkWriteOp{st: &st, blk: fileBlock(1, "hello.txt", 5, 2, "hello")},
				blkWriteOp{st: &st, blk: dataBlock(2, simplefs.NoBlock, "world")},
				blkWriteOp{st: &st, blk: dirBlock(simplefs.RootID, "/", 1)},
				blkReadOp{
					st:  &st,
					id:  1,
					exp: fileBlock(1, "hello.txt", 5, 2, "hello"),
				},
				storeOpenOp{st: &st2, size: 8 * BlockSize},
				blkReadOp{
					st:  &st2,
					id:  2,
					exp: dataBlock(2, simplefs.NoBlock, "world"),
				},
				blkReadOp{
					st:  &st2,
					id:  simplefs.RootID,
					exp: dirBlock(simplefs.RootID, "/", 1),
				},
			},
		},
		{
			name: "allocate skips used blocks",
			ops: []op{
				storeFormatOp{st: &st, blocks: 4},
				allocOp{st: &st, expID: 1},
				blkWriteOp{st: &st, blk: fileBlock(1, "a", 0, simplefs.NoBlock, "")},
				allocOp{st: &st, expID: 2},
				blkWriteOp{st: &st, blk: dataBlock(3, simplefs.NoBlock, "")},
				allocOp{st: &st, expID: 2},
				blkWriteOp{st: &st, blk: dataBlock(2, simplefs.NoBlock, "")},
				dumpOp{"store", &st},
				allocOp{st: &st, expID: simplefs.NoBlock, expErr: simplefs.ErrNoSpace},
				allocOp{st: &st, expID: simplefs.NoBlock, expErr: simplefs.ErrNoSpace},
			},
		},
		{
			name: "links to the root are rejected",
			ops: []op{
				storeFormatOp{st: &st, blocks: 4},
				blkWriteOp{
					st:     &st,
					blk:    fileBlock(1, "a", 0, simplefs.RootID, ""),
					expErr: simplefs.ErrInvalid,
				},
				blkWriteOp{
					st:     &st,
					blk:    dirBlock(2, "d", simplefs.RootID),
					expErr: simplefs.ErrInvalid,
				},
				blkReadOp{
					st:  &st,
					id:  1,
					exp: freeBlock(1),
				},
			},
		},
		{
			name: "open rejects bad sizes",
			ops: []op{
				storeFormatOp{st: &st, blocks: 2},
				storeOpenOp{
					st:     &st2,
					size:   BlockSize + 1,
					expErr: "invalid image size (513, expected a non-zero multiple of 512)",
				},
				storeOpenOp{
					st:     &st2,
					size:   0,
					expErr: "invalid image size (0, expected a non-zero multiple of 512)",
				},
			},
		},
		{
			name: "format rejects negative block count",
			ops: []op{
				storeFormatOp{
					st:     &st,
					blocks: -1,
					expErr: "format: block count -1: invalid argument",
				},
			},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, mktest(tc))
	}
}

func TestOpenRejectsNonImage(t *testing.T) {
	rwa := memrwa.New(4 * BlockSize)
	_, err := Open(rwa, rwa.Size())
	require.EqualError(t, err, "block 0 is a free block, not the root directory")
}

func TestCreateAndOpenFile(t *testing.T) {
	r := require.New(t)
	name := filepath.Join(t.TempDir(), "disk.img")

	st, err := CreateFile(name, FormatOptions{})
	r.NoError(err)
	r.Equal(DefaultBlocks, st.Count())
	r.NoError(st.WriteBlock(dirBlock(simplefs.RootID, "/", 5)))
	r.NoError(st.WriteBlock(dirBlock(5, "etc")))
	r.NoError(st.Close())

	fi, err := os.Stat(name)
	r.NoError(err)
	r.EqualValues(DefaultBlocks*BlockSize, fi.Size())

	st, err = OpenFile(name)
	r.NoError(err)
	defer st.Close()

	blk, err := st.ReadBlock(5)
	r.NoError(err)
	r.Equal("etc", blk.Name)
	r.Equal(simplefs.KindDirectory, blk.Kind())

	usage, err := st.Usage()
	r.NoError(err)
	r.Equal(2, usage[simplefs.KindDirectory])
	r.Equal(DefaultBlocks-2, usage[simplefs.KindFree])
}

func TestOpenFileMissing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "nope.img"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadBlockKeepsSlot(t *testing.T) {
	r := require.New(t)
	rwa := memrwa.New(0)
	st, err := Format(rwa, FormatOptions{Blocks: 8})
	r.NoError(err)

	r.NoError(st.WriteBlock(fileBlock(3, "f", 4, simplefs.NoBlock, "test")))
	binary.LittleEndian.PutUint32(rwa.Bytes()[3*BlockSize:], 6)

	stored, err := st.StoredID(3)
	r.NoError(err)
	r.Equal(simplefs.BlockID(6), stored)

	blk, err := st.ReadBlock(3)
	r.NoError(err)
	r.Equal(fileBlock(3, "f", 4, simplefs.NoBlock, "test"), blk)

	r.NoError(st.WriteBlock(blk))
	stored, err = st.StoredID(3)
	r.NoError(err)
	r.Equal(simplefs.BlockID(3), stored)

	free, err := st.ReadBlock(6)
	r.NoError(err)
	r.Equal(freeBlock(6), free)

	stored, err = st.StoredID(100)
	r.NoError(err)
	r.Equal(simplefs.BlockID(100), stored)
}
