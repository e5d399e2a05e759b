package blkfile

import (
	"testing"

	"github.com/keks/simplefs"
	"github.com/stretchr/testify/require"
)

type op interface {
	Do(*testing.T, simplefs.ReadWriterAt)
}

type storeFormatOp struct {
	st     **Store
	blocks int

	expErr string
}

func (op storeFormatOp) Do(t *testing.T, rwa simplefs.ReadWriterAt) {
	st, err := Format(rwa, FormatOptions{Blocks: op.blocks})
	if op.expErr == "" {
		require.NoError(t, err)
	} else {
		require.EqualError(t, err, op.expErr)
		return
	}

	*op.st = st
}

type storeOpenOp struct {
	st   **Store
	size int64

	expErr string
}

func (op storeOpenOp) Do(t *testing.T, rwa simplefs.ReadWriterAt) {
	st, err := Open(rwa, op.size)
	if op.expErr == "" {
		require.NoError(t, err)
	} else {
		require.EqualError(t, err, op.expErr)
		return
	}

	*op.st = st
}

type allocOp struct {
	st **Store

	expID  simplefs.BlockID
	expErr error
}

func (op allocOp) Do(t *testing.T, rwa simplefs.ReadWriterAt) {
	id, err := (*op.st).Allocate()
	if op.expErr == nil {
		require.NoError(t, err)
	} else {
		require.ErrorIs(t, err, op.expErr)
	}

	require.Equal(t, op.expID, id, "block id returned by allocate")
}

type blkWriteOp struct {
	st  **Store
	blk Block

	expErr error
}

func (op blkWriteOp) Do(t *testing.T, rwa simplefs.ReadWriterAt) {
	t.Logf("writeOp, block %d kind %v", op.blk.ID, op.blk.Kind())

	err := (*op.st).WriteBlock(op.blk)
	if op.expErr == nil {
		require.NoError(t, err)
	} else {
		require.ErrorIs(t, err, op.expErr)
	}
}

type blkReadOp struct {
	st **Store
	id simplefs.BlockID

	exp    Block
	expErr error
}

func (op blkReadOp) Do(t *testing.T, rwa simplefs.ReadWriterAt) {
	r := require.New(t)

	blk, err := (*op.st).ReadBlock(op.id)
	if op.expErr != nil {
		r.ErrorIs(err, op.expErr)
		return
	}

	r.NoError(err)
	t.Logf("readOp, block %d kind %v name %q", blk.ID, blk.Kind(), blk.Name)
	r.Equal(op.exp, blk)
}

type dumpOp struct {
	name string
	v    interface{}
}

func (op dumpOp) Do(t *testing.T, rwa simplefs.ReadWriterAt) {
	t.Logf("%s: %#v", op.name, op.v)
}
