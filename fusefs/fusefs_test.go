package fusefs

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/keks/simplefs"
	"github.com/keks/simplefs/blkfile"
	"github.com/keks/simplefs/internal/memrwa"
	"github.com/keks/simplefs/pathfs"
	"github.com/stretchr/testify/require"
)

func TestErrno(t *testing.T) {
	type testcase struct {
		err error
		exp syscall.Errno
	}

	tcs := []testcase{
		{nil, 0},
		{simplefs.ErrNotFound, syscall.ENOENT},
		{fmt.Errorf("resolve /a/b: %w", simplefs.ErrNotDirectory), syscall.ENOTDIR},
		{simplefs.ErrIsDirectory, syscall.EISDIR},
		{simplefs.ErrExist, syscall.EEXIST},
		{fmt.Errorf("allocate: %w", simplefs.ErrNoSpace), syscall.ENOSPC},
		{simplefs.ErrNameTooLong, syscall.ENAMETOOLONG},
		{simplefs.ErrInvalid, syscall.EINVAL},
		{simplefs.ErrFileTooLarge, syscall.EFBIG},
		{simplefs.ErrCorrupt, syscall.EIO},
		{errors.New("disk on fire"), syscall.EIO},
	}

	for _, tc := range tcs {
		require.Equal(t, tc.exp, errno(tc.err), "%v", tc.err)
	}
}

func TestWrittenReply(t *testing.T) {
	r := require.New(t)

	var logs bytes.Buffer
	n := &node{log: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	k, e := n.written("/f", 5, nil)
	r.EqualValues(5, k)
	r.Equal(syscall.Errno(0), e)
	r.Zero(logs.Len())

	k, e = n.written("/f", 0, fmt.Errorf("allocate: %w", simplefs.ErrNoSpace))
	r.EqualValues(0, k)
	r.Equal(syscall.ENOSPC, e)

	// the size update failed after the data was written
	logs.Reset()
	k, e = n.written("/f", 3, errors.New("write block 1: disk gone"))
	r.EqualValues(3, k)
	r.Equal(syscall.Errno(0), e)
	r.Contains(logs.String(), "disk gone")
	r.Contains(logs.String(), "op=write")
}

func TestFillAttr(t *testing.T) {
	r := require.New(t)

	st, err := blkfile.Format(memrwa.New(0), blkfile.FormatOptions{Blocks: 16})
	r.NoError(err)
	fsys := pathfs.New(st)
	_, err = fsys.Mknod("/f")
	r.NoError(err)
	_, err = fsys.Write("/f", []byte("hello"), 0)
	r.NoError(err)

	var out fuse.Attr
	a, err := fsys.Stat("/")
	r.NoError(err)
	fillAttr(a, &out)
	r.EqualValues(1, out.Ino)
	r.EqualValues(fuse.S_IFDIR|0o755, out.Mode)
	r.EqualValues(2, out.Nlink)

	a, err = fsys.Stat("/f")
	r.NoError(err)
	fillAttr(a, &out)
	r.EqualValues(2, out.Ino)
	r.EqualValues(fuse.S_IFREG|0o644, out.Mode)
	r.EqualValues(5, out.Size)
	r.EqualValues(1, out.Blocks)
	r.EqualValues(1, out.Nlink)
}

func mount(t *testing.T, fsys *pathfs.FS) string {
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("no /dev/fuse")
	}
	if _, err := exec.LookPath("fusermount3"); err != nil {
		if _, err := exec.LookPath("fusermount"); err != nil {
			t.Skip("no fusermount")
		}
	}

	dir := t.TempDir()
	srv, err := Mount(dir, fsys, Options{})
	if err != nil {
		t.Skipf("mount: %v", err)
	}
	t.Cleanup(func() {
		require.NoError(t, srv.Unmount())
	})
	return dir
}

func TestMount(t *testing.T) {
	r := require.New(t)

	st, err := blkfile.Format(memrwa.New(0), blkfile.FormatOptions{Blocks: 32})
	r.NoError(err)
	fsys := pathfs.New(st)
	dir := mount(t, fsys)

	r.NoError(os.Mkdir(filepath.Join(dir, "docs"), 0o755))

	data := bytes.Repeat([]byte("0123456789"), 100)
	r.NoError(os.WriteFile(filepath.Join(dir, "docs", "notes"), data, 0o644))

	got, err := os.ReadFile(filepath.Join(dir, "docs", "notes"))
	r.NoError(err)
	r.Equal(data, got)

	ents, err := os.ReadDir(filepath.Join(dir, "docs"))
	r.NoError(err)
	r.Len(ents, 1)
	r.Equal("notes", ents[0].Name())

	fi, err := os.Stat(filepath.Join(dir, "docs", "notes"))
	r.NoError(err)
	r.EqualValues(len(data), fi.Size())

	err = os.Mkdir(filepath.Join(dir, "docs"), 0o755)
	r.True(errors.Is(err, os.ErrExist), "%v", err)

	_, err = os.Stat(filepath.Join(dir, "missing"))
	r.True(errors.Is(err, os.ErrNotExist), "%v", err)

	// the mount and the library see the same tree
	buf := make([]byte, 10)
	n, err := fsys.Read("/docs/notes", buf, 990)
	r.NoError(err)
	r.Equal("0123456789", string(buf[:n]))
}
