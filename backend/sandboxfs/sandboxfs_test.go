package sandboxfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/johnwbyrd/zbc/backend/osfile"
)

func TestOpenWithinRootSucceeds(t *testing.T) {
	root := t.TempDir()
	b := New(osfile.New(), root)

	fd, ok := b.Open("file.txt", 4)
	require.True(t, ok)
	require.True(t, b.Close(fd))
}

func TestOpenEscapingRootIsRejected(t *testing.T) {
	root := t.TempDir()
	b := New(osfile.New(), root)

	_, ok := b.Open("../escape.txt", 4)
	require.False(t, ok)
}

func TestOpenAbsolutePathIsConfinedWithinRoot(t *testing.T) {
	root := t.TempDir()
	b := New(osfile.New(), root)

	// An absolute guest path never bypasses Root: filepath.Join folds its
	// leading separator in, so this must land under root/etc/passwd, not
	// touch the real /etc/passwd.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0o755))
	fd, ok := b.Open("/etc/passwd", 4)
	require.True(t, ok)
	require.True(t, b.Close(fd))

	_, err := os.Stat(filepath.Join(root, "etc", "passwd"))
	require.NoError(t, err)
}

func TestRenameRejectsEscapingDestination(t *testing.T) {
	root := t.TempDir()
	b := New(osfile.New(), root)
	fd, ok := b.Open("a.txt", 4)
	require.True(t, ok)
	require.True(t, b.Close(fd))

	require.False(t, b.Rename("a.txt", "../b.txt"))
}

func TestWriteForwardsThroughEmbeddedBackend(t *testing.T) {
	root := t.TempDir()
	b := New(osfile.New(), root)
	fd, ok := b.Open("w.txt", 4)
	require.True(t, ok)
	require.Zero(t, b.Write(fd, []byte("payload")))
}
