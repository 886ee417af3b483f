package blockdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDiskReadWriteRoundTrips(t *testing.T) {
	d := NewMemDisk(4)
	want := make([]byte, BlockSize)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, d.WriteBlock(2, want))

	got := make([]byte, BlockSize)
	require.NoError(t, d.ReadBlock(2, got))
	require.Equal(t, want, got)
}

func TestMemDiskOutOfRange(t *testing.T) {
	d := NewMemDisk(2)
	buf := make([]byte, BlockSize)
	require.Error(t, d.ReadBlock(2, buf))
	require.Error(t, d.WriteBlock(-1, buf))
}

func TestFileDiskPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := CreateFileDisk(path, 4)
	require.NoError(t, err)

	want := []byte("hello block")
	buf := make([]byte, BlockSize)
	copy(buf, want)
	require.NoError(t, d.WriteBlock(1, buf))
	require.NoError(t, d.Close())

	d2, err := OpenFileDisk(path)
	require.NoError(t, err)
	defer d2.Close()
	require.Equal(t, 4, d2.NumBlocks())

	got := make([]byte, BlockSize)
	require.NoError(t, d2.ReadBlock(1, got))
	require.Equal(t, want, got[:len(want)])
}

func TestFileDiskRejectsMisalignedSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o644))
	_, err := OpenFileDisk(path)
	require.Error(t, err)
}
