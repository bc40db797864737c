package iohandler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFileSource_ReadSeekTell(t *testing.T) {
	data := []byte("0123456789")
	path := writeTempFile(t, data)

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	size, ok := src.Size()
	require.True(t, ok)
	assert.EqualValues(t, len(data), size)

	buf := make([]byte, 4)
	n, err := src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "0123", string(buf))

	pos, err := src.Tell()
	require.NoError(t, err)
	assert.EqualValues(t, 4, pos)

	require.NoError(t, src.Seek(2, OriginStart))
	n, err = src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(buf[:n]))
}

func TestFileSource_SeekPastEOFThenReadReturnsZero(t *testing.T) {
	path := writeTempFile(t, []byte("abc"))
	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, src.Seek(100, OriginStart))
	buf := make([]byte, 4)
	n, err := src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFileSource_NegativeSeekIsInvalid(t *testing.T) {
	path := writeTempFile(t, []byte("abc"))
	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	err = src.Seek(-1, OriginStart)
	require.Error(t, err)
}

func TestFileSource_OperationsAfterCloseFail(t *testing.T) {
	path := writeTempFile(t, []byte("abc"))
	src, err := OpenFile(path)
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close()) // idempotent

	_, err = src.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestFileSource_OpenMissingFile(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}
