package iohandler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemSource_ReadSeek(t *testing.T) {
	src := NewMemSource([]byte("hello world"))

	buf := make([]byte, 5)
	n, err := src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, src.Seek(6, OriginStart))
	n, err = src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	size, ok := src.Size()
	require.True(t, ok)
	assert.EqualValues(t, 11, size)
}

func TestMemSource_EOFReturnsZeroBytes(t *testing.T) {
	src := NewMemSource([]byte("ab"))
	buf := make([]byte, 10)
	n, err := src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
