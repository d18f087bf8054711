package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type byteColumn struct {
	data    []byte
	failAt  int64
	failErr error
}

func (c *byteColumn) ColumnLength(int) (int64, error) {
	return int64(len(c.data)), nil
}

func (c *byteColumn) ReadColumn(_ int, offset int64, p []byte) (int, error) {
	if c.failErr != nil && offset >= c.failAt {
		return 0, c.failErr
	}
	return copy(p, c.data[offset:]), nil
}

type brokenLength struct{}

func (brokenLength) ColumnLength(int) (int64, error) {
	return 0, errors.New("driver: connection reset")
}

func (brokenLength) ReadColumn(int, int64, []byte) (int, error) {
	return 0, nil
}

func TestChunkedReadsSumToLength(t *testing.T) {
	tests := []struct {
		length int
		chunk  int
	}{
		{0, 7},
		{1, 7},
		{7, 7},
		{100, 7},
		{10000, 4092},
	}

	for _, tt := range tests {
		data := bytes.Repeat([]byte{0xAB}, tt.length)
		r, err := NewReader(&byteColumn{data: data}, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(tt.length), r.Len())

		buf := make([]byte, tt.chunk)
		reads, total := 0, 0
		for {
			n, err := r.Read(buf)
			if err == io.EOF {
				assert.Zero(t, n)
				break
			}
			require.NoError(t, err)
			reads++
			total += n
		}

		assert.Equal(t, (tt.length+tt.chunk-1)/tt.chunk, reads, "length %d chunk %d", tt.length, tt.chunk)
		assert.Equal(t, tt.length, total)

		for i := 0; i < 3; i++ {
			n, err := r.Read(buf)
			assert.Zero(t, n)
			assert.Equal(t, io.EOF, err)
		}
	}
}

func TestReadAsyncReusesResultForSameCount(t *testing.T) {
	r, err := NewReader(&byteColumn{data: make([]byte, 30)}, 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	first := r.ReadAsync(context.Background(), buf)
	second := r.ReadAsync(context.Background(), buf)
	assert.Equal(t, 10, first.N())
	assert.Same(t, first, second)

	r.ReadAsync(context.Background(), buf)
	end := r.ReadAsync(context.Background(), buf)
	assert.NotSame(t, first, end)
	assert.Zero(t, end.N())
	assert.Equal(t, io.EOF, end.Err())
}

func TestReadAsyncCancelled(t *testing.T) {
	r, err := NewReader(&byteColumn{data: make([]byte, 30)}, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.ReadAsync(ctx, make([]byte, 10))
	assert.ErrorIs(t, res.Err(), context.Canceled)
	assert.Zero(t, r.Position())
}

func TestSourceErrorsBecomeIOErrors(t *testing.T) {
	driverErr := errors.New("driver: protocol error")
	r, err := NewReader(&byteColumn{data: make([]byte, 20), failAt: 10, failErr: driverErr}, 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	_, err = r.Read(buf)
	require.NoError(t, err)

	_, err = r.Read(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)

	_, err = NewReader(brokenLength{}, 0)
	assert.ErrorIs(t, err, ErrIO)
}

func TestCopyTo(t *testing.T) {
	data := bytes.Repeat([]byte("orleans"), 2000)
	r, err := NewReader(&byteColumn{data: data}, 0)
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := r.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, out.Bytes())
}

func TestUnsupportedOperations(t *testing.T) {
	r, err := NewReader(&byteColumn{data: []byte("abc")}, 0)
	require.NoError(t, err)

	_, err = r.Seek(1, io.SeekStart)
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	_, err = r.Write([]byte("x"))
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	assert.ErrorIs(t, r.Truncate(0), errors.ErrUnsupported)
	assert.ErrorIs(t, r.Flush(), errors.ErrUnsupported)

	require.NoError(t, r.Close())
	assert.False(t, r.CanRead())
	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}
