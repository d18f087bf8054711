// Package stream exposes a single large column value as a forward-only byte
// stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const copyBufferLength = 4092

var (
	// ErrIO is matched by every error produced while reading the column.
	ErrIO     = errors.New("stream: i/o failure")
	ErrClosed = errors.New("stream: reader is closed")
)

// IOError wraps a failure of the underlying column source.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("stream: %s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// ColumnSource is a row positioned on the value being streamed.
type ColumnSource interface {
	ColumnLength(ordinal int) (int64, error)
	ReadColumn(ordinal int, offset int64, p []byte) (int, error)
}

// ReadResult is a completed read. Results are immutable and may be shared
// between calls.
type ReadResult struct {
	n   int
	err error
}

func (r *ReadResult) N() int {
	return r.n
}

func (r *ReadResult) Err() error {
	return r.err
}

type Reader struct {
	src      ColumnSource
	ordinal  int
	position int64
	total    int64
	last     *ReadResult
}

var (
	_ io.Reader   = (*Reader)(nil)
	_ io.WriterTo = (*Reader)(nil)
	_ io.Seeker   = (*Reader)(nil)
	_ io.Writer   = (*Reader)(nil)
	_ io.Closer   = (*Reader)(nil)
)

// NewReader captures the total length reported by the source up front.
func NewReader(src ColumnSource, ordinal int) (*Reader, error) {
	total, err := src.ColumnLength(ordinal)
	if err != nil {
		return nil, &IOError{Op: "length", Err: err}
	}

	return &Reader{
		src:     src,
		ordinal: ordinal,
		total:   total,
	}, nil
}

func (r *Reader) Len() int64 {
	return r.total
}

func (r *Reader) Position() int64 {
	return r.position
}

func (r *Reader) CanRead() bool {
	return r.src != nil
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.src == nil {
		return 0, ErrClosed
	}

	remaining := r.total - r.position
	if remaining <= 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	length := len(p)
	if int64(length) > remaining {
		length = int(remaining)
	}

	n, err := r.src.ReadColumn(r.ordinal, r.position, p[:length])
	r.position += int64(n)
	if err != nil {
		return n, &IOError{Op: "read", Err: err}
	}
	return n, nil
}

// ReadAsync performs a read unless ctx is already done. When the byte count
// matches the previous call the previous result is handed back instead of a
// new one.
func (r *Reader) ReadAsync(ctx context.Context, p []byte) *ReadResult {
	if err := ctx.Err(); err != nil {
		return &ReadResult{err: err}
	}

	n, err := r.Read(p)
	if err != nil && err != io.EOF {
		return &ReadResult{n: n, err: err}
	}

	if r.last != nil && r.last.n == n && r.last.err == err {
		return r.last
	}
	r.last = &ReadResult{n: n, err: err}
	return r.last
}

func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	return r.CopyTo(context.Background(), w)
}

// CopyTo drains the rest of the column into w, stopping early when ctx is done.
func (r *Reader) CopyTo(ctx context.Context, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	buf := make([]byte, copyBufferLength)
	var written int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return written, ctxErr
			}
			wn, wErr := w.Write(buf[:n])
			written += int64(wn)
			if wErr != nil {
				return written, wErr
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

func (r *Reader) Seek(int64, int) (int64, error) {
	return 0, errors.ErrUnsupported
}

func (r *Reader) Write([]byte) (int, error) {
	return 0, errors.ErrUnsupported
}

func (r *Reader) Truncate(int64) error {
	return errors.ErrUnsupported
}

func (r *Reader) Flush() error {
	return errors.ErrUnsupported
}

func (r *Reader) Close() error {
	r.src = nil
	return nil
}
