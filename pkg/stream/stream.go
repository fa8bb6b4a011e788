// Package stream holds the lazy byte-chunk pipeline stages that sit between the filesystem
// and a storage backend.
//
// A Stream yields chunks in order and is consumed at most once. A stage never keeps a
// reference to a chunk after yielding it, and never mutates a chunk it received, so
// consumers are free to hold on to what they get.
package stream

import (
	"bytes"
	"io"
	"os"

	"github.com/juju/errors"
)

// PageSize is the page used for file reads and compression frames.
const PageSize = 4 * 1024 * 1024

// Stream is a lazy, finite, single-use sequence of byte chunks. A non-nil error ends it.
type Stream func(yield func([]byte, error) bool)

// FromBytes streams the given chunks as they are.
func FromBytes(chunks ...[]byte) Stream {
	return func(yield func([]byte, error) bool) {
		for _, chunk := range chunks {
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Fail is a stream that only yields err.
func Fail(err error) Stream {
	return func(yield func([]byte, error) bool) {
		yield(nil, err)
	}
}

// File streams the contents of path in pages of pageSize bytes. The file is opened on
// first use and closed when the stream ends.
func File(path string, pageSize int) Stream {
	return func(yield func([]byte, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(nil, errors.Trace(err))
			return
		}
		defer f.Close()

		for {
			buf := make([]byte, pageSize)
			n, err := io.ReadFull(f, buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			switch err {
			case nil:
			case io.EOF, io.ErrUnexpectedEOF:
				return
			default:
				yield(nil, errors.Annotatef(err, "reading %s", path))
				return
			}
		}
	}
}

// Paginate repacks s into chunks of exactly size bytes, except for a shorter final chunk.
func Paginate(s Stream, size int) Stream {
	return func(yield func([]byte, error) bool) {
		if size <= 0 {
			yield(nil, errors.NotValidf("page size %d", size))
			return
		}
		page := make([]byte, 0, size)
		for chunk, err := range s {
			if err != nil {
				yield(nil, err)
				return
			}
			for len(chunk) > 0 {
				n := min(size-len(page), len(chunk))
				page = append(page, chunk[:n]...)
				chunk = chunk[n:]
				if len(page) == size {
					if !yield(page, nil) {
						return
					}
					page = make([]byte, 0, size)
				}
			}
		}
		if len(page) > 0 {
			yield(page, nil)
		}
	}
}

// WriteTo drains s into w.
func WriteTo(s Stream, w io.Writer) (int64, error) {
	var total int64
	for chunk, err := range s {
		if err != nil {
			return total, err
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, errors.Trace(err)
		}
	}
	return total, nil
}

// Collect drains s into memory.
func Collect(s Stream) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := WriteTo(s, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
