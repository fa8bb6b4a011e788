package stream

import (
	"io"
	"iter"
)

// Reader pulls exact byte counts out of a Stream, buffering whatever is left of the
// current chunk between calls. It implements io.Reader.
type Reader struct {
	next func() ([]byte, error, bool)
	stop func()
	buf  []byte
	done bool
	err  error
}

func NewReader(s Stream) *Reader {
	next, stop := iter.Pull2(iter.Seq2[[]byte, error](s))
	return &Reader{next: next, stop: stop}
}

// fill pulls chunks until the buffer is non-empty or the stream is exhausted.
func (r *Reader) fill() bool {
	for len(r.buf) == 0 && !r.done {
		chunk, err, ok := r.next()
		switch {
		case !ok:
			r.done = true
		case err != nil:
			r.err = err
			r.done = true
		default:
			r.buf = chunk
		}
	}
	return len(r.buf) > 0
}

// More reports whether at least one more byte can be read. Empty chunks in the
// underlying stream are skipped, so an empty buffer alone never means the end.
func (r *Reader) More() (bool, error) {
	if r.fill() {
		return true, nil
	}
	return false, r.err
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !r.fill() {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// ReadN returns exactly n bytes. It fails with io.EOF if nothing was left and with
// io.ErrUnexpectedEOF if the stream ended part way.
func (r *Reader) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Rest streams everything not read yet. The Reader must not be used afterwards.
func (r *Reader) Rest() Stream {
	return func(yield func([]byte, error) bool) {
		defer r.Close()
		for r.fill() {
			chunk := r.buf
			r.buf = nil
			if !yield(chunk, nil) {
				return
			}
		}
		if r.err != nil {
			yield(nil, r.err)
		}
	}
}

// Close releases the underlying stream.
func (r *Reader) Close() {
	r.stop()
}

// Split returns the first n bytes of s and a stream of the remainder.
func Split(s Stream, n int) ([]byte, Stream, error) {
	r := NewReader(s)
	head, err := r.ReadN(n)
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	return head, r.Rest(), nil
}
