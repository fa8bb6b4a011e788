// Package serial implements the little-endian field codec used for snapshot records.
//
// Records encode themselves field by field with a Writer and decode with a Reader. Both
// keep the first error they hit, so a record's Encode/Decode reads as its field list.
package serial

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"github.com/juju/errors"
)

// IntSize is the wire size of every integer field.
const IntSize = 8

// MaxDynBytes bounds the length prefix of a dynamic byte field.
const MaxDynBytes = 1 << 30

// Fields longer than this grow their buffer as input arrives instead of trusting the
// length prefix up front.
const eagerRead = 64 * 1024

var endian = binary.LittleEndian

type Writer struct {
	w   io.Writer
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error hit while writing.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

func (w *Writer) Uint(x uint64) {
	var buf [IntSize]byte
	endian.PutUint64(buf[:], x)
	w.write(buf[:])
}

func (w *Writer) Bool(x bool) {
	if x {
		w.write([]byte{'1'})
	} else {
		w.write([]byte{'0'})
	}
}

// Bytes writes raw bytes without a length prefix, for fixed-size fields.
func (w *Writer) Bytes(x []byte) {
	w.write(x)
}

func (w *Writer) DynBytes(x []byte) {
	w.Uint(uint64(len(x)))
	w.write(x)
}

func (w *Writer) String(x string) {
	w.DynBytes([]byte(x))
}

// Code writes a single byte enum code.
func (w *Writer) Code(c byte) {
	w.write([]byte{c})
}

type Reader struct {
	r   io.Reader
	err error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Err returns the first error hit while reading. A stream that ends inside a field
// reports io.ErrUnexpectedEOF, one that ends before the first field reports io.EOF.
func (r *Reader) Err() error {
	return r.err
}

// Fail records err unless an earlier error is already pending.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) read(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n <= eagerRead {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r.r, buf); err != nil {
			r.err = err
			return nil
		}
		return buf
	}

	var buf bytes.Buffer
	got, err := io.CopyN(&buf, r.r, int64(n))
	if err != nil {
		if err == io.EOF && got > 0 {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
		return nil
	}
	return buf.Bytes()
}

func (r *Reader) Uint() uint64 {
	buf := r.read(IntSize)
	if buf == nil {
		return 0
	}
	return endian.Uint64(buf)
}

func (r *Reader) Bool() bool {
	buf := r.read(1)
	if buf == nil {
		return false
	}
	switch buf[0] {
	case '1':
		return true
	case '0':
		return false
	}
	r.Fail(errors.NotValidf("bool byte %#x", buf[0]))
	return false
}

func (r *Reader) Bytes(n int) []byte {
	return r.read(n)
}

func (r *Reader) DynBytes() []byte {
	n := r.Uint()
	if r.err != nil {
		return nil
	}
	if n > MaxDynBytes {
		r.Fail(errors.NotValidf("dynamic field length %d", n))
		return nil
	}
	return r.read(int(n))
}

func (r *Reader) String() string {
	buf := r.DynBytes()
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(buf) {
		r.Fail(errors.NotValidf("utf-8 string"))
		return ""
	}
	return string(buf)
}

func (r *Reader) Code() byte {
	buf := r.read(1)
	if buf == nil {
		return 0
	}
	return buf[0]
}
