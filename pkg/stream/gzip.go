package stream

import (
	"bytes"
	"io"

	"github.com/juju/errors"
	"github.com/klauspost/compress/gzip"

	"github.com/gentoomaniac/hashbak/pkg/serial"
)

// Gzip compresses s in independent frames. Each page of pageSize input bytes becomes
// an 8 byte length followed by a complete gzip member.
func Gzip(s Stream, pageSize int) Stream {
	return func(yield func([]byte, error) bool) {
		for page, err := range Paginate(s, pageSize) {
			if err != nil {
				yield(nil, err)
				return
			}

			var frame bytes.Buffer
			zw := gzip.NewWriter(&frame)
			if _, err := zw.Write(page); err != nil {
				yield(nil, errors.Annotate(err, "compressing page"))
				return
			}
			if err := zw.Close(); err != nil {
				yield(nil, errors.Annotate(err, "compressing page"))
				return
			}

			var header bytes.Buffer
			w := serial.NewWriter(&header)
			w.Uint(uint64(frame.Len()))
			if w.Err() != nil {
				yield(nil, w.Err())
				return
			}
			if !yield(header.Bytes(), nil) || !yield(frame.Bytes(), nil) {
				return
			}
		}
	}
}

// Gunzip reverses Gzip, yielding one decompressed page per frame.
func Gunzip(s Stream) Stream {
	return func(yield func([]byte, error) bool) {
		r := NewReader(s)
		defer r.Close()

		for {
			more, err := r.More()
			if err != nil {
				yield(nil, err)
				return
			}
			if !more {
				return
			}

			sr := serial.NewReader(r)
			frame := sr.DynBytes()
			if err := sr.Err(); err != nil {
				yield(nil, errors.Annotate(err, "reading compressed frame"))
				return
			}

			zr, err := gzip.NewReader(bytes.NewReader(frame))
			if err != nil {
				yield(nil, errors.Annotate(err, "opening compressed frame"))
				return
			}
			page, err := io.ReadAll(zr)
			if err != nil {
				yield(nil, errors.Annotate(err, "decompressing frame"))
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}
