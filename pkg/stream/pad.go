package stream

import (
	"bytes"

	"github.com/juju/errors"
)

// Pad appends PKCS#7 padding to s for block size n. Aligned input gains a whole block.
func Pad(s Stream, n int) Stream {
	return func(yield func([]byte, error) bool) {
		total := 0
		for chunk, err := range s {
			if err != nil {
				yield(nil, err)
				return
			}
			total += len(chunk)
			if !yield(chunk, nil) {
				return
			}
		}
		tail := n - total%n
		yield(bytes.Repeat([]byte{byte(tail)}, tail), nil)
	}
}

// Unpad strips the padding added by Pad. Only the last byte is checked, so zero-filled
// pads are accepted too.
//
// One chunk is held back until the next one arrives. Chunks shorter than a block are
// merged into the held chunk, which keeps the whole pad inside the final chunk even when
// it straddles a chunk boundary.
func Unpad(s Stream, n int) Stream {
	return func(yield func([]byte, error) bool) {
		var held []byte
		for chunk, err := range s {
			if err != nil {
				yield(nil, err)
				return
			}
			if len(chunk) >= n {
				if len(held) > 0 && !yield(held, nil) {
					return
				}
				held = chunk
				continue
			}
			held = append(held[:len(held):len(held)], chunk...)
		}

		if len(held) == 0 {
			yield(nil, errors.NotValidf("padded stream without padding"))
			return
		}
		tail := int(held[len(held)-1])
		if tail == 0 || tail > n || tail > len(held) {
			yield(nil, errors.NotValidf("padding length %d", tail))
			return
		}
		if rest := held[:len(held)-tail]; len(rest) > 0 {
			yield(rest, nil)
		}
	}
}
