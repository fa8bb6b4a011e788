package fmeta

import (
	"bytes"
	"iter"

	"github.com/gentoomaniac/hashbak/pkg/stream"
)

// Encode streams a snapshot: the records back to back, one chunk per record.
func Encode(metas []*FMeta) stream.Stream {
	return func(yield func([]byte, error) bool) {
		for _, m := range metas {
			var buf bytes.Buffer
			if err := m.Encode(&buf); err != nil {
				yield(nil, err)
				return
			}
			if !yield(buf.Bytes(), nil) {
				return
			}
		}
	}
}

// Iter decodes a snapshot stream record by record. The end of the stream is the end of
// the snapshot.
func Iter(s stream.Stream) iter.Seq2[*FMeta, error] {
	return func(yield func(*FMeta, error) bool) {
		r := stream.NewReader(s)
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
			m, err := Decode(r)
			if !yield(m, err) || err != nil {
				return
			}
		}
	}
}

// ReadAll decodes a whole snapshot.
func ReadAll(s stream.Stream) ([]*FMeta, error) {
	var metas []*FMeta
	for m, err := range Iter(s) {
		if err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}
	return metas, nil
}
