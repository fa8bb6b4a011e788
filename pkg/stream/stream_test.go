package stream

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int, seed int64) []byte {
	t.Helper()
	buf := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(buf)
	return buf
}

// chop splits data at random boundaries, including empty chunks.
func chop(data []byte, seed int64) Stream {
	rng := rand.New(rand.NewSource(seed))
	var chunks [][]byte
	for len(data) > 0 {
		n := min(rng.Intn(40), len(data))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return FromBytes(chunks...)
}

func TestPaginateReassembles(t *testing.T) {
	data := randomBytes(t, 1000, 1)
	for seed := int64(0); seed < 20; seed++ {
		for _, size := range []int{1, 7, 16, 333, 1000, 4096} {
			var pages [][]byte
			for page, err := range Paginate(chop(data, seed), size) {
				require.NoError(t, err)
				pages = append(pages, page)
			}
			for i, page := range pages {
				if i < len(pages)-1 {
					assert.Len(t, page, size)
				} else {
					assert.LessOrEqual(t, len(page), size)
					assert.NotEmpty(t, page)
				}
			}
			assert.Equal(t, data, bytes.Join(pages, nil))
		}
	}
}

func TestPaginateEmpty(t *testing.T) {
	out, err := Collect(Paginate(FromBytes(), 16))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPaginatePropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Collect(Paginate(Fail(boom), 16))
	assert.Equal(t, boom, err)
}

func TestPaginateRejectsBadSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := Collect(Paginate(FromBytes([]byte("data")), size))
		assert.True(t, errors.Is(err, errors.NotValid), "size %d", size)
	}
}

func TestReaderReadN(t *testing.T) {
	r := NewReader(FromBytes([]byte("ab"), nil, []byte("cdef"), []byte("g")))
	defer r.Close()

	got, err := r.ReadN(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	more, err := r.More()
	require.NoError(t, err)
	assert.True(t, more)

	got, err = r.ReadN(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("defg"), got)

	more, err = r.More()
	require.NoError(t, err)
	assert.False(t, more)

	_, err = r.ReadN(1)
	assert.Equal(t, io.EOF, err)
}

func TestReaderShortTail(t *testing.T) {
	r := NewReader(FromBytes([]byte("abc")))
	defer r.Close()

	_, err := r.ReadN(5)
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestReaderSkipsEmptyChunks(t *testing.T) {
	r := NewReader(FromBytes(nil, []byte{}, nil))
	defer r.Close()

	more, err := r.More()
	require.NoError(t, err)
	assert.False(t, more)
}

func TestSplit(t *testing.T) {
	head, rest, err := Split(FromBytes([]byte("0123456789"), []byte("abcdefghij")), 12)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789ab"), head)

	tail, err := Collect(rest)
	require.NoError(t, err)
	assert.Equal(t, []byte("cdefghij"), tail)

	_, _, err = Split(FromBytes([]byte("short")), 16)
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestPadUnpad(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 31, 32, 1000} {
		data := randomBytes(t, n, int64(n))

		padded, err := Collect(Pad(chop(data, 3), 16))
		require.NoError(t, err)
		assert.Zero(t, len(padded)%16)
		if n%16 == 0 {
			assert.Len(t, padded, n+16)
		}

		for seed := int64(0); seed < 10; seed++ {
			out, err := Collect(Unpad(chop(padded, seed), 16))
			require.NoError(t, err)
			assert.Equal(t, data, out, "n=%d seed=%d", n, seed)
		}
	}
}

func TestUnpadStraddlingChunks(t *testing.T) {
	padded, err := Collect(Pad(FromBytes([]byte("hello world")), 16))
	require.NoError(t, err)

	// the five pad bytes are split over the last two chunks
	out, err := Collect(Unpad(FromBytes(padded[:13], padded[13:14], padded[14:]), 16))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), out)
}

func TestUnpadAcceptsZeroFill(t *testing.T) {
	padded := append([]byte("abc"), 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 13)
	out, err := Collect(Unpad(FromBytes(padded), 16))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)
}

func TestUnpadRejectsGarbage(t *testing.T) {
	_, err := Collect(Unpad(FromBytes(), 16))
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = Collect(Unpad(FromBytes([]byte{1, 2, 3, 0}), 16))
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = Collect(Unpad(FromBytes([]byte{1, 2, 3, 17}), 16))
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestGzipRoundTrip(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		[]byte("x"),
		bytes.Repeat([]byte("compressible "), 5000),
		randomBytes(t, 100000, 7),
	} {
		framed, err := Collect(Gzip(chop(data, 1), 1024))
		require.NoError(t, err)

		for seed := int64(0); seed < 3; seed++ {
			out, err := Collect(Gunzip(chop(framed, seed)))
			require.NoError(t, err)
			assert.Equal(t, len(data), len(out))
			assert.True(t, bytes.Equal(data, out))
		}
	}
}

func TestGzipFramesAreIndependent(t *testing.T) {
	var frames int
	for range Gzip(FromBytes(randomBytes(t, 2500, 2)), 1000) {
		frames++
	}
	// header and body per page, three pages
	assert.Equal(t, 6, frames)
}

func TestGunzipRejectsGarbage(t *testing.T) {
	_, err := Collect(Gunzip(FromBytes([]byte{3, 0, 0, 0, 0, 0, 0, 0, 'a', 'b', 'c'})))
	assert.Error(t, err)

	_, err = Collect(Gunzip(FromBytes([]byte{30, 0, 0})))
	assert.Error(t, err)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	data := randomBytes(t, 1000, 4)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	var sizes []int
	var out []byte
	for chunk, err := range File(path, 300) {
		require.NoError(t, err)
		sizes = append(sizes, len(chunk))
		out = append(out, chunk...)
	}
	assert.Equal(t, []int{300, 300, 300, 100}, sizes)
	assert.Equal(t, data, out)

	_, err := Collect(File(filepath.Join(t.TempDir(), "missing"), 300))
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}
