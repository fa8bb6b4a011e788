package fmeta

import (
	"crypto/sha256"
	"os"

	"github.com/juju/errors"
	"github.com/rs/zerolog/log"

	"github.com/gentoomaniac/hashbak/pkg/stream"
)

// Hasher computes salted content hashes and remembers them for the lifetime of one run.
// It is not safe for concurrent use.
type Hasher struct {
	salt  []byte
	cache map[string][]byte
}

func NewHasher(salt []byte) *Hasher {
	return &Hasher{
		salt:  salt,
		cache: make(map[string][]byte),
	}
}

// Hash returns SHA-256(salt || contents of path).
func (h *Hasher) Hash(path string) ([]byte, error) {
	if sum, ok := h.cache[path]; ok {
		return sum, nil
	}

	acc := sha256.New()
	acc.Write(h.salt)
	if _, err := stream.WriteTo(stream.File(path, stream.PageSize), acc); err != nil {
		return nil, errors.Annotatef(err, "hashing %s", path)
	}
	sum := acc.Sum(nil)
	h.cache[path] = sum
	log.Debug().Str("file", path).Hex("hash", sum).Msg("hashed")
	return sum, nil
}

// LocalHash is Hash for a path that may not hold a regular file. Anything else,
// including nothing at all, hashes to nil.
func (h *Hasher) LocalHash(path string) ([]byte, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	return h.Hash(path)
}

// Forget drops the cached hash of a path whose contents changed.
func (h *Hasher) Forget(path string) {
	delete(h.cache, path)
}
