// Package remote defines where snapshots and content blobs are kept and the pipeline
// that turns plaintext into what a backend stores.
package remote

import (
	"context"
	"crypto/sha256"

	"github.com/gentoomaniac/hashbak/pkg/crypt/aes256"
	"github.com/gentoomaniac/hashbak/pkg/stream"
)

// Storage is implemented by every backend. Contents passed in are plaintext, contents
// handed out are decrypted plaintext.
//
// Content blobs may live in an archival tier: callers must RequestRestore and
// AwaitRestore a blob before GetRestoredFile.
type Storage interface {
	UploadMeta(ctx context.Context, name string, contents stream.Stream) error
	ListMeta(ctx context.Context) ([]string, error)
	GetMeta(ctx context.Context, name string) (stream.Stream, error)

	FileExists(ctx context.Context, hash []byte) (bool, error)
	UploadFile(ctx context.Context, hash []byte, contents stream.Stream) error

	RequestRestore(ctx context.Context, hash []byte) error
	AwaitRestore(ctx context.Context, hash []byte) error
	GetRestoredFile(ctx context.Context, hash []byte) (stream.Stream, error)
}

// MetaIV derives the IV of a snapshot blob from its name.
func MetaIV(name string) []byte {
	sum := sha256.Sum256([]byte(name))
	return sum[:aes256.BlockSize]
}

// FileIV derives the IV of a content blob from its hash. Equal contents therefore
// always encrypt to equal blobs.
func FileIV(hash []byte) []byte {
	return hash[:aes256.BlockSize]
}

// Seal compresses and encrypts plaintext for storage.
func Seal(contents stream.Stream, key, iv []byte) stream.Stream {
	return aes256.Encrypt(stream.Gzip(contents, stream.PageSize), key, iv)
}

// Open reverses Seal and hands out plaintext in PageSize pages.
func Open(contents stream.Stream, key []byte) stream.Stream {
	return stream.Paginate(stream.Gunzip(aes256.Decrypt(contents, key)), stream.PageSize)
}
