package aes256

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/juju/errors"

	"github.com/gentoomaniac/hashbak/pkg/stream"
)

const (
	KeySize   = 32
	BlockSize = aes.BlockSize
)

func newCipher(secret []byte) (cipher.Block, error) {
	if len(secret) != KeySize {
		return nil, errors.NotValidf("aes-256 key of %d bytes", len(secret))
	}
	return aes.NewCipher(secret)
}

// Encrypt pads the plaintext stream and encrypts it with AES-256-CBC. The IV is sent in
// clear as the first chunk.
func Encrypt(data stream.Stream, secret []byte, iv []byte) stream.Stream {
	return func(yield func([]byte, error) bool) {
		if len(iv) != BlockSize {
			yield(nil, errors.NotValidf("iv of %d bytes", len(iv)))
			return
		}
		block, err := newCipher(secret)
		if err != nil {
			yield(nil, err)
			return
		}
		if !yield(append([]byte(nil), iv...), nil) {
			return
		}
		crypt(stream.Pad(data, BlockSize), cipher.NewCBCEncrypter(block, iv), yield)
	}
}

// Decrypt reads the IV from the head of the stream, decrypts and removes the padding.
func Decrypt(data stream.Stream, secret []byte) stream.Stream {
	return func(yield func([]byte, error) bool) {
		block, err := newCipher(secret)
		if err != nil {
			yield(nil, err)
			return
		}
		iv, rest, err := stream.Split(data, BlockSize)
		if err != nil {
			yield(nil, errors.Annotate(err, "reading iv"))
			return
		}
		for chunk, err := range stream.Unpad(decrypted(rest, cipher.NewCBCDecrypter(block, iv)), BlockSize) {
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

func decrypted(data stream.Stream, mode cipher.BlockMode) stream.Stream {
	return func(yield func([]byte, error) bool) {
		crypt(data, mode, yield)
	}
}

// crypt runs mode over whole blocks, carrying any partial block over to the next chunk.
func crypt(data stream.Stream, mode cipher.BlockMode, yield func([]byte, error) bool) {
	var carry []byte
	for chunk, err := range data {
		if err != nil {
			yield(nil, err)
			return
		}
		buf := append(carry, chunk...)
		n := len(buf) - len(buf)%BlockSize
		if n == 0 {
			carry = buf
			continue
		}
		out := make([]byte, n)
		mode.CryptBlocks(out, buf[:n])
		carry = append([]byte(nil), buf[n:]...)
		if !yield(out, nil) {
			return
		}
	}
	if len(carry) != 0 {
		yield(nil, errors.NotValidf("ciphertext with %d trailing bytes", len(carry)))
	}
}

func GenerateSecret() (secret []byte, err error) {
	secret = make([]byte, KeySize)

	_, err = rand.Read(secret)
	return
}
