// Package local keeps snapshots and content blobs in a local directory. Restores are
// instant copies, which makes it the backend for tests and development.
package local

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"

	"github.com/gentoomaniac/hashbak/pkg/db"
	"github.com/gentoomaniac/hashbak/pkg/remote"
	"github.com/gentoomaniac/hashbak/pkg/stream"
)

const (
	metaDir    = "meta"
	fileDir    = "file"
	restoreDir = "restore"
	indexFile  = "index.db"
)

type Storage struct {
	basepath string
	key      []byte
	index    db.DB
}

var _ remote.Storage = (*Storage)(nil)

// New opens, and if needed creates, a storage directory at basepath.
func New(basepath string, key []byte) (*Storage, error) {
	for _, dir := range []string{metaDir, fileDir, restoreDir} {
		if err := os.MkdirAll(filepath.Join(basepath, dir), 0o755); err != nil {
			return nil, errors.Trace(err)
		}
	}

	index, err := db.NewSQLLite(filepath.Join(basepath, indexFile))
	if err != nil {
		return nil, err
	}
	if err := index.Init(); err != nil {
		index.Close()
		return nil, err
	}
	log.Debug().Str("path", basepath).Msg("local storage opened")
	return &Storage{basepath: basepath, key: key, index: index}, nil
}

func (s *Storage) Close() error {
	return s.index.Close()
}

func (s *Storage) metaName(name string) string {
	return filepath.Join(s.basepath, metaDir, name)
}

func (s *Storage) fileName(hash []byte) string {
	return filepath.Join(s.basepath, fileDir, hex.EncodeToString(hash))
}

func (s *Storage) restoreName(hash []byte) string {
	return filepath.Join(s.basepath, restoreDir, hex.EncodeToString(hash))
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, filepath.Separator) {
		return errors.NotValidf("snapshot name %q", name)
	}
	return nil
}

// write stores data at path through a temporary file, so a failed upload never leaves
// a partial blob behind.
func write(ctx context.Context, path string, data stream.Stream) (n int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if n, err = stream.WriteTo(data, tmp); err != nil {
		return n, err
	}
	if err = tmp.Close(); err != nil {
		return n, errors.Trace(err)
	}
	return n, errors.Trace(os.Rename(tmp.Name(), path))
}

func (s *Storage) UploadMeta(ctx context.Context, name string, contents stream.Stream) error {
	if err := validName(name); err != nil {
		return err
	}
	n, err := write(ctx, s.metaName(name), remote.Seal(contents, s.key, remote.MetaIV(name)))
	if err != nil {
		return errors.Annotatef(err, "uploading snapshot %s", name)
	}
	log.Debug().Str("name", name).Str("size", humanize.Bytes(uint64(n))).Msg("snapshot stored")
	return s.index.AddSnapshotToIndex(&db.Snapshot{Name: name, Size: n, Created: time.Now().Unix()})
}

func (s *Storage) ListMeta(ctx context.Context) ([]string, error) {
	snapshots, err := s.index.GetSnapshots()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(snapshots))
	for _, snapshot := range snapshots {
		names = append(names, snapshot.Name)
	}
	return names, nil
}

func (s *Storage) GetMeta(ctx context.Context, name string) (stream.Stream, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if _, err := s.index.GetSnapshot(name); err != nil {
		return nil, err
	}
	return remote.Open(stream.File(s.metaName(name), stream.PageSize), s.key), nil
}

func (s *Storage) FileExists(ctx context.Context, hash []byte) (bool, error) {
	_, err := s.index.GetBlob(hash)
	if errors.Is(err, errors.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Storage) UploadFile(ctx context.Context, hash []byte, contents stream.Stream) error {
	n, err := write(ctx, s.fileName(hash), remote.Seal(contents, s.key, remote.FileIV(hash)))
	if err != nil {
		return errors.Annotatef(err, "uploading blob %x", hash)
	}
	log.Debug().Hex("hash", hash).Str("size", humanize.Bytes(uint64(n))).Msg("blob stored")
	return s.index.AddBlobToIndex(&db.Blob{Hash: hash, Size: n, Created: time.Now().Unix()})
}

// RequestRestore copies the blob into the restore area right away.
func (s *Storage) RequestRestore(ctx context.Context, hash []byte) error {
	if _, err := os.Stat(s.restoreName(hash)); err == nil {
		return nil
	}
	if _, err := os.Stat(s.fileName(hash)); os.IsNotExist(err) {
		return errors.NotFoundf("blob %x", hash)
	}
	_, err := write(ctx, s.restoreName(hash), stream.File(s.fileName(hash), stream.PageSize))
	return errors.Annotatef(err, "restoring blob %x", hash)
}

// AwaitRestore never waits: a requested restore is already complete.
func (s *Storage) AwaitRestore(ctx context.Context, hash []byte) error {
	if _, err := os.Stat(s.restoreName(hash)); os.IsNotExist(err) {
		return errors.NotFoundf("restored blob %x", hash)
	} else if err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (s *Storage) GetRestoredFile(ctx context.Context, hash []byte) (stream.Stream, error) {
	if err := s.AwaitRestore(ctx, hash); err != nil {
		return nil, err
	}
	return remote.Open(stream.File(s.restoreName(hash), stream.PageSize), s.key), nil
}
