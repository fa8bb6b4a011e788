// Package fmeta describes one filesystem entry of a snapshot and knows how to capture it
// from disk and put it back.
package fmeta

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/gentoomaniac/hashbak/pkg/serial"
	"github.com/gentoomaniac/hashbak/pkg/stream"
)

// FMeta is one snapshot entry.
//
// Hash is the salted content hash for files, the link target for symlinks and empty for
// directories. Ino is recorded for reference only.
type FMeta struct {
	Name string
	Type FileType
	Hash []byte
	Ino  uint64
	UID  uint64
	GID  uint64
	Mode uint64
}

// ContentsFunc opens the stored contents of an entry. It is only called when the local
// copy has to be rewritten.
type ContentsFunc func() (stream.Stream, error)

// FromFile captures the entry at path, which must be inside root.
func FromFile(path string, root string, h *Hasher) (*FMeta, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return nil, errors.Annotatef(err, "stat %s", path)
	}
	ftype, ok := fileTypeOf(uint32(st.Mode))
	if !ok {
		return nil, errors.NotSupportedf("%s with mode %o", path, st.Mode)
	}

	meta := &FMeta{
		Name: filepath.ToSlash(rel),
		Type: ftype,
		Ino:  uint64(st.Ino),
		UID:  uint64(st.Uid),
		GID:  uint64(st.Gid),
		Mode: uint64(st.Mode),
	}

	switch ftype {
	case File:
		if meta.Hash, err = h.Hash(path); err != nil {
			return nil, err
		}
	case Symlink:
		target, err := os.Readlink(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		meta.Hash = []byte(linkTarget(root, path, target))
	}
	return meta, nil
}

// linkTarget rewrites absolute targets inside root relative to the link, so the link
// keeps pointing at the same entry wherever the tree is restored.
func linkTarget(root, path, target string) string {
	if !filepath.IsAbs(target) {
		return target
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return target
	}
	fromLink, err := filepath.Rel(filepath.Dir(path), target)
	if err != nil {
		return target
	}
	return fromLink
}

// Path is where the entry lives below root.
func (m *FMeta) Path(root string) string {
	return filepath.Join(root, filepath.FromSlash(m.Name))
}

// Test reports whether the local copy below root already matches. Only files can differ.
func (m *FMeta) Test(root string, h *Hasher) (bool, error) {
	if m.Type != File {
		return true, nil
	}
	local, err := h.LocalHash(m.Path(root))
	if err != nil {
		return false, err
	}
	return bytes.Equal(local, m.Hash), nil
}

// ToFile materializes the entry below root. File contents are only fetched and written
// when the local hash differs. Ownership and mode are reapplied every time.
func (m *FMeta) ToFile(root string, h *Hasher, contents ContentsFunc) error {
	path := m.Path(root)

	switch m.Type {
	case File:
		same, err := m.Test(root, h)
		if err != nil {
			return err
		}
		if !same {
			if err := writeFile(path, contents); err != nil {
				return errors.Annotatef(err, "restoring %s", m.Name)
			}
			h.Forget(path)
		} else {
			log.Debug().Str("file", m.Name).Msg("unchanged")
		}
	case Directory:
		if err := os.MkdirAll(path, 0o700); err != nil {
			return errors.Trace(err)
		}
	case Symlink:
		if err := writeLink(path, string(m.Hash)); err != nil {
			return errors.Annotatef(err, "restoring %s", m.Name)
		}
	default:
		return errors.NotValidf("file type %v of %s", m.Type, m.Name)
	}

	if err := unix.Lchown(path, int(m.UID), int(m.GID)); err != nil {
		return errors.Annotatef(err, "chown %s", m.Name)
	}
	// linux cannot change the mode of a symlink itself
	if m.Type != Symlink {
		if err := unix.Chmod(path, uint32(m.Mode&0o7777)); err != nil {
			return errors.Annotatef(err, "chmod %s", m.Name)
		}
	}
	return nil
}

func writeFile(path string, contents ContentsFunc) (err error) {
	if info, err := os.Lstat(path); err == nil && !info.Mode().IsRegular() {
		if err := os.Remove(path); err != nil {
			return errors.Trace(err)
		}
	}

	s, err := contents()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = errors.Trace(cerr)
		}
	}()

	n, err := stream.WriteTo(s, f)
	if err != nil {
		return err
	}
	log.Debug().Str("file", path).Int64("bytes", n).Msg("written")
	return nil
}

func writeLink(path, target string) error {
	existing, err := os.Readlink(path)
	if err == nil && existing == target {
		return nil
	}
	if _, err := os.Lstat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(os.Symlink(target, path))
}

func (m *FMeta) Encode(w io.Writer) error {
	sw := serial.NewWriter(w)
	sw.String(m.Name)
	m.Type.encode(sw)
	sw.DynBytes(m.Hash)
	sw.Uint(m.Ino)
	sw.Uint(m.UID)
	sw.Uint(m.GID)
	sw.Uint(m.Mode)
	return errors.Trace(sw.Err())
}

// Decode reads one record. Running out of input anywhere inside the record is
// io.ErrUnexpectedEOF.
func Decode(r io.Reader) (*FMeta, error) {
	sr := serial.NewReader(r)
	m := &FMeta{
		Name: sr.String(),
		Type: decodeFileType(sr),
		Hash: sr.DynBytes(),
		Ino:  sr.Uint(),
		UID:  sr.Uint(),
		GID:  sr.Uint(),
		Mode: sr.Uint(),
	}
	if err := sr.Err(); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Annotate(err, "decoding entry")
	}
	return m, nil
}
