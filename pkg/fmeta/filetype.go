package fmeta

import (
	"fmt"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"

	"github.com/gentoomaniac/hashbak/pkg/serial"
)

type FileType int

const (
	Directory FileType = iota + 1
	File
	Symlink
)

var fileTypeCodes = map[FileType]byte{
	Directory: 'd',
	File:      'f',
	Symlink:   'l',
}

func (t FileType) String() string {
	switch t {
	case Directory:
		return "directory"
	case File:
		return "file"
	case Symlink:
		return "symlink"
	}
	return fmt.Sprintf("FileType(%d)", int(t))
}

func (t FileType) encode(w *serial.Writer) {
	code, ok := fileTypeCodes[t]
	if !ok {
		// zero is never a valid code, so the record fails to decode
		code = 0
	}
	w.Code(code)
}

func decodeFileType(r *serial.Reader) FileType {
	code := r.Code()
	if r.Err() != nil {
		return 0
	}
	for t, c := range fileTypeCodes {
		if c == code {
			return t
		}
	}
	r.Fail(errors.NotValidf("file type code %q", code))
	return 0
}

// fileTypeOf classifies an lstat mode. Symlinks win over directories because lstat
// never follows the link.
func fileTypeOf(mode uint32) (FileType, bool) {
	switch mode & unix.S_IFMT {
	case unix.S_IFLNK:
		return Symlink, true
	case unix.S_IFDIR:
		return Directory, true
	case unix.S_IFREG:
		return File, true
	}
	return 0, false
}
