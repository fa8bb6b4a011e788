package engine

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"

	"github.com/gentoomaniac/hashbak/pkg/fmeta"
	"github.com/gentoomaniac/hashbak/pkg/stream"
)

// Report summarizes one backup run.
type Report struct {
	Name         string
	Entries      int
	Uploaded     int
	Deduplicated int
	// Bytes is the plaintext size of the uploaded contents.
	Bytes uint64
}

// Backup snapshots the tree below root under a name generated from the current time.
func (r *Runner) Backup(ctx context.Context, root string) (*Report, error) {
	return r.backup(ctx, root, r.snapshotName)
}

// BackupNamed is Backup with an explicit snapshot name. Snapshots are immutable, so
// the name must not exist yet.
func (r *Runner) BackupNamed(ctx context.Context, root, name string) (*Report, error) {
	return r.backup(ctx, root, func(ctx context.Context) (string, error) {
		names, err := r.ListSnapshots(ctx)
		if err != nil {
			return "", err
		}
		for _, existing := range names {
			if existing == name {
				return "", errors.AlreadyExistsf("snapshot %s", name)
			}
		}
		return name, nil
	})
}

type backupRun struct {
	*Runner
	root   string
	hasher *fmeta.Hasher
	seen   map[string]bool
	report Report
}

func (r *Runner) backup(ctx context.Context, root string, name func(context.Context) (string, error)) (*Report, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Trace(err)
	}
	// WalkDir does not descend into a root that is itself a symlink.
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, errors.Annotatef(err, "backup root")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Annotatef(err, "backup root")
	}
	if !info.IsDir() {
		return nil, errors.NotValidf("backup root %s is not a directory", root)
	}

	run := &backupRun{
		Runner: r,
		root:   root,
		hasher: fmeta.NewHasher(r.salt),
		seen:   make(map[string]bool),
	}
	log.Info().Str("root", root).Msg("starting backup")

	metas, err := run.walk(ctx)
	if err != nil {
		return nil, err
	}

	run.report.Name, err = name(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.storage.UploadMeta(ctx, run.report.Name, fmeta.Encode(metas)); err != nil {
		return nil, errors.Annotate(err, "uploading snapshot")
	}

	log.Info().
		Str("snapshot", run.report.Name).
		Int("entries", run.report.Entries).
		Int("uploaded", run.report.Uploaded).
		Int("deduplicated", run.report.Deduplicated).
		Str("size", humanize.Bytes(run.report.Bytes)).
		Msg("backup complete")
	return &run.report, nil
}

// walk visits the tree in lexical order, parents before their children, and uploads
// every file whose contents the storage does not have yet.
func (run *backupRun) walk(ctx context.Context) ([]*fmeta.FMeta, error) {
	var metas []*fmeta.FMeta
	err := filepath.WalkDir(run.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Annotatef(err, "walking %s", path)
		}
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		if path == run.root {
			return nil
		}

		meta, err := fmeta.FromFile(path, run.root, run.hasher)
		if errors.Is(err, errors.NotSupported) {
			log.Warn().Str("file", path).Msg("skipping special file")
			return nil
		}
		if err != nil {
			return err
		}
		if meta.Type == fmeta.File {
			if err := run.upload(ctx, path, meta); err != nil {
				return err
			}
		}

		log.Debug().Str("file", meta.Name).Str("type", meta.Type.String()).Msg("entry recorded")
		metas = append(metas, meta)
		run.report.Entries++
		return nil
	})
	return metas, err
}

func (run *backupRun) upload(ctx context.Context, path string, meta *fmeta.FMeta) error {
	key := string(meta.Hash)
	if run.seen[key] {
		run.report.Deduplicated++
		return nil
	}

	exists, err := run.storage.FileExists(ctx, meta.Hash)
	if err != nil {
		return errors.Annotatef(err, "probing %s", meta.Name)
	}
	run.seen[key] = true
	if exists {
		log.Debug().Str("file", meta.Name).Hex("hash", meta.Hash).Msg("already stored")
		run.report.Deduplicated++
		return nil
	}

	var size uint64
	if err := run.storage.UploadFile(ctx, meta.Hash, counted(stream.File(path, stream.PageSize), &size)); err != nil {
		return errors.Annotatef(err, "uploading %s", meta.Name)
	}
	log.Info().Str("file", meta.Name).Str("size", humanize.Bytes(size)).Msg("uploaded")
	run.report.Uploaded++
	run.report.Bytes += size
	return nil
}

func counted(s stream.Stream, n *uint64) stream.Stream {
	return func(yield func([]byte, error) bool) {
		for chunk, err := range s {
			*n += uint64(len(chunk))
			if !yield(chunk, err) {
				return
			}
		}
	}
}
