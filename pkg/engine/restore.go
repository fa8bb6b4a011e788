package engine

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/rs/zerolog/log"

	"github.com/gentoomaniac/hashbak/pkg/fmeta"
	"github.com/gentoomaniac/hashbak/pkg/stream"
)

// FullRestore brings root in line with the named snapshot. All contents that have to be
// fetched are restored from the archive before the first file is written.
func (r *Runner) FullRestore(ctx context.Context, name, root string) error {
	metas, err := r.ShowSnapshot(ctx, name)
	if err != nil {
		return err
	}
	hasher := fmeta.NewHasher(r.salt)
	if err := r.preRestore(ctx, metas, root, hasher); err != nil {
		return err
	}
	return r.restore(ctx, metas, root, hasher)
}

// PreRestore requests and waits for the restore of every content blob root is missing.
func (r *Runner) PreRestore(ctx context.Context, name, root string) error {
	metas, err := r.ShowSnapshot(ctx, name)
	if err != nil {
		return err
	}
	return r.preRestore(ctx, metas, root, fmeta.NewHasher(r.salt))
}

// Restore writes the named snapshot below root. The blobs of every file that differs
// must have been restored with PreRestore.
func (r *Runner) Restore(ctx context.Context, name, root string) error {
	metas, err := r.ShowSnapshot(ctx, name)
	if err != nil {
		return err
	}
	return r.restore(ctx, metas, root, fmeta.NewHasher(r.salt))
}

func (r *Runner) preRestore(ctx context.Context, metas []*fmeta.FMeta, root string, hasher *fmeta.Hasher) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return errors.Trace(err)
	}

	if err := checkNames(metas); err != nil {
		return err
	}

	seen := make(map[string]bool)
	var pending [][]byte
	for _, meta := range metas {
		same, err := meta.Test(root, hasher)
		if err != nil {
			return errors.Annotatef(err, "checking %s", meta.Name)
		}
		if same || seen[string(meta.Hash)] {
			continue
		}
		seen[string(meta.Hash)] = true

		if err := r.storage.RequestRestore(ctx, meta.Hash); err != nil {
			return errors.Annotatef(err, "requesting %s", meta.Name)
		}
		pending = append(pending, meta.Hash)
	}
	log.Info().Int("blobs", len(pending)).Msg("restores requested")

	for i, hash := range pending {
		if err := r.storage.AwaitRestore(ctx, hash); err != nil {
			return errors.Annotatef(err, "waiting for blob %x", hash)
		}
		log.Debug().Hex("hash", hash).Int("done", i+1).Int("total", len(pending)).Msg("blob restored")
	}
	return nil
}

func (r *Runner) restore(ctx context.Context, metas []*fmeta.FMeta, root string, hasher *fmeta.Hasher) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return errors.Trace(err)
	}
	if err := checkNames(metas); err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Annotate(err, "creating restore root")
	}

	// Directory modes are applied last, deepest first, so a read-only directory does not
	// block writing its own entries. Until then every directory stays owner-writable, also
	// one left read-only by an earlier restore.
	var dirs []*fmeta.FMeta
	for _, meta := range metas {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		if meta.Type == fmeta.Directory {
			if err := makeWritableDir(meta.Path(root)); err != nil {
				return errors.Annotatef(err, "preparing %s", meta.Name)
			}
			dirs = append(dirs, meta)
			continue
		}

		contents := func() (stream.Stream, error) {
			log.Debug().Str("file", meta.Name).Msg("fetching contents")
			return r.storage.GetRestoredFile(ctx, meta.Hash)
		}
		if err := meta.ToFile(root, hasher, contents); err != nil {
			return err
		}
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		if err := dirs[i].ToFile(root, hasher, nil); err != nil {
			return err
		}
	}
	log.Info().Str("root", root).Int("entries", len(metas)).Msg("restore complete")
	return nil
}

func makeWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Trace(err)
	}
	info, err := os.Lstat(dir)
	if err != nil {
		return errors.Trace(err)
	}
	if perm := info.Mode().Perm(); info.IsDir() && perm&0o700 != 0o700 {
		return errors.Trace(os.Chmod(dir, perm|0o700))
	}
	return nil
}

// checkNames keeps entries of a tampered snapshot from escaping the restore root, either
// by name or through a symlink the snapshot itself places on their path.
func checkNames(metas []*fmeta.FMeta) error {
	links := make(map[string]bool)
	for _, meta := range metas {
		if !filepath.IsLocal(filepath.FromSlash(meta.Name)) {
			return errors.NotValidf("entry name %q", meta.Name)
		}
		if meta.Type == fmeta.Symlink {
			links[path.Clean(meta.Name)] = true
		}
	}
	for _, meta := range metas {
		for dir := path.Dir(meta.Name); dir != "."; dir = path.Dir(dir) {
			if links[dir] {
				return errors.NotValidf("entry %q below symlink %q", meta.Name, dir)
			}
		}
	}
	return nil
}
