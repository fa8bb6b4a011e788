// Package engine runs backups and restores of a directory tree against a storage backend.
package engine

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/gentoomaniac/hashbak/pkg/fmeta"
	"github.com/gentoomaniac/hashbak/pkg/remote"
)

// NameFormat is the layout of generated snapshot names.
const NameFormat = "2006-01-02-15-04"

// Runner ties a storage backend to the salt used for content hashes. Every Backup and
// restore call gets its own hash cache.
type Runner struct {
	storage remote.Storage
	salt    []byte
	clock   clock.Clock
}

func New(storage remote.Storage, salt []byte, clk clock.Clock) *Runner {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Runner{storage: storage, salt: salt, clock: clk}
}

func (r *Runner) ListSnapshots(ctx context.Context) ([]string, error) {
	names, err := r.storage.ListMeta(ctx)
	return names, errors.Annotate(err, "listing snapshots")
}

// ShowSnapshot decodes every entry of the named snapshot.
func (r *Runner) ShowSnapshot(ctx context.Context, name string) ([]*fmeta.FMeta, error) {
	contents, err := r.storage.GetMeta(ctx, name)
	if err != nil {
		return nil, errors.Annotatef(err, "loading snapshot %s", name)
	}
	metas, err := fmeta.ReadAll(contents)
	return metas, errors.Annotatef(err, "decoding snapshot %s", name)
}

// snapshotName names a new snapshot after the current minute. Names are never reused:
// a second snapshot in the same minute gets a -2 suffix, then -3 and so on.
func (r *Runner) snapshotName(ctx context.Context) (string, error) {
	names, err := r.ListSnapshots(ctx)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(names))
	for _, name := range names {
		taken[name] = true
	}

	base := r.clock.Now().Format(NameFormat)
	name := base
	for i := 2; taken[name]; i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	return name, nil
}
