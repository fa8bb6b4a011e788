package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/juju/errors"

	"github.com/gentoomaniac/hashbak/pkg/crypt/aes256"
	"github.com/gentoomaniac/hashbak/pkg/fmeta"
)

type ShowCmd struct {
	Snapshot string `help:"Snapshot to print" arg:""`
}

func list(ctx context.Context, target *Target) error {
	runner, closeStorage, err := target.open(ctx)
	if err != nil {
		return err
	}
	defer closeStorage()

	names, err := runner.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func show(ctx context.Context, target *Target, params *ShowCmd) error {
	runner, closeStorage, err := target.open(ctx)
	if err != nil {
		return err
	}
	defer closeStorage()

	metas, err := runner.ShowSnapshot(ctx, params.Snapshot)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, meta := range metas {
		fmt.Fprintf(w, "%s\t%04o\t%d:%d\t%s\t%s\n",
			meta.Type, meta.Mode&0o7777, meta.UID, meta.GID, meta.Name, identity(meta))
	}
	return errors.Trace(w.Flush())
}

func identity(meta *fmeta.FMeta) string {
	switch meta.Type {
	case fmeta.File:
		return fmt.Sprintf("%x", meta.Hash)
	case fmeta.Symlink:
		return "-> " + string(meta.Hash)
	}
	return ""
}

// keygen prints fresh secrets in the form the environment bindings expect.
func keygen() error {
	key, err := aes256.GenerateSecret()
	if err != nil {
		return errors.Trace(err)
	}
	salt, err := aes256.GenerateSecret()
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Printf("HASHBAK_KEY=%x\nHASHBAK_SALT=%x\n", key, salt)
	return nil
}
