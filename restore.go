package main

import (
	"context"

	"github.com/rs/zerolog/log"

	clitools "github.com/gentoomaniac/hashbak/pkg/cli"
	"github.com/gentoomaniac/hashbak/pkg/engine"
)

type RestoreCmd struct {
	Snapshot      string `short:"s" help:"Snapshot to restore, prompts when empty"`
	SkipUnarchive bool   `help:"Assume every needed blob is already un-archived"`
	Dest          string `help:"Directory to restore into" arg:"" type:"path"`
}

type UnarchiveCmd struct {
	Snapshot string `short:"s" help:"Snapshot to un-archive" required:""`
	Dest     string `help:"Directory the snapshot will be restored into" arg:"" type:"path"`
}

func pickSnapshot(ctx context.Context, runner *engine.Runner, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	names, err := runner.ListSnapshots(ctx)
	if err != nil {
		return "", err
	}
	return clitools.PromptSnapshots(names)
}

func restore(ctx context.Context, target *Target, params *RestoreCmd) error {
	runner, closeStorage, err := target.open(ctx)
	if err != nil {
		return err
	}
	defer closeStorage()

	name, err := pickSnapshot(ctx, runner, params.Snapshot)
	if err != nil {
		return err
	}
	log.Info().Str("snapshot", name).Str("dest", params.Dest).Msg("restore selected")

	if params.SkipUnarchive {
		return runner.Restore(ctx, name, params.Dest)
	}
	return runner.FullRestore(ctx, name, params.Dest)
}

func unarchive(ctx context.Context, target *Target, params *UnarchiveCmd) error {
	runner, closeStorage, err := target.open(ctx)
	if err != nil {
		return err
	}
	defer closeStorage()

	if err := runner.PreRestore(ctx, params.Snapshot, params.Dest); err != nil {
		return err
	}
	log.Info().Str("snapshot", params.Snapshot).Msg("un-archiving complete")
	return nil
}
