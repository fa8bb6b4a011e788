package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/gentoomaniac/hashbak/pkg/engine"
)

type BackupCmd struct {
	Name string `help:"Snapshot name, defaults to the current time"`
	Root string `help:"Directory to back up" arg:"" type:"existingdir"`
}

func backup(ctx context.Context, target *Target, params *BackupCmd) error {
	runner, closeStorage, err := target.open(ctx)
	if err != nil {
		return err
	}
	defer closeStorage()

	var report *engine.Report
	if params.Name != "" {
		report, err = runner.BackupNamed(ctx, params.Root, params.Name)
	} else {
		report, err = runner.Backup(ctx, params.Root)
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("snapshot", report.Name).
		Str("uploaded", humanize.Bytes(report.Bytes)).
		Msgf("%d entries, %d new blobs, %d deduplicated", report.Entries, report.Uploaded, report.Deduplicated)
	fmt.Println(report.Name)
	return nil
}
