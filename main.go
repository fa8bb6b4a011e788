package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/gentoomaniac/logging"
	"github.com/rs/zerolog/log"
)

var (
	version = "unset"
	commit  = "unset"
	binName = "hashbak"
	builtBy = "manual"
	date    = "unset"
)

var cli struct {
	logging.LoggingConfig
	Target `embed:""`

	Backup    BackupCmd    `cmd:"" help:"Back up a directory tree into a new snapshot"`
	Restore   RestoreCmd   `cmd:"" help:"Restore a snapshot, un-archiving contents first"`
	Unarchive UnarchiveCmd `cmd:"" help:"Only request and await the un-archiving of a snapshot's contents"`
	List      struct{}     `cmd:"" help:"List snapshots, oldest first"`
	Show      ShowCmd      `cmd:"" help:"Print the entries of a snapshot"`
	Keygen    struct{}     `cmd:"" help:"Generate a new encryption key and hash salt"`

	Version kong.VersionFlag `short:"v" help:"Display version."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name(binName),
		kong.Description("Deduplicating, encrypted backups to S3 or a local directory."),
		kong.UsageOnError(),
		kong.Configuration(kong.JSON, "/etc/hashbak.json", "~/.hashbak.json"),
		kong.Vars{
			"version": version,
			"commit":  commit,
			"binName": binName,
			"builtBy": builtBy,
			"date":    date,
		})
	logging.Setup(&cli.LoggingConfig)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch ctx.Command() {
	case "backup <root>":
		err = backup(runCtx, &cli.Target, &cli.Backup)
	case "restore <dest>":
		err = restore(runCtx, &cli.Target, &cli.Restore)
	case "unarchive <dest>":
		err = unarchive(runCtx, &cli.Target, &cli.Unarchive)
	case "list":
		err = list(runCtx, &cli.Target)
	case "show <snapshot>":
		err = show(runCtx, &cli.Target, &cli.Show)
	case "keygen":
		err = keygen()
	default:
		log.Fatal().Str("command", ctx.Command()).Msg("unknown command")
	}
	ctx.FatalIfErrorf(err)
	ctx.Exit(0)
}
