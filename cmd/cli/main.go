package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/google/subcommands"
)

var (
	configPath = flag.String("config", os.Getenv("LEDGER_CONFIG"), "Path to the YAML config file (or set LEDGER_CONFIG env)")
	ownerFlag  = flag.String("owner", os.Getenv("LEDGER_OWNER"), "Owner id every command acts for (or set LEDGER_OWNER env)")
)

var commands = []subcommands.Command{
	&accountsCmd{},
	&createAccountCmd{},
	&recalcCmd{},
	&snapshotCmd{},
	&historyCmd{},
	&detectCmd{},
	&importCmd{},
	&importGCSCmd{},
	&uploadCmd{},
	&batchesCmd{},
	&portfoliosCmd{},
	&tradeCmd{},
	&summaryCmd{},
}

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	for _, c := range commands {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// run loads the config, opens the services and calls fn with a logger in
// the context. Errors are printed and turned into ExitFailure.
func run(ctx context.Context, needOwner bool, fn func(ctx context.Context, a *app.App, ownerID string) error) subcommands.ExitStatus {
	if needOwner && *ownerFlag == "" {
		fmt.Fprintln(os.Stderr, "-owner (or LEDGER_OWNER) is required")
		return subcommands.ExitUsageError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	log := logger.Configure(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Out: os.Stderr})

	ctx, cancel := context.WithTimeout(logger.WithContext(ctx, log), 10*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if err := fn(ctx, a, *ownerFlag); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
