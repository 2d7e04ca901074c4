package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/placecrawl/placecrawl/runner"
	"github.com/placecrawl/placecrawl/runner/databaserunner"
	"github.com/placecrawl/placecrawl/runner/filerunner"
	"github.com/placecrawl/placecrawl/runner/installplaywright"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigs
		fmt.Fprintln(os.Stderr, "shutting down")
		cancel()
	}()

	cfg := runner.ParseConfig()

	if cfg.RunMode == runner.RunModeFile {
		runner.Banner()
	}

	run, err := runnerFactory(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, err)

		_ = run.Close(ctx)

		os.Exit(1)
	}

	_ = run.Close(ctx)
}

func runnerFactory(cfg *runner.Config) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeFile:
		return filerunner.New(cfg)
	case runner.RunModeDatabase, runner.RunModeDatabaseProduce:
		return databaserunner.New(cfg)
	case runner.RunModeInstallPlaywright:
		return installplaywright.New(cfg)
	default:
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}
}
