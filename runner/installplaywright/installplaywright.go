// Package installplaywright downloads the browser bundle once, so container
// images can bake it in at build time.
package installplaywright

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/placecrawl/placecrawl/runner"
)

type installRunner struct{}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeInstallPlaywright {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	return &installRunner{}, nil
}

func (i *installRunner) Run(context.Context) error {
	return playwright.Install()
}

func (i *installRunner) Close(context.Context) error {
	return nil
}
