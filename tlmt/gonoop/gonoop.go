// Package gonoop is the telemetry backend used when telemetry is disabled.
package gonoop

import (
	"context"

	"github.com/placecrawl/placecrawl/tlmt"
)

type noop struct{}

func New() tlmt.Telemetry {
	return noop{}
}

func (noop) Send(_ context.Context, _ tlmt.Event) error {
	return nil
}

func (noop) Close() error {
	return nil
}
