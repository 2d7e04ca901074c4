// Package goposthog sends anonymous telemetry to a PostHog instance. The
// distinct ID is derived from host characteristics, never from crawl data.
package goposthog

import (
	"context"
	"crypto/sha256"
	"fmt"
	"runtime"

	"github.com/posthog/posthog-go"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/placecrawl/placecrawl/tlmt"
)

type service struct {
	client     posthog.Client
	distinctID string
	props      map[string]any
}

// New creates a PostHog-backed telemetry sender.
func New(apiKey, endpoint string) (tlmt.Telemetry, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{
		Endpoint: endpoint,
	})
	if err != nil {
		return nil, err
	}

	return &service{
		client:     client,
		distinctID: distinctID(),
		props:      hostProps(),
	}, nil
}

func (s *service) Send(_ context.Context, event tlmt.Event) error {
	props := posthog.NewProperties()

	for k, v := range s.props {
		props.Set(k, v)
	}

	for k, v := range event.Data {
		props.Set(k, v)
	}

	return s.client.Enqueue(posthog.Capture{
		DistinctId: s.distinctID,
		Event:      event.Name,
		Properties: props,
	})
}

func (s *service) Close() error {
	return s.client.Close()
}

// distinctID hashes the host ID so installations are distinguishable
// without being identifiable.
func distinctID() string {
	id, err := host.HostID()
	if err != nil || id == "" {
		return "unknown"
	}

	return fmt.Sprintf("%x", sha256.Sum256([]byte(id)))
}

func hostProps() map[string]any {
	props := map[string]any{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	}

	if info, err := host.Info(); err == nil {
		props["platform"] = info.Platform
		props["platform_version"] = info.PlatformVersion
		props["kernel_version"] = info.KernelVersion
	}

	return props
}
