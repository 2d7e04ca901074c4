package gmaps

import (
	"context"
	"testing"
	"time"

	"github.com/gosom/scrapemate"
	"github.com/stretchr/testify/require"
)

// stubBrowserPage is a BrowserPage whose Unwrap does not yield a playwright
// page.
type stubBrowserPage struct{}

func (stubBrowserPage) Goto(string, scrapemate.WaitUntilState) (*scrapemate.PageResponse, error) {
	return &scrapemate.PageResponse{}, nil
}

func (stubBrowserPage) URL() string                                 { return "" }
func (stubBrowserPage) Content() (string, error)                    { return "", nil }
func (stubBrowserPage) Reload(scrapemate.WaitUntilState) error      { return nil }
func (stubBrowserPage) Screenshot(bool) ([]byte, error)             { return nil, nil }
func (stubBrowserPage) Eval(string, ...any) (any, error)            { return nil, nil }
func (stubBrowserPage) WaitForURL(string, time.Duration) error      { return nil }
func (stubBrowserPage) WaitForSelector(string, time.Duration) error { return nil }
func (stubBrowserPage) WaitForTimeout(time.Duration)                {}
func (stubBrowserPage) Locator(string) scrapemate.Locator           { return nil }
func (stubBrowserPage) Close() error                                { return nil }
func (stubBrowserPage) Unwrap() any                                 { return "not a page" }

func TestBrowserActionsRejectNonPlaywrightPage(t *testing.T) {
	place := NewPlaceJob("", "https://example.com/place/p-1", PlaceTask{}, nil)

	resp := place.BrowserActions(context.Background(), stubBrowserPage{})
	require.Error(t, resp.Error)
	require.Contains(t, resp.Error.Error(), "not playwright backed")

	search := NewSearchJob("", "coffee", "", 0, nil)

	resp = search.BrowserActions(context.Background(), stubBrowserPage{})
	require.Error(t, resp.Error)
	require.Contains(t, resp.Error.Error(), "not playwright backed")
}
