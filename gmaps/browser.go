package gmaps

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrBlockedByChallenge marks an anti-bot interstitial. The session's
// network identity is presumed compromised, so the job is retried on a
// fresh browser session instead of waiting the page out.
var ErrBlockedByChallenge = errors.New("blocked by anti-bot challenge")

func clickRejectCookiesIfRequired(page playwright.Page) error {
	// click the cookie reject button if the consent form is shown
	sel := `form[action="https://consent.google.com/save"]:first-of-type button:first-of-type`

	const timeout = 500

	//nolint:staticcheck // TODO replace with the new playwright API
	el, err := page.WaitForSelector(sel, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(timeout),
	})

	if err != nil || el == nil {
		return nil
	}

	//nolint:staticcheck // TODO replace with the new playwright API
	return el.Click()
}

// sessionBlocked reports whether the current page is an anti-bot challenge.
func sessionBlocked(page playwright.Page) bool {
	content, err := page.Content()
	if err != nil {
		content = ""
	}

	return isChallengePage(page.URL(), content)
}

// isChallengePage recognizes the interception page served when the session
// is rate limited, by URL path or by the challenge form in the body.
func isChallengePage(pageURL, content string) bool {
	if strings.Contains(pageURL, "/sorry/") {
		return true
	}

	return strings.Contains(content, "captcha-form") ||
		strings.Contains(content, "unusual traffic")
}

func ctxWait(ctx context.Context, dur time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(dur):
	}
}
