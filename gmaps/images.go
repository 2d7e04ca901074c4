package gmaps

import (
	"context"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// galleryPager abstracts the image gallery so the collection loop is
// testable without a browser.
type galleryPager interface {
	// ScrollMore advances the gallery by one fixed height increment.
	ScrollMore(ctx context.Context) error
	// VisibleURLs returns the image URLs currently rendered, in order.
	VisibleURLs(ctx context.Context) ([]string, error)
}

// collectImages scrolls the gallery until maxImages are rendered or the
// gallery stops growing. Stagnation is detected by comparing the last
// rendered URL between increments; each increment races a timeout so a
// stuck scroll cannot hang the worker.
func collectImages(ctx context.Context, pager galleryPager, maxImages int, perIteration time.Duration) []string {
	var (
		urls      []string
		lastURL   string
		lastCount = -1
	)

	for {
		iterCtx, cancel := context.WithTimeout(ctx, perIteration)

		current, err := pager.VisibleURLs(iterCtx)
		if err != nil {
			cancel()
			break
		}

		urls = current

		if len(urls) >= maxImages {
			cancel()
			break
		}

		stagnant := len(urls) == lastCount &&
			(len(urls) == 0 || urls[len(urls)-1] == lastURL)
		if stagnant {
			cancel()
			break
		}

		lastCount = len(urls)
		if len(urls) > 0 {
			lastURL = urls[len(urls)-1]
		}

		if err := pager.ScrollMore(iterCtx); err != nil {
			cancel()
			break
		}

		cancel()

		select {
		case <-ctx.Done():
			return truncateImages(urls, maxImages)
		default:
		}
	}

	return truncateImages(urls, maxImages)
}

func truncateImages(urls []string, maxImages int) []string {
	if maxImages > 0 && len(urls) > maxImages {
		return urls[:maxImages]
	}

	return urls
}

// playwrightGallery drives the on-page photo gallery.
type playwrightGallery struct {
	page playwright.Page
}

func (g *playwrightGallery) ScrollMore(_ context.Context) error {
	const scrollStep = 800

	_, err := g.page.Evaluate(`(step) => {
		const el = document.querySelector("div[role='main'] div[tabindex='-1']") || document.scrollingElement;
		if (el) el.scrollBy ? el.scrollBy(0, step) : el.scrollTop += step;
	}`, scrollStep)

	if err != nil {
		return err
	}

	g.page.WaitForTimeout(300)

	return nil
}

func (g *playwrightGallery) VisibleURLs(_ context.Context) ([]string, error) {
	raw, err := g.page.Evaluate(`() =>
		Array.from(document.querySelectorAll("a[data-photo-index] img, div[role='img']"))
			.map(el => el.src || (el.style.backgroundImage || "").replace(/^url\("?|"?\)$/g, ""))
			.filter(u => u && u.startsWith("http"))
	`)
	if err != nil {
		return nil, err
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, nil
	}

	urls := make([]string, 0, len(items))

	for _, item := range items {
		if u, ok := item.(string); ok {
			urls = append(urls, enlargeImageURL(u))
		}
	}

	return urls, nil
}

// enlargeImageURL rewrites a thumbnail URL to its full-size variant by
// dropping the size suffix.
func enlargeImageURL(u string) string {
	if idx := strings.LastIndexByte(u, '='); idx > 0 {
		return u[:idx] + "=s0"
	}

	return u
}
