package gmaps

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gosom/scrapemate"
	"github.com/playwright-community/playwright-go"

	"github.com/placecrawl/placecrawl/wire"
)

// reviewFetcher walks the paginated reviews endpoint by rewriting a
// captured URL template. The loop is strictly sequential: one in-flight
// fetch per place, cursor advanced only after a successful decode.
type reviewFetcher struct {
	template   string
	maxReviews int
	mode       wire.TranslationMode
	sort       wire.ReviewSort

	fetchPage func(ctx context.Context, url string) ([]byte, error)
}

// fetchAll collects up to maxReviews reviews. A decode error or an empty
// page ends the loop gracefully with what was already collected.
func (f *reviewFetcher) fetchAll(ctx context.Context) []wire.Review {
	cur := wire.SetSort(wire.ResetOffset(f.template), f.sort)

	var collected []wire.Review

	for len(collected) < f.maxReviews {
		select {
		case <-ctx.Done():
			return collected
		default:
		}

		body, err := f.fetchPage(ctx, cur)
		if err != nil {
			break
		}

		reviews, err := wire.DecodeReviews(body, f.mode)
		if err != nil || len(reviews) == 0 {
			break
		}

		collected = append(collected, reviews...)
		cur = wire.AdvanceOffset(cur, wire.ReviewPageSize)
	}

	if len(collected) > f.maxReviews {
		collected = collected[:f.maxReviews]
	}

	return collected
}

// sortReviews orders reviews locally, used when the inline reviews already
// cover the requested amount and no fetch is needed.
func sortReviews(reviews []wire.Review, order wire.ReviewSort) {
	switch order {
	case wire.SortNewest:
		sort.SliceStable(reviews, func(i, j int) bool {
			return reviews[i].PublishedAtDate > reviews[j].PublishedAtDate
		})
	case wire.SortHighestRanking:
		sort.SliceStable(reviews, func(i, j int) bool {
			return reviews[i].Stars > reviews[j].Stars
		})
	case wire.SortLowestRanking:
		sort.SliceStable(reviews, func(i, j int) bool {
			return reviews[i].Stars < reviews[j].Stars
		})
	case wire.SortMostRelevant:
		// site order is relevance order already
	}
}

// captureReviewTemplate opens the reviews panel and captures the URL of the
// request it triggers, to be used as the pagination template. ExpectResponse
// unregisters its listener when it returns, so pages reused across jobs do
// not accumulate handlers.
func captureReviewTemplate(ctx context.Context, page playwright.Page) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	response, err := page.ExpectResponse(
		isReviewsEndpoint,
		func() error {
			return clickReviewsTab(page)
		},
		playwright.PageExpectResponseOptions{
			Timeout: playwright.Float(10_000),
		},
	)
	if err != nil {
		return "", fmt.Errorf("reviews request not observed: %w", err)
	}

	return response.URL(), nil
}

func clickReviewsTab(page playwright.Page) error {
	loc := page.Locator("button[aria-label*='Reviews'], button[jsaction*='reviewChart']").First()

	return loc.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(5000),
	})
}

func isReviewsEndpoint(url string) bool {
	return strings.Contains(url, "listentitiesreviews")
}

// pageFetcher issues the cursor request from inside the page context so it
// carries the session's cookies and headers.
func pageFetcher(page playwright.Page) func(ctx context.Context, url string) ([]byte, error) {
	return func(ctx context.Context, url string) ([]byte, error) {
		log := scrapemate.GetLoggerFromContext(ctx)

		raw, err := page.Evaluate(`async (u) => {
			const res = await fetch(u);
			return await res.text();
		}`, url)
		if err != nil {
			log.Warn(fmt.Sprintf("review page fetch: %v", err))

			return nil, err
		}

		text, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("review page fetch returned %T", raw)
		}

		return []byte(text), nil
	}
}
