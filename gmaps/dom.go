package gmaps

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/playwright-community/playwright-go"
)

// The extractors below are shallow DOM reads over the detail page. Each one
// writes its finding into the response meta and is wrapped by the caller in
// an error boundary, so a broken selector degrades one field, not the
// whole record.

func extractTitle(page playwright.Page, meta map[string]any) error {
	title, err := page.Locator("h1").First().InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(2000),
	})
	if err != nil {
		return err
	}

	meta["title"] = strings.TrimSpace(title)

	// score and count as rendered text, used as fallback when the inline
	// state decode comes up empty
	if raw, err := page.Evaluate(`() => {
		const score = document.querySelector("div[role='main'] span[aria-hidden='true']");
		const count = document.querySelector("div[role='main'] span[aria-label*='review']");

		return {
			score: score ? score.textContent : "",
			count: count ? count.textContent : "",
		};
	}`); err == nil {
		if m, ok := raw.(map[string]any); ok {
			if s, ok := m["score"].(string); ok {
				meta["score_text"] = strings.TrimSpace(s)
			}

			if c, ok := m["count"].(string); ok {
				meta["count_text"] = strings.TrimSpace(c)
			}
		}
	}

	return nil
}

func extractHours(page playwright.Page, meta map[string]any) error {
	raw, err := page.Evaluate(`() => {
		const rows = document.querySelectorAll("table tr[jsaction] td");
		const out = {};
		let day = null;

		for (const cell of rows) {
			const text = (cell.textContent || "").trim();
			if (!text) continue;

			if (cell.cellIndex === 0) {
				day = text;
				out[day] = [];
			} else if (day) {
				out[day].push(...text.split(/\n+/).map(s => s.trim()).filter(Boolean));
			}
		}

		return out;
	}`)
	if err != nil {
		return err
	}

	hours := stringListMap(raw)
	if len(hours) == 0 {
		return nil
	}

	meta["hours"] = hours

	return nil
}

func extractPopularTimes(page playwright.Page, meta map[string]any) error {
	raw, err := page.Evaluate(`() => {
		const out = {};
		const days = document.querySelectorAll("div[aria-label*='Popular times'] [role='img']");

		for (const bar of days) {
			const label = bar.getAttribute("aria-label") || "";
			// labels read like "75% busy at 6 PM."
			const m = label.match(/(\d+)%\s+busy\s+at\s+(\d+)\s*(AM|PM)/i);
			if (!m) continue;

			const day = bar.closest("[aria-label]")?.parentElement?.getAttribute("data-day") || "unknown";
			let hour = parseInt(m[2], 10) % 12;
			if (/pm/i.test(m[3])) hour += 12;

			out[day] = out[day] || {};
			out[day][hour] = parseInt(m[1], 10);
		}

		return out;
	}`)
	if err != nil {
		return err
	}

	hist := histogramMap(raw)
	if len(hist) == 0 {
		return nil
	}

	meta["popular_times"] = hist

	return nil
}

func extractPeopleAlsoSearch(page playwright.Page, meta map[string]any) error {
	raw, err := page.Evaluate(`() =>
		Array.from(document.querySelectorAll("div[aria-label*='People also search'] a"))
			.map(a => (a.getAttribute("aria-label") || a.textContent || "").trim())
			.filter(Boolean)
	`)
	if err != nil {
		return err
	}

	entries := stringList(raw)
	if len(entries) == 0 {
		return nil
	}

	meta["people_also_search"] = entries

	return nil
}

func extractAdditionalInfo(page playwright.Page, meta map[string]any) error {
	raw, err := page.Evaluate(`() => {
		const out = {};

		for (const section of document.querySelectorAll("div[aria-label*='About'] > div")) {
			const heading = section.querySelector("h2, [role='heading']");
			if (!heading) continue;

			const name = (heading.textContent || "").trim();
			if (!name) continue;

			out[name] = Array.from(section.querySelectorAll("li, span[aria-label]"))
				.map(el => (el.getAttribute("aria-label") || el.textContent || "").trim())
				.filter(Boolean);
		}

		return out;
	}`)
	if err != nil {
		return err
	}

	info := stringListMap(raw)
	if len(info) == 0 {
		return nil
	}

	meta["additional_info"] = info

	return nil
}

// parseLocaleScore reads a rendered rating such as "4.5" or "4,5".
func parseLocaleScore(text string) (float64, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(text, ",", "."))
	if cleaned == "" {
		return 0, fmt.Errorf("empty score text")
	}

	return strconv.ParseFloat(cleaned, 64)
}

func stringList(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))

	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}

	return out
}

func stringListMap(raw any) map[string][]string {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string][]string, len(m))

	for k, v := range m {
		if vals := stringList(v); len(vals) > 0 {
			out[k] = vals
		}
	}

	return out
}

func histogramMap(raw any) map[string]map[int]int {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]map[int]int, len(m))

	for day, v := range m {
		inner, ok := v.(map[string]any)
		if !ok {
			continue
		}

		hours := make(map[int]int, len(inner))

		for h, occ := range inner {
			hour, err := strconv.Atoi(h)
			if err != nil {
				continue
			}

			switch val := occ.(type) {
			case float64:
				hours[hour] = int(val)
			case int:
				hours[hour] = val
			}
		}

		if len(hours) > 0 {
			out[day] = hours
		}
	}

	return out
}
