package wire

import (
	"fmt"
	"regexp"
	"strconv"
)

// ReviewPageSize is how many reviews the paginated endpoint returns per call.
const ReviewPageSize = 10

// Review sort orders accepted by the paginated endpoint.
type ReviewSort int

const (
	SortMostRelevant ReviewSort = iota + 1
	SortNewest
	SortHighestRanking
	SortLowestRanking
)

var (
	offsetTokenRe = regexp.MustCompile(`!1i(-?\d+)`)
	sortTokenRe   = regexp.MustCompile(`!3e\d+`)
)

// Offset reads the pagination offset token out of a captured request URL
// template. A template without the token reads as offset 0.
func Offset(urlTemplate string) int {
	m := offsetTokenRe.FindStringSubmatch(urlTemplate)
	if m == nil {
		return 0
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}

	return n
}

// ResetOffset rewrites the offset token to 0 so pagination starts from the
// first page regardless of where the captured request happened to point.
func ResetOffset(urlTemplate string) string {
	return offsetTokenRe.ReplaceAllString(urlTemplate, "!1i0")
}

// AdvanceOffset moves the offset token forward by step. Everything else in
// the template is preserved byte for byte.
func AdvanceOffset(urlTemplate string, step int) string {
	return offsetTokenRe.ReplaceAllStringFunc(urlTemplate, func(tok string) string {
		cur, _ := strconv.Atoi(offsetTokenRe.FindStringSubmatch(tok)[1])
		return fmt.Sprintf("!1i%d", cur+step)
	})
}

// SetSort rewrites the sort token in the template.
func SetSort(urlTemplate string, sort ReviewSort) string {
	return sortTokenRe.ReplaceAllString(urlTemplate, fmt.Sprintf("!3e%d", int(sort)))
}
