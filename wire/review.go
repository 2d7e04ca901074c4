package wire

import (
	"strings"
)

// TranslationMode selects which half of a machine-translated review text is
// kept when the service returns both the translation and the original.
type TranslationMode string

const (
	TranslationOnlyOriginal          TranslationMode = "onlyOriginal"
	TranslationOnlyTranslated        TranslationMode = "onlyTranslated"
	TranslationOriginalAndTranslated TranslationMode = "originalAndTranslated"
)

// Review is one user review. Personal fields are pointers so redaction can
// drop them without losing the distinction between "absent" and "empty".
type Review struct {
	ReviewID              *string `json:"reviewId"`
	ReviewerID            *string `json:"reviewerId"`
	Name                  *string `json:"name"`
	ReviewerURL           *string `json:"reviewerUrl"`
	ReviewURL             *string `json:"reviewUrl"`
	PublishedAtDate       string  `json:"publishedAtDate"`
	Text                  *string `json:"text"`
	TextTranslated        *string `json:"textTranslated,omitempty"`
	Stars                 float64 `json:"stars"`
	Rating                float64 `json:"rating"`
	LikesCount            int     `json:"likesCount"`
	ResponseFromOwnerText *string `json:"responseFromOwnerText"`
}

// PersonalDataOptions gates which personal fields survive extraction.
type PersonalDataOptions struct {
	ScrapeReviewerName bool
	ScrapeReviewerID   bool
	ScrapeReviewerURL  bool
	ScrapeReviewID     bool
	ScrapeReviewURL    bool
	ScrapeResponse     bool
}

// AllPersonalData keeps every personal field.
func AllPersonalData() PersonalDataOptions {
	return PersonalDataOptions{
		ScrapeReviewerName: true,
		ScrapeReviewerID:   true,
		ScrapeReviewerURL:  true,
		ScrapeReviewID:     true,
		ScrapeReviewURL:    true,
		ScrapeResponse:     true,
	}
}

// Per-review accessor paths within the reviews endpoint body.
const (
	idxReviewList = 2

	idxReviewID    = 10
	idxReviewerBl  = 0
	idxReviewerID  = 0
	idxReviewerNm  = 1
	idxReviewerURL = 2
	idxPublishedAt = 1
	idxReviewText  = 3
	idxStars       = 4
	idxOwnerBlock  = 9
	idxOwnerText   = 1
	idxRating      = 25
	idxLikes       = 16
	idxReviewURL   = 18
)

// translationMarker separates the translated half from the original half of
// a review text the service translated on the fly.
const translationMarker = "\n\n(Original)\n"

const translatedByPrefix = "(Translated by Google)"

// DecodeReviews decodes one page from the paginated reviews endpoint. The
// review list sits at root[2]; an empty list means the cursor ran past the
// last page.
func DecodeReviews(raw []byte, mode TranslationMode) (reviews []Review, err error) {
	defer recoverDecode("reviews page", &err)

	root, err := parseFramedArray("reviews page", raw)
	if err != nil {
		return nil, err
	}

	items := getNthElementAndCast[[]any](root, idxReviewList)

	reviews = make([]Review, 0, len(items))

	for i := range items {
		item := getNthElementAndCast[[]any](items, i)
		if len(item) == 0 {
			continue
		}

		reviews = append(reviews, reviewFromItem(item, mode))
	}

	return reviews, nil
}

// ReviewFromArray decodes a single positional review array, as found both in
// the reviews endpoint and inlined in a place page's app state.
func ReviewFromArray(item []any, mode TranslationMode) Review {
	return reviewFromItem(item, mode)
}

func reviewFromItem(item []any, mode TranslationMode) Review {
	r := Review{
		PublishedAtDate: getNthElementAndCast[string](item, idxPublishedAt),
		Stars:           getNthElementAndCast[float64](item, idxStars),
		Rating:          getNthElementAndCast[float64](item, idxRating),
		LikesCount:      int(getNthElementAndCast[float64](item, idxLikes)),
	}

	if v := getNthElementAndCast[string](item, idxReviewID); v != "" {
		r.ReviewID = &v
	}

	if v := getNthElementAndCast[string](item, idxReviewURL); v != "" {
		r.ReviewURL = &v
	}

	if v := getNthElementAndCast[string](item, idxReviewerBl, idxReviewerID); v != "" {
		r.ReviewerID = &v
	}

	if v := getNthElementAndCast[string](item, idxReviewerBl, idxReviewerNm); v != "" {
		r.Name = &v
	}

	if v := getNthElementAndCast[string](item, idxReviewerBl, idxReviewerURL); v != "" {
		r.ReviewerURL = &v
	}

	if v := getNthElementAndCast[string](item, idxOwnerBlock, idxOwnerText); v != "" {
		r.ResponseFromOwnerText = &v
	}

	text, translated := splitTranslation(getNthElementAndCast[string](item, idxReviewText), mode)
	if text != "" {
		r.Text = &text
	}

	if translated != "" {
		r.TextTranslated = &translated
	}

	return r
}

// splitTranslation resolves a possibly machine-translated review text per
// the requested mode. The first return value is the primary text, the second
// is only set in originalAndTranslated mode.
func splitTranslation(text string, mode TranslationMode) (primary, translated string) {
	idx := strings.Index(text, translationMarker)
	if idx < 0 {
		return text, ""
	}

	translatedHalf := strings.TrimSpace(strings.TrimPrefix(
		strings.TrimSpace(text[:idx]), translatedByPrefix))
	originalHalf := strings.TrimSpace(text[idx+len(translationMarker):])

	switch mode {
	case TranslationOnlyOriginal:
		return originalHalf, ""
	case TranslationOnlyTranslated:
		if translatedHalf == "" {
			return originalHalf, ""
		}

		return translatedHalf, ""
	case TranslationOriginalAndTranslated:
		return originalHalf, translatedHalf
	default:
		return originalHalf, ""
	}
}

// Redact drops the personal fields the options exclude. It mutates the
// receiver so callers can redact in place right after decoding.
func (r *Review) Redact(opts PersonalDataOptions) {
	if !opts.ScrapeReviewerName {
		r.Name = nil
	}

	if !opts.ScrapeReviewerID {
		r.ReviewerID = nil
	}

	if !opts.ScrapeReviewerURL {
		r.ReviewerURL = nil
	}

	if !opts.ScrapeReviewID {
		r.ReviewID = nil
	}

	if !opts.ScrapeReviewURL {
		r.ReviewURL = nil
	}

	if !opts.ScrapeResponse {
		r.ResponseFromOwnerText = nil
	}
}

// RedactReviews applies Redact to every review in the slice.
func RedactReviews(reviews []Review, opts PersonalDataOptions) {
	for i := range reviews {
		reviews[i].Redact(opts)
	}
}
