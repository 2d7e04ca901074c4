package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// sparse builds a positional array of the given size with only the listed
// indices populated, mirroring the service's heavily nil-padded payloads.
func sparse(size int, vals map[int]any) []any {
	out := make([]any, size)
	for i, v := range vals {
		out[i] = v
	}

	return out
}

func testDetail(placeID, title string, lat, lng float64) []any {
	return sparse(200, map[int]any{
		idxTitle: title,
		idxScore1: sparse(9, map[int]any{
			idxScore2: 4.5,
			idxCount2: float64(120),
		}),
		idxCoords: sparse(4, map[int]any{
			idxLat: lat,
			idxLng: lng,
		}),
		idxPlaceID: placeID,
		idxAddress1: sparse(2, map[int]any{
			idxAddress2: []any{"Downtown", "1 Main St", nil, "Springfield", "12345", "IL", "US"},
		}),
	})
}

func frameSearchBody(t *testing.T, root []any) []byte {
	t.Helper()

	inner, err := json.Marshal(root)
	require.NoError(t, err)

	body, err := json.Marshal(searchEnvelope{D: securityPrefix + string(inner)})
	require.NoError(t, err)

	return append([]byte(xssGuard), body...)
}

func TestDecodeSearchPage(t *testing.T) {
	organic := []any{
		sparse(1, nil), // listing metadata, never a result
		sparse(15, map[int]any{idxDetail: testDetail("place-1", "First Cafe", 40.12345678, -73.98765432)}),
		sparse(15, map[int]any{idxDetail: testDetail("place-2", "Second Cafe", 41.0, -74.0)}),
		sparse(15, nil), // no detail sub-array
	}
	ads := []any{
		sparse(15, map[int]any{idxDetail: testDetail("ad-1", "Sponsored Cafe", 42.0, -75.0)}),
	}
	root := sparse(3, map[int]any{
		0: sparse(2, map[int]any{1: organic}),
		2: sparse(2, map[int]any{1: ads}),
	})

	page, err := DecodeSearchPage(frameSearchBody(t, root))
	require.NoError(t, err)

	require.Len(t, page.Organic, 2)
	require.Len(t, page.Ads, 1)
	require.Equal(t, 1, page.SkippedNoDetail)

	first := page.Organic[0]
	require.Equal(t, "place-1", first.PlaceID)
	require.Equal(t, "First Cafe", first.Title)
	require.False(t, first.IsAdvertisement)
	require.InDelta(t, 4.5, first.Score, 1e-9)
	require.Equal(t, 120, first.ReviewCount)

	require.NotNil(t, first.Coordinates)
	require.Equal(t, 40.1234568, first.Coordinates.Lat)
	require.Equal(t, -73.9876543, first.Coordinates.Lng)

	require.NotNil(t, first.AddressParsed)
	require.Equal(t, "Downtown", first.AddressParsed.Neighborhood)
	require.Equal(t, "1 Main St", first.AddressParsed.Street)
	require.Equal(t, "Springfield", first.AddressParsed.City)
	require.Equal(t, "12345", first.AddressParsed.PostalCode)
	require.Equal(t, "IL", first.AddressParsed.State)
	require.Equal(t, "US", first.AddressParsed.CountryCode)

	require.Equal(t, "ad-1", page.Ads[0].PlaceID)
	require.True(t, page.Ads[0].IsAdvertisement)
}

func TestDecodeSearchPageBareArray(t *testing.T) {
	organic := []any{
		sparse(1, nil),
		sparse(15, map[int]any{idxDetail: testDetail("place-1", "Cafe", 1, 2)}),
	}
	root := sparse(3, map[int]any{0: sparse(2, map[int]any{1: organic})})

	inner, err := json.Marshal(root)
	require.NoError(t, err)

	page, err := DecodeSearchPage(append([]byte(securityPrefix), inner...))
	require.NoError(t, err)
	require.Len(t, page.Organic, 1)
	require.Empty(t, page.Ads)
}

func TestDecodeSearchPageMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":          nil,
		"truncated json": []byte(`)]}'[[1,`),
		"empty envelope": []byte(`{"d": ""}`),
		"not json":       []byte(`<html>rate limited</html>`),
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSearchPage(body)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrMalformedEnvelope)

			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestGetNthElementAndCast(t *testing.T) {
	arr := []any{"a", []any{nil, []any{float64(7)}}}

	require.Equal(t, "a", getNthElementAndCast[string](arr, 0))
	require.InDelta(t, 7, getNthElementAndCast[float64](arr, 1, 1, 0), 1e-9)

	require.Empty(t, getNthElementAndCast[string](arr, 5))
	require.Empty(t, getNthElementAndCast[string](arr, 1, 0, 3))
	require.Zero(t, getNthElementAndCast[float64](arr, 0))
	require.Empty(t, getNthElementAndCast[string](arr))
}

func TestSplitTranslation(t *testing.T) {
	text := "(Translated by Google) Bonjour\n\n(Original)\nHello"

	primary, translated := splitTranslation(text, TranslationOnlyOriginal)
	require.Equal(t, "Hello", primary)
	require.Empty(t, translated)

	primary, translated = splitTranslation(text, TranslationOnlyTranslated)
	require.Equal(t, "Bonjour", primary)
	require.Empty(t, translated)

	primary, translated = splitTranslation(text, TranslationOriginalAndTranslated)
	require.Equal(t, "Hello", primary)
	require.Equal(t, "Bonjour", translated)
}

func TestSplitTranslationNoMarker(t *testing.T) {
	primary, translated := splitTranslation("plain text", TranslationOnlyTranslated)
	require.Equal(t, "plain text", primary)
	require.Empty(t, translated)
}

func TestSplitTranslationEmptyTranslatedHalf(t *testing.T) {
	primary, _ := splitTranslation("(Translated by Google)\n\n(Original)\nHola", TranslationOnlyTranslated)
	require.Equal(t, "Hola", primary)
}

func testReviewItem(id, name, text string) []any {
	return sparse(30, map[int]any{
		idxReviewerBl:  []any{"rid-" + id, name, "https://example.com/u/" + id},
		idxPublishedAt: "2 months ago",
		idxReviewText:  text,
		idxStars:       float64(4),
		idxOwnerBlock:  sparse(2, map[int]any{idxOwnerText: "thanks!"}),
		idxReviewID:    id,
		idxLikes:       float64(3),
		idxReviewURL:   "https://example.com/r/" + id,
		idxRating:      float64(4),
	})
}

func TestDecodeReviews(t *testing.T) {
	root := sparse(3, map[int]any{
		idxReviewList: []any{
			testReviewItem("r1", "Alice", "great spot"),
			testReviewItem("r2", "Bob", "decent"),
		},
	})

	inner, err := json.Marshal(root)
	require.NoError(t, err)

	reviews, err := DecodeReviews(append([]byte(securityPrefix), inner...), TranslationOnlyOriginal)
	require.NoError(t, err)
	require.Len(t, reviews, 2)

	r := reviews[0]
	require.NotNil(t, r.ReviewID)
	require.Equal(t, "r1", *r.ReviewID)
	require.NotNil(t, r.Name)
	require.Equal(t, "Alice", *r.Name)
	require.NotNil(t, r.ReviewerID)
	require.Equal(t, "rid-r1", *r.ReviewerID)
	require.NotNil(t, r.Text)
	require.Equal(t, "great spot", *r.Text)
	require.InDelta(t, 4, r.Stars, 1e-9)
	require.Equal(t, 3, r.LikesCount)
	require.NotNil(t, r.ResponseFromOwnerText)
	require.Equal(t, "thanks!", *r.ResponseFromOwnerText)
}

func TestDecodeReviewsEmptyPage(t *testing.T) {
	inner, err := json.Marshal(sparse(3, nil))
	require.NoError(t, err)

	reviews, err := DecodeReviews(append([]byte(securityPrefix), inner...), TranslationOnlyOriginal)
	require.NoError(t, err)
	require.Empty(t, reviews)
}

func TestRedactReviews(t *testing.T) {
	root := sparse(3, map[int]any{
		idxReviewList: []any{testReviewItem("r1", "Alice", "great spot")},
	})

	inner, err := json.Marshal(root)
	require.NoError(t, err)

	reviews, err := DecodeReviews(append([]byte(securityPrefix), inner...), TranslationOnlyOriginal)
	require.NoError(t, err)

	RedactReviews(reviews, PersonalDataOptions{})

	r := reviews[0]
	require.Nil(t, r.Name)
	require.Nil(t, r.ReviewerID)
	require.Nil(t, r.ReviewerURL)
	require.Nil(t, r.ReviewID)
	require.Nil(t, r.ReviewURL)
	require.Nil(t, r.ResponseFromOwnerText)

	require.NotNil(t, r.Text)
	require.InDelta(t, 4, r.Stars, 1e-9)
}

func TestRedactedReviewSerializesNull(t *testing.T) {
	root := sparse(3, map[int]any{
		idxReviewList: []any{testReviewItem("r1", "Alice", "great spot")},
	})

	inner, err := json.Marshal(root)
	require.NoError(t, err)

	reviews, err := DecodeReviews(append([]byte(securityPrefix), inner...), TranslationOnlyOriginal)
	require.NoError(t, err)

	RedactReviews(reviews, PersonalDataOptions{})

	out, err := json.Marshal(reviews[0])
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &fields))

	for _, key := range []string{"reviewId", "reviewUrl", "reviewerId", "name", "reviewerUrl"} {
		require.Equal(t, "null", string(fields[key]), key)
	}
}

func TestDecodeInlineState(t *testing.T) {
	detail := sparse(200, map[int]any{
		idxScore1: sparse(9, map[int]any{
			idxScore2: 4.2,
			idxCount2: float64(37),
		}),
		idxInlineRev1: sparse(10, map[int]any{
			idxInlineRev2: []any{
				[]any{testReviewItem("r1", "Alice", "inline one")},
				[]any{testReviewItem("r2", "Bob", "inline two")},
			},
		}),
	})
	root := sparse(7, map[int]any{idxStateDetail: detail})

	inner, err := json.Marshal(root)
	require.NoError(t, err)

	state, err := DecodeInlineState(append([]byte(securityPrefix), inner...), TranslationOnlyOriginal)
	require.NoError(t, err)

	require.InDelta(t, 4.2, state.Score, 1e-9)
	require.Equal(t, 37, state.ReviewCount)
	require.Len(t, state.Reviews, 2)
	require.NotNil(t, state.Reviews[0].ReviewID)
	require.Equal(t, "r1", *state.Reviews[0].ReviewID)
}

func TestDecodeInlineStateNoDetail(t *testing.T) {
	inner, err := json.Marshal(sparse(7, nil))
	require.NoError(t, err)

	_, err = DecodeInlineState(append([]byte(securityPrefix), inner...), TranslationOnlyOriginal)
	require.Error(t, err)
}

func TestCursorTokens(t *testing.T) {
	tmpl := "https://example.com/reviews?pb=!1m2!2m1!2s0x0:0x1!2m2!1i30!2i10!3e1"

	require.Equal(t, 30, Offset(tmpl))

	reset := ResetOffset(tmpl)
	require.Equal(t, 0, Offset(reset))

	cur := reset
	for i := 0; i < 3; i++ {
		cur = AdvanceOffset(cur, ReviewPageSize)
	}

	require.Equal(t, 30, Offset(cur))
	// everything outside the offset token is untouched
	require.Equal(t, tmpl, cur)

	sorted := SetSort(cur, SortNewest)
	require.Contains(t, sorted, "!3e2")
	require.NotContains(t, sorted, "!3e1")
}

func TestOffsetMissingToken(t *testing.T) {
	require.Zero(t, Offset("https://example.com/reviews?pb=!2i10"))
}
