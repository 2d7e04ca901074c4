package wire

// InlineState is the subset of a place page's embedded app-state payload the
// crawler consumes without extra network calls.
type InlineState struct {
	Score       float64
	ReviewCount int
	Reviews     []Review
}

// App-state accessor paths. The detail array inside the embedded payload has
// the same shape as the detail sub-array of a search result.
const (
	idxStateDetail = 6

	idxInlineRev1 = 175
	idxInlineRev2 = 9
	idxInlineRev  = 0
)

// DecodeInlineState decodes the app-state blob a place page embeds in its
// initial HTML. The blob is a framed array whose element 6 is the place's
// detail array; inline reviews sit under detail[175][9], each wrapping the
// positional review array at index 0.
func DecodeInlineState(raw []byte, mode TranslationMode) (state *InlineState, err error) {
	defer recoverDecode("inline app state", &err)

	root, err := parseFramedArray("inline app state", raw)
	if err != nil {
		return nil, err
	}

	detail := getNthElementAndCast[[]any](root, idxStateDetail)
	if len(detail) == 0 {
		return nil, decodeErrf("inline app state", "%w: no detail array", ErrMalformedEnvelope)
	}

	state = &InlineState{
		Score:       getNthElementAndCast[float64](detail, idxScore1, idxScore2),
		ReviewCount: int(getNthElementAndCast[float64](detail, idxScore1, idxCount2)),
	}

	inline := getNthElementAndCast[[]any](detail, idxInlineRev1, idxInlineRev2)
	for i := range inline {
		item := getNthElementAndCast[[]any](inline, i, idxInlineRev)
		if len(item) == 0 {
			continue
		}

		state.Reviews = append(state.Reviews, reviewFromItem(item, mode))
	}

	return state, nil
}
