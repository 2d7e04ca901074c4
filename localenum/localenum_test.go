package localenum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForLocaleEnglish(t *testing.T) {
	p := ForLocale("en-US")

	n, ok := p.ParseInt("1,234")
	require.True(t, ok)
	require.Equal(t, 1234, n)

	n, ok = p.ParseInt("12")
	require.True(t, ok)
	require.Equal(t, 12, n)
}

func TestForLocaleGerman(t *testing.T) {
	p := ForLocale("de")

	n, ok := p.ParseInt("1.234")
	require.True(t, ok)
	require.Equal(t, 1234, n)
}

func TestForLocaleFrenchNonBreakingSpace(t *testing.T) {
	p := ForLocale("fr-FR")

	n, ok := p.ParseInt("1 234")
	require.True(t, ok)
	require.Equal(t, 1234, n)
}

func TestHeuristicFallback(t *testing.T) {
	p := ForLocale("xx")

	n, ok := p.ParseInt("9 876")
	require.True(t, ok)
	require.Equal(t, 9876, n)

	_, ok = p.ParseInt("no digits")
	require.False(t, ok)
}

func TestParseIntStopsAtDecimalMark(t *testing.T) {
	// "4.5" rendered as a rating, not a count
	p := ForLocale("en")

	n, ok := p.ParseInt("4.5")
	require.True(t, ok)
	require.Equal(t, 4, n)
}

func TestParseIntTrailingText(t *testing.T) {
	p := ForLocale("en")

	n, ok := p.ParseInt("1,234 reviews")
	require.True(t, ok)
	require.Equal(t, 1234, n)
}
