package processing_test

import (
	"testing"

	"github.com/DeafMist/filing-insight/internal/models"
	"github.com/DeafMist/filing-insight/internal/processing"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "punctuation", input: "Risk: supply-chain disruption!!", want: "Risk supply chain disruption"},
		{name: "collapse whitespace", input: "foo\n\nbar\t baz", want: "foo bar baz"},
		{name: "remove urls", input: "See https://www.sec.gov/filing for info", want: "See for info"},
		{name: "html entities", input: "R&amp;D spending", want: "R D spending"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := processing.CleanText(tt.input); got != tt.want {
				t.Fatalf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractKeywords(t *testing.T) {
	text := "Supply supply chain chain chain cyber and the risk"
	got := processing.ExtractKeywords(text, 3, 4)
	want := []string{"chain", "supply", "cyber"}
	require.Equal(t, want, got)

	require.Nil(t, processing.ExtractKeywords("", 5, 3))
}

func TestWordCloud(t *testing.T) {
	text := "Inflation inflation 2024 2024 2024 interest rates interest inflation"
	got := processing.WordCloud(text, 2, 3)
	require.Equal(t, []models.WordCloudTerm{
		{Text: "inflation", Value: 3},
		{Text: "interest", Value: 2},
	}, got)

	empty := processing.WordCloud("", 10, 3)
	require.NotNil(t, empty)
	require.Len(t, empty, 0)
}

func TestSameText(t *testing.T) {
	require.True(t, processing.SameText("We face\n\ncompetition.", "  We face competition. "))
	require.False(t, processing.SameText("We face competition.", "We face new competition."))
	require.True(t, processing.SameText("", "   "))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", processing.Truncate("abcdef", 3))
	require.Equal(t, "abc", processing.Truncate("abc", 10))
	require.Equal(t, "abcdef", processing.Truncate("abcdef", 0))
	require.Equal(t, "€€", processing.Truncate("€€€", 2))
}
