package ingestion

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"listings-hub/internal/model"
)

func TestReadJSONLSkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`{"listingId":"a","title":"Data Labeler","rateMin":20}`,
		``,
		`{"listingId":`,
		`{"title":"no id"}`,
		`{"listingId":42}`,
		`  {"listingId":"b","nested":{"k":[1,2]}}  `,
	}, "\n")

	got, err := ReadJSONL(strings.NewReader(input), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0]["listingId"])
	require.Equal(t, 20.0, got[0]["rateMin"])
	require.Equal(t, map[string]any{"k": []any{1.0, 2.0}}, got[1]["nested"])
}

func TestJSONLRoundTrip(t *testing.T) {
	listings := []model.FlattenedListing{
		{"listingId": "a", "rateRangeDisplay": "20 - 30", "note": "<b>&</b>"},
		{"listingId": "b", "rateRangeDisplay": nil},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, listings))
	require.Equal(t, 2, strings.Count(buf.String(), "\n"))
	require.Contains(t, buf.String(), "<b>&</b>")

	got, err := ReadJSONL(&buf, nil)
	require.NoError(t, err)
	require.Equal(t, listings, got)
}
