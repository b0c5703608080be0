package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestQualityUnmarshalNormalizesAliases(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Quality
	}{
		{
			name: "canonical",
			in:   `{"quality":"720","lastSegmentUrl":"https://cdn/v/segment-40.ts","segmentCount":40}`,
			want: Quality{Quality: "720", LastSegmentUrl: "https://cdn/v/segment-40.ts", SegmentCount: 40},
		},
		{
			name: "label and snake_case url",
			in:   `{"label":"1080","last_segment_url":"https://cdn/v/segment-12.ts","segment_count":12}`,
			want: Quality{Quality: "1080", LastSegmentUrl: "https://cdn/v/segment-12.ts", SegmentCount: 12},
		},
		{
			name: "bare url field",
			in:   `{"quality":"480","url":"https://cdn/v/segment-8.ts"}`,
			want: Quality{Quality: "480", LastSegmentUrl: "https://cdn/v/segment-8.ts"},
		},
		{
			name: "canonical wins over alias",
			in:   `{"quality":"720","label":"old","lastSegmentUrl":"https://a/segment-3.ts","url":"https://b/segment-3.ts"}`,
			want: Quality{Quality: "720", LastSegmentUrl: "https://a/segment-3.ts"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got Quality
			require.NoError(t, json.Unmarshal([]byte(tc.in), &got))
			require.Equal(t, tc.want, got)
		})
	}
}

func TestQualityListScanRoundtrip(t *testing.T) {
	list := QualityList{
		{Quality: "720", LastSegmentUrl: "https://cdn/v/segment-40.ts", SegmentCount: 40},
		{Quality: "1080", LastSegmentUrl: "https://cdn/v/hd/segment-40.ts", SegmentCount: 40},
	}

	value, err := list.Value()
	require.NoError(t, err)

	var decoded QualityList
	require.NoError(t, decoded.Scan(value))
	require.Equal(t, list, decoded)

	q, ok := decoded.Find("1080")
	require.True(t, ok)
	require.Equal(t, "https://cdn/v/hd/segment-40.ts", q.LastSegmentUrl)

	_, ok = decoded.Find("360")
	require.False(t, ok)
}

func TestQualityListScanLegacyRecords(t *testing.T) {
	// Rows written by the old backend still decode.
	raw := `[{"label":"720","url":"https://cdn/v/segment-40.ts","segment_count":40}]`

	var decoded QualityList
	require.NoError(t, decoded.Scan([]byte(raw)))
	require.Len(t, decoded, 1)
	require.Equal(t, Quality{Quality: "720", LastSegmentUrl: "https://cdn/v/segment-40.ts", SegmentCount: 40}, decoded[0])
}

func TestVideoResultPlaceholder(t *testing.T) {
	now := time.Now()
	ok := true

	list := VideoResultList{
		{VideoId: uuid.New()},
		{VideoId: uuid.New(), Ok: &ok, ProcessedAt: &now},
	}

	require.True(t, list[0].Placeholder())
	require.False(t, list[1].Placeholder())
	require.Equal(t, 1, list.Processed())
}

func TestVideoResultListNilValue(t *testing.T) {
	var list VideoResultList
	value, err := list.Value()
	require.NoError(t, err)
	require.Equal(t, "[]", value)

	var decoded VideoResultList
	require.NoError(t, decoded.Scan(nil))
	require.Nil(t, decoded)
}
