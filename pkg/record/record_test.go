package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEmptyAndPartial(t *testing.T) {
	r := &Record{ReleaseID: "1"}
	assert.True(t, r.Empty())
	assert.False(t, r.Partial())

	r.Detail = &DetailFragment{}
	assert.False(t, r.Empty())
	assert.True(t, r.Partial())

	r.Stats = &StatsFragment{}
	r.Sellers = &SellerFragment{}
	assert.False(t, r.Partial())
}

func TestRecordJSONOmitsMissingFragments(t *testing.T) {
	have := 12
	r := &Record{
		ReleaseID: "249504",
		Detail:    &DetailFragment{Have: &have},
		Sellers:   &SellerFragment{Listings: []Listing{}},
	}

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Contains(t, m, "detail")
	assert.Contains(t, m, "sellers")
	assert.NotContains(t, m, "stats")
	assert.Equal(t, float64(12), m["detail"].(map[string]any)["have"])
	assert.NotContains(t, m["detail"], "want")
}

func TestDocuments(t *testing.T) {
	docs := Documents([]*Record{{ReleaseID: "a"}, {ReleaseID: "b"}})
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[1].Key())
	assert.Equal(t, KindHarvest, docs[0].Kind())
	assert.Equal(t, KindRelease, (&Release{ID: "9"}).Kind())
}
