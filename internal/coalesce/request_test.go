package coalesce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

func resolver(caches ...cache.Cache) Resolver {
	return func(name string) (cache.Cache, bool) {
		for _, c := range caches {
			if c.ID() == name {
				return c, true
			}
		}
		return nil, false
	}
}

func TestDecodeRequest(t *testing.T) {
	a := cache.NewMemory("a")
	req, err := DecodeRequest([]byte(`{
		"subqueries": [
			{"cache": "a", "mask": 2, "idx": 0, "zoom": 1, "weight": 0.5, "phrase": "main st", "prefix": 1},
			{"cache": "a", "mask": 1, "idx": 1, "zoom": 14, "weight": 0.5, "phrase": "1", "prefix": 0,
			 "languages": [0, 3], "extended_scan": true}
		],
		"options": {"radius": 20, "bboxzxy": [2, 0, 0, 3, 3], "centerzxy": [14, 4601, 6200]}
	}`), resolver(a))
	require.NoError(t, err)
	require.Len(t, req.Subqueries, 2)

	first := req.Subqueries[0]
	assert.Equal(t, uint64(2), first.Mask)
	assert.Equal(t, uint32(1), first.Zoom)
	assert.Equal(t, "main st", first.Phrase)
	assert.Equal(t, cache.PrefixExtend, first.Prefix)
	assert.Nil(t, first.Languages)
	assert.Same(t, a, first.Cache.(*cache.MemoryCache))

	second := req.Subqueries[1]
	require.NotNil(t, second.Languages)
	assert.Equal(t, []uint32{0, 3}, second.Languages.IDs())
	assert.True(t, second.ExtendedScan)

	assert.Equal(t, 20.0, req.Options.Radius)
	assert.Equal(t, &BBox{Zoom: 2, MinX: 0, MinY: 0, MaxX: 3, MaxY: 3}, req.Options.BBox)
	assert.Equal(t, &Center{Zoom: 14, X: 4601, Y: 6200}, req.Options.Center)
}

func TestDecodeRequestOptionsAreOptional(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"subqueries": [
		{"cache": "a", "mask": 1, "idx": 0, "zoom": 2, "weight": 1, "phrase": "a", "prefix": 0}
	]}`), resolver(cache.NewMemory("a")))
	require.NoError(t, err)
	assert.Equal(t, Options{}, req.Options)
}

func TestDecodeRequestErrors(t *testing.T) {
	valid := `{"cache": "a", "mask": 1, "idx": 0, "zoom": 2, "weight": 1, "phrase": "a", "prefix": 0}`
	with := func(field, value string) string {
		return `{"subqueries": [{"cache": "a", "mask": 1, "idx": 0, "zoom": 2, "weight": 1, "phrase": "a", "prefix": 0, "` +
			field + `": ` + value + `}]}`
	}
	withOpts := func(opts string) string {
		return `{"subqueries": [` + valid + `], "options": ` + opts + `}`
	}

	for _, tc := range []struct {
		body string
		msg  string
	}{
		{`[]`, "request must be a JSON object"},
		{`{}`, "subqueries must be a subquery array"},
		{`{"subqueries": null}`, "subqueries must be a subquery array"},
		{`{"subqueries": []}`, "subqueries must be an array with one or more"},
		{`{"subqueries": [-1]}`, "all items in array must be valid subquery objects"},
		{`{"subqueries": [null]}`, "all items in array must be valid subquery objects"},
		{`{"subqueries": [{}]}`, "missing idx property"},
		{with("idx", "-1"), "encountered idx value too large to fit"},
		{with("idx", "128"), "encountered idx value too large to fit"},
		{with("idx", "null"), "idx value must be a number"},
		{with("idx", "1.5"), "idx value must be an integer"},
		{with("zoom", "-1"), "encountered zoom value too large to fit"},
		{with("zoom", "null"), "zoom value must be a number"},
		{with("zoom", "15"), "encountered zoom value too large to fit"},
		{with("mask", "null"), "mask value must be a number"},
		{with("mask", "-1"), "encountered mask value too large to fit"},
		{with("mask", "0"), "mask value must be non-zero"},
		{with("weight", "null"), "weight value must be a number"},
		{with("weight", `"1"`), "weight value must be a number"},
		{with("weight", "-1"), "encountered weight value out of range"},
		{with("phrase", "null"), "phrase value must be a string"},
		{with("phrase", "7"), "phrase value must be a string"},
		{with("phrase", `""`), "encountered invalid phrase"},
		{with("prefix", "3"), "prefix value must be an integer between 0 - 2"},
		{with("prefix", `"1"`), "prefix value must be an integer between 0 - 2"},
		{with("cache", "null"), "cache value must be a Cache object"},
		{with("cache", "{}"), "cache value must be"},
		{with("cache", `"nope"`), "cache value must be a Cache object"},
		{with("languages", "[128]"), "encountered language id too large to fit"},
		{with("languages", `"en"`), "languages must be an array"},
		{with("extended_scan", "1"), "extended_scan value must be a boolean"},
		{`{"subqueries": [{"mask": 1, "idx": 1, "zoom": 1, "weight": 0.5, "phrase": "1", "prefix": 0}]}`, "missing cache property"},
		{`{"subqueries": [{"cache": "a", "idx": 1, "zoom": 1, "weight": 0.5, "phrase": "1", "prefix": 0}]}`, "missing mask property"},
		{`{"subqueries": [` + valid + `, {"cache": null}]}`, "subqueries[1]"},
		{withOpts(`null`), "options must be an object"},
		{withOpts(`[]`), "options must be an object"},
		{withOpts(`{"radius": null}`), "radius must be a number"},
		{withOpts(`{"radius": 5e9}`), "encountered radius too large to fit in uint32"},
		{withOpts(`{"bboxzxy": null}`), "bboxzxy must be an array"},
		{withOpts(`{"bboxzxy": [0, 0, 0, 0]}`), "bboxzxy must be an array of 5 numbers"},
		{withOpts(`{"bboxzxy": ["", 0, 0, 0, 0]}`), "bboxzxy values must be number"},
		{withOpts(`{"bboxzxy": [-1, 0, 0, 0, 0]}`), "encountered bboxzxy value too large to fit in uint32"},
		{withOpts(`{"bboxzxy": [4294967296, 0, 0, 0, 0]}`), "encountered bboxzxy value too large to fit in uint32"},
		{withOpts(`{"centerzxy": null}`), "centerzxy must be an array"},
		{withOpts(`{"centerzxy": ["", 0, 0]}`), "centerzxy values must be number"},
		{withOpts(`{"centerzxy": [0, 0]}`), "centerzxy must be an array of 3 numbers"},
		{withOpts(`{"centerzxy": [-1, 0, 0]}`), "encountered centerzxy value too large to fit in uint32"},
		{withOpts(`{"centerzxy": [4294967296, 0, 0]}`), "encountered centerzxy value too large to fit in uint32"},
		{withOpts(`{"centerzxy": [15, 0, 0]}`), "centerzxy zoom 15 exceeds 14"},
	} {
		_, err := DecodeRequest([]byte(tc.body), resolver(cache.NewMemory("a")))
		if assert.Error(t, err, tc.body) {
			assert.ErrorIs(t, err, apperrors.ErrInvalidArgument, tc.body)
			assert.Contains(t, err.Error(), tc.msg, tc.body)
		}
	}
}
