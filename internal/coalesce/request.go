package coalesce

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/codec"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// Resolver finds a loaded cache by name.
type Resolver func(name string) (cache.Cache, bool)

// Request is a decoded coalesce call.
type Request struct {
	Subqueries []Subquery
	Options    Options
}

// DecodeRequest parses a JSON coalesce call:
//
//	{"subqueries": [{"cache": "name", "mask": 1, "idx": 0, "zoom": 14,
//	  "weight": 1, "phrase": "main st", "prefix": 0, "languages": [0],
//	  "extended_scan": false}],
//	 "options": {"radius": 40, "bboxzxy": [z, minX, minY, maxX, maxY],
//	  "centerzxy": [z, x, y]}}
//
// Each field is checked on its own and the first failure names the field
// and whether it is missing, of the wrong type or too large for its width.
func DecodeRequest(data []byte, resolve Resolver) (*Request, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return nil, apperrors.Invalid("request must be a JSON object")
	}

	var items []json.RawMessage
	raw, ok := top["subqueries"]
	if !ok || json.Unmarshal(raw, &items) != nil || items == nil {
		return nil, apperrors.Invalid("subqueries must be a subquery array")
	}
	if len(items) == 0 {
		return nil, apperrors.Invalid("subqueries must be an array with one or more subqueries")
	}

	req := &Request{Subqueries: make([]Subquery, 0, len(items))}
	for i, item := range items {
		sq, err := decodeSubquery(item, resolve)
		if err != nil {
			return nil, apperrors.Invalid("subqueries[%d]: %s", i, message(err))
		}
		req.Subqueries = append(req.Subqueries, sq)
	}

	if raw, ok := top["options"]; ok {
		opts, err := decodeOptions(raw)
		if err != nil {
			return nil, err
		}
		req.Options = opts
	}
	if err := Validate(req.Subqueries, req.Options); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeSubquery(raw json.RawMessage, resolve Resolver) (Subquery, error) {
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil || obj == nil {
		return Subquery{}, apperrors.Invalid("all items in array must be valid subquery objects")
	}

	var (
		sq  Subquery
		err error
		n   uint64
	)
	if n, err = uintField(obj, "idx", codec.MaxRelevIdx); err != nil {
		return Subquery{}, err
	}
	sq.Idx = uint32(n)
	if n, err = uintField(obj, "zoom", codec.MaxZoom); err != nil {
		return Subquery{}, err
	}
	sq.Zoom = uint32(n)
	if sq.Mask, err = uintField(obj, "mask", math.MaxUint64); err != nil {
		return Subquery{}, err
	}

	w, ok := obj["weight"]
	if !ok {
		return Subquery{}, apperrors.Invalid("missing weight property")
	}
	if !isNumber(w) || json.Unmarshal(w, &sq.Weight) != nil {
		return Subquery{}, apperrors.Invalid("weight value must be a number")
	}
	if sq.Weight < 0 {
		return Subquery{}, apperrors.Invalid("encountered weight value out of range: %v", sq.Weight)
	}

	p, ok := obj["phrase"]
	if !ok {
		return Subquery{}, apperrors.Invalid("missing phrase property")
	}
	if json.Unmarshal(p, &sq.Phrase) != nil || !bytes.HasPrefix(bytes.TrimSpace(p), []byte(`"`)) {
		return Subquery{}, apperrors.Invalid("phrase value must be a string")
	}
	if sq.Phrase == "" {
		return Subquery{}, apperrors.Invalid("encountered invalid phrase")
	}

	if _, ok := obj["prefix"]; !ok {
		return Subquery{}, apperrors.Invalid("missing prefix property")
	}
	prefix, err := uintField(obj, "prefix", uint64(cache.PrefixOnly))
	if err != nil {
		return Subquery{}, apperrors.Invalid("prefix value must be an integer between 0 - 2")
	}
	sq.Prefix = cache.PrefixMode(prefix)

	c, ok := obj["cache"]
	if !ok {
		return Subquery{}, apperrors.Invalid("missing cache property")
	}
	var name string
	if json.Unmarshal(c, &name) != nil || name == "" {
		return Subquery{}, apperrors.Invalid("cache value must be a Cache object name")
	}
	if sq.Cache, ok = resolve(name); !ok {
		return Subquery{}, apperrors.Invalid("cache value must be a Cache object: no cache named %q", name)
	}

	if l, ok := obj["languages"]; ok && !isNull(l) {
		var ids []uint32
		if err := json.Unmarshal(l, &ids); err != nil {
			return Subquery{}, apperrors.Invalid("languages must be an array of language ids")
		}
		langs, err := cache.Languages(ids...)
		if err != nil {
			return Subquery{}, apperrors.Invalid("encountered language id too large to fit: %v", err)
		}
		sq.Languages = &langs
	}
	if x, ok := obj["extended_scan"]; ok && !isNull(x) {
		if json.Unmarshal(x, &sq.ExtendedScan) != nil {
			return Subquery{}, apperrors.Invalid("extended_scan value must be a boolean")
		}
	}
	return sq, nil
}

func decodeOptions(raw json.RawMessage) (Options, error) {
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil || obj == nil {
		return Options{}, apperrors.Invalid("options must be an object")
	}

	var opts Options
	if r, ok := obj["radius"]; ok {
		if !isNumber(r) || json.Unmarshal(r, &opts.Radius) != nil {
			return Options{}, apperrors.Invalid("radius must be a number")
		}
		if opts.Radius < 0 || opts.Radius > math.MaxUint32 {
			return Options{}, apperrors.Invalid("encountered radius too large to fit in uint32")
		}
	}
	if b, ok := obj["bboxzxy"]; ok {
		v, err := uintArray(b, "bboxzxy", 5)
		if err != nil {
			return Options{}, err
		}
		opts.BBox = &BBox{Zoom: v[0], MinX: v[1], MinY: v[2], MaxX: v[3], MaxY: v[4]}
	}
	if c, ok := obj["centerzxy"]; ok {
		v, err := uintArray(c, "centerzxy", 3)
		if err != nil {
			return Options{}, err
		}
		opts.Center = &Center{Zoom: v[0], X: v[1], Y: v[2]}
	}
	return opts, nil
}

// uintField reads a non-negative integer no greater than limit.
func uintField(obj map[string]json.RawMessage, name string, limit uint64) (uint64, error) {
	raw, ok := obj[name]
	if !ok {
		return 0, apperrors.Invalid("missing %s property", name)
	}
	if !isNumber(raw) {
		return 0, apperrors.Invalid("%s value must be a number", name)
	}
	s := string(bytes.TrimSpace(raw))
	if strings.ContainsAny(s, ".eE") {
		return 0, apperrors.Invalid("%s value must be an integer", name)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n > limit {
		return 0, apperrors.Invalid("encountered %s value too large to fit: %s exceeds %d", name, s, limit)
	}
	return n, nil
}

func uintArray(raw json.RawMessage, name string, size int) ([]uint32, error) {
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil || items == nil {
		return nil, apperrors.Invalid("%s must be an array", name)
	}
	if len(items) != size {
		return nil, apperrors.Invalid("%s must be an array of %d numbers", name, size)
	}
	out := make([]uint32, size)
	for i, item := range items {
		if !isNumber(item) {
			return nil, apperrors.Invalid("%s values must be number", name)
		}
		s := string(bytes.TrimSpace(item))
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, apperrors.Invalid("encountered %s value too large to fit in uint32: %s", name, s)
		}
		out[i] = uint32(n)
	}
	return out, nil
}

func isNumber(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	if len(s) == 0 || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid(s)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
