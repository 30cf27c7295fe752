// Package phraserelev scores how well stored phrases line up with a
// tokenized query and packs the outcome into relev records.
package phraserelev

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"slices"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/shard"
)

// Result lists the matching phrases best first, with each phrase's packed
// relev record.
type Result struct {
	Ranked []uint32          `json:"result"`
	Relevs map[uint32]uint64 `json:"relevs"`
}

// Callback receives the outcome of ScoreAsync.
type Callback func(*Result, error)

type Scorer struct {
	shardFn          shard.Func
	transposedCredit float64
	metrics          *metrics.Metrics
	logger           *slog.Logger
}

// New builds a Scorer. m may be nil.
func New(cfg config.PhraseRelevConfig, shardFn shard.Func, m *metrics.Metrics) *Scorer {
	credit := cfg.TransposedCredit
	if credit <= 0 || credit > 1 {
		credit = 0.99
	}
	return &Scorer{
		shardFn:          shardFn,
		transposedCredit: credit,
		metrics:          m,
		logger:           slog.Default().With("component", "phraserelev"),
	}
}

// Score reads each candidate phrase from the phrase namespace of c and
// scores it against q. Phrases with no matching term are left out.
func (s *Scorer) Score(ctx context.Context, c cache.Cache, phraseIDs []uint32, q Query) (*Result, error) {
	start := time.Now()
	for _, id := range phraseIDs {
		if id > codec.MaxRelevID {
			return nil, apperrors.Invalid("phrase id %d exceeds %d", id, codec.MaxRelevID)
		}
	}

	type scored struct {
		rec    codec.Relev
		packed uint64
	}
	out := make([]scored, 0, len(phraseIDs))
	seen := make(map[uint32]struct{}, len(phraseIDs))
	for _, id := range phraseIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		key := strconv.FormatUint(uint64(id), 10)
		terms, err := c.Get(ctx, cache.TypePhrase, s.shardFn(key), key)
		if err != nil {
			return nil, fmt.Errorf("reading phrase %d: %w", id, err)
		}
		if len(terms) == 0 {
			continue
		}
		rec, ok, err := s.scorePhrase(id, terms, q)
		if err != nil {
			return nil, fmt.Errorf("scoring phrase %d: %w", id, err)
		}
		if !ok {
			continue
		}
		packed, err := codec.EncodeRelev(rec)
		if err != nil {
			return nil, fmt.Errorf("packing phrase %d: %w", id, err)
		}
		// Rank on the stored precision.
		rec, _ = codec.DecodeRelev(packed)
		out = append(out, scored{rec: rec, packed: packed})
	}

	slices.SortFunc(out, func(a, b scored) int {
		if c := cmp.Compare(b.rec.Relev, a.rec.Relev); c != 0 {
			return c
		}
		if c := cmp.Compare(b.rec.Count, a.rec.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.rec.ID, b.rec.ID)
	})

	res := &Result{
		Ranked: make([]uint32, 0, len(out)),
		Relevs: make(map[uint32]uint64, len(out)),
	}
	for _, sc := range out {
		res.Ranked = append(res.Ranked, sc.rec.ID)
		res.Relevs[sc.rec.ID] = sc.packed
	}

	if s.metrics != nil {
		s.metrics.PhraseRelevLatency.Observe(time.Since(start).Seconds())
		s.metrics.PhraseRelevPhrases.Observe(float64(len(phraseIDs)))
	}
	s.logger.Debug("phrases scored",
		"candidates", len(phraseIDs),
		"matched", len(res.Ranked),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// ScoreAsync runs Score on its own goroutine and calls cb exactly once.
func (s *Scorer) ScoreAsync(ctx context.Context, c cache.Cache, phraseIDs []uint32, q Query, cb Callback) {
	go func() {
		res, err := s.Score(ctx, c, phraseIDs, q)
		if err != nil {
			cb(nil, err)
			return
		}
		cb(res, nil)
	}()
}

// scorePhrase walks the stored terms in order. Once a term has matched,
// each later match must continue the query run directly after it; the
// first one that does not ends the walk.
func (s *Scorer) scorePhrase(id uint32, terms []uint64, q Query) (codec.Relev, bool, error) {
	var (
		total, matched float64
		reason         uint32
		count          int
		lastIdx        uint32
		lastMask       uint32
		started        bool
		stopped        bool
	)
	for _, stored := range terms {
		if stored >= codec.MaxSafe {
			return codec.Relev{}, false, fmt.Errorf("%w: stored term %d exceeds 53 bits", apperrors.ErrCorruptRecord, stored)
		}
		weight := float64(codec.TermWeight(stored))
		total += weight
		if stopped {
			continue
		}

		t, found, err := q.match(stored, reason)
		if err != nil {
			return codec.Relev{}, false, err
		}
		if !found {
			continue
		}
		if started && t.Idx != lastIdx+uint32(bits.OnesCount32(lastMask)) {
			stopped = true
			continue
		}
		started = true
		lastIdx, lastMask = t.Idx, t.Mask
		reason |= t.Mask
		count++
		credit := 1.0
		if t.Distance > 0 {
			credit = s.transposedCredit
		}
		matched += weight * credit
	}
	if count == 0 {
		return codec.Relev{}, false, nil
	}

	var relev float64
	if total > 0 {
		relev = matched / total
	} else {
		relev = float64(count) / float64(len(terms))
	}
	return codec.Relev{
		ID:     id,
		Reason: reason,
		Count:  uint8(min(count, codec.MaxRelevCount)),
		Relev:  min(relev, 1),
	}, true, nil
}

// match finds the query term a stored term satisfies, skipping terms whose
// coverage is already spent.
func (q Query) match(stored uint64, reason uint32) (Term, bool, error) {
	if codec.IsRange(stored) {
		r, err := codec.DecodeRange(stored)
		if err != nil {
			return Term{}, false, err
		}
		for _, t := range q {
			if t.Mask&reason == 0 && r.Contains(codec.NumericValue(t.ID)) {
				return t, true, nil
			}
		}
		return Term{}, false, nil
	}
	id := codec.TermID(stored)
	for _, t := range q {
		if t.ID == id && t.Mask&reason == 0 {
			return t, true, nil
		}
	}
	return Term{}, false, nil
}
