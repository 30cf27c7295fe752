// Package api serves the geocoder's ranking core over HTTP: coalesce and
// phrase scoring against the loaded caches, plus result cache controls.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/coalesce"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/phraserelev"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/resultcache"
	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/tracing"
)

const maxBodyBytes = 1 << 20

// Catalog is the view of the loaded caches the handlers need.
type Catalog interface {
	Acquire() (resolve func(name string) (cache.Cache, bool), release func())
	Names() []string
}

type Handler struct {
	catalog Catalog
	engine  *coalesce.Engine
	scorer  *phraserelev.Scorer
	results *resultcache.Cache
	logger  *slog.Logger
}

// New builds the handler. results may be nil when Redis is not in use.
func New(catalog Catalog, engine *coalesce.Engine, scorer *phraserelev.Scorer, results *resultcache.Cache) *Handler {
	return &Handler{
		catalog: catalog,
		engine:  engine,
		scorer:  scorer,
		results: results,
		logger:  slog.Default().With("component", "api-handler"),
	}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/coalesce", h.Coalesce)
	mux.HandleFunc("POST /api/v1/phraserelev", h.PhraseRelev)
	mux.HandleFunc("GET /api/v1/caches", h.Caches)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

type coalesceResponse struct {
	Groups   []coalesce.Group `json:"groups"`
	CacheHit bool             `json:"cache_hit"`
}

func (h *Handler) Coalesce(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, root := tracing.StartSpan(r.Context(), "coalesce", middleware.GetRequestID(r.Context()))
	log := logger.FromContext(ctx)
	defer func() {
		root.End()
		root.Log(log)
	}()

	body, err := readBody(w, r)
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	resolve, release := h.catalog.Acquire()
	defer release()

	_, decodeSpan := tracing.StartChildSpan(ctx, "decode")
	req, err := coalesce.DecodeRequest(body, resolve)
	decodeSpan.End()
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	root.SetAttr("subqueries", len(req.Subqueries))

	runCtx, runSpan := tracing.StartChildSpan(ctx, "run")
	compute := func(ctx context.Context) ([]coalesce.Group, error) {
		return h.engine.Coalesce(ctx, req.Subqueries, req.Options)
	}
	var (
		groups []coalesce.Group
		hit    bool
	)
	if h.results != nil {
		groups, hit, err = h.results.GetOrCompute(runCtx, req, compute)
	} else {
		groups, err = compute(runCtx)
	}
	runSpan.SetAttr("cache_hit", hit)
	runSpan.End()
	if err != nil {
		log.Error("coalesce failed", "subqueries", len(req.Subqueries), "error", err)
		h.writeAppError(w, err)
		return
	}
	if groups == nil {
		groups = []coalesce.Group{}
	}

	log.Info("coalesce completed",
		"subqueries", len(req.Subqueries),
		"groups", len(groups),
		"cache_hit", hit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, coalesceResponse{Groups: groups, CacheHit: hit})
}

// phraseRelevRequest takes the query either as terms or as the three
// per-term maps keyed by term id.
type phraseRelevRequest struct {
	Cache    string             `json:"cache"`
	Phrases  []uint32           `json:"phrases"`
	Terms    []phraserelev.Term `json:"terms"`
	Idx      map[string]uint32  `json:"idx"`
	Mask     map[string]uint32  `json:"mask"`
	Distance map[string]uint32  `json:"distance"`
}

func (h *Handler) PhraseRelev(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(w, r)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	var req phraseRelevRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeAppError(w, apperrors.Invalid("request must be a phraserelev JSON object"))
		return
	}

	var q phraserelev.Query
	if req.Terms != nil {
		q, err = phraserelev.NewQuery(req.Terms)
	} else {
		q, err = phraserelev.QueryFromMaps(req.Idx, req.Mask, req.Distance)
	}
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	resolve, release := h.catalog.Acquire()
	defer release()
	c, ok := resolve(req.Cache)
	if !ok {
		h.writeAppError(w, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "no cache named %q", req.Cache))
		return
	}

	result, err := h.scorer.Score(ctx, c, req.Phrases, q)
	if err != nil {
		logger.FromContext(ctx).Error("phraserelev failed", "cache", req.Cache, "error", err)
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type cacheInfo struct {
	Name    string              `json:"name"`
	Backend string              `json:"backend"`
	Shards  map[string][]uint32 `json:"shards"`
}

func (h *Handler) Caches(w http.ResponseWriter, r *http.Request) {
	resolve, release := h.catalog.Acquire()
	defer release()

	infos := make([]cacheInfo, 0)
	for _, name := range h.catalog.Names() {
		c, ok := resolve(name)
		if !ok {
			continue
		}
		info := cacheInfo{Name: name, Backend: c.Backend(), Shards: make(map[string][]uint32)}
		for _, typ := range []string{cache.TypeGrid, cache.TypePhrase, cache.TypeTerm, cache.TypeFreq} {
			if shards := c.Shards(typ); len(shards) > 0 {
				info.Shards[typ] = shards
			}
		}
		infos = append(infos, info)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"caches": infos})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "enabled",
		"breaker": h.results.BreakerState().String(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		h.writeError(w, http.StatusServiceUnavailable, "result caching is disabled")
		return
	}
	deleted, err := h.results.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.Newf(apperrors.ErrInvalidArgument, http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, apperrors.Invalid("reading request body: %v", err)
	}
	return body, nil
}

// writeAppError reports AppError messages as-is and hides everything else
// behind the status text.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.writeError(w, status, appErr.Message)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		h.writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	h.writeError(w, status, http.StatusText(status))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
