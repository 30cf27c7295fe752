package shardbuild

import (
	"context"
	"errors"

	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/resilience"
)

// Applier swaps a merged shard into a served cache.
type Applier interface {
	ApplyShard(ctx context.Context, name, typ string, shard uint32, blobPath string) error
}

// Invalidator drops responses computed from the old shard.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// HandleMerged returns the query-side handler for ShardMerged events.
// Events for caches this service does not serve are skipped. inv may be
// nil.
func HandleMerged(applier Applier, inv Invalidator) kafka.MessageHandler {
	log := logger.WithComponent("shard-applier")
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[ShardMerged](value)
		if err != nil {
			log.Error("failed to decode merged event", "key", string(key), "error", err)
			return err
		}

		err = applier.ApplyShard(ctx, ev.Cache, ev.Type, ev.Shard, ev.Path)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			log.Debug("skipping shard for unserved cache", "cache", ev.Cache, "type", ev.Type, "shard", ev.Shard)
			return nil
		case errors.Is(err, apperrors.ErrCorruptRecord):
			return resilience.Permanent(err)
		case err != nil:
			return err
		}

		if inv != nil {
			if _, err := inv.Invalidate(ctx); err != nil {
				// Entries expire on their own TTL.
				log.Warn("result cache invalidation failed", "error", err)
			}
		}
		log.Info("merged shard applied",
			"cache", ev.Cache,
			"type", ev.Type,
			"shard", ev.Shard,
			"generation", ev.Generation,
		)
		return nil
	}
}
