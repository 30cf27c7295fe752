// Package shardbuild runs the offline side of cache updates. Build jobs
// announce freshly packed shard blobs; the merge worker folds each one into
// the accumulated blob for its (cache, type, shard), records it in the
// manifest and announces the result so query services can swap it in.
package shardbuild

import (
	"fmt"
	"time"
)

// ShardPacked announces a packed blob waiting to be merged.
type ShardPacked struct {
	Cache string `json:"cache"`
	Type  string `json:"type"`
	Shard uint32 `json:"shard"`
	Path  string `json:"path"`
	// MergeType overrides the configured reducer when set.
	MergeType string    `json:"merge_type,omitempty"`
	PackedAt  time.Time `json:"packed_at"`
}

// ShardMerged announces a new accumulated blob for one shard.
type ShardMerged struct {
	Cache      string    `json:"cache"`
	Type       string    `json:"type"`
	Shard      uint32    `json:"shard"`
	Path       string    `json:"path"`
	Generation int64     `json:"generation"`
	Bytes      int64     `json:"bytes"`
	Checksum   string    `json:"checksum"`
	MergedAt   time.Time `json:"merged_at"`
}

// EventKey keeps every event for one shard on one partition, in order.
func EventKey(cache, typ string, shard uint32) string {
	return fmt.Sprintf("%s/%s/%d", cache, typ, shard)
}
