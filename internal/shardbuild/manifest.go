package shardbuild

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/postgres"
)

// ManifestEntry describes one merged blob.
type ManifestEntry struct {
	Cache    string
	Type     string
	Shard    uint32
	Path     string
	Source   string
	Bytes    int64
	Checksum string
}

// Manifest records merged blobs and hands out their generation numbers.
type Manifest interface {
	Record(ctx context.Context, entry ManifestEntry) (generation int64, error)
}

const manifestSchema = `
CREATE TABLE IF NOT EXISTS shard_manifest (
	cache_name  TEXT        NOT NULL,
	shard_type  TEXT        NOT NULL,
	shard_id    BIGINT      NOT NULL,
	path        TEXT        NOT NULL,
	generation  BIGINT      NOT NULL,
	bytes       BIGINT      NOT NULL,
	checksum    TEXT        NOT NULL,
	merged_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (cache_name, shard_type, shard_id)
);
CREATE TABLE IF NOT EXISTS shard_merges (
	id          BIGSERIAL   PRIMARY KEY,
	cache_name  TEXT        NOT NULL,
	shard_type  TEXT        NOT NULL,
	shard_id    BIGINT      NOT NULL,
	generation  BIGINT      NOT NULL,
	source_path TEXT        NOT NULL,
	merged_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// PostgresManifest keeps the current generation of each shard in
// shard_manifest and appends every merge to shard_merges.
type PostgresManifest struct {
	db *postgres.Client
}

func NewPostgresManifest(db *postgres.Client) *PostgresManifest {
	return &PostgresManifest{db: db}
}

// EnsureSchema creates the manifest tables if they are missing.
func (m *PostgresManifest) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.DB.ExecContext(ctx, manifestSchema); err != nil {
		return fmt.Errorf("creating manifest schema: %w", err)
	}
	return nil
}

func (m *PostgresManifest) Record(ctx context.Context, e ManifestEntry) (int64, error) {
	var generation int64
	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO shard_manifest (cache_name, shard_type, shard_id, path, generation, bytes, checksum)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (cache_name, shard_type, shard_id) DO UPDATE
		SET path = EXCLUDED.path,
			generation = shard_manifest.generation + 1,
			bytes = EXCLUDED.bytes,
			checksum = EXCLUDED.checksum,
			merged_at = NOW()
		RETURNING generation`,
			e.Cache, e.Type, int64(e.Shard), e.Path, e.Bytes, e.Checksum).Scan(&generation)
		if err != nil {
			return fmt.Errorf("upserting manifest row: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO shard_merges (cache_name, shard_type, shard_id, generation, source_path)
		VALUES ($1, $2, $3, $4, $5)`,
			e.Cache, e.Type, int64(e.Shard), generation, e.Source)
		if err != nil {
			return fmt.Errorf("appending merge history: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return generation, nil
}

// permanentSQL reports database errors a retry cannot fix: bad data and
// schema problems.
func permanentSQL(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "22", "42":
		return true
	}
	return false
}
