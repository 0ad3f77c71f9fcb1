package db

import (
	"context"
)

const upsertSyncMetadata = `-- name: UpsertSyncMetadata :exec
INSERT INTO sync_metadata (key, last_sync) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET last_sync = excluded.last_sync
`

func (q *Queries) UpsertSyncMetadata(ctx context.Context, arg SyncMetadatum) error {
	_, err := q.db.ExecContext(ctx, upsertSyncMetadata, arg.Key, arg.LastSync)
	return err
}

const getSyncMetadata = `-- name: GetSyncMetadata :one
SELECT key, last_sync FROM sync_metadata WHERE key = ?
`

// GetSyncMetadata returns sql.ErrNoRows when `key` was never synced.
func (q *Queries) GetSyncMetadata(ctx context.Context, key string) (SyncMetadatum, error) {
	row := q.db.QueryRowContext(ctx, getSyncMetadata, key)
	var i SyncMetadatum
	err := row.Scan(&i.Key, &i.LastSync)
	return i, err
}

const deleteAllSyncMetadata = `-- name: DeleteAllSyncMetadata :exec
DELETE FROM sync_metadata
`

func (q *Queries) DeleteAllSyncMetadata(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllSyncMetadata)
	return err
}

const upsertCacheMetadata = `-- name: UpsertCacheMetadata :exec
INSERT INTO cache_metadata (key, last_updated) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET last_updated = excluded.last_updated
`

func (q *Queries) UpsertCacheMetadata(ctx context.Context, arg CacheMetadatum) error {
	_, err := q.db.ExecContext(ctx, upsertCacheMetadata, arg.Key, arg.LastUpdated)
	return err
}

const getCacheMetadata = `-- name: GetCacheMetadata :one
SELECT key, last_updated FROM cache_metadata WHERE key = ?
`

// GetCacheMetadata returns sql.ErrNoRows when `key` was never cached.
func (q *Queries) GetCacheMetadata(ctx context.Context, key string) (CacheMetadatum, error) {
	row := q.db.QueryRowContext(ctx, getCacheMetadata, key)
	var i CacheMetadatum
	err := row.Scan(&i.Key, &i.LastUpdated)
	return i, err
}

const deleteAllCacheMetadata = `-- name: DeleteAllCacheMetadata :exec
DELETE FROM cache_metadata
`

func (q *Queries) DeleteAllCacheMetadata(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllCacheMetadata)
	return err
}
