// Package objstore is the object-store client C5 uploads merged parquet
// files through: put(account, key, bytes) / get, account-addressed so a
// single mover can serve streams that live in different buckets or
// providers (spec §6).
package objstore

import "context"

// Client is the narrow surface C5 needs. account addresses which bucket (or
// bucket+region pair) a key belongs to; it is opaque to the mover, which
// only ever forwards the FileKey.Account it was handed.
type Client interface {
	Put(ctx context.Context, account, key string, data []byte) error
	Get(ctx context.Context, account, key string) ([]byte, error)
	Delete(ctx context.Context, account, key string) error
}
