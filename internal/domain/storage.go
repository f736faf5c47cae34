package domain

import "context"

// StorageArea mirrors extension storage areas
type StorageArea string

const (
	AreaLocal   StorageArea = "local"
	AreaSession StorageArea = "session"
)

// KeyValueStore is persistent key-value storage with area semantics.
// Values are JSON encoded. Get reports false when the key is absent.
type KeyValueStore interface {
	Get(ctx context.Context, area StorageArea, key string, dst any) (bool, error)
	Set(ctx context.Context, area StorageArea, key string, value any) error
	Remove(ctx context.Context, area StorageArea, key string) error
}
