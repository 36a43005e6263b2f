// Package storage provides the named-key store that all harvester
// components persist through. Keys are /-separated paths relative to an
// output root; backends decide how they map to real storage.
package storage

import "context"

// Store is the persistence contract shared by the queue, promotion, and
// billing layers. Read returns ErrNotFound (via IsNotFound) for missing
// keys; Append adds bytes to the end of a key, creating it if needed.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Append(ctx context.Context, key string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
}
