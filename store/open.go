package store

import (
	"context"
	"fmt"

	"github.com/celo-org/snark-setup-coordinator/log"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Open returns the backend named kind. target is the document path for the
// file backend, the folder for bolt and the server url for redis.
func Open(ctx context.Context, l log.Logger, kind, target, key string) (Store, error) {
	switch kind {
	case BackendFile, "":
		return NewFileStore(l, target)
	case BackendBolt:
		return NewBoltStore(ctx, l, target, nil)
	case BackendRedis:
		return NewRedisStore(ctx, l, target, key)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}
