package ratelimit

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const lockShards = 256

// keyLocks serialises work on the same key inside one process without
// keeping a mutex per key.
type keyLocks struct {
	shards [lockShards]sync.Mutex
}

func (k *keyLocks) lock(key string) (unlock func()) {
	m := &k.shards[murmur3.Sum32([]byte(key))%lockShards]
	m.Lock()
	return m.Unlock
}
