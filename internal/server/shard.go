package server

import (
	"github.com/cespare/xxhash/v2"
)

// shardCount partitions keyed state so that unrelated identities, rooms and
// connections rarely share a lock.
const shardCount = 32

func shardIndex(key string) uint64 {
	return xxhash.Sum64String(key) % shardCount
}

type stringSet map[string]struct{}

func (s stringSet) keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}
