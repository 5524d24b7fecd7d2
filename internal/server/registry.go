package server

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// presenceEntry holds the live connections of one identity. An entry with no
// connections and a pending offline timer is still considered online until
// the timer fires and finds the set empty.
type presenceEntry struct {
	conns   stringSet
	offline *time.Timer
	// gen identifies the pending offline timer. Timers that fire with a
	// stale generation do nothing.
	gen uint64
}

type identityShard struct {
	mu      sync.Mutex
	entries map[string]*presenceEntry
}

type ownerShard struct {
	mu     sync.Mutex
	owners map[string]string
}

// Registry maps identities to their live connections.
type Registry struct {
	identities [shardCount]identityShard
	owners     [shardCount]ownerShard
	grace      time.Duration
	gen        atomic.Uint64
	// onOffline runs outside any lock once an identity's grace window
	// elapsed with no connection.
	onOffline func(userId string)
}

func NewRegistry(grace time.Duration, onOffline func(userId string)) *Registry {
	r := &Registry{
		grace:     grace,
		onOffline: onOffline,
	}
	for i := range r.identities {
		r.identities[i].entries = make(map[string]*presenceEntry)
		r.owners[i].owners = make(map[string]string)
	}
	return r
}

func (r *Registry) identityShard(userId string) *identityShard {
	return &r.identities[shardIndex(userId)]
}

func (r *Registry) ownerShard(connId string) *ownerShard {
	return &r.owners[shardIndex(connId)]
}

// Register adds connId to userId's connection set. It reports whether the
// identity transitioned from offline to online. Registering a known
// connection is a no-op.
func (r *Registry) Register(userId, connId string) bool {
	os := r.ownerShard(connId)
	os.mu.Lock()
	if _, ok := os.owners[connId]; ok {
		os.mu.Unlock()
		return false
	}
	os.owners[connId] = userId
	os.mu.Unlock()

	is := r.identityShard(userId)
	is.mu.Lock()
	defer is.mu.Unlock()

	e, ok := is.entries[userId]
	if !ok {
		is.entries[userId] = &presenceEntry{conns: stringSet{connId: {}}}
		return true
	}

	if e.offline != nil {
		// reconnect inside the grace window, the pending offline is dropped
		e.offline.Stop()
		e.offline = nil
		e.gen = r.gen.Add(1)
	}
	e.conns[connId] = struct{}{}

	return false
}

// Unregister removes connId. When it was the identity's last connection an
// offline transition is scheduled after the grace window. Unknown
// connections are ignored.
func (r *Registry) Unregister(connId string) {
	os := r.ownerShard(connId)
	os.mu.Lock()
	userId, ok := os.owners[connId]
	if ok {
		delete(os.owners, connId)
	}
	os.mu.Unlock()

	if !ok {
		return
	}

	is := r.identityShard(userId)
	is.mu.Lock()
	defer is.mu.Unlock()

	e, ok := is.entries[userId]
	if !ok {
		return
	}

	delete(e.conns, connId)
	if len(e.conns) > 0 || e.offline != nil {
		return
	}

	gen := r.gen.Add(1)
	e.gen = gen
	e.offline = time.AfterFunc(r.grace, func() {
		r.expire(userId, gen)
	})
}

func (r *Registry) expire(userId string, gen uint64) {
	is := r.identityShard(userId)
	is.mu.Lock()
	e, ok := is.entries[userId]
	if !ok || e.gen != gen || len(e.conns) > 0 {
		is.mu.Unlock()
		return
	}
	delete(is.entries, userId)
	is.mu.Unlock()

	if r.onOffline != nil {
		r.onOffline(userId)
	}
}

// IsOnline reports whether userId has a live connection or is still inside
// its offline grace window.
func (r *Registry) IsOnline(userId string) bool {
	is := r.identityShard(userId)
	is.mu.Lock()
	defer is.mu.Unlock()

	_, ok := is.entries[userId]
	return ok
}

// OnlineSnapshot returns the sorted set of online identities.
func (r *Registry) OnlineSnapshot() []string {
	var users []string
	for i := range r.identities {
		is := &r.identities[i]
		is.mu.Lock()
		for userId := range is.entries {
			users = append(users, userId)
		}
		is.mu.Unlock()
	}

	slices.Sort(users)
	return users
}

// Connections returns the live connection ids of userId.
func (r *Registry) Connections(userId string) []string {
	is := r.identityShard(userId)
	is.mu.Lock()
	defer is.mu.Unlock()

	e, ok := is.entries[userId]
	if !ok {
		return nil
	}
	return e.conns.keys()
}

// Owner returns the identity that owns connId.
func (r *Registry) Owner(connId string) (string, bool) {
	os := r.ownerShard(connId)
	os.mu.Lock()
	defer os.mu.Unlock()

	userId, ok := os.owners[connId]
	return userId, ok
}

// Stop cancels pending offline timers without announcing them.
func (r *Registry) Stop() {
	for i := range r.identities {
		is := &r.identities[i]
		is.mu.Lock()
		for _, e := range is.entries {
			if e.offline != nil {
				e.offline.Stop()
				e.offline = nil
				e.gen = r.gen.Add(1)
			}
		}
		is.mu.Unlock()
	}
}
