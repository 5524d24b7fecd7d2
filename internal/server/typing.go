package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/npezzotti/chat-gateway/internal/types"
)

type typingEntry struct {
	owner string
	timer *time.Timer
	gen   uint64
}

type typingShard struct {
	mu      sync.Mutex
	entries map[string]*typingEntry
}

// TypingChannel tracks ephemeral typing state per (room, identity). Only
// transitions are emitted: the first true, and exactly one false when the
// state is cleared or its deadline passes without a refresh.
type TypingChannel struct {
	shards [shardCount]typingShard
	ttl    time.Duration
	gen    atomic.Uint64
	// emit runs with the key's shard lock held so that the states of one
	// (room, identity) pair are emitted in order.
	emit func(types.TypingState)
}

func NewTypingChannel(ttl time.Duration, emit func(types.TypingState)) *TypingChannel {
	tc := &TypingChannel{
		ttl:  ttl,
		emit: emit,
	}
	for i := range tc.shards {
		tc.shards[i].entries = make(map[string]*typingEntry)
	}
	return tc
}

func typingKey(roomId, userId string) string {
	return roomId + "\x00" + userId
}

func (tc *TypingChannel) shard(key string) *typingShard {
	return &tc.shards[shardIndex(key)]
}

// SetTyping records typing state reported by connId. A true state arms or
// refreshes the expiry deadline and makes connId its owner.
func (tc *TypingChannel) SetTyping(roomId, userId, connId string, isTyping bool) {
	if !isTyping {
		tc.stop(roomId, userId, connId, false)
		return
	}

	key := typingKey(roomId, userId)
	s := tc.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.timer.Stop()
		e.gen = tc.gen.Add(1)
		e.owner = connId
		e.timer = tc.arm(roomId, userId, e.gen)
		return
	}

	gen := tc.gen.Add(1)
	s.entries[key] = &typingEntry{
		owner: connId,
		gen:   gen,
		timer: tc.arm(roomId, userId, gen),
	}
	tc.emit(types.TypingState{RoomId: roomId, UserId: userId, IsTyping: true})
}

// Clear ends the typing state owned by connId, used when that connection
// leaves the room or disconnects. State owned by another connection of the
// same identity is left alone.
func (tc *TypingChannel) Clear(roomId, userId, connId string) {
	tc.stop(roomId, userId, connId, true)
}

func (tc *TypingChannel) stop(roomId, userId, connId string, ownerOnly bool) {
	key := typingKey(roomId, userId)
	s := tc.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || (ownerOnly && e.owner != connId) {
		return
	}

	e.timer.Stop()
	delete(s.entries, key)
	tc.emit(types.TypingState{RoomId: roomId, UserId: userId, IsTyping: false})
}

func (tc *TypingChannel) arm(roomId, userId string, gen uint64) *time.Timer {
	return time.AfterFunc(tc.ttl, func() {
		tc.expire(roomId, userId, gen)
	})
}

func (tc *TypingChannel) expire(roomId, userId string, gen uint64) {
	key := typingKey(roomId, userId)
	s := tc.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.gen != gen {
		return
	}

	delete(s.entries, key)
	tc.emit(types.TypingState{RoomId: roomId, UserId: userId, IsTyping: false})
}

// IsTyping reports whether userId is currently typing in roomId.
func (tc *TypingChannel) IsTyping(roomId, userId string) bool {
	key := typingKey(roomId, userId)
	s := tc.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	return ok
}

// Stop cancels every pending expiry without emitting.
func (tc *TypingChannel) Stop() {
	for i := range tc.shards {
		s := &tc.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			e.timer.Stop()
			delete(s.entries, key)
		}
		s.mu.Unlock()
	}
}
