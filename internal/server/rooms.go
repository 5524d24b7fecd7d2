package server

import (
	"slices"
	"sync"

	"github.com/npezzotti/chat-gateway/internal/stats"
)

type membershipShard struct {
	mu      sync.Mutex
	members map[string]stringSet
}

func (s *membershipShard) add(key, value string) (added, created bool) {
	set, ok := s.members[key]
	if !ok {
		set = make(stringSet)
		s.members[key] = set
		created = true
	}
	if _, ok := set[value]; ok {
		return false, created
	}
	set[value] = struct{}{}
	return true, created
}

func (s *membershipShard) remove(key, value string) (removed, emptied bool) {
	set, ok := s.members[key]
	if !ok {
		return false, false
	}
	if _, ok := set[value]; !ok {
		return false, false
	}
	delete(set, value)
	if len(set) == 0 {
		delete(s.members, key)
		return true, true
	}
	return true, false
}

// Rooms tracks which connections want live updates for which chat rooms.
// Membership is per connection. Locks are always taken connection shard
// first, then room shard.
type Rooms struct {
	byConn [shardCount]membershipShard
	byRoom [shardCount]membershipShard
	stats  stats.StatsProvider
}

func NewRooms(su stats.StatsProvider) *Rooms {
	r := &Rooms{stats: su}
	for i := 0; i < shardCount; i++ {
		r.byConn[i].members = make(map[string]stringSet)
		r.byRoom[i].members = make(map[string]stringSet)
	}
	su.RegisterMetric("ActiveRooms")

	return r
}

// Join adds connId to roomId and reports whether it was not already a member.
func (r *Rooms) Join(connId, roomId string) bool {
	cs := &r.byConn[shardIndex(connId)]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	added, _ := cs.add(connId, roomId)
	if !added {
		return false
	}

	rs := &r.byRoom[shardIndex(roomId)]
	rs.mu.Lock()
	_, created := rs.add(roomId, connId)
	rs.mu.Unlock()

	if created {
		r.stats.Incr("ActiveRooms")
	}
	return true
}

// Leave removes connId from roomId and reports whether it was a member.
func (r *Rooms) Leave(connId, roomId string) bool {
	cs := &r.byConn[shardIndex(connId)]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	removed, _ := cs.remove(connId, roomId)
	if !removed {
		return false
	}

	r.removeFromRoom(roomId, connId)
	return true
}

// LeaveAll removes connId from every room it joined and returns those rooms.
func (r *Rooms) LeaveAll(connId string) []string {
	cs := &r.byConn[shardIndex(connId)]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	set, ok := cs.members[connId]
	if !ok {
		return nil
	}
	delete(cs.members, connId)

	rooms := set.keys()
	for _, roomId := range rooms {
		r.removeFromRoom(roomId, connId)
	}

	slices.Sort(rooms)
	return rooms
}

func (r *Rooms) removeFromRoom(roomId, connId string) {
	rs := &r.byRoom[shardIndex(roomId)]
	rs.mu.Lock()
	_, emptied := rs.remove(roomId, connId)
	rs.mu.Unlock()

	if emptied {
		r.stats.Decr("ActiveRooms")
	}
}

// MembersOf returns the connections currently joined to roomId.
func (r *Rooms) MembersOf(roomId string) []string {
	rs := &r.byRoom[shardIndex(roomId)]
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return rs.members[roomId].keys()
}

// RoomsOf returns the sorted rooms connId joined.
func (r *Rooms) RoomsOf(connId string) []string {
	cs := &r.byConn[shardIndex(connId)]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	rooms := cs.members[connId].keys()
	slices.Sort(rooms)
	return rooms
}

func (r *Rooms) IsMember(connId, roomId string) bool {
	cs := &r.byConn[shardIndex(connId)]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	_, ok := cs.members[connId][roomId]
	return ok
}

// RoomCount returns the number of rooms with at least one member.
func (r *Rooms) RoomCount() int {
	var n int
	for i := range r.byRoom {
		rs := &r.byRoom[i]
		rs.mu.Lock()
		n += len(rs.members)
		rs.mu.Unlock()
	}
	return n
}
