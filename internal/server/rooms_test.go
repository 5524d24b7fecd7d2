package server

import (
	"testing"

	"github.com/npezzotti/chat-gateway/internal/stats"
	"github.com/stretchr/testify/assert"
)

func newTestRooms(t *testing.T) (*Rooms, *stats.MockStatsUpdater) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", "ActiveRooms").Once()
	return NewRooms(su), su
}

func TestRooms_JoinLeave(t *testing.T) {
	r, su := newTestRooms(t)
	su.On("Incr", "ActiveRooms").Once()
	su.On("Decr", "ActiveRooms").Once()
	defer su.AssertExpectations(t)

	assert.True(t, r.Join("c1", "room-1"))
	assert.False(t, r.Join("c1", "room-1"), "expected joining twice to be a no-op")
	assert.True(t, r.Join("c2", "room-1"))

	assert.ElementsMatch(t, []string{"c1", "c2"}, r.MembersOf("room-1"))
	assert.Equal(t, 1, r.RoomCount())
	assert.True(t, r.IsMember("c1", "room-1"))

	assert.True(t, r.Leave("c1", "room-1"))
	assert.False(t, r.Leave("c1", "room-1"), "expected leaving twice to be a no-op")
	assert.Equal(t, []string{"c2"}, r.MembersOf("room-1"))

	assert.True(t, r.Leave("c2", "room-1"))
	assert.Empty(t, r.MembersOf("room-1"))
	assert.Equal(t, 0, r.RoomCount())
}

func TestRooms_SiblingConnection(t *testing.T) {
	r, su := newTestRooms(t)
	su.On("Incr", "ActiveRooms")
	su.On("Decr", "ActiveRooms")

	// alice has two devices, only d1 ever joins
	r.Join("d1", "room-1")
	assert.Equal(t, []string{"d1"}, r.MembersOf("room-1"))
	assert.NotContains(t, r.MembersOf("room-1"), "d2")

	r.Leave("d1", "room-1")
	assert.NotContains(t, r.MembersOf("room-1"), "d1")
	assert.NotContains(t, r.MembersOf("room-1"), "d2")
	assert.Empty(t, r.RoomsOf("d2"))
}

func TestRooms_LeaveAll(t *testing.T) {
	r, su := newTestRooms(t)
	su.On("Incr", "ActiveRooms").Times(3)
	su.On("Decr", "ActiveRooms").Twice()
	defer su.AssertExpectations(t)

	r.Join("c1", "room-b")
	r.Join("c1", "room-a")
	r.Join("c1", "room-c")
	r.Join("c2", "room-c")

	assert.Equal(t, []string{"room-a", "room-b", "room-c"}, r.RoomsOf("c1"))

	left := r.LeaveAll("c1")
	assert.Equal(t, []string{"room-a", "room-b", "room-c"}, left)
	assert.Empty(t, r.RoomsOf("c1"))
	assert.Empty(t, r.MembersOf("room-a"))
	assert.Equal(t, []string{"c2"}, r.MembersOf("room-c"))
	assert.Equal(t, 1, r.RoomCount())

	assert.Nil(t, r.LeaveAll("c1"), "expected second LeaveAll to be a no-op")
}
