package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomTable(t *testing.T) {
	t.Run("create populates both slots and the device index", func(t *testing.T) {
		table := NewRoomTable()

		room, displaced := table.Create("D1", "P1")
		assert.Empty(t, displaced)
		assert.NotEmpty(t, room.ID)
		assert.Equal(t, "D1", room.DesktopDeviceID)
		assert.Equal(t, "P1", room.WebDeviceID)

		roomID, ok := table.RoomFor("D1")
		require.True(t, ok)
		assert.Equal(t, room.ID, roomID)
		roomID, ok = table.RoomFor("P1")
		require.True(t, ok)
		assert.Equal(t, room.ID, roomID)
	})

	t.Run("peer lookup", func(t *testing.T) {
		table := NewRoomTable()
		room, _ := table.Create("D1", "P1")

		assert.Equal(t, "P1", room.Peer("D1"))
		assert.Equal(t, "D1", room.Peer("P1"))
		assert.Equal(t, "", room.Peer("X"))
		assert.True(t, room.Member("D1"))
		assert.False(t, room.Member("X"))
	})

	t.Run("a device is in at most one room", func(t *testing.T) {
		table := NewRoomTable()
		first, _ := table.Create("D1", "P1")

		second, displaced := table.Create("D1", "P2")
		require.Len(t, displaced, 1)
		assert.Equal(t, first.ID, displaced[0].ID)

		assert.Nil(t, table.Get(first.ID))
		assert.Equal(t, 1, table.Len())

		// P1 was freed when its room was displaced.
		_, ok := table.RoomFor("P1")
		assert.False(t, ok)

		roomID, ok := table.RoomFor("D1")
		require.True(t, ok)
		assert.Equal(t, second.ID, roomID)
	})

	t.Run("delete clears the device index", func(t *testing.T) {
		table := NewRoomTable()
		room, _ := table.Create("D1", "P1")

		table.Delete(room.ID)
		assert.Nil(t, table.Get(room.ID))
		_, ok := table.RoomFor("D1")
		assert.False(t, ok)
		_, ok = table.RoomFor("P1")
		assert.False(t, ok)
	})

	t.Run("idle marker is sticky until cleared", func(t *testing.T) {
		table := NewRoomTable()
		room, _ := table.Create("D1", "P1")

		first := time.Now().Add(-time.Hour)
		table.MarkIdle(room.ID, first)
		table.MarkIdle(room.ID, time.Now())
		assert.Equal(t, first, table.IdleSince(room.ID))

		table.ClearIdle(room.ID)
		assert.True(t, table.IdleSince(room.ID).IsZero())
	})
}

func TestRegistry(t *testing.T) {
	t.Run("insert displaces the previous connection", func(t *testing.T) {
		reg := NewRegistry()
		c1 := newTestConn("D1")
		c2 := newTestConn("D1")

		assert.Nil(t, reg.Insert(c1))
		assert.Equal(t, c1, reg.Insert(c2))
		assert.Equal(t, c2, reg.Lookup("D1"))
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("remove only evicts the same connection", func(t *testing.T) {
		reg := NewRegistry()
		c1 := newTestConn("D1")
		c2 := newTestConn("D1")

		reg.Insert(c1)
		reg.Insert(c2)

		// The displaced socket closing late must not evict its replacement.
		assert.False(t, reg.Remove(c1))
		assert.Equal(t, c2, reg.Lookup("D1"))

		assert.True(t, reg.Remove(c2))
		assert.Nil(t, reg.Lookup("D1"))
		assert.False(t, reg.Online("D1"))
	})
}
