package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/protocol"
)

// Conn is one live socket bound to at most one device. Writes are
// serialised by an internal mutex; identity and room binding are
// guarded separately so reads don't contend with slow writes.
type Conn struct {
	sock *websocket.Conn

	writeMu sync.Mutex

	mu         sync.Mutex
	device     protocol.Device
	authed     bool
	roomID     string
	lastPingAt time.Time

	closeOnce sync.Once
}

func (c *Conn) Device() protocol.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

func (c *Conn) authedDevice() (protocol.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device, c.authed
}

func (c *Conn) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Conn) bindRoom(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

func (c *Conn) LastPingAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPingAt
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// WriteFrame sends a hub-originated frame. Errors are reported to the
// caller but a failed write is otherwise a no-op: the read loop will
// observe the broken socket and run the close path.
func (c *Conn) WriteFrame(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return c.writeRaw(data)
}

func (c *Conn) writeRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.sock.SetWriteDeadline(time.Now().Add(config.SocketWriteTimeout))
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

// Close terminates the socket; safe to call from any goroutine and
// idempotent. The read loop unwinds and runs the close path.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.sock.Close()
	})
}

// HandleWS upgrades the request and services the connection until the
// socket closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Conn{sock: sock, lastPingAt: time.Now()}
	h.readLoop(c)
}

func (h *Hub) readLoop(c *Conn) {
	defer h.handleClose(c)

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("deviceId", c.Device().ID).Msg("socket read error")
			}
			return
		}

		frame, err := protocol.Decode(raw)
		if err != nil {
			c.WriteFrame(protocol.Frame{Type: protocol.FrameError, Reason: err.Error()})
			continue
		}

		switch {
		case frame.Type == protocol.FrameAuth:
			h.handleAuth(c, frame)
		case frame.Type == protocol.FramePing:
			c.touch()
			c.WriteFrame(protocol.Frame{Type: protocol.FramePong})
		case frame.Type == protocol.FrameRejoin:
			h.handleRejoin(c, frame)
		case frame.Type.Relayable():
			h.relay(c, frame.Type, raw)
		default:
			c.WriteFrame(protocol.Frame{
				Type:   protocol.FrameError,
				Reason: "unknown message type: " + string(frame.Type),
			})
		}
	}
}

// handleAuth registers the connection. A malformed token keeps the
// socket open so the client may retry; a second auth with the same
// deviceId forcibly closes the first connection.
func (h *Hub) handleAuth(c *Conn, frame protocol.Frame) {
	dev, err := protocol.ParseAuthToken(frame.Token)
	if err != nil {
		c.WriteFrame(protocol.Frame{Type: protocol.FrameAuthError, Reason: err.Error()})
		return
	}

	// Re-auth under a new identity drops the old registration first.
	if prev, authed := c.authedDevice(); authed && prev.ID != dev.ID {
		h.registry.Remove(c)
	}

	c.mu.Lock()
	c.device = dev
	c.authed = true
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	displaced := h.registry.Insert(c)
	if displaced != nil {
		log.Info().Str("deviceId", dev.ID).Msg("displacing prior connection for device")
		displaced.Close()
	}

	h.metrics.AuthSuccesses.Inc()
	log.Info().
		Str("deviceId", dev.ID).
		Str("deviceName", dev.Name).
		Str("role", string(dev.Role)).
		Msg("device authenticated")

	c.WriteFrame(protocol.Frame{Type: protocol.FrameAuthSuccess, DeviceID: dev.ID})
}

// handleRejoin reattaches a previously paired device to its room
// without the peer re-entering a code. It does not replay missed
// frames.
func (h *Hub) handleRejoin(c *Conn, frame protocol.Frame) {
	dev, authed := c.authedDevice()
	if !authed {
		c.WriteFrame(protocol.Frame{Type: protocol.FrameRejoinFailed, Reason: "not authenticated"})
		return
	}

	room := h.rooms.Get(frame.PairID)
	if room == nil {
		c.WriteFrame(protocol.Frame{Type: protocol.FrameRejoinFailed, Reason: "room not found"})
		return
	}
	if !room.Member(dev.ID) {
		c.WriteFrame(protocol.Frame{Type: protocol.FrameRejoinFailed, Reason: "device not in room"})
		return
	}

	c.bindRoom(room.ID)
	h.rooms.ClearIdle(room.ID)

	peer := h.registry.Lookup(room.Peer(dev.ID))
	if peer != nil && peer.RoomID() == room.ID {
		paired := protocol.Frame{Type: protocol.FramePaired, PairID: room.ID}
		c.WriteFrame(paired)
		peer.WriteFrame(paired)
		return
	}

	offline := false
	c.WriteFrame(protocol.Frame{
		Type:       protocol.FrameRejoinSuccess,
		PairID:     room.ID,
		PeerOnline: &offline,
	})
}

// relay forwards a message or session_* frame to the room peer,
// byte-for-byte. Frames are dropped silently when the peer is offline:
// user-facing messages are best-effort and session-control frames are
// idempotent from the sender's point of view.
func (h *Hub) relay(c *Conn, ft protocol.FrameType, raw []byte) {
	dev, authed := c.authedDevice()
	if !authed {
		c.WriteFrame(protocol.Frame{Type: protocol.FrameError, Reason: "not authenticated"})
		return
	}
	roomID := c.RoomID()
	if roomID == "" {
		c.WriteFrame(protocol.Frame{Type: protocol.FrameError, Reason: "not in a room"})
		return
	}

	room := h.rooms.Get(roomID)
	if room == nil {
		c.WriteFrame(protocol.Frame{Type: protocol.FrameError, Reason: "room no longer exists"})
		return
	}

	peer := h.registry.Lookup(room.Peer(dev.ID))
	if peer == nil || peer.RoomID() != roomID {
		h.metrics.FramesDropped.Inc()
		return
	}

	if err := peer.writeRaw(raw); err != nil {
		h.metrics.FramesDropped.Inc()
		return
	}
	h.metrics.FramesRelayed.Inc()
	log.Debug().
		Str("from", dev.ID).
		Str("to", peer.Device().ID).
		Str("type", string(ft)).
		Msg("frame relayed")
}

// handleClose runs exactly once per connection, after its read loop
// exits: the peer is notified, the Connection is removed, the Room is
// not.
func (h *Hub) handleClose(c *Conn) {
	c.Close()

	dev, authed := c.authedDevice()
	if !authed {
		return
	}

	if !h.registry.Remove(c) {
		// Already displaced by a newer connection for the same device.
		return
	}

	log.Info().Str("deviceId", dev.ID).Msg("device disconnected")

	roomID := c.RoomID()
	if roomID == "" {
		return
	}

	room := h.rooms.Get(roomID)
	if room == nil {
		return
	}

	peer := h.registry.Lookup(room.Peer(dev.ID))
	if peer != nil && peer.RoomID() == roomID {
		peer.WriteFrame(protocol.Frame{Type: protocol.FramePeerOffline})
	} else {
		h.rooms.MarkIdle(roomID, time.Now())
	}
}

// notifyPaired binds both live connections (if any) to the room and
// pushes the paired frame at them. Called with no hub locks held so the
// socket writes happen atomically with respect to the room insertion as
// observed through the dispatcher.
func (h *Hub) notifyPaired(room *Room) {
	paired := protocol.Frame{Type: protocol.FramePaired, PairID: room.ID}
	for _, deviceID := range []string{room.DesktopDeviceID, room.WebDeviceID} {
		if c := h.registry.Lookup(deviceID); c != nil {
			c.bindRoom(room.ID)
			c.WriteFrame(paired)
		}
	}
}

// notifyUnpaired tells members of a displaced room that their pairing
// is gone.
func (h *Hub) notifyUnpaired(room *Room) {
	for _, deviceID := range []string{room.DesktopDeviceID, room.WebDeviceID} {
		if c := h.registry.Lookup(deviceID); c != nil && c.RoomID() == room.ID {
			c.bindRoom("")
			c.WriteFrame(protocol.Frame{Type: protocol.FrameUnpaired, PairID: room.ID})
		}
	}
}
