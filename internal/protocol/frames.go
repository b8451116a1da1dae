// Package protocol defines the JSON wire format shared by the hub, the
// desktop agent and the phone client: typed frames, the message envelope,
// auth token parsing, and the text codec for size-limited channels.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FrameType tags every WebSocket frame.
type FrameType string

// Inbound from clients.
const (
	FrameAuth    FrameType = "auth"
	FramePing    FrameType = "ping"
	FrameRejoin  FrameType = "rejoin"
	FrameMessage FrameType = "message"

	FrameSessionList     FrameType = "session_list"
	FrameSessionCreate   FrameType = "session_create"
	FrameSessionCreated  FrameType = "session_created"
	FrameSessionSwitch   FrameType = "session_switch"
	FrameSessionSwitched FrameType = "session_switched"
	FrameSessionDelete   FrameType = "session_delete"
	FrameSessionDeleted  FrameType = "session_deleted"
	FrameSessionError    FrameType = "session_error"
)

// Originated by the hub.
const (
	FrameAuthSuccess   FrameType = "auth_success"
	FrameAuthError     FrameType = "auth_error"
	FramePong          FrameType = "pong"
	FramePaired        FrameType = "paired"
	FrameRejoinSuccess FrameType = "rejoin_success"
	FrameRejoinFailed  FrameType = "rejoin_failed"
	FramePeerOffline   FrameType = "peer_offline"
	FrameUnpaired      FrameType = "unpaired"
	FrameError         FrameType = "error"
)

// Role is declared by the client at auth time; the hub never infers it.
type Role string

const (
	RoleDesktop Role = "desktop"
	RoleWeb     Role = "web"
)

func (r Role) Valid() bool {
	return r == RoleDesktop || r == RoleWeb
}

// Opposite returns the role of a valid room peer.
func (r Role) Opposite() Role {
	if r == RoleDesktop {
		return RoleWeb
	}
	return RoleDesktop
}

// Device identifies one endpoint of a room.
type Device struct {
	ID   string `json:"deviceId"`
	Name string `json:"deviceName"`
	Role Role   `json:"role"`
}

// Envelope carries all user-visible content; SessionID is the
// desktop-side routing key.
type Envelope struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionId"`
}

// NewEnvelope builds an envelope with a fresh id and the current time.
func NewEnvelope(content, sessionID string) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		SessionID: sessionID,
	}
}

// Frame is the superset of all wire frames. Unused fields are omitted on
// the wire; the hub relays message and session_* frames as raw bytes so
// payloads it does not understand pass through unchanged.
type Frame struct {
	Type FrameType `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// auth_success
	DeviceID string `json:"deviceId,omitempty"`

	// rejoin / paired / rejoin_success / unpaired
	PairID     string `json:"pairId,omitempty"`
	PeerOnline *bool  `json:"peerOnline,omitempty"`

	// rejoin_failed / auth_error / error
	Reason string `json:"reason,omitempty"`

	// message
	Payload *Envelope `json:"payload,omitempty"`

	// session_* control payloads, opaque to the hub
	Data json.RawMessage `json:"data,omitempty"`
}

// Relayable reports whether the hub forwards this frame type to the
// room peer rather than handling it itself.
func (t FrameType) Relayable() bool {
	if t == FrameMessage {
		return true
	}
	return strings.HasPrefix(string(t), "session_")
}

// Session control payloads, carried in Frame.Data.

type SessionCreatePayload struct {
	Name             string `json:"name,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

type SessionSwitchPayload struct {
	Target string `json:"target"`
}

type SessionDeletePayload struct {
	ID string `json:"id,omitempty"`
}

type SessionInfo struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	WorkingDirectory string  `json:"workingDirectory"`
	Status           string  `json:"status"`
	IsActive         bool    `json:"isActive"`
	MessageCount     int     `json:"messageCount"`
	RunningMinutes   float64 `json:"runningMinutes"`
}

type SessionListPayload struct {
	Sessions []SessionInfo `json:"sessions"`
}

type SessionErrorPayload struct {
	Error string `json:"error"`
}

// ParseAuthToken parses the "<deviceId>:<deviceName>:<role>" auth token.
func ParseAuthToken(token string) (Device, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return Device{}, fmt.Errorf("malformed auth token: expected 3 colon-separated fields, got %d", len(parts))
	}

	dev := Device{
		ID:   parts[0],
		Name: parts[1],
		Role: Role(parts[2]),
	}
	if dev.ID == "" {
		return Device{}, fmt.Errorf("malformed auth token: empty deviceId")
	}
	if !dev.Role.Valid() {
		return Device{}, fmt.Errorf("malformed auth token: unknown role %q", parts[2])
	}
	return dev, nil
}

// AuthToken formats a device as an auth token.
func AuthToken(dev Device) string {
	return fmt.Sprintf("%s:%s:%s", dev.ID, dev.Name, dev.Role)
}

// Encode marshals a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode unmarshals a wire frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("malformed frame: missing type")
	}
	return f, nil
}
