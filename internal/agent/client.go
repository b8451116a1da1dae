package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/config"
	apperrors "github.com/pairlink/pairlink/internal/errors"
	"github.com/pairlink/pairlink/internal/protocol"
)

// Client keeps the agent attached to the hub: it authenticates,
// rejoins its room across restarts, answers session control frames
// from the phone peer, and streams worker output back out.
type Client struct {
	cfg   *config.AgentConfig
	mux   *Multiplexer
	store *StateStore

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	writeMu sync.Mutex

	httpc *http.Client
}

func NewClient(cfg *config.AgentConfig, mux *Multiplexer, store *StateStore) *Client {
	return &Client{
		cfg:   cfg,
		mux:   mux,
		store: store,
		state: store.Load(),
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

// DeviceID returns the agent's stable identity.
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.DeviceID
}

// Run connects to the hub and stays connected until the context is
// cancelled, reconnecting with capped exponential backoff.
func (c *Client) Run(ctx context.Context) {
	go c.pumpMuxEvents(ctx)

	backoff := time.Second
	maxBackoff := time.Duration(c.cfg.ReconnectMaxSec) * time.Second

	for ctx.Err() == nil {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Dur("retryIn", backoff).Msg("hub connection lost")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.HubURL, nil)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	dev := protocol.Device{ID: c.state.DeviceID, Name: c.cfg.DeviceName, Role: protocol.RoleDesktop}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if err := c.send(protocol.Frame{Type: protocol.FrameAuth, Token: protocol.AuthToken(dev)}); err != nil {
		return err
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed frame from hub")
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(protocol.Frame{Type: protocol.FramePing}); err != nil {
				return
			}
		}
	}
}

func (c *Client) send(f protocol.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) handleFrame(f protocol.Frame) {
	switch f.Type {
	case protocol.FrameAuthSuccess:
		c.mu.Lock()
		roomID := c.state.RoomID
		c.mu.Unlock()

		if roomID != "" {
			log.Info().Str("pairId", roomID).Msg("authenticated, rejoining room")
			c.send(protocol.Frame{Type: protocol.FrameRejoin, PairID: roomID})
		} else {
			c.requestPairCode()
		}

	case protocol.FrameAuthError:
		log.Error().Str("reason", f.Reason).Msg("hub rejected authentication")

	case protocol.FrameRejoinSuccess:
		online := f.PeerOnline != nil && *f.PeerOnline
		log.Info().Bool("peerOnline", online).Msg("rejoined room")

	case protocol.FramePaired:
		c.setRoom(f.PairID)
		log.Info().Str("pairId", f.PairID).Msg("paired with phone")

	case protocol.FrameRejoinFailed:
		log.Warn().Str("reason", f.Reason).Msg("rejoin failed, requesting a new pair code")
		c.setRoom("")
		c.requestPairCode()

	case protocol.FrameUnpaired:
		log.Warn().Msg("unpaired by the hub, requesting a new pair code")
		c.setRoom("")
		c.requestPairCode()

	case protocol.FramePeerOffline:
		log.Info().Msg("phone went offline")

	case protocol.FramePong:
		// Keepalive echo.

	case protocol.FrameMessage:
		if f.Payload == nil {
			return
		}
		if err := c.mux.Dispatch(f.Payload.SessionID, f.Payload.Content); err != nil {
			c.sendText(f.Payload.SessionID, errorText(err))
		}

	case protocol.FrameSessionList:
		c.sendSessionList()

	case protocol.FrameSessionCreate:
		var p protocol.SessionCreatePayload
		if f.Data != nil {
			json.Unmarshal(f.Data, &p)
		}
		sess, err := c.mux.Create(p.Name, p.WorkingDirectory)
		if err != nil {
			c.sendSessionError(err)
			return
		}
		c.sendSessionFrame(protocol.FrameSessionCreated, sess)

	case protocol.FrameSessionSwitch:
		var p protocol.SessionSwitchPayload
		if f.Data == nil || json.Unmarshal(f.Data, &p) != nil || p.Target == "" {
			c.sendSessionError(apperrors.InvalidInput("target", "missing"))
			return
		}
		sess, err := c.mux.Switch(p.Target)
		if err != nil {
			c.sendSessionError(err)
			return
		}
		c.sendSessionFrame(protocol.FrameSessionSwitched, sess)

	case protocol.FrameSessionDelete:
		var p protocol.SessionDeletePayload
		if f.Data != nil {
			json.Unmarshal(f.Data, &p)
		}
		id := 0
		if p.ID != "" {
			n, err := strconv.Atoi(p.ID)
			if err != nil {
				c.sendSessionError(apperrors.NotFound("Session " + p.ID))
				return
			}
			id = n
		}
		if err := c.mux.Close(id); err != nil {
			c.sendSessionError(err)
			return
		}
		c.send(protocol.Frame{Type: protocol.FrameSessionDeleted})
		c.sendSessionList()

	default:
		log.Debug().Str("type", string(f.Type)).Msg("ignoring unexpected frame")
	}
}

// pumpMuxEvents forwards worker output to the hub for the lifetime of
// the agent; frames sent while disconnected are dropped, matching the
// hub's own offline-peer policy.
func (c *Client) pumpMuxEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.mux.Events():
			switch ev.Type {
			case MuxSessionMessage:
				text := ev.Text
				if ev.Subtype == SubtypeError {
					text = "Error: " + text
				}
				c.sendText(strconv.Itoa(ev.SessionID), text)
			case MuxSessionCreated, MuxSessionClosed, MuxSessionSwitched, MuxSessionRenamed:
				c.sendSessionList()
			}
		}
	}
}

func (c *Client) sendText(sessionID, text string) {
	env := protocol.NewEnvelope(text, sessionID)
	if err := c.send(protocol.Frame{Type: protocol.FrameMessage, Payload: &env}); err != nil {
		log.Debug().Err(err).Msg("dropping outbound message, not connected")
	}
}

func (c *Client) sendSessionList() {
	data, err := json.Marshal(protocol.SessionListPayload{Sessions: c.mux.List()})
	if err != nil {
		return
	}
	c.send(protocol.Frame{Type: protocol.FrameSessionList, Data: data})
}

func (c *Client) sendSessionFrame(t protocol.FrameType, sess *Session) {
	info := protocol.SessionInfo{
		ID:               strconv.Itoa(sess.ID),
		Name:             sess.Name,
		WorkingDirectory: sess.WorkingDirectory,
		Status:           string(sess.Status()),
		IsActive:         true,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	c.send(protocol.Frame{Type: t, Data: data})
}

func (c *Client) sendSessionError(err error) {
	data, merr := json.Marshal(protocol.SessionErrorPayload{Error: errorText(err)})
	if merr != nil {
		return
	}
	c.send(protocol.Frame{Type: protocol.FrameSessionError, Data: data})
}

func (c *Client) setRoom(roomID string) {
	c.mu.Lock()
	c.state.RoomID = roomID
	st := c.state
	c.mu.Unlock()

	if err := c.store.Save(st); err != nil {
		log.Error().Err(err).Msg("failed to persist agent state")
	}
}

// requestPairCode asks the hub for a fresh code and surfaces it to the
// operator via the log.
func (c *Client) requestPairCode() {
	c.mu.Lock()
	body := map[string]string{
		"deviceId":   c.state.DeviceID,
		"deviceName": c.cfg.DeviceName,
		"platform":   "desktop",
	}
	c.mu.Unlock()

	payload, _ := json.Marshal(body)
	resp, err := c.httpc.Post(c.cfg.HubAPIURL+"/api/pair/request", "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Msg("pair code request failed")
		return
	}
	defer resp.Body.Close()

	var out struct {
		Success bool `json:"success"`
		Data    struct {
			PairCode  string `json:"pairCode"`
			ExpiresAt int64  `json:"expiresAt"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.Success {
		log.Error().Err(err).Int("status", resp.StatusCode).Msg("pair code request rejected")
		return
	}

	expires := time.UnixMilli(out.Data.ExpiresAt)
	log.Info().
		Str("pairCode", out.Data.PairCode).
		Time("expiresAt", expires).
		Msgf("pair code: %s (enter it on your phone within %s)",
			out.Data.PairCode, time.Until(expires).Round(time.Second))
}

func errorText(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
