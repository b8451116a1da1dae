// Package hub implements the cloud rendezvous hub: the live-connection
// registry, pair-code store, room table, WebSocket dispatcher, HTTP
// pairing surface, and the heartbeat reaper. The hub never interprets
// assistant content; it matches two opposite-role devices into a room
// and relays frames between them.
//
// Lock discipline: the registry, room table and pairing store each own
// a mutex, acquired in that order when more than one is needed, and
// never held across a socket write.
package hub

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/pairlink/pairlink/internal/config"
)

type Hub struct {
	cfg      *config.HubConfig
	registry *Registry
	rooms    *RoomTable
	pairing  *PairingStore
	metrics  *Metrics
	upgrader websocket.Upgrader
}

func New(cfg *config.HubConfig) *Hub {
	h := &Hub{
		cfg:      cfg,
		registry: NewRegistry(),
		rooms:    NewRoomTable(),
		pairing:  NewPairingStore(cfg.PairCodeTTL()),
		metrics:  newMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			// Pairing codes are the access control; the browser origin
			// of the phone UI is not.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	h.metrics.registerGauges(h.registry, h.rooms, h.pairing)
	return h
}

func (h *Hub) Registry() *Registry    { return h.registry }
func (h *Hub) Rooms() *RoomTable      { return h.rooms }
func (h *Hub) Pairing() *PairingStore { return h.pairing }
