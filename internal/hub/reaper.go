package hub

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/config"
)

// Reaper periodically drops stale sockets, expires pending pair codes,
// and evicts rooms whose peers have both been offline past the idle
// TTL. Rooms with a live peer are never reaped.
type Reaper struct {
	hub      *Hub
	interval time.Duration
	done     chan struct{}
}

func NewReaper(h *Hub) *Reaper {
	return &Reaper{
		hub:      h,
		interval: config.ReaperInterval,
		done:     make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	go r.run()
	log.Info().Dur("interval", r.interval).Msg("reaper started")
}

func (r *Reaper) Stop() {
	close(r.done)
	log.Info().Msg("reaper stopped")
}

func (r *Reaper) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Sweep runs one reaper pass. Exported so tests can drive it with a
// controlled clock.
func (r *Reaper) Sweep(now time.Time) {
	r.sweepConnections(now)
	r.sweepPendingPairs()
	r.sweepRooms(now)
}

func (r *Reaper) sweepConnections(now time.Time) {
	staleAfter := time.Duration(config.HeartbeatMissFactor) * r.hub.cfg.HeartbeatInterval()

	for _, c := range r.hub.registry.Snapshot() {
		if now.Sub(c.LastPingAt()) > staleAfter {
			log.Info().Str("deviceId", c.Device().ID).Msg("closing stale connection")
			// Closing the socket runs the normal close path in the
			// connection's read loop; to the peer this looks the same
			// as a client-initiated disconnect.
			c.Close()
		}
	}
}

func (r *Reaper) sweepPendingPairs() {
	if removed := r.hub.pairing.DeleteExpired(); removed > 0 {
		log.Info().Int("count", removed).Msg("expired pair codes removed")
	}
}

func (r *Reaper) sweepRooms(now time.Time) {
	ttl := r.hub.cfg.RoomIdleTTL()

	for _, room := range r.hub.rooms.Snapshot() {
		desktopOnline := r.hub.registry.Online(room.DesktopDeviceID)
		webOnline := r.hub.registry.Online(room.WebDeviceID)

		if desktopOnline || webOnline {
			r.hub.rooms.ClearIdle(room.ID)
			continue
		}

		idleSince := r.hub.rooms.IdleSince(room.ID)
		if idleSince.IsZero() {
			r.hub.rooms.MarkIdle(room.ID, now)
			continue
		}
		if now.Sub(idleSince) > ttl {
			log.Info().Str("roomId", room.ID).Msg("evicting idle room")
			r.hub.rooms.Delete(room.ID)
		}
	}
}
