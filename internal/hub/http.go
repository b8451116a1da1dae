package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/pairlink/pairlink/internal/config"
	apperrors "github.com/pairlink/pairlink/internal/errors"
	"github.com/pairlink/pairlink/internal/httputil"
	"github.com/pairlink/pairlink/internal/middleware"
	"github.com/pairlink/pairlink/internal/protocol"
)

type pairRequestBody struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
}

type pairConfirmBody struct {
	PairCode   string `json:"pairCode"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

// Router assembles the hub HTTP surface: pairing API, WebSocket
// endpoint, health, metrics, and the static phone UI.
func (h *Hub) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Handle("/metrics", h.metrics.Handler())
	r.Get("/ws", h.HandleWS)

	r.Route("/api/pair", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Post("/request", h.handlePairRequest)
		r.Post("/confirm", h.handlePairConfirm)
		r.Get("/status", h.handlePairStatus)
		r.Get("/qr", h.handlePairQR)
	})

	fs := http.FileServer(http.Dir(h.cfg.StaticDir))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/mobile/", http.StatusFound)
	})
	r.Handle("/mobile/*", http.StripPrefix("/mobile/", fs))
	r.Handle("/mobile", http.RedirectHandler("/mobile/", http.StatusMovedPermanently))

	return r
}

func (h *Hub) handlePairRequest(w http.ResponseWriter, r *http.Request) {
	var body pairRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if body.DeviceID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("deviceId"))
		return
	}
	if body.DeviceName == "" {
		httputil.WriteError(w, apperrors.MissingRequired("deviceName"))
		return
	}
	role := protocol.Role(body.Platform)
	if !role.Valid() {
		httputil.WriteError(w, apperrors.InvalidInput("platform", "must be desktop or web"))
		return
	}

	pending, err := h.pairing.Request(protocol.Device{
		ID:   body.DeviceID,
		Name: body.DeviceName,
		Role: role,
	})
	if err != nil {
		httputil.WriteError(w, apperrors.Internal("Failed to issue pair code").WithCause(err))
		return
	}

	h.metrics.PairRequests.Inc()
	httputil.WriteSuccess(w, map[string]any{
		"pairCode":  pending.Code,
		"expiresAt": pending.ExpiresAt.UnixMilli(),
	})
}

// handlePairConfirm is the web side of the handshake: in the cloud
// variant the confirmer role is fixed by this endpoint, not sent in the
// body. Pairing failures come back in the response body, never as
// socket errors.
func (h *Hub) handlePairConfirm(w http.ResponseWriter, r *http.Request) {
	var body pairConfirmBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if body.PairCode == "" {
		httputil.WriteError(w, apperrors.MissingRequired("pairCode"))
		return
	}
	if body.DeviceID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("deviceId"))
		return
	}

	confirmer := protocol.Device{
		ID:   body.DeviceID,
		Name: body.DeviceName,
		Role: protocol.RoleWeb,
	}

	initiator, err := h.pairing.Confirm(body.PairCode, confirmer)
	if err != nil {
		appErr, ok := apperrors.AsAppError(err)
		if !ok {
			appErr = apperrors.Internal("Pairing failed")
		}
		httputil.WriteJSON(w, http.StatusOK, httputil.APIResponse{
			Success: false,
			Data:    map[string]any{"success": false, "error": appErr.Message},
			Error:   appErr.Message,
		})
		return
	}

	// Slot by role regardless of which side initiated.
	desktopID, webID := initiator.ID, confirmer.ID
	if initiator.Role == protocol.RoleWeb {
		desktopID, webID = confirmer.ID, initiator.ID
	}

	room, displaced := h.rooms.Create(desktopID, webID)
	for _, prev := range displaced {
		h.notifyUnpaired(prev)
	}
	h.notifyPaired(room)

	h.metrics.PairConfirms.Inc()
	httputil.WriteSuccess(w, map[string]any{
		"success": true,
		"pairId":  room.ID,
	})
}

func (h *Hub) handlePairStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("deviceId"))
		return
	}

	if roomID, ok := h.rooms.RoomFor(deviceID); ok {
		httputil.WriteSuccess(w, map[string]any{"paired": true, "pairId": roomID})
		return
	}
	httputil.WriteSuccess(w, map[string]any{"paired": false})
}

// handlePairQR renders a pending code as a QR of the phone pairing URL
// so the phone can scan instead of typing.
func (h *Hub) handlePairQR(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteError(w, apperrors.MissingRequired("code"))
		return
	}
	if h.pairing.Lookup(code) == nil {
		httputil.WriteError(w, apperrors.InvalidPairCode())
		return
	}

	base := h.cfg.PublicBaseURL
	if base == "" {
		base = "http://" + r.Host
	}
	png, err := qrcode.Encode(base+"/mobile/?code="+NormalizeCode(code), qrcode.Medium, 256)
	if err != nil {
		httputil.WriteError(w, apperrors.Internal("Failed to render QR code").WithCause(err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
