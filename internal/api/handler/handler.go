package handler

import (
	"net/http"
	"slices"

	"github.com/billychen0894/spareTalk/internal/chathub"
	"github.com/gorilla/websocket"
)

// Options tunes the transport side of the handlers.
type Options struct {
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string
	SendRPS        float64
	SendBurst      int
}

// Handler holds the chat hub the HTTP and websocket endpoints talk to.
type Handler struct {
	Hub      *chathub.ManagerService
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(hub *chathub.ManagerService, opts Options) *Handler {
	h := &Handler{Hub: hub, opts: opts}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, origin)
}
