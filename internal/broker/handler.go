package broker

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ServeWS is the websocket endpoint. The bearer token is taken from the
// Authorization header (or a token query parameter for browser clients that
// cannot set headers on websocket dials) and must authenticate before the
// upgrade.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	userID, err := h.auth(token)
	if err != nil {
		h.logger.Warn("authentication rejected", zap.Error(err))
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	s := newSession(h, conn, userID, h.logger)
	h.register(s)
	h.logger.Info("session attached", zap.String("user", userID))

	go s.writeLoop()
	go s.readLoop()
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return after
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
