package ws

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// Authenticator resolves a session credential to the user it belongs to.
type Authenticator interface {
	Authenticate(token string) (uuid.UUID, error)
}

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// The session credential comes from ?token=xxx (browsers can't set headers on
// the upgrade) or an Authorization bearer header.
func ServeWS(hub *Hub, auth Authenticator, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		userID, err := auth.Authenticate(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.log.Warn("ws: accept error", "error", err)
			return
		}

		NewClient(hub, conn, userID).Serve(r.Context())
	}
}
