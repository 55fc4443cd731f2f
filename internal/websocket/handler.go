package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/clubdesk/internal/auth"
)

// HandleWebSocket upgrades an authenticated desk to the event feed.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			// Front-desk consoles are native clients on the club LAN.
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn)
		client.DeskID = r.Header.Get("X-Client-ID")
		client.Staff = auth.StaffName(r.Context())
		client.Run(r.Context(), logger)
		conn.Close(ws.StatusNormalClosure, "")
	}
}
