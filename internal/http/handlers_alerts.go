package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"budgetwatch/internal/alerts"
	applog "budgetwatch/internal/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
	socketBuffer   = 16
)

// handleAlertsSocket upgrades to a websocket and streams the owner's alert
// events until either side goes away. Events that do not fit the socket
// buffer are dropped.
func (s *Server) handleAlertsSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFrom(ctx)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		slog.WarnContext(ctx, "Websocket upgrade failed", applog.FieldError, err)
		return
	}
	defer conn.Close()

	ch := alerts.NewBufferedChannel(socketBuffer)
	unregister := s.subscribers.Register(owner, ch)
	defer unregister()
	slog.InfoContext(ctx, "Alert subscriber connected", applog.FieldComponent, applog.ComponentAlerts)

	// The read loop only services control frames and notices disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(maxInboundSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-ch.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				slog.DebugContext(ctx, "Alert write failed", applog.FieldError, err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			slog.InfoContext(ctx, "Alert subscriber disconnected", applog.FieldComponent, applog.ComponentAlerts)
			return
		case <-s.closing:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}
