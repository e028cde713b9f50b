package handlers

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/models"
)

// LiveFeed pushes newly created reports to connected dashboard clients
// over websockets.
type LiveFeed struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewLiveFeed creates an empty live feed hub
func NewLiveFeed() *LiveFeed {
	return &LiveFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: map[*websocket.Conn]struct{}{},
	}
}

// Handler upgrades the connection and keeps it registered until the
// client goes away. Clients only listen; inbound messages are discarded.
func (l *LiveFeed) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorw("websocket upgrade failed",
			"error", err)
		return
	}

	l.mu.Lock()
	l.conns[conn] = struct{}{}
	l.mu.Unlock()
	zap.S().Debugf("live feed client connected: %v", conn.RemoteAddr())

	go func() {
		defer l.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// BroadcastReport sends a new report to every connected client
func (l *LiveFeed) BroadcastReport(report models.Report) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for conn := range l.conns {
		if err := conn.WriteJSON(report); err != nil {
			zap.S().Debugf("dropping live feed client: %v", err)
			conn.Close()
			delete(l.conns, conn)
		}
	}
}

func (l *LiveFeed) drop(conn *websocket.Conn) {
	conn.Close()
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
}
