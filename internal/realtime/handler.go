package realtime

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/collabdocs/internal/presence"
	"github.com/gogotex/collabdocs/pkg/logger"
	"github.com/gorilla/websocket"
)

// Identify returns the authenticated user of a request.
type Identify func(c *gin.Context) (presence.Member, bool)

// NewUpgrader accepts requests without an Origin header and those whose
// origin is listed. "*" allows every origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
}

// ServeWS upgrades an authenticated request and starts the connection pumps.
func ServeWS(h *Hub, upgrader *websocket.Upgrader, identify Identify) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := identify(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated."})
			return
		}
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warnf("websocket upgrade error: %v", err)
			return
		}
		conn := newConn(h, ws, user)
		h.Register(conn)
		logger.Debugf("socket %s connected for user %s", conn.id, user.ID)
		go conn.writePump()
		go conn.readPump()
	}
}

// CloseAll unregisters every connection; their write pumps send a close
// frame and exit.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.Unregister(c)
	}
}
