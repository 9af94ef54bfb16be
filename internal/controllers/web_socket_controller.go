package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/broadcast"
	"guardian_tracker/internal/dashboard"
	"guardian_tracker/internal/middleware"
	"guardian_tracker/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// upgrader configures the WebSocket connection. Origins are checked by the
// CORS layer in front of the router.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var errWebSocketRole = errors.New("unauthorized role for WebSocket connection")

// authenticateWebSocket validates the JWT passed as ?token=, since browsers
// cannot set headers on a WebSocket handshake.
func authenticateWebSocket(c *gin.Context) (*middleware.Claims, error) {
	tokenString := c.Query("token")
	if tokenString == "" {
		return nil, errors.New("missing authentication token")
	}
	claims, err := middleware.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	switch claims.Role {
	case models.RoleAdmin, models.RoleStaff:
		return claims, nil
	}
	return nil, errWebSocketRole
}

// HandleDashboardWebSocket streams dashboard snapshots. The current snapshot
// is sent right after the upgrade, then one per tracking or risk change.
// @Router /ws/dashboard [get]
// @Param token query string true "JWT token for authentication"
func HandleDashboardWebSocket(c *gin.Context) {
	serveTopic(c, broadcast.TopicDashboard, func(conn *websocket.Conn) error {
		entries, err := svc.Dashboard.Snapshot(c.Request.Context())
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(dashboard.Update{Children: entries})
	})
}

// HandleAnomalyWebSocket streams high severity anomaly alerts.
// @Router /ws/anomalies [get]
// @Param token query string true "JWT token for authentication"
func HandleAnomalyWebSocket(c *gin.Context) {
	serveTopic(c, broadcast.TopicAnomalies, nil)
}

func serveTopic(c *gin.Context, topic string, initial func(*websocket.Conn) error) {
	claims, authErr := authenticateWebSocket(c)
	if authErr != nil {
		status := http.StatusUnauthorized
		if errors.Is(authErr, errWebSocketRole) {
			status = http.StatusForbidden
		}
		logrus.WithError(authErr).WithField("topic", topic).Warn("WebSocket connection attempt rejected.")
		c.JSON(status, gin.H{"error": authErr.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade WebSocket connection.")
		return
	}
	defer conn.Close()

	entry := logrus.WithFields(logrus.Fields{
		"user_id":  claims.UserID,
		"topic":    topic,
		"conn_ptr": fmt.Sprintf("%p", conn),
	})
	entry.Info("WebSocket subscriber connected.")
	defer entry.Info("WebSocket subscriber disconnected.")

	sub := svc.Hub.Subscribe(topic)
	defer sub.Close()

	if initial != nil {
		if err := initial(conn); err != nil {
			entry.WithError(err).Warn("Failed to send initial WebSocket payload.")
			return
		}
	}

	done := make(chan struct{})
	go readUntilClosed(conn, entry, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				entry.WithError(err).Debug("WebSocket write failed.")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readUntilClosed drains client frames so control messages are processed and
// closes done when the peer goes away. Subscribers are not expected to send data.
func readUntilClosed(conn *websocket.Conn, entry logrus.FieldLogger, done chan<- struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				entry.WithError(err).Debug("WebSocket read ended.")
			}
			return
		}
		entry.Warn("WebSocket subscriber sent unexpected message. Ignoring.")
	}
}
