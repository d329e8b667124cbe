package handler

import (
	"net/http"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	"test-asset-service/internal/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the configured UI origin once the server config carries one
		return true
	},
}

// WebSocketHandler streams asset events to subscribers.
type WebSocketHandler struct {
	hub *websocket.Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *websocket.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/projects/:projectId/events", h.StreamProjectEvents)
	}
}

// StreamProjectEvents upgrades the connection and subscribes it to the
// events of one project.
func (h *WebSocketHandler) StreamProjectEvents(c *gin.Context) {
	projectID, ok := idParam(c, "projectId")
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response
		log.WithError(err).WithField("project", projectID).Warn("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, projectID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
