package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"test-asset-service/internal/config"
	"test-asset-service/internal/database"
	"test-asset-service/internal/repository"
	"test-asset-service/internal/service"
	"test-asset-service/internal/websocket"
)

func TestProjectEventStream(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.Open(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := websocket.NewHub()
	go hub.Run(ctx)

	r := gin.New()
	NewAssetHandler(service.NewAssetService(repository.NewStore(db), config.Default().Asset, hub), nil).RegisterRoutes(r)
	NewWebSocketHandler(hub).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/projects/3/events"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers(3) == 1 }, time.Second, 5*time.Millisecond)

	// events of another project are not delivered
	w := do(t, r, http.MethodPost, "/api/v1/modules", 1, gin.H{"projectId": 4, "name": "Other"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, r, http.MethodPost, "/api/v1/modules", 1, gin.H{"projectId": 3, "name": "Auth"})
	require.Equal(t, http.StatusCreated, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		ProjectID uint                   `json:"projectId"`
		Type      string                 `json:"type"`
		Payload   map[string]interface{} `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, uint(3), msg.ProjectID)
	assert.Equal(t, service.EventModuleCreated, msg.Type)
	assert.Equal(t, "Auth", msg.Payload["name"])
}

func TestProjectEventStreamRejectsBadProject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewWebSocketHandler(websocket.NewHub()).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/projects/x/events", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
