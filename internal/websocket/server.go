package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/sirupsen/logrus"
)

// Server upgrades HTTP requests into hub clients
type Server struct {
	Hub      *Hub
	am       *auth.AuthMiddleware
	upgrader websocket.Upgrader
}

// NewServer creates a WebSocket server. An empty allowedOrigins accepts any origin.
func NewServer(hub *Hub, am *auth.AuthMiddleware, allowedOrigins []string) *Server {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Server{
		Hub: hub,
		am:  am,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// Start starts the hub loop
func (s *Server) Start() {
	go s.Hub.Run()
	logrus.Info("WebSocket server started")
}

// Stop stops the hub and disconnects clients
func (s *Server) Stop() {
	s.Hub.Stop()
	logrus.Info("WebSocket server stopped")
}

// HandleEvents upgrades the connection. A bearer token, passed as the token query
// parameter or Authorization header, unlocks private topics.
func (s *Server) HandleEvents(c *gin.Context) {
	var actor auth.Actor
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token != "" {
		verified, err := s.am.Verify(token)
		if err != nil {
			logrus.WithError(err).Warn("WebSocket authentication failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication failed",
				"code":  "AUTH_FAILED",
			})
			return
		}
		actor = verified
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	client := NewClient(conn, s.Hub, uuid.NewString(), actor)
	s.Hub.registerClient(client)

	go client.WritePump()
	go client.ReadPump()
}

// HandleStats returns WebSocket connection statistics
func (s *Server) HandleStats(c *gin.Context) {
	stats := s.Hub.GetStats()
	stats.ActiveConnections = s.Hub.GetClientCount()
	stats.TotalSubscriptions = s.Hub.GetSubscriptionCount()
	stats.LastUpdate = time.Now()
	c.JSON(http.StatusOK, stats)
}

// RegisterRoutes registers WebSocket routes with the Gin router
func (s *Server) RegisterRoutes(router *gin.Engine) {
	ws := router.Group("/ws")
	{
		ws.GET("/events", s.HandleEvents)
		ws.GET("/stats", s.HandleStats)
	}
}
