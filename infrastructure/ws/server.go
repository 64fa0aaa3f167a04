package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"collab-lab/auth"
	"collab-lab/contract"
	"collab-lab/domain"
	apperrors "collab-lab/errors"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks belong to the fronting proxy; the claim token is
		// what gates access here.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Server exposes the collaboration operations over HTTP: the websocket
// stream plus the snapshot endpoints reconnecting clients fetch.
type Server struct {
	log *slog.Logger
	svc contract.ICollabService
	cfg SessionConfig
}

func NewServer(log *slog.Logger, svc contract.ICollabService, cfg SessionConfig) *Server {
	return &Server{log: log, svc: svc, cfg: cfg}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", s.handleWebsocket)

	api := router.Group("/api")
	api.GET("/rooms/:project_id/members", s.handleMembers)
	api.GET("/rooms/:project_id/status", s.handleStatus)
	return router
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("failed to upgrade the websocket", "error", err)
		return
	}
	session := NewSession(s.log, s.svc, conn, s.cfg)
	session.Run(c.Request.Context())
}

func (s *Server) handleMembers(c *gin.Context) {
	roomID, ok := s.authorize(c)
	if !ok {
		return
	}
	members, err := s.svc.Members(roomID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "members": members})
}

func (s *Server) handleStatus(c *gin.Context) {
	roomID, ok := s.authorize(c)
	if !ok {
		return
	}
	status, err := s.svc.Status(roomID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// authorize checks the Bearer claim against the project in the path. The
// snapshot endpoints carry the same claim the websocket join does.
func (s *Server) authorize(c *gin.Context) (domain.RoomID, bool) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		s.writeError(c, apperrors.ErrAuthRejected)
		return "", false
	}
	claim, err := auth.Verify(token, s.cfg.Secret)
	if err != nil {
		s.writeError(c, err)
		return "", false
	}
	projectID := c.Param("project_id")
	if !claim.Member || claim.ProjectID != projectID {
		s.writeError(c, apperrors.ErrNotAuthorized)
		return "", false
	}
	return domain.RoomID(projectID), true
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrAuthRejected):
		status = http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, apperrors.ErrRoomNotFound), errors.Is(err, apperrors.ErrNotAMember):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{
		"code":    apperrors.MapToWireCode(err),
		"message": err.Error(),
	})
}
