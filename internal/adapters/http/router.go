// Package http is the local control API: JSON endpoints over the
// coordinator plus a server-sent event feed.
package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dkeye/chatcall/internal/app/call"
	"github.com/dkeye/chatcall/internal/app/coord"
	"github.com/dkeye/chatcall/internal/config"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/stream"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionName = "ChatCallSessions"
	authKey     = "authorized"
)

// App is the coordinator surface served over HTTP.
type App interface {
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	RefreshRooms(ctx context.Context) error
	SelectRoom(room domain.RoomID) error
	JoinRoom(ctx context.Context, roomIDOrAlias string) (domain.RoomSummary, error)
	CreateRoom(ctx context.Context, opts domain.CreateRoomOptions) (domain.RoomID, error)
	SendMessage(ctx context.Context, room domain.RoomID, body string) error
	LoadMoreMessages(ctx context.Context, room domain.RoomID, limit int) error
	JoinCall(ctx context.Context, room domain.RoomID) (call.JoinResult, error)
	LeaveCall(ctx context.Context) error
	SetMicrophoneMuted(ctx context.Context, muted bool) error
	SetVideoMuted(ctx context.Context, muted bool) error

	State() *coord.State
	Messages() stream.Source[domain.Message]
	CallStreams() stream.Source[call.Streams]
}

var _ App = (*coord.Coordinator)(nil)

// AuthMiddleware admits requests carrying the configured secret as a bearer
// token or a session authorized through POST /api/auth. An empty secret
// admits everything.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && secretMatches(secret, bearer) {
			c.Next()
			return
		}
		if authed, _ := sessions.Default(c).Get(authKey).(bool); authed {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

func secretMatches(secret, got string) bool {
	return subtle.ConstantTimeCompare([]byte(secret), []byte(got)) == 1
}

func SetupRouter(cfg *config.Config, app App, readiness stream.Source[bool]) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))

	h := &handlers{
		app:       app,
		readiness: readiness,
		limiter:   NewSendRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Interval),
	}

	r.POST("/api/auth", h.authorize(cfg.Secret))

	api := r.Group("/api", AuthMiddleware(cfg.Secret))
	api.GET("/state", h.state)
	api.POST("/login", h.login)
	api.POST("/logout", h.logout)

	api.GET("/rooms", h.rooms)
	api.POST("/rooms", h.createRoom)
	api.POST("/rooms/join", h.joinRoom)
	api.POST("/rooms/select", h.selectRoom)
	api.POST("/rooms/messages", h.sendMessage)
	api.POST("/rooms/history", h.loadMore)

	api.POST("/call/join", h.joinCall)
	api.POST("/call/leave", h.leaveCall)
	api.POST("/call/mute", h.mute)

	api.GET("/events", h.events)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
