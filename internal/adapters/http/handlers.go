package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/stream"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var ErrRateLimited = errors.New("too many messages, slow down")

type handlers struct {
	app       App
	readiness stream.Source[bool]
	limiter   *SendRateLimiter
}

type authRequest struct {
	Secret string `json:"secret"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type roomRequest struct {
	Room string `json:"room" binding:"required"`
}

type messageRequest struct {
	Room string `json:"room" binding:"required"`
	Body string `json:"body" binding:"required"`
}

type historyRequest struct {
	Room  string `json:"room" binding:"required"`
	Limit int    `json:"limit"`
}

type muteRequest struct {
	Kind  string `json:"kind" binding:"required,oneof=audio video"`
	Muted bool   `json:"muted"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var callErr *domain.CallError
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrClientUninitialized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRoomNotSelected),
		errors.Is(err, domain.ErrNoActiveCall),
		errors.Is(err, domain.ErrCallConflict):
		return http.StatusConflict
	case errors.As(err, &callErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	code := statusFor(err)
	ev := log.Warn()
	if code == http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", code).Msg("request failed")
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload", "detail": err.Error()})
}

func (h *handlers) authorize(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Status(http.StatusNoContent)
			return
		}
		var req authRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if !secretMatches(secret, req.Secret) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		s := sessions.Default(c)
		s.Set(authKey, true)
		if err := s.Save(); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.State().Snapshot())
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.app.Login(c.Request.Context(), req.Username, req.Password); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.app.State().Snapshot().Auth)
}

func (h *handlers) logout(c *gin.Context) {
	if err := h.app.Logout(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) rooms(c *gin.Context) {
	if err := h.app.RefreshRooms(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.app.State().Snapshot().Rooms)
}

func (h *handlers) createRoom(c *gin.Context) {
	var opts domain.CreateRoomOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		badRequest(c, err)
		return
	}
	if opts.Visibility == "" {
		opts.Visibility = domain.VisibilityPrivate
	}
	room, err := h.app.CreateRoom(c.Request.Context(), opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room_id": room})
}

func (h *handlers) joinRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	summary, err := h.app.JoinRoom(c.Request.Context(), req.Room)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handlers) selectRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.app.SelectRoom(domain.RoomID(req.Room)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.app.State().Snapshot())
}

func (h *handlers) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	room := domain.RoomID(req.Room)
	if !h.limiter.Allow(room) {
		fail(c, ErrRateLimited)
		return
	}
	if err := h.app.SendMessage(c.Request.Context(), room, req.Body); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handlers) loadMore(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.app.LoadMoreMessages(c.Request.Context(), domain.RoomID(req.Room), req.Limit); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handlers) joinCall(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.app.JoinCall(c.Request.Context(), domain.RoomID(req.Room))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": res.CallID, "room_id": res.RoomID})
}

func (h *handlers) leaveCall(c *gin.Context) {
	if err := h.app.LeaveCall(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	var err error
	if req.Kind == "audio" {
		err = h.app.SetMicrophoneMuted(c.Request.Context(), req.Muted)
	} else {
		err = h.app.SetVideoMuted(c.Request.Context(), req.Muted)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.app.State().Snapshot().Call)
}
