// Package timeline dispatches live room events to content handlers.
package timeline

import (
	"fmt"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Handler consumes one timeline event. Handlers ignore event types they do
// not understand and return nil for them.
type Handler interface {
	Handle(ev core.TimelineEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev core.TimelineEvent) error

func (f HandlerFunc) Handle(ev core.TimelineEvent) error { return f(ev) }

// Router fans every live event out to all handlers. A failing handler does
// not stop the others.
type Router struct {
	handlers []Handler
}

func NewRouter(handlers ...Handler) *Router {
	return &Router{handlers: handlers}
}

// Route has the core.TimelineFunc signature so it can be attached directly.
func (r *Router) Route(ev core.TimelineEvent, room domain.RoomID, historical bool) {
	if room == "" || historical {
		return
	}
	if ev.RoomID == "" {
		ev.RoomID = room
	}
	for _, h := range r.handlers {
		if err := r.dispatch(h, ev); err != nil {
			log.Warn().
				Str("module", "app.timeline").
				Str("room", string(room)).
				Str("event", string(ev.EventID)).
				Str("type", ev.Type).
				Err(err).
				Msg("handler failed")
		}
	}
}

func (r *Router) dispatch(h Handler, ev core.TimelineEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h.Handle(ev)
}
