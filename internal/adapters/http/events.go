package http

import (
	"io"

	"github.com/dkeye/chatcall/internal/app/call"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const eventBuffer = 64

type sse struct {
	name string
	data any
}

// events streams messages, call streams and readiness as server-sent
// events until the client goes away. A slow client loses events rather
// than blocking publishers.
func (h *handlers) events(c *gin.Context) {
	ch := make(chan sse, eventBuffer)
	push := func(ev sse) {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("module", "adapters.http").Str("event", ev.name).Msg("event feed backpressure, dropping")
		}
	}

	subs := []*stream.Subscription{
		h.app.Messages().Subscribe(stream.Observer[domain.Message]{
			Next: func(m domain.Message) { push(sse{"message", m}) },
		}),
		h.app.CallStreams().Subscribe(stream.Observer[call.Streams]{
			Next: func(s call.Streams) { push(sse{"call_streams", s}) },
		}),
	}
	if h.readiness != nil {
		subs = append(subs, h.readiness.Subscribe(stream.Observer[bool]{
			Next: func(ready bool) { push(sse{"readiness", gin.H{"ready": ready}}) },
		}))
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	log.Info().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("event feed attached")
	c.SSEvent("state", h.app.State().Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-ch:
			c.SSEvent(ev.name, ev.data)
			return true
		case <-ctx.Done():
			return false
		}
	})
	log.Info().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("event feed detached")
}
