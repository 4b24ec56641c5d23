package timeline

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/stream"
	"github.com/rs/zerolog/log"
	"maunium.net/go/mautrix/event"
)

// MessageHandler turns room message events into domain messages.
type MessageHandler struct {
	out *stream.Publisher[domain.Message]
}

func NewMessageHandler() *MessageHandler {
	return &MessageHandler{out: stream.NewPublisher[domain.Message]()}
}

// Messages is hot: subscribers only see messages handled after subscribing.
func (h *MessageHandler) Messages() stream.Source[domain.Message] { return h.out }

func (h *MessageHandler) Handle(ev core.TimelineEvent) error {
	if ev.Type != event.EventMessage.Type {
		return nil
	}

	var raw event.MessageEventContent
	if err := json.Unmarshal(ev.Content, &raw); err != nil {
		return fmt.Errorf("decode message %s: %w", ev.EventID, err)
	}

	content, ok := convertContent(&raw)
	if !ok {
		log.Debug().
			Str("module", "app.timeline").
			Str("msgtype", string(raw.MsgType)).
			Str("event", string(ev.EventID)).
			Msg("unsupported message type dropped")
		return nil
	}

	h.out.Publish(domain.Message{
		ID:        ev.EventID,
		RoomID:    ev.RoomID,
		Sender:    ev.Sender,
		Content:   content,
		Timestamp: ev.Timestamp,
	})
	return nil
}

func convertContent(c *event.MessageEventContent) (domain.MessageContent, bool) {
	switch c.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
		return domain.TextContent{Kind: domain.ContentType(c.MsgType), Body: c.Body}, true
	case event.MsgImage:
		img := domain.ImageContent{Kind: domain.ContentImage, Body: c.Body, URL: string(c.URL)}
		if c.Info != nil {
			img.Info = &domain.ImageInfo{
				MimeType: c.Info.MimeType,
				Size:     c.Info.Size,
				Width:    c.Info.Width,
				Height:   c.Info.Height,
			}
		}
		return img, true
	case event.MsgFile:
		f := domain.FileContent{Kind: domain.ContentFile, Body: c.Body, URL: string(c.URL)}
		if c.Info != nil {
			f.Info = &domain.FileInfo{MimeType: c.Info.MimeType, Size: c.Info.Size}
		}
		return f, true
	default:
		return nil, false
	}
}
