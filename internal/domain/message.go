package domain

import (
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ContentType is the message subtype; values match the protocol msgtype strings.
type ContentType string

const (
	ContentText   = ContentType(event.MsgText)
	ContentNotice = ContentType(event.MsgNotice)
	ContentEmote  = ContentType(event.MsgEmote)
	ContentImage  = ContentType(event.MsgImage)
	ContentFile   = ContentType(event.MsgFile)
)

// MessageContent is closed over TextContent, ImageContent and FileContent.
type MessageContent interface {
	Type() ContentType
	isMessageContent()
}

// TextContent carries text, notice and emote bodies.
type TextContent struct {
	Kind ContentType `json:"type"`
	Body string      `json:"body"`
}

type ImageInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int    `json:"size,omitempty"`
	Width    int    `json:"w,omitempty"`
	Height   int    `json:"h,omitempty"`
}

type ImageContent struct {
	Kind ContentType `json:"type"`
	Body string      `json:"body"` // file name
	URL  string      `json:"url"`
	Info *ImageInfo  `json:"info,omitempty"`
}

type FileInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int    `json:"size,omitempty"`
}

type FileContent struct {
	Kind ContentType `json:"type"`
	Body string      `json:"body"` // file name
	URL  string      `json:"url"`
	Info *FileInfo   `json:"info,omitempty"`
}

func (c TextContent) Type() ContentType  { return c.Kind }
func (c ImageContent) Type() ContentType { return ContentImage }
func (c FileContent) Type() ContentType  { return ContentFile }

func (TextContent) isMessageContent()  {}
func (ImageContent) isMessageContent() {}
func (FileContent) isMessageContent()  {}

// Message is a chat message as the application sees it.
type Message struct {
	ID        id.EventID     `json:"id"`
	RoomID    RoomID         `json:"room_id"`
	Sender    UserID         `json:"sender"`
	Content   MessageContent `json:"content"`
	Timestamp int64          `json:"timestamp"` // unix ms
}
