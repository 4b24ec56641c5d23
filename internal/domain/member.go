package domain

// StreamHandle identifies a media stream inside the media transport.
// The zero value is the placeholder used for a local tile without video.
type StreamHandle string

// ParticipantStream is one tile of a call: who, and which stream to render.
type ParticipantStream struct {
	UserID  UserID       `json:"user_id"`
	Stream  StreamHandle `json:"stream"`
	IsLocal bool         `json:"is_local"`
}

// Placeholder reports whether the entry carries no live video.
func (p ParticipantStream) Placeholder() bool { return p.Stream == "" }

// MediaCredentials authorize a connection to the media transport.
type MediaCredentials struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}
