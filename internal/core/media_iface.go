package core

import (
	"context"

	"github.com/dkeye/chatcall/internal/domain"
)

type TrackKind int

const (
	TrackAudio TrackKind = iota + 1
	TrackVideo
)

func (k TrackKind) String() string {
	switch k {
	case TrackAudio:
		return "audio"
	case TrackVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Track is a snapshot of one track publication.
type Track struct {
	SID        string
	Kind       TrackKind
	Muted      bool
	Subscribed bool
	Stream     domain.StreamHandle
}

// Participant is a snapshot of one participant and its publications.
type Participant struct {
	Identity domain.UserID
	Local    bool
	Tracks   []Track
}

type MediaEventKind int

const (
	ParticipantConnected MediaEventKind = iota + 1
	ParticipantDisconnected
	TrackPublished
	TrackUnpublished
	TrackSubscribed
	TrackUnsubscribed
	TrackMuted
	TrackUnmuted
	// Disconnected reports that the session dropped without Disconnect being called.
	Disconnected
)

func (k MediaEventKind) String() string {
	switch k {
	case ParticipantConnected:
		return "participant_connected"
	case ParticipantDisconnected:
		return "participant_disconnected"
	case TrackPublished:
		return "track_published"
	case TrackUnpublished:
		return "track_unpublished"
	case TrackSubscribed:
		return "track_subscribed"
	case TrackUnsubscribed:
		return "track_unsubscribed"
	case TrackMuted:
		return "track_muted"
	case TrackUnmuted:
		return "track_unmuted"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type MediaEvent struct {
	Kind        MediaEventKind
	Participant domain.UserID
	TrackSID    string
}

// ConnectRequest carries everything needed to open a media session.
// OnEvent is installed before any event can fire.
type ConnectRequest struct {
	Room        domain.RoomID
	Identity    domain.UserID
	Credentials domain.MediaCredentials
	OnEvent     func(MediaEvent)
}

// MediaTransport opens real-time audio/video sessions.
type MediaTransport interface {
	Connect(ctx context.Context, req ConnectRequest) (MediaSession, error)
}

// MediaSession is one connected media session.
type MediaSession interface {
	EnableCameraAndMicrophone(ctx context.Context) error
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	SetCameraEnabled(ctx context.Context, enabled bool) error
	// Participants returns the local participant and every remote one.
	Participants() []Participant
	// Disconnect stops all underlying media resources.
	Disconnect(ctx context.Context) error
}

// CredentialSource issues media-transport credentials for a room.
type CredentialSource interface {
	Credentials(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.MediaCredentials, error)
}
