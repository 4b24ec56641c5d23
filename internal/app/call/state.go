package call

import (
	"fmt"

	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/stream"
)

type Phase int

const (
	Idle Phase = iota
	Joining
	Active
	Leaving
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Leaving:
		return "leaving"
	default:
		return fmt.Sprintf("phase_%d", int(p))
	}
}

// State is the manager's tagged state. Room is empty only when Idle.
type State struct {
	Phase Phase
	Room  domain.RoomID
}

func (s State) String() string {
	if s.Phase == Idle {
		return s.Phase.String()
	}
	return fmt.Sprintf("%s{%s}", s.Phase, s.Room)
}

// Config holds the mute state applied right after a join.
type Config struct {
	StartAudioMuted bool
	StartVideoMuted bool
}

// DefaultConfig joins with the microphone muted and the camera on.
func DefaultConfig() Config {
	return Config{StartAudioMuted: true, StartVideoMuted: false}
}

// JoinResult identifies the joined call. Subscriptions match the observers
// passed to JoinCall, in order.
type JoinResult struct {
	CallID        string                 `json:"call_id"`
	RoomID        domain.RoomID          `json:"room_id"`
	Subscriptions []*stream.Subscription `json:"-"`
}
