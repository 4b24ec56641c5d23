package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
)

// Transport opens in-memory media sessions.
type Transport struct {
	ShouldFailConnect bool

	mu       sync.Mutex
	sessions []*MediaSession
}

func (t *Transport) Connect(_ context.Context, req core.ConnectRequest) (core.MediaSession, error) {
	if t.ShouldFailConnect {
		return nil, ErrInjected
	}
	s := &MediaSession{req: req}
	t.mu.Lock()
	t.sessions = append(t.sessions, s)
	t.mu.Unlock()
	return s, nil
}

// Last returns the most recently opened session.
func (t *Transport) Last() *MediaSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) == 0 {
		return nil
	}
	return t.sessions[len(t.sessions)-1]
}

type MediaSession struct {
	req core.ConnectRequest

	mu           sync.Mutex
	remotes      []core.Participant
	mic, cam     bool
	disconnected bool
}

func (s *MediaSession) EnableCameraAndMicrophone(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mic, s.cam = true, true
	return nil
}

func (s *MediaSession) SetMicrophoneEnabled(_ context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mic = on
	return nil
}

func (s *MediaSession) SetCameraEnabled(_ context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cam = on
	return nil
}

func (s *MediaSession) Participants() []core.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	local := core.Participant{Identity: s.req.Identity, Local: true}
	return append([]core.Participant{local}, s.remotes...)
}

func (s *MediaSession) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
	return nil
}

func (s *MediaSession) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// AddRemote publishes a remote participant with one live video track.
func (s *MediaSession) AddRemote(user domain.UserID, handle domain.StreamHandle) {
	s.mu.Lock()
	s.remotes = append(s.remotes, core.Participant{
		Identity: user,
		Tracks: []core.Track{{
			SID:        string(user) + "-video",
			Kind:       core.TrackVideo,
			Subscribed: true,
			Stream:     handle,
		}},
	})
	s.mu.Unlock()
	s.req.OnEvent(core.MediaEvent{Kind: core.TrackSubscribed, Participant: user})
}

type Credentials struct{}

func (Credentials) Credentials(_ context.Context, room domain.RoomID, user domain.UserID) (domain.MediaCredentials, error) {
	return domain.MediaCredentials{URL: "wss://media.test", Token: string(user) + "|" + string(room)}, nil
}

// Store keeps the session in memory.
type Store struct {
	mu      sync.Mutex
	session domain.Session
	Saves   int
	Clears  int
}

func (s *Store) Load() (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, nil
}

func (s *Store) Save(v domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = v
	s.Saves++
	return nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = domain.Session{}
	s.Clears++
	return nil
}
