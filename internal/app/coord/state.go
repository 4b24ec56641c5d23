package coord

import (
	"sort"
	"sync"

	"github.com/dkeye/chatcall/internal/domain"
)

type AuthState struct {
	UserID        domain.UserID   `json:"user_id"`
	AccessToken   string          `json:"-"`
	DeviceID      domain.DeviceID `json:"device_id"`
	Authenticated bool            `json:"authenticated"`
}

type CallState struct {
	ActiveRoomID domain.RoomID `json:"active_room_id,omitempty"`
	Joined       bool          `json:"joined"`
	AudioMuted   bool          `json:"audio_muted"`
	VideoMuted   bool          `json:"video_muted"`
	Loading      bool          `json:"loading"`
	Error        string        `json:"error,omitempty"`
}

func idleCall() CallState {
	return CallState{AudioMuted: true, VideoMuted: true}
}

// Snapshot is a copy of the application state; callers may keep it.
type Snapshot struct {
	Auth           AuthState                  `json:"auth"`
	Rooms          []domain.RoomSummary       `json:"rooms"`
	SelectedRoomID domain.RoomID              `json:"selected_room_id,omitempty"`
	Messages       []domain.Message           `json:"messages"`
	Call           CallState                  `json:"call"`
	CallStreams    []domain.ParticipantStream `json:"call_streams"`
}

// State is the application store. Every mutation goes through a reducer
// method; readers get copies.
type State struct {
	mu       sync.Mutex
	auth     AuthState
	rooms    map[domain.RoomID]domain.RoomSummary
	selected domain.RoomID
	messages []domain.Message
	call     CallState
	streams  []domain.ParticipantStream
}

func NewState() *State {
	return &State{
		rooms: make(map[domain.RoomID]domain.RoomSummary),
		call:  idleCall(),
	}
}

func (s *State) SetAuth(sess domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = AuthState{
		UserID:        sess.UserID,
		AccessToken:   sess.AccessToken,
		DeviceID:      sess.DeviceID,
		Authenticated: true,
	}
}

func (s *State) SetRooms(rooms []domain.RoomSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[domain.RoomID]domain.RoomSummary, len(rooms))
	for _, r := range rooms {
		s.rooms[r.RoomID] = r
	}
}

func (s *State) AddRoom(r domain.RoomSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.RoomID] = r
}

// Select switches the selected room and drops its messages. Only known
// rooms can be selected. It reports whether the selection changed.
func (s *State) Select(room domain.RoomID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; !ok {
		return false, domain.ErrRoomNotFound
	}
	changed := s.selected != room
	s.selected = room
	s.messages = nil
	return changed, nil
}

func (s *State) Selected() domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// AppendMessage keeps m only when it belongs to the selected room.
func (s *State) AppendMessage(m domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == "" || m.RoomID != s.selected {
		return false
	}
	s.messages = append(s.messages, m)
	return true
}

func (s *State) CallLoading(room domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.call.ActiveRoomID = room
	s.call.Loading = true
	s.call.Error = ""
}

func (s *State) CallJoined(room domain.RoomID, audioMuted, videoMuted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.call = CallState{
		ActiveRoomID: room,
		Joined:       true,
		AudioMuted:   audioMuted,
		VideoMuted:   videoMuted,
	}
}

func (s *State) CallFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.call = idleCall()
	s.call.Error = err.Error()
}

// CallLeft resets the call to its muted baseline.
func (s *State) CallLeft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.call = idleCall()
}

func (s *State) SetAudioMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.call.AudioMuted = muted
}

func (s *State) SetVideoMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.call.VideoMuted = muted
}

func (s *State) SetStreams(list []domain.ParticipantStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = append([]domain.ParticipantStream(nil), list...)
}

// Reset returns to the logged-out state.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = AuthState{}
	s.rooms = make(map[domain.RoomID]domain.RoomSummary)
	s.selected = ""
	s.messages = nil
	s.call = idleCall()
	s.streams = nil
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]domain.RoomSummary, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RoomID < rooms[j].RoomID })
	return Snapshot{
		Auth:           s.auth,
		Rooms:          rooms,
		SelectedRoomID: s.selected,
		Messages:       append([]domain.Message(nil), s.messages...),
		Call:           s.call,
		CallStreams:    append([]domain.ParticipantStream(nil), s.streams...),
	}
}
