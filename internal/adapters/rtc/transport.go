// Package rtc is the media transport: a pion peer connection to an SFU,
// negotiated over a websocket signaling channel.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotPublished = errors.New("local tracks not published")
	ErrJoinRejected = errors.New("sfu rejected join")
)

type Config struct {
	SignalURL  string
	ICEServers []string
	ReadLimit  int64
	PingPeriod time.Duration
}

type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
}

var _ core.MediaTransport = (*Transport)(nil)

func NewTransport(cfg Config) *Transport {
	return &Transport{cfg: cfg, dialer: websocket.DefaultDialer}
}

// Connect joins the SFU room and returns once the room state arrived.
// Credentials.URL overrides the configured signal URL.
func (t *Transport) Connect(ctx context.Context, req core.ConnectRequest) (core.MediaSession, error) {
	url := req.Credentials.URL
	if url == "" {
		url = t.cfg.SignalURL
	}
	header := http.Header{}
	if req.Credentials.Token != "" {
		header.Set("Authorization", "Bearer "+req.Credentials.Token)
	}

	ws, _, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial signaling %s: %w", url, err)
	}
	peer, err := NewWebRTCConnection(WebRTCConfig(t.cfg.ICEServers), req.Identity)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		room:     req.Room,
		self:     req.Identity,
		onEvent:  req.OnEvent,
		sig:      newSignalConn(ws, t.cfg.ReadLimit),
		peer:     peer,
		cancel:   cancel,
		remotes:  make(map[domain.UserID]map[string]core.Track),
		joined:   make(chan roomStateMsg, 1),
		joinErr:  make(chan error, 1),
		answerCh: make(chan error, 1),
	}
	s.log = log.With().Str("module", "adapters.rtc").Str("room", string(req.Room)).Logger()

	peer.OnICECandidate(s.sendCandidate)
	peer.OnTrack(s.onRemoteTrack)
	peer.OnClosed(func() { s.lost(errors.New("peer connection closed")) })
	peer.Start(sctx)

	go s.sig.writePump(sctx, t.cfg.PingPeriod)
	go s.sig.readPump(sctx, s.handle, s.lost)

	if err := s.sig.sendJSON(joinMsg{Type: "join", Room: string(req.Room), Name: string(req.Identity), Token: req.Credentials.Token}); err != nil {
		_ = s.Disconnect(ctx)
		return nil, fmt.Errorf("send join: %w", err)
	}

	select {
	case st := <-s.joined:
		s.applyRoomState(st)
	case err := <-s.joinErr:
		_ = s.Disconnect(ctx)
		return nil, err
	case <-ctx.Done():
		_ = s.Disconnect(context.WithoutCancel(ctx))
		return nil, ctx.Err()
	}
	s.log.Info().Int("members", len(s.Participants())).Msg("joined sfu room")
	return s, nil
}

// Session is one connected SFU room. Events are emitted without holding
// the session lock.
type Session struct {
	room    domain.RoomID
	self    domain.UserID
	onEvent func(core.MediaEvent)
	sig     *signalConn
	peer    *WebRTCConnection
	cancel  context.CancelFunc
	log     zerolog.Logger

	joined   chan roomStateMsg
	joinErr  chan error
	answerCh chan error

	mu       sync.Mutex
	audio    *LocalTrack
	video    *LocalTrack
	remotes  map[domain.UserID]map[string]core.Track
	isJoined bool
	closing  bool
	lostOnce sync.Once
}

func (s *Session) emit(kind core.MediaEventKind, user domain.UserID, sid string) {
	if s.onEvent == nil {
		return
	}
	s.onEvent(core.MediaEvent{Kind: kind, Participant: user, TrackSID: sid})
}

// lost reports an unexpected end of the session, once.
func (s *Session) lost(err error) {
	s.mu.Lock()
	closing := s.closing
	joined := s.isJoined
	s.mu.Unlock()
	if closing {
		return
	}
	if !joined {
		select {
		case s.joinErr <- fmt.Errorf("signaling closed before join: %w", err):
		default:
		}
		return
	}
	s.lostOnce.Do(func() {
		s.log.Warn().Err(err).Msg("media session lost")
		s.emit(core.Disconnected, "", "")
	})
}

func (s *Session) handle(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Error().Err(err).Msg("bad json")
		return
	}

	switch env.Type {
	case "room_state":
		var m roomStateMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Error().Err(err).Msg("bad room_state payload")
			return
		}
		select {
		case s.joined <- m:
		default:
		}
	case "member_joined":
		var m memberMsg
		if err := json.Unmarshal(data, &m); err != nil || m.User.Username == "" {
			s.log.Error().Err(err).Msg("bad member_joined payload")
			return
		}
		user := domain.UserID(m.User.Username)
		if user == s.self {
			return
		}
		s.mu.Lock()
		_, known := s.remotes[user]
		if !known {
			s.remotes[user] = make(map[string]core.Track)
		}
		s.mu.Unlock()
		if !known {
			s.emit(core.ParticipantConnected, user, "")
		}
	case "member_left":
		var m memberMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Error().Err(err).Msg("bad member_left payload")
			return
		}
		user := domain.UserID(m.User.Username)
		s.mu.Lock()
		_, known := s.remotes[user]
		delete(s.remotes, user)
		s.mu.Unlock()
		if known {
			s.emit(core.ParticipantDisconnected, user, "")
		}
	case "mute":
		var m muteMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Error().Err(err).Msg("bad mute payload")
			return
		}
		s.applyRemoteMute(domain.UserID(m.User), m.Kind, m.Muted)
	case "offer":
		var m sdpMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Error().Err(err).Msg("bad offer payload")
			return
		}
		answer, err := s.peer.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP})
		if err != nil {
			s.log.Error().Err(err).Msg("webrtc apply offer")
			return
		}
		_ = s.sig.sendJSON(sdpMsg{Type: "answer", SDP: answer.SDP})
	case "answer":
		var m sdpMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Error().Err(err).Msg("bad answer payload")
			return
		}
		err := s.peer.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP})
		select {
		case s.answerCh <- err:
		default:
		}
	case "candidate":
		var m candidateMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Error().Err(err).Msg("bad candidate payload")
			return
		}
		cand := webrtc.ICECandidateInit{Candidate: m.Candidate}
		if m.SDPMid != "" {
			cand.SDPMid = &m.SDPMid
		}
		cand.SDPMLineIndex = &m.SDPMLineIndex
		if err := s.peer.AddICECandidate(cand); err != nil {
			s.log.Error().Err(err).Msg("add ice candidate")
		}
	case "error":
		var m errorMsg
		_ = json.Unmarshal(data, &m)
		s.log.Warn().Str("error", m.Error).Msg("sfu error")
		s.mu.Lock()
		joined := s.isJoined
		s.mu.Unlock()
		if !joined {
			select {
			case s.joinErr <- fmt.Errorf("%w: %s", ErrJoinRejected, m.Error):
			default:
			}
		}
	case "pong", "left":
	default:
		s.log.Warn().Str("type", env.Type).Msg("unknown signal")
	}
}

func (s *Session) applyRoomState(st roomStateMsg) {
	var added []domain.UserID
	s.mu.Lock()
	s.isJoined = true
	for _, m := range st.Members {
		user := domain.UserID(m.Username)
		if user == "" || user == s.self {
			continue
		}
		if _, ok := s.remotes[user]; !ok {
			s.remotes[user] = make(map[string]core.Track)
			added = append(added, user)
		}
	}
	s.mu.Unlock()
	for _, u := range added {
		s.emit(core.ParticipantConnected, u, "")
	}
}

func (s *Session) applyRemoteMute(user domain.UserID, kind string, muted bool) {
	var changed []string
	s.mu.Lock()
	for sid, t := range s.remotes[user] {
		if t.Kind.String() == kind && t.Muted != muted {
			t.Muted = muted
			s.remotes[user][sid] = t
			changed = append(changed, sid)
		}
	}
	s.mu.Unlock()
	ev := core.TrackUnmuted
	if muted {
		ev = core.TrackMuted
	}
	for _, sid := range changed {
		s.emit(ev, user, sid)
	}
}

// onRemoteTrack registers a forwarded track. The SFU uses the publisher's
// identity as the stream id.
func (s *Session) onRemoteTrack(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	user := domain.UserID(track.StreamID())
	kind := core.TrackVideo
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = core.TrackAudio
	}
	t := core.Track{
		SID:        track.ID(),
		Kind:       kind,
		Subscribed: true,
		Stream:     domain.StreamHandle(track.StreamID() + "/" + track.ID()),
	}

	s.mu.Lock()
	if s.remotes[user] == nil {
		s.remotes[user] = make(map[string]core.Track)
	}
	s.remotes[user][t.SID] = t
	s.mu.Unlock()
	s.emit(core.TrackSubscribed, user, t.SID)

	go s.drain(ctx, user, track)
}

// drain consumes remote RTP until the track ends.
func (s *Session) drain(ctx context.Context, user domain.UserID, track *webrtc.TrackRemote) {
	for ctx.Err() == nil {
		if _, _, err := track.ReadRTP(); err != nil {
			break
		}
	}
	s.mu.Lock()
	closing := s.closing
	if tracks, ok := s.remotes[user]; ok {
		delete(tracks, track.ID())
	}
	s.mu.Unlock()
	if !closing {
		s.emit(core.TrackUnsubscribed, user, track.ID())
	}
}

func (s *Session) sendCandidate(ci webrtc.ICECandidateInit) {
	m := candidateMsg{Type: "candidate", Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		m.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		m.SDPMLineIndex = *ci.SDPMLineIndex
	}
	_ = s.sig.sendJSON(m)
}

// EnableCameraAndMicrophone publishes the local tracks and waits for the
// SFU's answer. Calling it again is a no-op.
func (s *Session) EnableCameraAndMicrophone(ctx context.Context) error {
	s.mu.Lock()
	if s.audio != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	streamID := string(s.self)
	audio, err := newLocalTrack(core.TrackAudio, streamID)
	if err != nil {
		return fmt.Errorf("microphone track: %w", err)
	}
	video, err := newLocalTrack(core.TrackVideo, streamID)
	if err != nil {
		return fmt.Errorf("camera track: %w", err)
	}
	for _, t := range []*LocalTrack{audio, video} {
		if err := s.peer.AddLocalTrack(t); err != nil {
			return fmt.Errorf("add %s track: %w", t.MediaKind(), err)
		}
	}

	s.mu.Lock()
	s.audio, s.video = audio, video
	s.mu.Unlock()
	s.emit(core.TrackPublished, s.self, audio.ID())
	s.emit(core.TrackPublished, s.self, video.ID())

	offer, err := s.peer.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.sig.sendJSON(sdpMsg{Type: "offer", SDP: offer.SDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	select {
	case err := <-s.answerCh:
		if err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return s.setEnabled(core.TrackAudio, enabled)
}

func (s *Session) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return s.setEnabled(core.TrackVideo, enabled)
}

func (s *Session) setEnabled(kind core.TrackKind, enabled bool) error {
	s.mu.Lock()
	t := s.audio
	if kind == core.TrackVideo {
		t = s.video
	}
	s.mu.Unlock()
	if t == nil {
		return ErrNotPublished
	}
	if t.State() == TrackStateDelete {
		return ErrTrackClosed
	}

	if enabled {
		t.MarkOk()
	} else {
		t.MarkMuted()
	}
	if err := s.sig.sendJSON(muteMsg{Type: "mute", Kind: kind.String(), Muted: !enabled}); err != nil {
		s.log.Warn().Err(err).Msg("announcing mute failed")
	}
	ev := core.TrackUnmuted
	if !enabled {
		ev = core.TrackMuted
	}
	s.emit(ev, s.self, t.ID())
	return nil
}

// LocalTracks returns the published tracks for feeding samples; nil before
// EnableCameraAndMicrophone.
func (s *Session) LocalTracks() (audio, video *LocalTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio, s.video
}

func (s *Session) Participants() []core.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := core.Participant{Identity: s.self, Local: true}
	for _, t := range []*LocalTrack{s.audio, s.video} {
		if t == nil {
			continue
		}
		local.Tracks = append(local.Tracks, core.Track{
			SID:        t.ID(),
			Kind:       t.MediaKind(),
			Muted:      t.State() != TrackStateOk,
			Subscribed: true,
			Stream:     domain.StreamHandle(t.StreamID()),
		})
	}

	users := make([]domain.UserID, 0, len(s.remotes))
	for u := range s.remotes {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	out := make([]core.Participant, 0, len(users)+1)
	out = append(out, local)
	for _, u := range users {
		p := core.Participant{Identity: u}
		for _, t := range s.remotes[u] {
			p.Tracks = append(p.Tracks, t)
		}
		sort.Slice(p.Tracks, func(i, j int) bool { return p.Tracks[i].SID < p.Tracks[j].SID })
		out = append(out, p)
	}
	return out
}

// Disconnect leaves the SFU room and releases every resource. Safe to call
// more than once.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	audio, video := s.audio, s.video
	s.mu.Unlock()

	for _, t := range []*LocalTrack{audio, video} {
		if t != nil {
			t.MarkDelete()
		}
	}
	_ = s.sig.sendJSON(envelope{Type: "leave"})
	s.sig.Close()
	s.cancel()
	err := s.peer.Close()
	s.log.Info().Msg("media session disconnected")
	return err
}
