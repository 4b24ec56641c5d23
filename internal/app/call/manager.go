// Package call owns the single active call of the client: it bridges
// protocol call signaling with the media transport and publishes the
// aggregated participant streams.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/stream"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Streams = []domain.ParticipantStream

// Manager enforces at most one call per client. Join, leave and cleanup
// are serialized; a join for another room tears the current call down first.
type Manager struct {
	signaling core.CallSignaling
	media     core.MediaTransport
	creds     core.CredentialSource
	self      func() domain.UserID
	cfg       Config

	opMu sync.Mutex // serializes join, leave, cleanup and external teardown

	mu        sync.Mutex
	state     State
	sess      *session
	gen       uint64
	abortJoin context.CancelFunc
}

// session lives from Joining until the manager returns to Idle.
type session struct {
	id   string
	gen  uint64
	room domain.RoomID
	self domain.UserID

	// set during the join, read-only once Active
	call    core.GroupCall
	entered bool
	media   core.MediaSession

	streams *stream.Publisher[Streams]
	pubMu   sync.Mutex // held across compute and publish

	// guarded by Manager.mu
	audioMuted bool
	videoMuted bool
}

func NewManager(sig core.CallSignaling, media core.MediaTransport, creds core.CredentialSource, self func() domain.UserID, cfg Config) *Manager {
	return &Manager{
		signaling: sig,
		media:     media,
		creds:     creds,
		self:      self,
		cfg:       cfg,
	}
}

func (m *Manager) logger(sess *session) *zerolog.Logger {
	l := log.With().
		Str("module", "app.call").
		Str("room", string(sess.room)).
		Str("session", sess.id).
		Logger()
	return &l
}

// JoinCall joins the call of room, creating it when the room has none.
// Observers are attached before any snapshot is published. Joining the room
// of the current call only attaches the observers and republishes.
func (m *Manager) JoinCall(ctx context.Context, room domain.RoomID, observers ...stream.Observer[Streams]) (JoinResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	cur := m.sess
	same := cur != nil && cur.room == room && m.state.Phase == Active
	m.mu.Unlock()

	if same {
		subs := subscribeAll(cur.streams, observers)
		m.republish(cur.gen)
		return JoinResult{CallID: cur.call.ID(), RoomID: room, Subscriptions: subs}, nil
	}
	if cur != nil {
		m.logger(cur).Info().Str("next_room", string(room)).Msg("leaving current call before switching rooms")
		if err := m.leaveLocked(context.WithoutCancel(ctx)); err != nil {
			m.logger(cur).Warn().Err(err).Msg("teardown of previous call incomplete")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	self := m.self()
	m.mu.Lock()
	m.gen++
	sess := &session{
		id:      uuid.NewString(),
		gen:     m.gen,
		room:    room,
		self:    self,
		streams: stream.NewPublisher[Streams](),
	}
	m.sess = sess
	m.state = State{Phase: Joining, Room: room}
	m.abortJoin = cancel
	m.mu.Unlock()

	subs := subscribeAll(sess.streams, observers)
	logger := m.logger(sess)
	logger.Info().Msg("joining call")

	creds, err := m.creds.Credentials(ctx, room, self)
	if err != nil {
		return m.rollback(ctx, sess, domain.TransportFailure, fmt.Errorf("media credentials: %w", err))
	}

	gc, err := m.signaling.GroupCallForRoom(ctx, room)
	if err != nil {
		logger.Warn().Err(err).Msg("looking up group call failed, creating a new one")
		gc = nil
	}
	if gc == nil {
		gc, err = m.signaling.CreateGroupCall(ctx, room, true)
		if err != nil {
			return m.rollback(ctx, sess, domain.SignalingFailure, fmt.Errorf("create group call: %w", err))
		}
	}
	sess.call = gc

	if err := gc.Enter(ctx); err != nil {
		return m.rollback(ctx, sess, domain.SignalingFailure, fmt.Errorf("enter group call: %w", err))
	}
	sess.entered = true

	ms, err := m.media.Connect(ctx, core.ConnectRequest{
		Room:        room,
		Identity:    self,
		Credentials: creds,
		OnEvent:     m.onMediaEvent(sess.gen),
	})
	if err != nil {
		return m.rollback(ctx, sess, domain.TransportFailure, fmt.Errorf("connect media: %w", err))
	}
	m.mu.Lock()
	sess.media = ms
	m.mu.Unlock()

	if err := ms.EnableCameraAndMicrophone(ctx); err != nil {
		return m.rollback(ctx, sess, domain.TransportFailure, fmt.Errorf("enable camera and microphone: %w", err))
	}
	audio, video := m.cfg.StartAudioMuted, m.cfg.StartVideoMuted
	if err := ms.SetMicrophoneEnabled(ctx, !audio); err != nil {
		return m.rollback(ctx, sess, domain.TransportFailure, fmt.Errorf("initial microphone state: %w", err))
	}
	if err := ms.SetCameraEnabled(ctx, !video); err != nil {
		return m.rollback(ctx, sess, domain.TransportFailure, fmt.Errorf("initial camera state: %w", err))
	}
	if err := gc.SetMuted(ctx, audio, video); err != nil {
		logger.Warn().Err(err).Msg("announcing initial mute state failed")
	}

	m.mu.Lock()
	sess.audioMuted, sess.videoMuted = audio, video
	m.state = State{Phase: Active, Room: room}
	m.abortJoin = nil
	m.mu.Unlock()

	gen := sess.gen
	gc.OnEnded(func() { go m.endedExternally(gen, "group call ended") })

	logger.Info().Str("call", gc.ID()).Bool("audio_muted", audio).Bool("video_muted", video).Msg("call active")
	m.republish(gen)
	return JoinResult{CallID: gc.ID(), RoomID: room, Subscriptions: subs}, nil
}

func subscribeAll(p *stream.Publisher[Streams], observers []stream.Observer[Streams]) []*stream.Subscription {
	subs := make([]*stream.Subscription, 0, len(observers))
	for _, o := range observers {
		subs = append(subs, p.Subscribe(o))
	}
	return subs
}

// rollback releases whatever the failed join created and returns to Idle.
func (m *Manager) rollback(ctx context.Context, sess *session, kind domain.CallFailure, cause error) (JoinResult, error) {
	tctx := context.WithoutCancel(ctx)
	logger := m.logger(sess)

	if sess.media != nil {
		if err := sess.media.Disconnect(tctx); err != nil {
			logger.Warn().Err(err).Msg("rollback: media disconnect failed")
		}
	}
	if sess.entered {
		if err := sess.call.Leave(tctx); err != nil {
			logger.Warn().Err(err).Msg("rollback: leaving group call failed")
		}
	}

	m.mu.Lock()
	if m.sess == sess {
		m.sess = nil
		m.state = State{Phase: Idle}
	}
	m.abortJoin = nil
	m.mu.Unlock()
	sess.streams.Complete()

	logger.Error().Err(cause).Str("kind", kind.String()).Msg("join failed, rolled back")
	return JoinResult{}, &domain.CallError{Kind: kind, Room: sess.room, Err: cause}
}

// LeaveCall leaves the current call. It waits for an in-flight join and
// does nothing when Idle.
func (m *Manager) LeaveCall(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.leaveLocked(ctx)
}

// Cleanup tears down unconditionally, aborting an in-flight join.
// Teardown errors are logged and dropped.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	if m.abortJoin != nil {
		m.abortJoin()
	}
	m.mu.Unlock()

	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.leaveLocked(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Str("module", "app.call").Err(err).Msg("cleanup: teardown errors ignored")
	}
}

// leaveLocked must be called with opMu held. Local state is always cleared.
func (m *Manager) leaveLocked(ctx context.Context) error {
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		m.mu.Unlock()
		return nil
	}
	m.state = State{Phase: Leaving, Room: sess.room}
	m.mu.Unlock()

	var errs []error
	if sess.media != nil {
		if err := sess.media.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect media: %w", err))
		}
	}
	if sess.entered {
		if err := sess.call.Leave(ctx); err != nil {
			errs = append(errs, fmt.Errorf("leave group call: %w", err))
		}
	}
	sess.streams.Complete()

	m.mu.Lock()
	m.sess = nil
	m.state = State{Phase: Idle}
	m.mu.Unlock()

	m.logger(sess).Info().Int("errors", len(errs)).Msg("call left")
	return errors.Join(errs...)
}

// endedExternally handles a remote hangup or a dropped media session.
// Events from an older session are ignored.
func (m *Manager) endedExternally(gen uint64, reason string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil || sess.gen != gen {
		return
	}
	m.logger(sess).Info().Str("reason", reason).Msg("call ended externally")
	if err := m.leaveLocked(context.Background()); err != nil {
		m.logger(sess).Warn().Err(err).Msg("teardown after external end incomplete")
	}
}

func (m *Manager) onMediaEvent(gen uint64) func(core.MediaEvent) {
	return func(ev core.MediaEvent) {
		if ev.Kind == core.Disconnected {
			go m.endedExternally(gen, "media session disconnected")
			return
		}
		m.republish(gen)
	}
}

// republish recomputes the whole participant list and emits it at once.
func (m *Manager) republish(gen uint64) {
	m.mu.Lock()
	sess := m.sess
	ok := sess != nil && sess.gen == gen && m.state.Phase == Active && sess.media != nil
	m.mu.Unlock()
	if !ok {
		return
	}

	sess.pubMu.Lock()
	defer sess.pubMu.Unlock()
	sess.streams.Publish(aggregate(sess.self, sess.media.Participants()))
}

func (m *Manager) SetMicrophoneMuted(ctx context.Context, muted bool) error {
	return m.setMuted(ctx, core.TrackAudio, muted)
}

func (m *Manager) SetVideoMuted(ctx context.Context, muted bool) error {
	return m.setMuted(ctx, core.TrackVideo, muted)
}

// setMuted changes the transport first; the flag follows only on success.
func (m *Manager) setMuted(ctx context.Context, kind core.TrackKind, muted bool) error {
	m.mu.Lock()
	sess := m.sess
	active := sess != nil && m.state.Phase == Active
	m.mu.Unlock()
	if !active {
		return domain.ErrNoActiveCall
	}

	var err error
	switch kind {
	case core.TrackAudio:
		err = sess.media.SetMicrophoneEnabled(ctx, !muted)
	case core.TrackVideo:
		err = sess.media.SetCameraEnabled(ctx, !muted)
	}
	if err != nil {
		return fmt.Errorf("set %s muted: %w", kind, err)
	}

	m.mu.Lock()
	if m.sess != sess || m.state.Phase != Active {
		m.mu.Unlock()
		return domain.ErrNoActiveCall
	}
	if kind == core.TrackAudio {
		sess.audioMuted = muted
	} else {
		sess.videoMuted = muted
	}
	audio, video := sess.audioMuted, sess.videoMuted
	m.mu.Unlock()

	if err := sess.call.SetMuted(ctx, audio, video); err != nil {
		m.logger(sess).Warn().Err(err).Msg("announcing mute state failed")
	}
	return nil
}

// SubscribeStreams attaches o to the current call's participant streams.
func (m *Manager) SubscribeStreams(o stream.Observer[Streams]) (*stream.Subscription, error) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return nil, domain.ErrNoActiveCall
	}
	return sess.streams.Subscribe(o), nil
}

// Observers reports how many observers the current call's streams have.
func (m *Manager) Observers() int {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.streams.Len()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Muted reports the mute flags; both are true without a session.
func (m *Manager) Muted() (audio, video bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return true, true
	}
	return m.sess.audioMuted, m.sess.videoMuted
}
