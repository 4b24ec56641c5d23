package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/chatcall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WebRTCConnection wraps the client peer connection to the SFU.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	user   domain.UserID
	cancel context.CancelFunc

	mu       sync.Mutex
	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed func()
}

func WebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

func NewWebRTCConnection(cfg webrtc.Configuration, user domain.UserID) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{pc: pc, user: user}, nil
}

func (c *WebRTCConnection) logger() *zerolog.Logger {
	l := log.With().Str("module", "adapters.rtc").Str("user", string(c.user)).Logger()
	return &l
}

// Start installs the peer callbacks. Remote tracks get a context that ends
// when ICE fails or the connection closes.
func (c *WebRTCConnection) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger().Info().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger().Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			c.fireClosed()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if cand != nil && fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger().Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(ctx, track, receiver)
		}
	})
}

// CreateOffer sets and returns the local offer once ICE gathering is done.
func (c *WebRTCConnection) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.pc.LocalDescription(), nil
}

// ApplyOfferAndCreateAnswer handles renegotiation started by the SFU.
func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddLocalTrack publishes t and starts draining its RTCP.
func (c *WebRTCConnection) AddLocalTrack(t *LocalTrack) error {
	sender, err := c.pc.AddTrack(t.TrackLocalStaticSample)
	if err != nil {
		return err
	}
	t.sender = sender
	go t.drainRTCP()
	return nil
}

func (c *WebRTCConnection) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.pc.Close()
	if err != nil {
		c.logger().Error().Err(err).Msg("close error")
	} else {
		c.logger().Info().Msg("closed")
	}
	return err
}

func (c *WebRTCConnection) fireClosed() {
	c.mu.Lock()
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

// OnClosed sets the callback for a failed or closed peer connection.
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}
