package rtc

import (
	"errors"
	"sync/atomic"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

var ErrTrackClosed = errors.New("track closed")

// LocalTrack is one published camera or microphone track. Samples written
// while muted are dropped.
type LocalTrack struct {
	*webrtc.TrackLocalStaticSample
	kind   core.TrackKind
	sender *webrtc.RTPSender
	state  atomic.Int32 // Zero by default (TrackStateOk)
}

func newLocalTrack(kind core.TrackKind, streamID string) (*LocalTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	if kind == core.TrackAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	}
	t, err := webrtc.NewTrackLocalStaticSample(codec, kind.String(), streamID)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{TrackLocalStaticSample: t, kind: kind}, nil
}

func (t *LocalTrack) MediaKind() core.TrackKind { return t.kind }

func (t *LocalTrack) State() TrackState { return TrackState(t.state.Load()) }

func (t *LocalTrack) MarkOk()     { t.state.Store(int32(TrackStateOk)) }
func (t *LocalTrack) MarkMuted()  { t.state.Store(int32(TrackStateMuted)) }
func (t *LocalTrack) MarkDelete() { t.state.Store(int32(TrackStateDelete)) }

func (t *LocalTrack) WriteSample(s media.Sample) error {
	switch t.State() {
	case TrackStateDelete:
		return ErrTrackClosed
	case TrackStateMuted:
		return nil
	default:
		return t.TrackLocalStaticSample.WriteSample(s)
	}
}

// drainRTCP keeps the sender's interceptors running until it is stopped.
func (t *LocalTrack) drainRTCP() {
	if t.sender == nil {
		return
	}
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.sender.Read(buf); err != nil {
			return
		}
	}
}
