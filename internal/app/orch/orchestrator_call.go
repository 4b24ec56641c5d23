package orch

import (
	"context"

	"github.com/dkeye/chatcall/internal/app/call"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/dkeye/chatcall/internal/stream"
)

func (o *Orchestrator) JoinCall(ctx context.Context, room domain.RoomID, observers ...stream.Observer[call.Streams]) (call.JoinResult, error) {
	if err := o.ready(ctx); err != nil {
		return call.JoinResult{}, err
	}
	return o.Calls.JoinCall(ctx, room, observers...)
}

func (o *Orchestrator) LeaveCall(ctx context.Context) error {
	return o.Calls.LeaveCall(ctx)
}

func (o *Orchestrator) SetMicrophoneMuted(ctx context.Context, muted bool) error {
	return o.Calls.SetMicrophoneMuted(ctx, muted)
}

func (o *Orchestrator) SetVideoMuted(ctx context.Context, muted bool) error {
	return o.Calls.SetVideoMuted(ctx, muted)
}

func (o *Orchestrator) CallState() call.State { return o.Calls.State() }

// CallMuted reports the mute flags of the current call.
func (o *Orchestrator) CallMuted() (audio, video bool) { return o.Calls.Muted() }
