package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady            = errors.New("client not ready")
	ErrClientUninitialized = errors.New("client not initialized")
	ErrCallConflict        = errors.New("call teardown pending")
	ErrNoActiveCall        = errors.New("no active call")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomNotSelected     = errors.New("can only join call for currently selected room")
)

// CallFailure classifies why a call could not be established.
type CallFailure int

const (
	TransportFailure CallFailure = iota + 1
	SignalingFailure
)

func (k CallFailure) String() string {
	switch k {
	case TransportFailure:
		return "transport_failure"
	case SignalingFailure:
		return "signaling_failure"
	default:
		return fmt.Sprintf("unknown_failure_%d", int(k))
	}
}

// CallError is returned by a join that was rolled back.
type CallError struct {
	Kind CallFailure
	Room RoomID
	Err  error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s in %s: %v", e.Kind, e.Room, e.Err)
	}
	return fmt.Sprintf("%s in %s", e.Kind, e.Room)
}

func (e *CallError) Unwrap() error { return e.Err }

// Is matches another *CallError by Kind.
func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
