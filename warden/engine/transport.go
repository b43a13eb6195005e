package engine

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("chat transport not connected")

// The chat-protocol capabilities the engine needs. Implementations should return
// ErrNotConnected (possibly wrapped) when the link is down.
type ChatTransport interface {
	SendMessage(ctx context.Context, channel, text string) error
	Kick(ctx context.Context, channel, user, reason string) error
	SetBanMask(ctx context.Context, channel, mask string) error
	ClearBanMask(ctx context.Context, channel, mask string) error
	// Takes user out of fromChannel and puts them in toChannel.
	MoveUser(ctx context.Context, user, fromChannel, toChannel, reason string) error
	// Best-effort network host of a user; false when unknown.
	ResolveHost(ctx context.Context, user string) (string, bool)
	IsConnected() bool
}

// Records executed sanctions somewhere durable (see the auditlog package).
type IncidentRecorder interface {
	RecordIncident(ctx context.Context, inc Incident) error
}
