package domain

import "errors"

var (
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrConnectionExists    = errors.New("connection already registered")
	ErrTargetNotFound      = errors.New("relay target not found")
	ErrRelayBusy           = errors.New("connection already relaying")
	ErrRelayHandoffTimeout = errors.New("relay handoff timed out")
	ErrQueueFull           = errors.New("priority queue full")
	ErrInvalidPriority     = errors.New("invalid priority")
	// ErrPartialWrite means part of a frame reached the peer; the stream is
	// out of sync and must not be written again.
	ErrPartialWrite = errors.New("frame partially written")
)

// DisconnectReason says why a connection left the active registry.
type DisconnectReason string

const (
	ReasonPeerClosed    DisconnectReason = "peer_closed"
	ReasonIOError       DisconnectReason = "io_error"
	ReasonTimeout       DisconnectReason = "timeout"
	ReasonShutdown      DisconnectReason = "shutdown"
	ReasonPanic         DisconnectReason = "panic"
	ReasonAdmin         DisconnectReason = "admin"
	ReasonRelayFinished DisconnectReason = "relay_finished"
)
