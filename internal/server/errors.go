package server

import "errors"

var (
	// ErrMalformedEvent is returned for inbound events missing required
	// fields. Such events never mutate gateway state.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrHandshakeRejected is returned when a connection cannot present a
	// valid identity. No registry entry is created for it.
	ErrHandshakeRejected = errors.New("handshake rejected")
	ErrRoomNotJoined     = errors.New("room not joined")
	ErrGatewayStopped    = errors.New("gateway stopped")
)
