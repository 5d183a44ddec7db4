package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrDestroyed          = errors.New("fluxer: shard destroyed")
	ErrNotConnected       = errors.New("fluxer: shard not connected")
	ErrPayloadTooLarge    = errors.New("fluxer: payload exceeds gateway size limit")
	ErrReconnectExhausted = errors.New("fluxer: reconnect attempts exhausted")
	ErrNoShards           = errors.New("fluxer: no shards to spawn")
	ErrShardNotSpawned    = errors.New("fluxer: guild's shard is not spawned in this process")
)

// ConnectionError represents a socket-level failure.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("fluxer: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("fluxer: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CloseError carries the close frame sent by the peer.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("fluxer: gateway closed with code %d: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("fluxer: gateway closed with code %d", e.Code)
}

// Fatal reports whether the code forbids reconnecting.
func (e *CloseError) Fatal() bool {
	return IsFatalClose(e.Code)
}

// ProtocolError represents a malformed or undecodable frame.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fluxer: protocol error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("fluxer: protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// SessionError is reported when the gateway invalidates a session.
type SessionError struct {
	SessionID string
	Resumable bool
}

func (e *SessionError) Error() string {
	if e.Resumable {
		return fmt.Sprintf("fluxer: session %s invalidated (resumable)", e.SessionID)
	}
	return fmt.Sprintf("fluxer: session %s invalidated", e.SessionID)
}

// GatewayError wraps a fatal shard condition.
type GatewayError struct {
	ShardID int
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("fluxer: shard %d: %v", e.ShardID, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
