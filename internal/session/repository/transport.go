package repository

import (
	"context"
	"errors"
)

// transport lifecycle errors
var (
	// ErrTransportInit transport not initialized
	ErrTransportInit = errors.New("transport not initialized")
	// ErrAlreadyInitialized Initialize called twice
	ErrAlreadyInitialized = errors.New("transport already initialized")
	// ErrNotAuthenticated channel operation before Authenticate
	ErrNotAuthenticated = errors.New("transport not authenticated")
	// ErrNotJoined send before JoinChannel
	ErrNotJoined = errors.New("channel not joined")
	// ErrAuthToken token rejected during Authenticate
	ErrAuthToken = errors.New("auth token rejected")
	// ErrChannelJoin channel join failed
	ErrChannelJoin = errors.New("channel join failed")
	// ErrSend message send failed
	ErrSend = errors.New("message send failed")
)

// ConnState definition transport connection state
type ConnState int

const (
	// ConnDisconnected no live connection
	ConnDisconnected ConnState = iota
	// ConnConnecting handshake in progress
	ConnConnecting
	// ConnConnected authenticated and usable
	ConnConnected
	// ConnReconnecting connection lost, transport retrying
	ConnReconnecting
)

// String readable connection state
func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// TransportEvent definition one callback-free transport notification,
// consumed from Transport.Events()
type TransportEvent interface{ transportEvent() }

// ChannelMessage broadcast payload from another member
// SenderID is peeked from the envelope so the engine can drop self echo
// before decoding
type ChannelMessage struct {
	SenderID string
	Payload  []byte
}

// DirectMessage unicast payload addressed to us
type DirectMessage struct {
	SenderID string
	Payload  []byte
}

// MemberJoined presence gain observed on the channel
type MemberJoined struct {
	MemberID string
}

// MemberLeft presence loss observed on the channel
type MemberLeft struct {
	MemberID string
}

// ConnStateChanged transport connection state transition
type ConnStateChanged struct {
	State ConnState
}

// TransportError non-fatal transport failure
type TransportError struct {
	Err error
}

func (ChannelMessage) transportEvent()   {}
func (DirectMessage) transportEvent()    {}
func (MemberJoined) transportEvent()     {}
func (MemberLeft) transportEvent()       {}
func (ConnStateChanged) transportEvent() {}
func (TransportError) transportEvent()   {}

// Transport definition the messaging layer the sync engine runs on
// implementations must be safe to drive from one goroutine while Events()
// is drained from another
type Transport interface {
	// Initialize bind the transport to an app and user, once
	Initialize(appID, userID string) error
	// Authenticate log the transport in with a messaging token
	Authenticate(ctx context.Context, token string) error
	// JoinChannel enter the room channel, starts delivery on Events()
	JoinChannel(ctx context.Context, channelID string) error
	// Broadcast send payload to every channel member
	Broadcast(ctx context.Context, payload []byte) error
	// SendDirect send payload to one member only
	SendDirect(ctx context.Context, peerID string, payload []byte) error
	// Leave tear down channel and connection, idempotent
	Leave() error
	// Events notifications channel, closed by Leave
	Events() <-chan TransportEvent
}
