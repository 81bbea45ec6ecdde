package repository

import (
	"context"
	"testing"

	"study_sync_service/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lifecycle guards fail before any redis call, so no server is needed here

func TestRedisTransport_InitializeGuards(t *testing.T) {
	tr := NewRedisTransport(nil)

	assert.ErrorIs(t, tr.Initialize("", "u-1"), ErrTransportInit)
	assert.ErrorIs(t, tr.Initialize("app", ""), ErrTransportInit)

	require.NoError(t, tr.Initialize("app", "u-1"))
	assert.ErrorIs(t, tr.Initialize("app", "u-1"), ErrAlreadyInitialized)
}

func TestRedisTransport_AuthenticateGuards(t *testing.T) {
	tr := NewRedisTransport(nil)

	err := tr.Authenticate(context.Background(), "whatever")
	assert.ErrorIs(t, err, ErrTransportInit)

	require.NoError(t, tr.Initialize("app", "u-1"))

	err = tr.Authenticate(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrAuthToken)

	// a valid token minted for somebody else is still rejected
	other, err := token.GenerateRoomToken("u-999", "Mallory", "room-1", "study:x", token.RoleParticipant, token.PurposeRTM)
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Authenticate(context.Background(), other), ErrAuthToken)

	// so is a media token for the right user
	rtc, err := token.GenerateRoomToken("u-1", "Alice", "room-1", "study:x", token.RoleParticipant, token.PurposeRTC)
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Authenticate(context.Background(), rtc), ErrAuthToken)
}

func TestRedisTransport_OrderingGuards(t *testing.T) {
	tr := NewRedisTransport(nil)
	require.NoError(t, tr.Initialize("app", "u-1"))

	err := tr.JoinChannel(context.Background(), "study:x")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	assert.ErrorIs(t, tr.Broadcast(context.Background(), []byte("{}")), ErrNotJoined)
	assert.ErrorIs(t, tr.SendDirect(context.Background(), "u-2", []byte("{}")), ErrNotJoined)
}

func TestRedisTransport_LeaveIdempotent(t *testing.T) {
	tr := NewRedisTransport(nil)
	require.NoError(t, tr.Initialize("app", "u-1"))

	assert.NoError(t, tr.Leave())
	assert.NoError(t, tr.Leave())

	// the events channel closes exactly once
	_, open := <-tr.Events()
	assert.False(t, open)

	// and the transport stays dead
	assert.ErrorIs(t, tr.Authenticate(context.Background(), "x"), ErrTransportInit)
}

func TestPeekSender(t *testing.T) {
	assert.Equal(t, "u-7", peekSender([]byte(`{"type":"scroll","sender_id":"u-7"}`)))
	assert.Empty(t, peekSender([]byte(`not json`)))
	assert.Empty(t, peekSender([]byte(`{"type":"scroll"}`)))
}
