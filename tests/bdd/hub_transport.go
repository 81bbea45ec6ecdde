package bdd

import (
	"context"
	"encoding/json"
	"sync"

	"study_sync_service/internal/session/repository"
)

// memoryHub in-process message fabric wiring several transports together,
// stands in for the redis pub/sub layer in scenarios
type memoryHub struct {
	mu    sync.Mutex
	peers map[string]*hubTransport
}

func newMemoryHub() *memoryHub {
	return &memoryHub{peers: make(map[string]*hubTransport)}
}

func (h *memoryHub) transport() *hubTransport {
	return &hubTransport{
		hub:    h,
		events: make(chan repository.TransportEvent, 64),
	}
}

func (h *memoryHub) broadcast(from string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, peer := range h.peers {
		if id == from {
			continue
		}
		peer.events <- repository.ChannelMessage{SenderID: hubSender(payload), Payload: payload}
	}
}

func (h *memoryHub) direct(peerID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peer, ok := h.peers[peerID]; ok {
		peer.events <- repository.DirectMessage{SenderID: hubSender(payload), Payload: payload}
	}
}

type hubTransport struct {
	hub    *memoryHub
	events chan repository.TransportEvent

	mu     sync.Mutex
	userID string
	joined bool
	closed bool
}

func (t *hubTransport) Initialize(appID, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.userID != "" {
		return repository.ErrAlreadyInitialized
	}
	t.userID = userID
	return nil
}

func (t *hubTransport) Authenticate(ctx context.Context, token string) error { return nil }

func (t *hubTransport) JoinChannel(ctx context.Context, channelID string) error {
	t.mu.Lock()
	t.joined = true
	t.mu.Unlock()

	t.hub.mu.Lock()
	t.hub.peers[t.userID] = t
	t.hub.mu.Unlock()
	return nil
}

func (t *hubTransport) Broadcast(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	if t.closed || !t.joined {
		t.mu.Unlock()
		return repository.ErrNotJoined
	}
	t.mu.Unlock()
	t.hub.broadcast(t.userID, payload)
	return nil
}

func (t *hubTransport) SendDirect(ctx context.Context, peerID string, payload []byte) error {
	t.mu.Lock()
	if t.closed || !t.joined {
		t.mu.Unlock()
		return repository.ErrNotJoined
	}
	t.mu.Unlock()
	t.hub.direct(peerID, payload)
	return nil
}

func (t *hubTransport) Leave() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.hub.mu.Lock()
	delete(t.hub.peers, t.userID)
	t.hub.mu.Unlock()

	close(t.events)
	return nil
}

func (t *hubTransport) Events() <-chan repository.TransportEvent { return t.events }

func hubSender(payload []byte) string {
	var head struct {
		SenderID string `json:"sender_id"`
	}
	_ = json.Unmarshal(payload, &head)
	return head.SenderID
}
