package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"study_sync_service/internal/session/domain"
	"study_sync_service/internal/session/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport in-memory Transport, broadcasts are recorded and a hook can
// inject replies the way a remote peer would
type fakeTransport struct {
	mu         sync.Mutex
	events     chan repository.TransportEvent
	broadcasts [][]byte
	directs    map[string][][]byte
	closed     bool

	onBroadcast func(payload []byte)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:  make(chan repository.TransportEvent, 64),
		directs: make(map[string][][]byte),
	}
}

func (f *fakeTransport) Initialize(appID, userID string) error { return nil }

func (f *fakeTransport) Authenticate(ctx context.Context, token string) error { return nil }

func (f *fakeTransport) JoinChannel(ctx context.Context, channelID string) error { return nil }

func (f *fakeTransport) Broadcast(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return repository.ErrSend
	}
	cp := append([]byte(nil), payload...)
	f.broadcasts = append(f.broadcasts, cp)
	hook := f.onBroadcast
	f.mu.Unlock()

	if hook != nil {
		hook(cp)
	}
	return nil
}

func (f *fakeTransport) SendDirect(ctx context.Context, peerID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return repository.ErrSend
	}
	f.directs[peerID] = append(f.directs[peerID], append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.events)
	return nil
}

func (f *fakeTransport) Events() <-chan repository.TransportEvent { return f.events }

func (f *fakeTransport) push(ev repository.TransportEvent) {
	f.events <- ev
}

func (f *fakeTransport) broadcastKinds(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var kinds []string
	for _, b := range f.broadcasts {
		env, err := domain.DecodeEnvelope(b)
		require.NoError(t, err)
		kinds = append(kinds, env.Type)
	}
	return kinds
}

func (f *fakeTransport) directCount(peerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.directs[peerID])
}

func encodeEvent(t *testing.T, ev domain.Event) []byte {
	t.Helper()
	data, err := domain.Encode(ev)
	require.NoError(t, err)
	return data
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestSyncEngine_HostStartsSynced(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "host-1", UserName: "Hannah", IsHost: true}, nil)
	defer e.Leave()

	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	assert.Equal(t, StateSynced, e.Phase())
	assert.False(t, e.Degraded())
	assert.Equal(t, []string{"join"}, ft.broadcastKinds(t))

	st := e.State()
	assert.True(t, st.Participants["host-1"].IsHost)
}

func TestSyncEngine_HandshakeAppliesSnapshot(t *testing.T) {
	ft := newFakeTransport()

	// the "host" on the other end replies to our join with a unicast snapshot
	snapshot := domain.Snapshot{
		Participants: []domain.Participant{
			{ID: "A", Name: "Amy", IsHost: true, Role: domain.RoleHost},
		},
		PresenterID: "A",
		Bookmarks:   []int{2},
		Scroll:      domain.ScrollPosition{Position: 0.25, Paragraph: 2},
	}
	ft.onBroadcast = func(payload []byte) {
		env, err := domain.DecodeEnvelope(payload)
		require.NoError(t, err)
		if env.Type == string(domain.KindJoin) {
			ft.push(repository.DirectMessage{
				SenderID: "A",
				Payload: encodeEvent(t, &domain.StateSnapshotEvent{
					Meta:     domain.Meta{SenderID: "A", Seq: 1},
					Snapshot: snapshot,
				}),
			})
		}
	}

	e := NewSyncEngine(ft, Options{UserID: "u-2", UserName: "Ben", SnapshotWait: time.Second}, nil)
	defer e.Leave()

	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	assert.Equal(t, StateSynced, e.Phase())
	assert.False(t, e.Degraded())

	// the handshake is join plus an immediate request_state
	assert.Equal(t, []string{"join", "request_state"}, ft.broadcastKinds(t))

	st := e.State()
	assert.Equal(t, "A", st.PresenterID)
	assert.Equal(t, []int{2}, st.BookmarkList())
	assert.Contains(t, st.Participants, "A")
	assert.Contains(t, st.Participants, "u-2")
}

func TestSyncEngine_SnapshotTimeoutDegrades(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{
		UserID:          "u-2",
		SnapshotWait:    20 * time.Millisecond,
		SnapshotRetries: 2,
	}, nil)
	defer e.Leave()

	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	assert.Equal(t, StateSynced, e.Phase())
	assert.True(t, e.Degraded())
	assert.Equal(t, []string{"join", "request_state", "request_state", "request_state"}, ft.broadcastKinds(t))

	// a degraded engine still accepts local mutations
	_, err := e.CreateNote(context.Background(), 1, "solo note")
	assert.NoError(t, err)
}

func TestSyncEngine_HostAnswersJoinAndRequestState(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "host-1", IsHost: true}, nil)
	defer e.Leave()

	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	ft.push(repository.ChannelMessage{
		SenderID: "u-2",
		Payload: encodeEvent(t, &domain.JoinEvent{
			Meta:        domain.Meta{SenderID: "u-2", Seq: 1},
			Participant: domain.Participant{ID: "u-2", Name: "Ben"},
		}),
	})
	waitFor(t, func() bool { return ft.directCount("u-2") == 1 })

	ft.push(repository.ChannelMessage{
		SenderID: "u-2",
		Payload:  encodeEvent(t, &domain.RequestStateEvent{Meta: domain.Meta{SenderID: "u-2", Seq: 2}}),
	})
	waitFor(t, func() bool { return ft.directCount("u-2") == 2 })

	st := e.State()
	assert.Contains(t, st.Participants, "u-2")
}

func TestSyncEngine_StaleSequenceDropped(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "host-1", IsHost: true}, nil)
	defer e.Leave()
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	ft.push(repository.ChannelMessage{
		SenderID: "u-2",
		Payload: encodeEvent(t, &domain.HighlightCreateEvent{
			Meta:      domain.Meta{SenderID: "u-2", Seq: 5},
			Highlight: domain.Highlight{ID: "h-new"},
		}),
	})
	// a message that arrives late with an older sequence number
	ft.push(repository.ChannelMessage{
		SenderID: "u-2",
		Payload: encodeEvent(t, &domain.HighlightCreateEvent{
			Meta:      domain.Meta{SenderID: "u-2", Seq: 4},
			Highlight: domain.Highlight{ID: "h-old"},
		}),
	})

	waitFor(t, func() bool { return len(e.State().Highlights) == 1 })
	time.Sleep(20 * time.Millisecond)

	st := e.State()
	require.Len(t, st.Highlights, 1)
	assert.Equal(t, "h-new", st.Highlights[0].ID)
}

func TestSyncEngine_SelfEchoIgnored(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "host-1", IsHost: true}, nil)
	defer e.Leave()
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	id, err := e.CreateHighlight(context.Background(), "osmosis", 10, 20, "#fff176")
	require.NoError(t, err)

	// the pub/sub loopback delivers our own broadcast back to us
	ft.mu.Lock()
	echo := ft.broadcasts[len(ft.broadcasts)-1]
	ft.mu.Unlock()
	ft.push(repository.ChannelMessage{SenderID: "host-1", Payload: echo})
	time.Sleep(20 * time.Millisecond)

	st := e.State()
	require.Len(t, st.Highlights, 1)
	assert.Equal(t, id, st.Highlights[0].ID)
}

func TestSyncEngine_ScrollRateLimited(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "host-1", IsHost: true}, nil)
	defer e.Leave()
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))
	require.NoError(t, e.SetPresenter(context.Background(), "host-1"))

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Scroll(context.Background(), float64(i)/10, i))
	}

	var scrolls int
	for _, kind := range ft.broadcastKinds(t) {
		if kind == string(domain.KindScroll) {
			scrolls++
		}
	}
	assert.Equal(t, 1, scrolls)
}

func TestSyncEngine_ScrollFromNonPresenterDropped(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "u-2"}, nil)
	defer e.Leave()
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	require.NoError(t, e.Scroll(context.Background(), 0.4, 3))

	for _, kind := range ft.broadcastKinds(t) {
		assert.NotEqual(t, string(domain.KindScroll), kind)
	}
}

func TestSyncEngine_SubmitRewritesSender(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "host-1", IsHost: true}, nil)
	defer e.Leave()
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	spoofed := []byte(`{"type":"note_create","sender_id":"evil","seq":999,"payload":{"id":"n-1","paragraph_index":1,"text":"hi"}}`)
	require.NoError(t, e.Submit(context.Background(), spoofed))

	ft.mu.Lock()
	last := ft.broadcasts[len(ft.broadcasts)-1]
	ft.mu.Unlock()

	env, err := domain.DecodeEnvelope(last)
	require.NoError(t, err)
	assert.Equal(t, "host-1", env.SenderID)
	assert.NotEqual(t, uint64(999), env.Seq)

	st := e.State()
	require.Len(t, st.Notes, 1)
}

func TestSyncEngine_SubmitScrollRateLimited(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "host-1", IsHost: true}, nil)
	defer e.Leave()
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))
	require.NoError(t, e.SetPresenter(context.Background(), "host-1"))

	// a client hammering the gateway must not flood the channel
	for i := 0; i < 10; i++ {
		frame := []byte(`{"type":"scroll","payload":{"position":0.5,"paragraph_index":3}}`)
		require.NoError(t, e.Submit(context.Background(), frame))
	}

	var scrolls int
	for _, kind := range ft.broadcastKinds(t) {
		if kind == string(domain.KindScroll) {
			scrolls++
		}
	}
	assert.Equal(t, 1, scrolls)
}

func TestSyncEngine_SubmitScrollFromNonPresenterDropped(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "u-2", SnapshotWait: 10 * time.Millisecond, SnapshotRetries: 0}, nil)
	defer e.Leave()
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	frame := []byte(`{"type":"scroll","payload":{"position":0.4,"paragraph_index":2}}`)
	require.NoError(t, e.Submit(context.Background(), frame))

	for _, kind := range ft.broadcastKinds(t) {
		assert.NotEqual(t, string(domain.KindScroll), kind)
	}
}

func TestSyncEngine_SubmitRejectsUnknownType(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "u-2"}, nil)
	defer e.Leave()
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	err := e.Submit(context.Background(), []byte(`{"type":"laser_pointer","payload":{}}`))
	assert.Error(t, err)
}

func TestSyncEngine_PresenterSetRequiresHost(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "u-2"}, nil)
	defer e.Leave()
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	assert.ErrorIs(t, e.SetPresenter(context.Background(), "u-2"), ErrNotHost)

	spoofed := []byte(`{"type":"presenter_set","payload":{"presenter_id":"u-2"}}`)
	assert.ErrorIs(t, e.Submit(context.Background(), spoofed), ErrNotHost)
}

func TestSyncEngine_LeaveIsIdempotentAndClosesOps(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "host-1", IsHost: true}, nil)
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	require.NoError(t, e.Leave())
	assert.NoError(t, e.Leave())

	_, err := e.CreateHighlight(context.Background(), "x", 0, 1, "#fff")
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.ErrorIs(t, e.Submit(context.Background(), []byte(`{"type":"leave"}`)), ErrEngineClosed)

	select {
	case <-e.Done():
	default:
		t.Fatal("done channel not closed after leave")
	}
}

func TestSyncEngine_LeaveRacesWithSends(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "host-1", IsHost: true}, nil)
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				// once Leave wins the race every send errors, never panics
				if _, err := e.CreateHighlight(context.Background(), "x", j, j+1, "#fff"); err != nil {
					return
				}
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, e.Leave())
	wg.Wait()
}

func TestSyncEngine_MemberLeftRemovesParticipant(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "host-1", IsHost: true}, nil)
	defer e.Leave()
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	ft.push(repository.ChannelMessage{
		SenderID: "u-2",
		Payload: encodeEvent(t, &domain.JoinEvent{
			Meta:        domain.Meta{SenderID: "u-2", Seq: 1},
			Participant: domain.Participant{ID: "u-2", Name: "Ben"},
		}),
	})
	waitFor(t, func() bool { _, ok := e.State().Participants["u-2"]; return ok })

	// presence expiry, no leave message ever arrived
	ft.push(repository.MemberLeft{MemberID: "u-2"})
	waitFor(t, func() bool { _, ok := e.State().Participants["u-2"]; return !ok })
}

func TestSyncEngine_FollowPresenterToggle(t *testing.T) {
	ft := newFakeTransport()
	e := NewSyncEngine(ft, Options{UserID: "u-2", FollowPresenter: true, SnapshotWait: 10 * time.Millisecond, SnapshotRetries: 0}, nil)
	defer e.Leave()
	require.NoError(t, e.Start(context.Background(), "study:x", "tok"))

	// establish the presenter
	ft.push(repository.ChannelMessage{
		SenderID: "host-1",
		Payload: encodeEvent(t, &domain.JoinEvent{
			Meta:        domain.Meta{SenderID: "host-1", Seq: 1},
			Participant: domain.Participant{ID: "host-1", IsHost: true, Role: domain.RoleHost},
		}),
	})
	ft.push(repository.ChannelMessage{
		SenderID: "host-1",
		Payload:  encodeEvent(t, &domain.PresenterSetEvent{Meta: domain.Meta{SenderID: "host-1", Seq: 2}, PresenterID: "host-1"}),
	})
	ft.push(repository.ChannelMessage{
		SenderID: "host-1",
		Payload:  encodeEvent(t, &domain.ScrollEvent{Meta: domain.Meta{SenderID: "host-1", Seq: 3}, Position: 0.5, Paragraph: 4}),
	})
	waitFor(t, func() bool { return e.State().Scroll.Paragraph == 4 })

	// detached readers keep their own position
	e.SetFollowPresenter(false)
	ft.push(repository.ChannelMessage{
		SenderID: "host-1",
		Payload:  encodeEvent(t, &domain.ScrollEvent{Meta: domain.Meta{SenderID: "host-1", Seq: 4}, Position: 0.9, Paragraph: 9}),
	})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, e.State().Scroll.Paragraph)

	// re-attaching resumes mirroring
	e.SetFollowPresenter(true)
	ft.push(repository.ChannelMessage{
		SenderID: "host-1",
		Payload:  encodeEvent(t, &domain.ScrollEvent{Meta: domain.Meta{SenderID: "host-1", Seq: 5}, Position: 1.0, Paragraph: 11}),
	})
	waitFor(t, func() bool { return e.State().Scroll.Paragraph == 11 })
}
