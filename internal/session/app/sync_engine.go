package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"study_sync_service/internal/session/domain"
	"study_sync_service/internal/session/repository"
	"study_sync_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// engine errors
var (
	// ErrEngineClosed operation after Leave
	ErrEngineClosed = errors.New("sync engine closed")
	// ErrNotHost host-only operation from a participant
	ErrNotHost = errors.New("operation requires host role")
	// ErrSnapshotTimeout no snapshot arrived within the retry budget
	ErrSnapshotTimeout = errors.New("state snapshot timed out")
)

// SyncState definition engine lifecycle phase
type SyncState int32

const (
	// StateDisconnected engine not started
	StateDisconnected SyncState = iota
	// StateAuthenticating transport login in progress
	StateAuthenticating
	// StateJoiningChannel channel join in progress
	StateJoiningChannel
	// StateAwaitingSnapshot joined, waiting for the host's state handoff
	StateAwaitingSnapshot
	// StateSynced projection live, mutations flowing
	StateSynced
)

// String readable phase
func (s SyncState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateJoiningChannel:
		return "joining_channel"
	case StateAwaitingSnapshot:
		return "awaiting_snapshot"
	case StateSynced:
		return "synced"
	}
	return "unknown"
}

const (
	defaultSnapshotWait    = 4 * time.Second
	defaultSnapshotRetries = 2
	defaultScrollInterval  = 100 * time.Millisecond
)

// Options definition one engine's identity and tuning
type Options struct {
	AppID           string
	UserID          string
	UserName        string
	IsHost          bool
	FollowPresenter bool
	// SnapshotWait how long to wait for the host's snapshot before
	// re-requesting, zero means the default
	SnapshotWait time.Duration
	// SnapshotRetries request_state rebroadcasts before degrading to an
	// empty projection
	SnapshotRetries int
	// ScrollInterval minimum gap between outgoing scroll events
	ScrollInterval time.Duration
}

func (o *Options) fill() {
	if o.SnapshotWait <= 0 {
		o.SnapshotWait = defaultSnapshotWait
	}
	if o.SnapshotRetries < 0 {
		o.SnapshotRetries = defaultSnapshotRetries
	}
	if o.ScrollInterval <= 0 {
		o.ScrollInterval = defaultScrollInterval
	}
}

// SyncEngine definition one participant's live session, it owns the shared
// state projection and drives the transport
type SyncEngine struct {
	transport repository.Transport
	opts      Options
	listener  func(domain.Event)

	mu      sync.Mutex
	state   *domain.SharedState
	lastSeq map[string]uint64

	seq        uint64 // atomic, outgoing per-sender counter
	phase      int32  // atomic SyncState
	alive      int32  // atomic, 1 until Leave wins the CAS
	degraded   int32  // atomic, 1 after snapshot retries ran out
	follow     int32  // atomic, mirror presenter scroll when 1
	lastScroll int64  // atomic, unix nano of the last outgoing scroll

	snapshotCh chan struct{}
	done       chan struct{}
}

// NewSyncEngine create an engine on a transport
// listener is invoked after every remote event is folded into the
// projection, nil is allowed
func NewSyncEngine(transport repository.Transport, opts Options, listener func(domain.Event)) *SyncEngine {
	opts.fill()
	e := &SyncEngine{
		transport:  transport,
		opts:       opts,
		listener:   listener,
		state:      domain.NewSharedState(),
		lastSeq:    make(map[string]uint64),
		alive:      1,
		snapshotCh: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if opts.FollowPresenter {
		e.follow = 1
	}
	return e
}

// Start connect, join the room channel and complete the snapshot handshake
// a participant that never receives a snapshot degrades to an empty
// projection instead of failing, the host syncs immediately
func (e *SyncEngine) Start(ctx context.Context, channelID, rtmToken string) error {
	if atomic.LoadInt32(&e.alive) == 0 {
		return ErrEngineClosed
	}

	if err := e.transport.Initialize(e.opts.AppID, e.opts.UserID); err != nil {
		return err
	}

	e.setPhase(StateAuthenticating)
	if err := e.transport.Authenticate(ctx, rtmToken); err != nil {
		e.setPhase(StateDisconnected)
		return err
	}

	e.setPhase(StateJoiningChannel)
	if err := e.transport.JoinChannel(ctx, channelID); err != nil {
		e.setPhase(StateDisconnected)
		return err
	}

	go e.dispatch()

	self := domain.Participant{
		ID:     e.opts.UserID,
		Name:   e.opts.UserName,
		IsHost: e.opts.IsHost,
		Role:   domain.RoleParticipant,
	}
	if e.opts.IsHost {
		self.Role = domain.RoleHost
	}

	e.mu.Lock()
	e.state.Participants[self.ID] = self
	e.mu.Unlock()

	join := &domain.JoinEvent{Meta: e.nextMeta(), Participant: self}
	if err := e.broadcast(ctx, join); err != nil {
		logger.Log.Warn("join broadcast failed", zap.Error(err))
	}

	if e.opts.IsHost {
		e.setPhase(StateSynced)
		return nil
	}

	e.setPhase(StateAwaitingSnapshot)
	req := &domain.RequestStateEvent{Meta: e.nextMeta()}
	if err := e.broadcast(ctx, req); err != nil {
		logger.Log.Warn("request_state broadcast failed", zap.Error(err))
	}
	return e.awaitSnapshot(ctx)
}

// awaitSnapshot wait for the host handoff, re-requesting on timeout and
// degrading to an empty projection when the retry budget runs out
func (e *SyncEngine) awaitSnapshot(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		timer := time.NewTimer(e.opts.SnapshotWait)
		select {
		case <-e.snapshotCh:
			timer.Stop()
			e.setPhase(StateSynced)
			return nil
		case <-timer.C:
			if attempt >= e.opts.SnapshotRetries {
				logger.Log.Warn("snapshot never arrived, starting from empty state",
					zap.String("user_id", e.opts.UserID))
				atomic.StoreInt32(&e.degraded, 1)
				e.setPhase(StateSynced)
				return nil
			}
			req := &domain.RequestStateEvent{Meta: e.nextMeta()}
			if err := e.broadcast(ctx, req); err != nil {
				logger.Log.Warn("request_state broadcast failed", zap.Error(err))
			}
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-e.done:
			timer.Stop()
			return ErrEngineClosed
		}
	}
}

// dispatch drain transport events until the transport closes its channel
func (e *SyncEngine) dispatch() {
	for ev := range e.transport.Events() {
		switch te := ev.(type) {
		case repository.ChannelMessage:
			if te.SenderID == e.opts.UserID {
				continue // self echo, already applied locally
			}
			e.handleWire(te.Payload)
		case repository.DirectMessage:
			e.handleWire(te.Payload)
		case repository.MemberLeft:
			e.mu.Lock()
			domain.RemoveParticipant(e.state, te.MemberID)
			e.mu.Unlock()
			e.notify(&domain.LeaveEvent{Meta: domain.Meta{SenderID: te.MemberID}})
		case repository.MemberJoined:
			// the join event carries the participant record, presence
			// alone is not enough to add one
		case repository.ConnStateChanged:
			logger.Log.Info("transport state", zap.String("state", te.State.String()))
		case repository.TransportError:
			logger.Log.Warn("transport error", zap.Error(te.Err))
		}
	}
}

// handleWire decode one wire message, guard it, fold it into the projection
func (e *SyncEngine) handleWire(payload []byte) {
	ev, err := domain.Decode(payload)
	if err != nil {
		logger.Log.Warn("dropping malformed message", zap.Error(err))
		return
	}

	if u, ok := ev.(*domain.UnknownEvent); ok {
		logger.Log.Warn("dropping unknown message type", zap.String("type", u.Type))
		return
	}

	if e.stale(ev) {
		logger.Log.Debug("dropping stale message",
			zap.String("sender", ev.Sender()),
			zap.Uint64("seq", ev.Sequence()))
		return
	}

	if _, ok := ev.(*domain.ScrollEvent); ok && atomic.LoadInt32(&e.follow) == 0 {
		return // reader detached from the presenter
	}

	e.mu.Lock()
	domain.Apply(e.state, ev)
	e.mu.Unlock()

	switch te := ev.(type) {
	case *domain.StateSnapshotEvent:
		select {
		case e.snapshotCh <- struct{}{}:
		default:
		}
	case *domain.JoinEvent:
		if e.opts.IsHost {
			e.sendSnapshotTo(te.Sender())
		}
	case *domain.RequestStateEvent:
		if e.opts.IsHost {
			e.sendSnapshotTo(te.Sender())
		}
	}

	e.notify(ev)
}

// stale record the sender's sequence number, true when it went backwards
func (e *SyncEngine) stale(ev domain.Event) bool {
	seq := ev.Sequence()
	if seq == 0 {
		return false // sender does not number its messages
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastSeq[ev.Sender()]; ok && seq <= last {
		return true
	}
	e.lastSeq[ev.Sender()] = seq
	return false
}

// sendSnapshotTo unicast the current projection to one peer
func (e *SyncEngine) sendSnapshotTo(peerID string) {
	e.mu.Lock()
	snap := domain.SnapshotOf(e.state)
	e.mu.Unlock()

	ev := &domain.StateSnapshotEvent{Meta: e.nextMeta(), Snapshot: snap}
	data, err := domain.Encode(ev)
	if err != nil {
		logger.Log.Error("snapshot encode failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.transport.SendDirect(ctx, peerID, data); err != nil {
		logger.Log.Warn("snapshot send failed", zap.String("peer", peerID), zap.Error(err))
	}
}

// CreateHighlight highlight text on the shared document
func (e *SyncEngine) CreateHighlight(ctx context.Context, text string, start, end int, color string) (string, error) {
	h := domain.Highlight{
		ID:        uuid.NewString(),
		Text:      text,
		Range:     domain.HighlightRange{Start: start, End: end},
		Color:     color,
		CreatorID: e.opts.UserID,
		CreatedAt: time.Now().Unix(),
	}
	ev := &domain.HighlightCreateEvent{Meta: e.nextMeta(), Highlight: h}
	if err := e.applyAndBroadcast(ctx, ev); err != nil {
		return "", err
	}
	return h.ID, nil
}

// RemoveHighlight remove one highlight by id
func (e *SyncEngine) RemoveHighlight(ctx context.Context, highlightID string) error {
	ev := &domain.HighlightRemoveEvent{Meta: e.nextMeta(), HighlightID: highlightID}
	return e.applyAndBroadcast(ctx, ev)
}

// ToggleBookmark flip one paragraph bookmark, the event carries the
// resulting membership
func (e *SyncEngine) ToggleBookmark(ctx context.Context, paragraph int) (bool, error) {
	e.mu.Lock()
	_, exists := e.state.Bookmarks[paragraph]
	e.mu.Unlock()

	ev := &domain.BookmarkToggleEvent{Meta: e.nextMeta(), Paragraph: paragraph, Added: !exists}
	if err := e.applyAndBroadcast(ctx, ev); err != nil {
		return false, err
	}
	return !exists, nil
}

// CreateNote attach a note to a paragraph
func (e *SyncEngine) CreateNote(ctx context.Context, paragraph int, text string) (string, error) {
	n := domain.Note{
		ID:             uuid.NewString(),
		ParagraphIndex: paragraph,
		Text:           text,
		CreatorID:      e.opts.UserID,
		CreatorName:    e.opts.UserName,
		CreatedAt:      time.Now().Unix(),
	}
	ev := &domain.NoteCreateEvent{Meta: e.nextMeta(), Note: n}
	if err := e.applyAndBroadcast(ctx, ev); err != nil {
		return "", err
	}
	return n.ID, nil
}

// ReplyNote append a reply under a note
func (e *SyncEngine) ReplyNote(ctx context.Context, noteID, text string) (string, error) {
	r := domain.NoteReply{
		ID:          uuid.NewString(),
		CreatorID:   e.opts.UserID,
		CreatorName: e.opts.UserName,
		Text:        text,
		CreatedAt:   time.Now().Unix(),
	}
	ev := &domain.NoteReplyEvent{Meta: e.nextMeta(), NoteID: noteID, Reply: r}
	if err := e.applyAndBroadcast(ctx, ev); err != nil {
		return "", err
	}
	return r.ID, nil
}

// DeleteNote remove one note by id
func (e *SyncEngine) DeleteNote(ctx context.Context, noteID string) error {
	ev := &domain.NoteDeleteEvent{Meta: e.nextMeta(), NoteID: noteID}
	return e.applyAndBroadcast(ctx, ev)
}

// SetPresenter designate whose scroll the room follows, host only
// empty id clears the presenter
func (e *SyncEngine) SetPresenter(ctx context.Context, presenterID string) error {
	if !e.opts.IsHost {
		return ErrNotHost
	}
	ev := &domain.PresenterSetEvent{Meta: e.nextMeta(), PresenterID: presenterID}
	return e.applyAndBroadcast(ctx, ev)
}

// Scroll publish our scroll position, silently dropped unless we are the
// presenter, rate limited to one event per ScrollInterval
func (e *SyncEngine) Scroll(ctx context.Context, position float64, paragraph int) error {
	if atomic.LoadInt32(&e.alive) == 0 {
		return ErrEngineClosed
	}
	if !e.isPresenter() || !e.allowScroll() {
		return nil
	}

	ev := &domain.ScrollEvent{Meta: e.nextMeta(), Position: position, Paragraph: paragraph}
	return e.applyAndBroadcast(ctx, ev)
}

func (e *SyncEngine) isPresenter() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.PresenterID == e.opts.UserID
}

// allowScroll CAS on the last-send stamp so only one scroll passes per
// ScrollInterval, whichever path it came in on
func (e *SyncEngine) allowScroll() bool {
	now := time.Now().UnixNano()
	last := atomic.LoadInt64(&e.lastScroll)
	if now-last < int64(e.opts.ScrollInterval) {
		return false
	}
	return atomic.CompareAndSwapInt64(&e.lastScroll, last, now)
}

// SetAudioMuted toggle an audio flag, a foreign target is host moderation
func (e *SyncEngine) SetAudioMuted(ctx context.Context, targetID string, muted bool) error {
	if targetID != "" && targetID != e.opts.UserID && !e.opts.IsHost {
		return ErrNotHost
	}
	ev := &domain.AudioToggleEvent{Meta: e.nextMeta(), TargetID: targetID, Muted: muted}
	return e.applyAndBroadcast(ctx, ev)
}

// SetVideoEnabled toggle a video flag, a foreign target is host moderation
func (e *SyncEngine) SetVideoEnabled(ctx context.Context, targetID string, enabled bool) error {
	if targetID != "" && targetID != e.opts.UserID && !e.opts.IsHost {
		return ErrNotHost
	}
	ev := &domain.VideoToggleEvent{Meta: e.nextMeta(), TargetID: targetID, Enabled: enabled}
	return e.applyAndBroadcast(ctx, ev)
}

// Submit fold a raw client message into the session, the sender id,
// sequence number and timestamp are rewritten so clients cannot spoof peers
func (e *SyncEngine) Submit(ctx context.Context, raw []byte) error {
	if atomic.LoadInt32(&e.alive) == 0 {
		return ErrEngineClosed
	}

	env, err := domain.DecodeEnvelope(raw)
	if err != nil {
		return err
	}

	meta := e.nextMeta()
	env.SenderID = meta.SenderID
	env.Seq = meta.Seq
	env.Timestamp = meta.Timestamp

	ev, err := domain.DecodeEvent(env)
	if err != nil {
		return err
	}
	if u, ok := ev.(*domain.UnknownEvent); ok {
		return fmt.Errorf("unknown message type %q", u.Type)
	}
	if _, ok := ev.(*domain.PresenterSetEvent); ok && !e.opts.IsHost {
		return ErrNotHost
	}
	if _, ok := ev.(*domain.ScrollEvent); ok {
		// same source gate as Scroll, a spamming client must not flood
		// the channel
		if !e.isPresenter() || !e.allowScroll() {
			return nil
		}
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}

	e.mu.Lock()
	domain.Apply(e.state, ev)
	e.mu.Unlock()

	return e.transport.Broadcast(ctx, data)
}

// State deep copy of the current projection
func (e *SyncEngine) State() *domain.SharedState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Phase current lifecycle phase
func (e *SyncEngine) Phase() SyncState {
	return SyncState(atomic.LoadInt32(&e.phase))
}

// Degraded true when the engine gave up waiting for a snapshot
func (e *SyncEngine) Degraded() bool {
	return atomic.LoadInt32(&e.degraded) == 1
}

// SetFollowPresenter attach or detach from the presenter's scroll
func (e *SyncEngine) SetFollowPresenter(follow bool) {
	if follow {
		atomic.StoreInt32(&e.follow, 1)
	} else {
		atomic.StoreInt32(&e.follow, 0)
	}
}

// Done closed when the engine has fully torn down
func (e *SyncEngine) Done() <-chan struct{} {
	return e.done
}

// Leave broadcast a best-effort goodbye and tear the transport down
// every local operation observes the liveness flag first, so a send racing
// with Leave returns ErrEngineClosed instead of touching a dead transport
func (e *SyncEngine) Leave() error {
	if !atomic.CompareAndSwapInt32(&e.alive, 1, 0) {
		return nil
	}
	e.setPhase(StateDisconnected)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bye := &domain.LeaveEvent{Meta: e.nextMeta()}
	if data, err := domain.Encode(bye); err == nil {
		if err := e.transport.Broadcast(ctx, data); err != nil {
			logger.Log.Debug("leave broadcast failed", zap.Error(err))
		}
	}

	err := e.transport.Leave()
	close(e.done)
	return err
}

func (e *SyncEngine) broadcast(ctx context.Context, ev domain.Event) error {
	data, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	return e.transport.Broadcast(ctx, data)
}

func (e *SyncEngine) applyAndBroadcast(ctx context.Context, ev domain.Event) error {
	if atomic.LoadInt32(&e.alive) == 0 {
		return ErrEngineClosed
	}

	data, err := domain.Encode(ev)
	if err != nil {
		return err
	}

	e.mu.Lock()
	domain.Apply(e.state, ev)
	e.mu.Unlock()

	return e.transport.Broadcast(ctx, data)
}

func (e *SyncEngine) nextMeta() domain.Meta {
	return domain.Meta{
		SenderID:  e.opts.UserID,
		Seq:       atomic.AddUint64(&e.seq, 1),
		Timestamp: time.Now().UnixMilli(),
	}
}

func (e *SyncEngine) setPhase(s SyncState) {
	atomic.StoreInt32(&e.phase, int32(s))
}

func (e *SyncEngine) notify(ev domain.Event) {
	if e.listener != nil {
		e.listener(ev)
	}
}
