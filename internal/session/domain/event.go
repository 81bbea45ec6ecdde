package domain

import (
	"encoding/json"
	"fmt"
)

// EventKind protocol message type on the wire
type EventKind string

const (
	// KindJoin a participant entered the room
	KindJoin EventKind = "join"
	// KindLeave a participant left the room (best effort, transport member
	// loss is treated identically)
	KindLeave EventKind = "leave"
	// KindRequestState late joiner asks the host for a snapshot
	KindRequestState EventKind = "request_state"
	// KindStateSnapshot full state handoff, unicast by the host
	KindStateSnapshot EventKind = "state_snapshot"
	// KindScroll presenter scroll position
	KindScroll EventKind = "scroll"
	// KindHighlightCreate new highlight
	KindHighlightCreate EventKind = "highlight_create"
	// KindHighlightRemove remove highlight by id
	KindHighlightRemove EventKind = "highlight_remove"
	// KindBookmarkToggle add or remove a paragraph bookmark
	KindBookmarkToggle EventKind = "bookmark_toggle"
	// KindNoteCreate new note
	KindNoteCreate EventKind = "note_create"
	// KindNoteReply append a reply under a note
	KindNoteReply EventKind = "note_reply"
	// KindNoteDelete remove note by id
	KindNoteDelete EventKind = "note_delete"
	// KindPresenterSet host designates the presenter
	KindPresenterSet EventKind = "presenter_set"
	// KindAudioToggle audio mute flag changed
	KindAudioToggle EventKind = "audio_toggle"
	// KindVideoToggle video flag changed
	KindVideoToggle EventKind = "video_toggle"
)

// Envelope wire format of every sync message
// Seq is a monotonic per-sender counter so stale messages can be detected
// when the channel ordering assumption is violated
type Envelope struct {
	Type      string          `json:"type"`
	SenderID  string          `json:"sender_id"`
	Seq       uint64          `json:"seq"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Encode marshal the envelope back to wire bytes
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Meta wire metadata shared by every decoded event
type Meta struct {
	SenderID  string
	Seq       uint64
	Timestamp int64
}

// Sender sender id of the event
func (m Meta) Sender() string { return m.SenderID }

// Sequence per-sender sequence number of the event
func (m Meta) Sequence() uint64 { return m.Seq }

// Time wall-clock millis stamped by the sender
func (m Meta) Time() int64 { return m.Timestamp }

// Event definition one decoded protocol message
type Event interface {
	Kind() EventKind
	Sender() string
	Sequence() uint64
}

// JoinEvent a participant entered the room
type JoinEvent struct {
	Meta
	Participant Participant
}

// Kind event kind
func (*JoinEvent) Kind() EventKind { return KindJoin }

// LeaveEvent a participant left the room
type LeaveEvent struct {
	Meta
}

// Kind event kind
func (*LeaveEvent) Kind() EventKind { return KindLeave }

// RequestStateEvent a late joiner asks for a snapshot
type RequestStateEvent struct {
	Meta
}

// Kind event kind
func (*RequestStateEvent) Kind() EventKind { return KindRequestState }

// StateSnapshotEvent full state handoff from the host
type StateSnapshotEvent struct {
	Meta
	Snapshot Snapshot
}

// Kind event kind
func (*StateSnapshotEvent) Kind() EventKind { return KindStateSnapshot }

// ScrollEvent presenter scroll position update
type ScrollEvent struct {
	Meta
	Position  float64
	Paragraph int
}

// Kind event kind
func (*ScrollEvent) Kind() EventKind { return KindScroll }

// HighlightCreateEvent new highlight on the document
type HighlightCreateEvent struct {
	Meta
	Highlight Highlight
}

// Kind event kind
func (*HighlightCreateEvent) Kind() EventKind { return KindHighlightCreate }

// HighlightRemoveEvent remove one highlight by id
type HighlightRemoveEvent struct {
	Meta
	HighlightID string
}

// Kind event kind
func (*HighlightRemoveEvent) Kind() EventKind { return KindHighlightRemove }

// BookmarkToggleEvent add or remove one paragraph bookmark
// Added carries the resulting membership so redelivery stays idempotent
type BookmarkToggleEvent struct {
	Meta
	Paragraph int
	Added     bool
}

// Kind event kind
func (*BookmarkToggleEvent) Kind() EventKind { return KindBookmarkToggle }

// NoteCreateEvent new note on a paragraph
type NoteCreateEvent struct {
	Meta
	Note Note
}

// Kind event kind
func (*NoteCreateEvent) Kind() EventKind { return KindNoteCreate }

// NoteReplyEvent append one reply under a note
type NoteReplyEvent struct {
	Meta
	NoteID string
	Reply  NoteReply
}

// Kind event kind
func (*NoteReplyEvent) Kind() EventKind { return KindNoteReply }

// NoteDeleteEvent remove one note by id
type NoteDeleteEvent struct {
	Meta
	NoteID string
}

// Kind event kind
func (*NoteDeleteEvent) Kind() EventKind { return KindNoteDelete }

// PresenterSetEvent host designates whose scroll others may follow
// empty PresenterID clears the presenter
type PresenterSetEvent struct {
	Meta
	PresenterID string
}

// Kind event kind
func (*PresenterSetEvent) Kind() EventKind { return KindPresenterSet }

// AudioToggleEvent audio mute flag changed
// TargetID empty means the sender toggles itself, a foreign target is a host
// moderation action
type AudioToggleEvent struct {
	Meta
	TargetID string
	Muted    bool
}

// Kind event kind
func (*AudioToggleEvent) Kind() EventKind { return KindAudioToggle }

// VideoToggleEvent video flag changed
type VideoToggleEvent struct {
	Meta
	TargetID string
	Enabled  bool
}

// Kind event kind
func (*VideoToggleEvent) Kind() EventKind { return KindVideoToggle }

// UnknownEvent catch-all for unrecognized message types, kept first-class so
// forward compatibility is a reducer no-op, not a decode failure
type UnknownEvent struct {
	Meta
	Type string
	Raw  json.RawMessage
}

// Kind event kind
func (*UnknownEvent) Kind() EventKind { return EventKind("unknown") }

// wire payload shapes
type scrollPayload struct {
	Position  float64 `json:"position"`
	Paragraph int     `json:"paragraph_index"`
}

type highlightRemovePayload struct {
	HighlightID string `json:"highlight_id"`
}

type bookmarkTogglePayload struct {
	Paragraph int  `json:"paragraph_index"`
	Added     bool `json:"added"`
}

type noteReplyPayload struct {
	NoteID string    `json:"note_id"`
	Reply  NoteReply `json:"reply"`
}

type noteDeletePayload struct {
	NoteID string `json:"note_id"`
}

type presenterSetPayload struct {
	PresenterID string `json:"presenter_id"`
}

type audioTogglePayload struct {
	TargetID string `json:"target_id,omitempty"`
	Muted    bool   `json:"muted"`
}

type videoTogglePayload struct {
	TargetID string `json:"target_id,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// DecodeEnvelope unmarshal only the outer envelope
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Decode unmarshal one wire message into its typed event
// an unrecognized type decodes to UnknownEvent, an error is returned only
// for malformed JSON
func Decode(data []byte) (Event, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return DecodeEvent(env)
}

// DecodeEvent turn an envelope into its typed event
func DecodeEvent(env Envelope) (Event, error) {
	meta := Meta{SenderID: env.SenderID, Seq: env.Seq, Timestamp: env.Timestamp}

	switch EventKind(env.Type) {
	case KindJoin:
		var p Participant
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			p.ID = env.SenderID
		}
		return &JoinEvent{Meta: meta, Participant: p}, nil

	case KindLeave:
		return &LeaveEvent{Meta: meta}, nil

	case KindRequestState:
		return &RequestStateEvent{Meta: meta}, nil

	case KindStateSnapshot:
		var s Snapshot
		if err := unmarshalPayload(env.Payload, &s); err != nil {
			return nil, err
		}
		return &StateSnapshotEvent{Meta: meta, Snapshot: s}, nil

	case KindScroll:
		var p scrollPayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return &ScrollEvent{Meta: meta, Position: p.Position, Paragraph: p.Paragraph}, nil

	case KindHighlightCreate:
		var h Highlight
		if err := unmarshalPayload(env.Payload, &h); err != nil {
			return nil, err
		}
		return &HighlightCreateEvent{Meta: meta, Highlight: h}, nil

	case KindHighlightRemove:
		var p highlightRemovePayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return &HighlightRemoveEvent{Meta: meta, HighlightID: p.HighlightID}, nil

	case KindBookmarkToggle:
		var p bookmarkTogglePayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return &BookmarkToggleEvent{Meta: meta, Paragraph: p.Paragraph, Added: p.Added}, nil

	case KindNoteCreate:
		var n Note
		if err := unmarshalPayload(env.Payload, &n); err != nil {
			return nil, err
		}
		return &NoteCreateEvent{Meta: meta, Note: n}, nil

	case KindNoteReply:
		var p noteReplyPayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return &NoteReplyEvent{Meta: meta, NoteID: p.NoteID, Reply: p.Reply}, nil

	case KindNoteDelete:
		var p noteDeletePayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return &NoteDeleteEvent{Meta: meta, NoteID: p.NoteID}, nil

	case KindPresenterSet:
		var p presenterSetPayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return &PresenterSetEvent{Meta: meta, PresenterID: p.PresenterID}, nil

	case KindAudioToggle:
		var p audioTogglePayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return &AudioToggleEvent{Meta: meta, TargetID: p.TargetID, Muted: p.Muted}, nil

	case KindVideoToggle:
		var p videoTogglePayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return &VideoToggleEvent{Meta: meta, TargetID: p.TargetID, Enabled: p.Enabled}, nil

	default:
		return &UnknownEvent{Meta: meta, Type: env.Type, Raw: env.Payload}, nil
	}
}

// Encode marshal one typed event back to wire bytes
func Encode(ev Event) ([]byte, error) {
	payload, err := payloadOf(ev)
	if err != nil {
		return nil, err
	}

	env := Envelope{
		Type:     string(ev.Kind()),
		SenderID: ev.Sender(),
		Seq:      ev.Sequence(),
		Payload:  payload,
	}
	if tm, ok := ev.(interface{ Time() int64 }); ok {
		env.Timestamp = tm.Time()
	}
	return env.Encode()
}

// NewEnvelope build a wire envelope from a payload value
func NewEnvelope(kind EventKind, senderID string, seq uint64, timestamp int64, payload interface{}) (Envelope, error) {
	env := Envelope{
		Type:      string(kind),
		SenderID:  senderID,
		Seq:       seq,
		Timestamp: timestamp,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode payload: %w", err)
		}
		env.Payload = raw
	}
	return env, nil
}

func unmarshalPayload(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func payloadOf(ev Event) (json.RawMessage, error) {
	var payload interface{}

	switch e := ev.(type) {
	case *JoinEvent:
		payload = e.Participant
	case *LeaveEvent, *RequestStateEvent:
		return nil, nil
	case *StateSnapshotEvent:
		payload = e.Snapshot
	case *ScrollEvent:
		payload = scrollPayload{Position: e.Position, Paragraph: e.Paragraph}
	case *HighlightCreateEvent:
		payload = e.Highlight
	case *HighlightRemoveEvent:
		payload = highlightRemovePayload{HighlightID: e.HighlightID}
	case *BookmarkToggleEvent:
		payload = bookmarkTogglePayload{Paragraph: e.Paragraph, Added: e.Added}
	case *NoteCreateEvent:
		payload = e.Note
	case *NoteReplyEvent:
		payload = noteReplyPayload{NoteID: e.NoteID, Reply: e.Reply}
	case *NoteDeleteEvent:
		payload = noteDeletePayload{NoteID: e.NoteID}
	case *PresenterSetEvent:
		payload = presenterSetPayload{PresenterID: e.PresenterID}
	case *AudioToggleEvent:
		payload = audioTogglePayload{TargetID: e.TargetID, Muted: e.Muted}
	case *VideoToggleEvent:
		payload = videoTogglePayload{TargetID: e.TargetID, Enabled: e.Enabled}
	case *UnknownEvent:
		return e.Raw, nil
	default:
		return nil, fmt.Errorf("unsupported event type %T", ev)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}
