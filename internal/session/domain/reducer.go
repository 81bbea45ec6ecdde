package domain

// Apply fold one decoded event into the shared state projection
// Apply is idempotent per entity id, so a redelivered message never corrupts
// the projection, and order-insensitive for independent entities, so every
// client converges on the same state
func Apply(st *SharedState, ev Event) {
	switch e := ev.(type) {
	case *JoinEvent:
		p := e.Participant
		if p.ID == "" {
			p.ID = e.SenderID
		}
		st.Participants[p.ID] = p

	case *LeaveEvent:
		removeParticipant(st, e.SenderID)

	case *StateSnapshotEvent:
		applySnapshot(st, e.Snapshot)

	case *ScrollEvent:
		// only the designated presenter moves the shared scroll
		if st.PresenterID != "" && e.SenderID == st.PresenterID {
			st.Scroll = ScrollPosition{Position: e.Position, Paragraph: e.Paragraph}
		}

	case *HighlightCreateEvent:
		if findHighlight(st, e.Highlight.ID) < 0 {
			st.Highlights = append(st.Highlights, e.Highlight)
		}

	case *HighlightRemoveEvent:
		if i := findHighlight(st, e.HighlightID); i >= 0 {
			st.Highlights = append(st.Highlights[:i], st.Highlights[i+1:]...)
		}

	case *BookmarkToggleEvent:
		// the event carries resulting membership, not a flip, so replays
		// settle on the same set
		if e.Added {
			st.Bookmarks[e.Paragraph] = struct{}{}
		} else {
			delete(st.Bookmarks, e.Paragraph)
		}

	case *NoteCreateEvent:
		if findNote(st, e.Note.ID) < 0 {
			st.Notes = append(st.Notes, e.Note)
		}

	case *NoteReplyEvent:
		if i := findNote(st, e.NoteID); i >= 0 {
			if findReply(st.Notes[i].Replies, e.Reply.ID) < 0 {
				st.Notes[i].Replies = append(st.Notes[i].Replies, e.Reply)
			}
		}

	case *NoteDeleteEvent:
		if i := findNote(st, e.NoteID); i >= 0 {
			st.Notes = append(st.Notes[:i], st.Notes[i+1:]...)
		}

	case *PresenterSetEvent:
		if senderMayModerate(st, e.SenderID) {
			st.PresenterID = e.PresenterID
		}

	case *AudioToggleEvent:
		target := e.TargetID
		if target == "" {
			target = e.SenderID
		}
		if target != e.SenderID && !senderMayModerate(st, e.SenderID) {
			return
		}
		if p, ok := st.Participants[target]; ok {
			p.Media.AudioMuted = e.Muted
			st.Participants[target] = p
		}

	case *VideoToggleEvent:
		target := e.TargetID
		if target == "" {
			target = e.SenderID
		}
		if target != e.SenderID && !senderMayModerate(st, e.SenderID) {
			return
		}
		if p, ok := st.Participants[target]; ok {
			p.Media.VideoEnabled = e.Enabled
			st.Participants[target] = p
		}

	case *RequestStateEvent, *UnknownEvent:
		// no-op, handled above the reducer or intentionally ignored
	}
}

// RemoveParticipant drop a member that left or timed out, clearing the
// presenter if it was them
func RemoveParticipant(st *SharedState, id string) {
	removeParticipant(st, id)
}

func removeParticipant(st *SharedState, id string) {
	delete(st.Participants, id)
	if st.PresenterID == id {
		st.PresenterID = ""
	}
}

// applySnapshot overwrite the projection with a full-state handoff
// local participant records are kept when the snapshot omits them, the host
// may not yet have seen our join when it replied
func applySnapshot(st *SharedState, snap Snapshot) {
	for _, p := range snap.Participants {
		st.Participants[p.ID] = p
	}
	st.PresenterID = snap.PresenterID

	st.Highlights = make([]Highlight, len(snap.Highlights))
	copy(st.Highlights, snap.Highlights)

	st.Bookmarks = make(map[int]struct{}, len(snap.Bookmarks))
	for _, idx := range snap.Bookmarks {
		st.Bookmarks[idx] = struct{}{}
	}

	st.Notes = make([]Note, 0, len(snap.Notes))
	for _, n := range snap.Notes {
		nc := n
		nc.Replies = make([]NoteReply, len(n.Replies))
		copy(nc.Replies, n.Replies)
		st.Notes = append(st.Notes, nc)
	}

	st.Scroll = snap.Scroll
}

// senderMayModerate moderation events are honored from the host, or when the
// sender record has not arrived yet (join may still be in flight)
func senderMayModerate(st *SharedState, senderID string) bool {
	p, ok := st.Participants[senderID]
	if !ok {
		return true
	}
	return p.IsHost || p.Role == RoleHost
}

func findHighlight(st *SharedState, id string) int {
	for i, h := range st.Highlights {
		if h.ID == id {
			return i
		}
	}
	return -1
}

func findNote(st *SharedState, id string) int {
	for i, n := range st.Notes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func findReply(replies []NoteReply, id string) int {
	for i, r := range replies {
		if r.ID == id {
			return i
		}
	}
	return -1
}
