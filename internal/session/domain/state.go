package domain

import "sort"

// Highlight definition one text highlight on the shared document
// highlights are append-only, created and removed by id, never edited
type Highlight struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Range     HighlightRange `json:"range"`
	Color     string         `json:"color"`
	CreatorID string         `json:"creator_id"`
	CreatedAt int64          `json:"created_at"`
}

// HighlightRange definition document offsets of a highlight
type HighlightRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NoteReply definition one reply under a note, append-only
type NoteReply struct {
	ID          string `json:"id"`
	CreatorID   string `json:"creator_id"`
	CreatorName string `json:"creator_name"`
	Text        string `json:"text"`
	CreatedAt   int64  `json:"created_at"`
}

// Note definition one paragraph note on the shared document
type Note struct {
	ID             string      `json:"id"`
	ParagraphIndex int         `json:"paragraph_index"`
	Text           string      `json:"text"`
	CreatorID      string      `json:"creator_id"`
	CreatorName    string      `json:"creator_name"`
	CreatedAt      int64       `json:"created_at"`
	Replies        []NoteReply `json:"replies,omitempty"`
}

// ScrollPosition definition the presenter scroll position followers mirror
type ScrollPosition struct {
	Position  float64 `json:"position"`
	Paragraph int     `json:"paragraph_index"`
}

// SharedState in-memory projection of one room's shared session state
// every mutation arrives as a protocol event, replaying the event log on any
// client reconstructs the identical projection
type SharedState struct {
	Participants map[string]Participant
	PresenterID  string
	Highlights   []Highlight
	Bookmarks    map[int]struct{}
	Notes        []Note
	Scroll       ScrollPosition
}

// NewSharedState create an empty shared state projection
func NewSharedState() *SharedState {
	return &SharedState{
		Participants: make(map[string]Participant),
		Bookmarks:    make(map[int]struct{}),
	}
}

// Clone deep copy the projection, for safe reads outside the dispatch loop
func (s *SharedState) Clone() *SharedState {
	c := &SharedState{
		Participants: make(map[string]Participant, len(s.Participants)),
		PresenterID:  s.PresenterID,
		Highlights:   make([]Highlight, len(s.Highlights)),
		Bookmarks:    make(map[int]struct{}, len(s.Bookmarks)),
		Notes:        make([]Note, 0, len(s.Notes)),
		Scroll:       s.Scroll,
	}
	for id, p := range s.Participants {
		c.Participants[id] = p
	}
	copy(c.Highlights, s.Highlights)
	for idx := range s.Bookmarks {
		c.Bookmarks[idx] = struct{}{}
	}
	for _, n := range s.Notes {
		nc := n
		nc.Replies = make([]NoteReply, len(n.Replies))
		copy(nc.Replies, n.Replies)
		c.Notes = append(c.Notes, nc)
	}
	return c
}

// BookmarkList bookmarks as a sorted array, the wire form of the set
func (s *SharedState) BookmarkList() []int {
	list := make([]int, 0, len(s.Bookmarks))
	for idx := range s.Bookmarks {
		list = append(list, idx)
	}
	sort.Ints(list)
	return list
}

// Snapshot full-state payload unicast to a late joiner so it never replays
// broadcast history
type Snapshot struct {
	Participants []Participant  `json:"participants,omitempty"`
	PresenterID  string         `json:"presenter_id,omitempty"`
	Highlights   []Highlight    `json:"highlights"`
	Bookmarks    []int          `json:"bookmarks"`
	Notes        []Note         `json:"notes"`
	Scroll       ScrollPosition `json:"scroll"`
}

// SnapshotOf build the snapshot payload from the current projection
func SnapshotOf(s *SharedState) Snapshot {
	c := s.Clone()
	participants := make([]Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].ID < participants[j].ID })
	return Snapshot{
		Participants: participants,
		PresenterID:  c.PresenterID,
		Highlights:   c.Highlights,
		Bookmarks:    c.BookmarkList(),
		Notes:        c.Notes,
		Scroll:       c.Scroll,
	}
}
