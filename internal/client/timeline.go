package client

import (
	"slices"
	"sort"
	"time"

	"github.com/billychen0894/spareTalk/internal/models"
)

// DefaultProvisionalWindow is how long an optimistic echo waits for the
// server's copy before it is rolled back.
const DefaultProvisionalWindow = 10 * time.Second

// Entry is one line of the timeline.
type Entry struct {
	models.ChatMessage
	// Provisional is set for local echoes the server has not confirmed yet.
	Provisional bool
	// Mine marks messages sent by this participant.
	Mine bool
}

// Timeline is the ordered, de-duplicated message list of one room.
// Confirmed messages are ordered by seq and come first; provisional echoes
// follow in the order they were sent. Not safe for concurrent use.
type Timeline struct {
	window time.Duration

	confirmed   []models.ChatMessage
	provisional []provisionalEntry
	ids         map[string]struct{}
}

type provisionalEntry struct {
	msg     models.ChatMessage
	expires time.Time
}

// NewTimeline returns an empty timeline. window <= 0 uses
// DefaultProvisionalWindow.
func NewTimeline(window time.Duration) *Timeline {
	if window <= 0 {
		window = DefaultProvisionalWindow
	}
	return &Timeline{window: window, ids: make(map[string]struct{})}
}

// ReplaceHistory swaps the confirmed list for msgs. Pending echoes that msgs
// does not confirm are kept.
func (t *Timeline) ReplaceHistory(msgs []models.ChatMessage) {
	t.confirmed = t.confirmed[:0]
	t.ids = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := t.ids[m.ID]; dup {
			continue
		}
		t.ids[m.ID] = struct{}{}
		t.confirmed = append(t.confirmed, m)
	}
	sort.SliceStable(t.confirmed, func(i, j int) bool { return t.confirmed[i].Seq < t.confirmed[j].Seq })

	kept := t.provisional[:0]
	for _, p := range t.provisional {
		if _, ok := t.ids[p.msg.ID]; !ok {
			kept = append(kept, p)
		}
	}
	t.provisional = kept
	for _, p := range kept {
		t.ids[p.msg.ID] = struct{}{}
	}
}

// AppendMissed adds a gap-fill batch. It returns how many messages were new.
func (t *Timeline) AppendMissed(msgs []models.ChatMessage) int {
	n := 0
	for _, m := range msgs {
		if t.AppendLive(m) {
			n++
		}
	}
	return n
}

// AppendLive adds one confirmed message and reports whether it was new. A
// provisional echo with the same id is replaced.
func (t *Timeline) AppendLive(m models.ChatMessage) bool {
	if t.isConfirmed(m.ID) {
		return false
	}
	t.dropProvisional(m.ID)
	t.ids[m.ID] = struct{}{}

	// Normally m goes last; an older seq is slotted in to keep the order.
	i := len(t.confirmed)
	for i > 0 && t.confirmed[i-1].Seq > m.Seq {
		i--
	}
	t.confirmed = slices.Insert(t.confirmed, i, m)
	return true
}

// AddProvisional records a local echo of a message the user just sent.
// It returns false when the id is already on the timeline.
func (t *Timeline) AddProvisional(m models.ChatMessage, now time.Time) bool {
	if t.Contains(m.ID) {
		return false
	}
	t.ids[m.ID] = struct{}{}
	t.provisional = append(t.provisional, provisionalEntry{msg: m, expires: now.Add(t.window)})
	return true
}

// Reject rolls back the echo of id, for example after the server refused it.
func (t *Timeline) Reject(id string) bool {
	if t.isConfirmed(id) {
		return false
	}
	if !t.dropProvisional(id) {
		return false
	}
	delete(t.ids, id)
	return true
}

// Expire rolls back every echo whose window closed before now and returns
// them.
func (t *Timeline) Expire(now time.Time) []models.ChatMessage {
	var expired []models.ChatMessage
	kept := t.provisional[:0]
	for _, p := range t.provisional {
		if now.Before(p.expires) {
			kept = append(kept, p)
			continue
		}
		expired = append(expired, p.msg)
		delete(t.ids, p.msg.ID)
	}
	t.provisional = kept
	return expired
}

// Messages returns a copy of the timeline in display order.
func (t *Timeline) Messages() []Entry {
	out := make([]Entry, 0, len(t.confirmed)+len(t.provisional))
	for _, m := range t.confirmed {
		out = append(out, Entry{ChatMessage: m})
	}
	for _, p := range t.provisional {
		out = append(out, Entry{ChatMessage: p.msg, Provisional: true})
	}
	return out
}

// Contains reports whether id is on the timeline, confirmed or not.
func (t *Timeline) Contains(id string) bool {
	_, ok := t.ids[id]
	return ok
}

// Len is the number of entries.
func (t *Timeline) Len() int { return len(t.confirmed) + len(t.provisional) }

// Reset empties the timeline.
func (t *Timeline) Reset() {
	t.confirmed = nil
	t.provisional = nil
	t.ids = make(map[string]struct{})
}

func (t *Timeline) isConfirmed(id string) bool {
	if _, ok := t.ids[id]; !ok {
		return false
	}
	for _, p := range t.provisional {
		if p.msg.ID == id {
			return false
		}
	}
	return true
}

func (t *Timeline) dropProvisional(id string) bool {
	for i, p := range t.provisional {
		if p.msg.ID == id {
			t.provisional = slices.Delete(t.provisional, i, i+1)
			return true
		}
	}
	return false
}
