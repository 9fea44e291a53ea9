// Package workspace tracks per-event association state: every pick seen
// for an event, every pick already submitted for refinement and the
// refinements received so far. The attempted set is what prevents the
// pipeline from resubmitting the same stream again and again, also
// across restarts when a journal is attached.
package workspace

import (
	"sync"
	"time"

	"github.com/seisworks/dlrepick/internal/model"
)

// Workspace is the in-memory association state of one event. It is
// mutated by the ingestion loop and the result collector and inspected
// by the ops server at the same time, so every access goes through the
// workspace mutex.
type Workspace struct {
	EventID string

	mu sync.Mutex

	// originID is the preferred origin last processed for this event,
	// used to skip notifications that change nothing. originTime drives
	// staleness-based eviction; it is the event's origin time, not the
	// wall-clock arrival of any notification.
	originID   string
	originTime time.Time

	all       map[string]model.Pick
	attempted map[string]model.Pick
	// attemptedStreams keys attempted picks by band-level stream so a
	// later measured pick on the same stream is not resubmitted.
	attemptedStreams map[model.StreamID]bool
	refined          map[string]model.RefinedPick
}

func newWorkspace(eventID string) *Workspace {
	return &Workspace{
		EventID:          eventID,
		all:              make(map[string]model.Pick),
		attempted:        make(map[string]model.Pick),
		attemptedStreams: make(map[model.StreamID]bool),
		refined:          make(map[string]model.RefinedPick),
	}
}

// Origin returns the preferred origin last processed and its time.
func (w *Workspace) Origin() (id string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.originID, w.originTime
}

// SetOrigin records the preferred origin just processed.
func (w *Workspace) SetOrigin(id string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.originID = id
	w.originTime = at
}

// Seen reports whether the pick ID has been seen for this event.
func (w *Workspace) Seen(pickID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.all[pickID]
	return ok
}

// Add records a pick as seen without marking it attempted.
func (w *Workspace) Add(p model.Pick) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.all[p.ID]; !ok {
		w.all[p.ID] = p
	}
}

// Attempted reports whether the pick was already submitted for
// refinement.
func (w *Workspace) Attempted(pickID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.attempted[pickID]
	return ok
}

// AttemptedStream reports whether any pick on the same band-level
// stream was already submitted for this event.
func (w *Workspace) AttemptedStream(s model.StreamID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attemptedStreams[s.Band()]
}

// MarkAttempted records picks as seen and attempted. Entries are never
// removed within a process lifetime; aging happens only by evicting the
// whole workspace.
func (w *Workspace) MarkAttempted(picks ...model.Pick) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.markAttempted(picks)
}

func (w *Workspace) markAttempted(picks []model.Pick) {
	for _, p := range picks {
		w.all[p.ID] = p
		w.attempted[p.ID] = p
		w.attemptedStreams[p.Stream.Band()] = true
	}
}

// SetRefined stores the most recent accepted refinement for a parent.
// The parent is marked attempted as well, preserving the invariant that
// every refined key is also an attempted key.
func (w *Workspace) SetRefined(r model.RefinedPick) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.attempted[r.ParentID]; !ok {
		parent, seen := w.all[r.ParentID]
		if !seen {
			parent = model.Pick{ID: r.ParentID, Stream: r.Stream, Time: r.Time}
		}
		w.markAttempted([]model.Pick{parent})
	}
	w.refined[r.ParentID] = r
}

// Refined returns the accepted refinement for a parent, if any.
func (w *Workspace) Refined(parentID string) (model.RefinedPick, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.refined[parentID]
	return r, ok
}

// Counts returns the sizes of the three tracking sets.
func (w *Workspace) Counts() (all, attempted, refined int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.all), len(w.attempted), len(w.refined)
}

func (w *Workspace) summary() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Summary{
		EventID:    w.EventID,
		OriginID:   w.originID,
		OriginTime: w.originTime,
		All:        len(w.all),
		Attempted:  len(w.attempted),
		Refined:    len(w.refined),
	}
}

// Map owns the workspaces of all live events. It is safe for use from
// the poll loop and the ops server concurrently; the map mutex guards
// the registry, each workspace guards its own state.
type Map struct {
	mu      sync.Mutex
	entries map[string]*Workspace
	journal *Journal
}

// NewMap creates a workspace map. journal may be nil; with a journal
// attached, attempted picks survive process restarts.
func NewMap(journal *Journal) *Map {
	return &Map{
		entries: make(map[string]*Workspace),
		journal: journal,
	}
}

// Get returns the workspace for an event, creating it on first use.
// With a journal attached, previously attempted picks are restored into
// a fresh workspace.
func (m *Map) Get(eventID string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.entries[eventID]; ok {
		return w, nil
	}
	w := newWorkspace(eventID)
	if m.journal != nil {
		picks, err := m.journal.Attempted(eventID)
		if err != nil {
			return nil, err
		}
		w.MarkAttempted(picks...)
	}
	m.entries[eventID] = w
	return w, nil
}

// MarkAttempted records picks as attempted in memory and, when a
// journal is attached, durably.
func (m *Map) MarkAttempted(w *Workspace, picks ...model.Pick) error {
	w.MarkAttempted(picks...)
	if m.journal != nil {
		return m.journal.Append(w.EventID, picks)
	}
	return nil
}

// Evict drops every workspace whose origin time is older than the
// cutoff. Workspaces without a known origin time are kept.
func (m *Map) Evict(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, w := range m.entries {
		_, at := w.Origin()
		if !at.IsZero() && at.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

// Clear drops one event's workspace, the operator override for the
// unconditional resubmission suppression.
func (m *Map) Clear(eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, eventID)
	if m.journal != nil {
		_ = m.journal.Clear(eventID)
	}
}

// Snapshot lists event IDs and tracking-set sizes for inspection.
func (m *Map) Snapshot() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, 0, len(m.entries))
	for _, w := range m.entries {
		out = append(out, w.summary())
	}
	return out
}

// Summary is the inspection view of one workspace.
type Summary struct {
	EventID    string    `json:"eventID"`
	OriginID   string    `json:"originID,omitempty"`
	OriginTime time.Time `json:"originTime,omitempty"`
	All        int       `json:"allPicks"`
	Attempted  int       `json:"attemptedPicks"`
	Refined    int       `json:"refinedPicks"`
}
