package workspace_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seisworks/dlrepick/internal/model"
	"github.com/seisworks/dlrepick/internal/workspace"
)

func pick(id, net, sta, cha string) model.Pick {
	return model.Pick{
		ID:     id,
		Stream: model.StreamID{Network: net, Station: sta, Channel: cha},
		Time:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAttemptedMonotonic(t *testing.T) {
	m := workspace.NewMap(nil)
	w, err := m.Get("ev1")
	require.NoError(t, err)

	require.NoError(t, m.MarkAttempted(w, pick("p1", "GE", "APE", "BHZ")))
	require.NoError(t, m.MarkAttempted(w, pick("p2", "GE", "UGM", "BHZ")))

	assert.True(t, w.Attempted("p1"))
	assert.True(t, w.Attempted("p2"))

	// re-marking never loses entries
	require.NoError(t, m.MarkAttempted(w, pick("p1", "GE", "APE", "BHZ")))
	_, attempted, _ := w.Counts()
	assert.Equal(t, 2, attempted)
}

func TestAttemptedStreamSuppression(t *testing.T) {
	m := workspace.NewMap(nil)
	w, err := m.Get("ev1")
	require.NoError(t, err)

	require.NoError(t, m.MarkAttempted(w, pick("p1", "GE", "APE", "BHZ")))

	// a later pick on the same stream, different ID, is suppressed
	later := pick("p2", "GE", "APE", "BHN")
	assert.True(t, w.AttemptedStream(later.Stream))
	assert.False(t, w.AttemptedStream(model.StreamID{Network: "GE", Station: "UGM", Channel: "BHZ"}))
}

func TestRefinedImpliesAttempted(t *testing.T) {
	m := workspace.NewMap(nil)
	w, err := m.Get("ev1")
	require.NoError(t, err)

	w.SetRefined(model.RefinedPick{
		ParentID:   "p9",
		Stream:     model.StreamID{Network: "GE", Station: "APE", Channel: "BHZ"},
		Time:       time.Now().UTC(),
		Confidence: 0.8,
	})
	assert.True(t, w.Attempted("p9"))
	_, ok := w.Refined("p9")
	assert.True(t, ok)
}

// One workspace is mutated by the ingestion loop and the collector
// while the ops server inspects it; run with the race detector.
func TestMapConcurrentUse(t *testing.T) {
	m := workspace.NewMap(nil)
	w, err := m.Get("ev1")
	require.NoError(t, err)

	const n = 200
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = m.MarkAttempted(w, pick(fmt.Sprintf("p%d", i), "GE", "APE", "BHZ"))
			w.SetOrigin("o1", time.Now())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			w.SetRefined(model.RefinedPick{
				ParentID:   fmt.Sprintf("p%d", i),
				Stream:     model.StreamID{Network: "GE", Station: "APE", Channel: "BHZ"},
				Time:       time.Now().UTC(),
				Confidence: 0.8,
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			m.Snapshot()
			w.Counts()
			w.AttemptedStream(model.StreamID{Network: "GE", Station: "APE", Channel: "BHZ"})
		}
	}()
	wg.Wait()

	_, attempted, refined := w.Counts()
	assert.Equal(t, n, attempted)
	assert.Equal(t, n, refined)
}

func TestEvictByOriginTime(t *testing.T) {
	m := workspace.NewMap(nil)
	old, err := m.Get("ev-old")
	require.NoError(t, err)
	old.SetOrigin("o-old", time.Now().Add(-48*time.Hour))

	fresh, err := m.Get("ev-new")
	require.NoError(t, err)
	fresh.SetOrigin("o-new", time.Now().Add(-time.Hour))

	n := m.Evict(time.Now().Add(-30 * time.Hour))
	assert.Equal(t, 1, n)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "ev-new", snap[0].EventID)
}

func TestJournalRestoresAttempted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := workspace.OpenJournal(path)
	require.NoError(t, err)

	m := workspace.NewMap(j)
	w, err := m.Get("ev1")
	require.NoError(t, err)
	require.NoError(t, m.MarkAttempted(w, pick("p1", "GE", "APE", "BHZ")))
	require.NoError(t, j.Close())

	// simulate a restart with a fresh map over the same journal file
	j2, err := workspace.OpenJournal(path)
	require.NoError(t, err)
	defer j2.Close()

	m2 := workspace.NewMap(j2)
	w2, err := m2.Get("ev1")
	require.NoError(t, err)
	assert.True(t, w2.Attempted("p1"))
	assert.True(t, w2.AttemptedStream(model.StreamID{Network: "GE", Station: "APE", Channel: "BHN"}))
}

func TestJournalAppendIdempotent(t *testing.T) {
	j, err := workspace.OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	p := pick("p1", "GE", "APE", "BHZ")
	require.NoError(t, j.Append("ev1", []model.Pick{p}))
	require.NoError(t, j.Append("ev1", []model.Pick{p}))

	picks, err := j.Attempted("ev1")
	require.NoError(t, err)
	assert.Len(t, picks, 1)
}
