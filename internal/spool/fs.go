package spool

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FSQueue is the filesystem spool. Every item is written as a data file
// under the event directory and announced by a symlink in the pointer
// directory:
//
//	<root>/events/<eventID>/<sub>/<stamp>.json     (data, write-once)
//	<root>/<pointerDir>/<stamp>-<eventID>.json     (symlink -> data)
//
// The data file is created first, the pointer last. A crash between
// the two leaves no dangling pointer; a crash after pointer creation is
// re-discovered on restart. Ack renames the pointer into the archive
// directory, which is atomic on the same filesystem.
type FSQueue struct {
	root       string
	sub        string
	pointerDir string
	archiveDir string
	logger     *log.Logger
}

// NewWorkQueue returns the spool the picker client publishes work items
// to and the repicker drains.
func NewWorkQueue(root string, logger *log.Logger) (*FSQueue, error) {
	return newFSQueue(root, "in", "pending", "archived", logger)
}

// NewResultQueue returns the spool the repicker publishes results to
// and the collector drains.
func NewResultQueue(root string, logger *log.Logger) (*FSQueue, error) {
	return newFSQueue(root, "out", "outgoing", "sent", logger)
}

// NewNotifyQueue returns the spool carrying event-change notifications
// into the picker client and the relocator. The payload is the event ID
// itself.
func NewNotifyQueue(root string, logger *log.Logger) (*FSQueue, error) {
	return newFSQueue(root, "notify", "notifications", "notified", logger)
}

func newFSQueue(root, sub, pointerDir, archiveDir string, logger *log.Logger) (*FSQueue, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[spool] ", log.LstdFlags)
	}
	q := &FSQueue{
		root:       root,
		sub:        sub,
		pointerDir: filepath.Join(root, pointerDir),
		archiveDir: filepath.Join(root, archiveDir),
		logger:     logger,
	}
	for _, d := range []string{q.pointerDir, q.archiveDir, filepath.Join(root, "events")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("spool: create %s: %w", d, err)
		}
	}
	return q, nil
}

func (q *FSQueue) Publish(ctx context.Context, eventID string, payload []byte) (string, error) {
	if eventID == "" {
		return "", fmt.Errorf("spool: event ID required")
	}
	stamp := time.Now().UTC().Format("20060102T150405.000000000")
	name := stamp + ".json"
	dataDir := filepath.Join(q.root, "events", eventID, q.sub)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("spool: create %s: %w", dataDir, err)
	}

	// stage one: the data file, via temp file and rename so a partial
	// write is never visible under the stable path
	dataPath := filepath.Join(dataDir, name)
	tmp := dataPath + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return "", fmt.Errorf("spool: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dataPath); err != nil {
		return "", fmt.Errorf("spool: commit %s: %w", dataPath, err)
	}

	// stage two: the pointer
	token := stamp + "-" + eventID + ".json"
	target := filepath.Join("..", "events", eventID, q.sub, name)
	if err := os.Symlink(target, filepath.Join(q.pointerDir, token)); err != nil {
		if os.IsExist(err) {
			q.logger.Printf("pointer exists %s", token)
			return token, nil
		}
		return "", fmt.Errorf("spool: link %s: %w", token, err)
	}
	return token, nil
}

// PollPending lists pending items newest first. Most-recent-first
// draining brings the pipeline back to real time quickly after an
// outage; if the spool never runs empty, very old items can starve.
// A pointer whose data file is missing is skipped with a warning and
// left for manual cleanup.
func (q *FSQueue) PollPending(ctx context.Context, max int) ([]Item, error) {
	entries, err := os.ReadDir(q.pointerDir)
	if err != nil {
		return nil, fmt.Errorf("spool: list %s: %w", q.pointerDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	var items []Item
	for _, name := range names {
		if ctx.Err() != nil {
			return items, ctx.Err()
		}
		if max > 0 && len(items) >= max {
			break
		}
		ptr := filepath.Join(q.pointerDir, name)
		fi, err := os.Lstat(ptr)
		if err != nil || fi.Mode()&os.ModeSymlink == 0 {
			continue
		}
		payload, err := os.ReadFile(ptr)
		if err != nil {
			q.logger.Printf("missing target for %s: %v", name, err)
			continue
		}
		items = append(items, Item{
			Token:   name,
			EventID: eventIDFromToken(name),
			Payload: payload,
		})
	}
	return items, nil
}

// PendingSnapshot lists pending items without claiming them. Reading
// the pointer directory has no side effects, so it shares PollPending.
func (q *FSQueue) PendingSnapshot(ctx context.Context, max int) ([]Item, error) {
	return q.PollPending(ctx, max)
}

func (q *FSQueue) Ack(ctx context.Context, token string) error {
	src := filepath.Join(q.pointerDir, token)
	dst := filepath.Join(q.archiveDir, token)
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			// already acked by an earlier delivery
			return nil
		}
		return fmt.Errorf("spool: ack %s: %w", token, err)
	}
	return nil
}

// eventIDFromToken recovers the event ID from a pointer name of the
// form <stamp>-<eventID>.json.
func eventIDFromToken(token string) string {
	s := strings.TrimSuffix(token, ".json")
	if i := strings.Index(s, "-"); i >= 0 {
		return s[i+1:]
	}
	return ""
}
