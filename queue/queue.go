// Package queue is the client's durable offline store for sync
// payloads that could not be delivered. One JSON file per entry,
// guarded by a file lock so a scheduled sync and a manual one can
// touch the queue at the same time.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// MaxPending caps the queue; the oldest entry is evicted beyond it.
const MaxPending = 100

// Entry is one queued payload. The payload is kept opaque: it is
// re-sent byte for byte on retry.
type Entry struct {
	ID       string          `json:"id"`
	QueuedAt time.Time       `json:"queued_at"`
	Attempts int             `json:"attempts"`
	Payload  json.RawMessage `json:"payload"`
}

// Queue is a directory of entry files. Filenames sort by enqueue time,
// which gives ListPending its FIFO order.
type Queue struct {
	dir  string
	lock *flock.Flock
}

// Open prepares the queue directory at dir.
func Open(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Queue{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, ".lock")),
	}, nil
}

// Enqueue durably appends a payload. The entry file is written to a
// temp name, fsynced and renamed, so a kill right after return cannot
// lose it.
func (q *Queue) Enqueue(payload json.RawMessage) (*Entry, error) {
	if err := q.lock.Lock(); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()

	entry := &Entry{
		ID:       uuid.NewString(),
		QueuedAt: time.Now(),
		Payload:  payload,
	}
	if err := q.writeEntry(entry); err != nil {
		return nil, err
	}

	// Evict oldest entries over the cap
	names, err := q.entryFiles()
	if err != nil {
		return nil, err
	}
	for len(names) > MaxPending {
		if err := os.Remove(filepath.Join(q.dir, names[0])); err != nil {
			return nil, err
		}
		names = names[1:]
	}

	return entry, nil
}

// ListPending returns all queued entries in insertion order.
func (q *Queue) ListPending() ([]Entry, error) {
	if err := q.lock.Lock(); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()

	names, err := q.entryFiles()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(q.dir, name))
		if err != nil {
			return nil, err
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			// A torn write from a crash mid-enqueue; drop it
			os.Remove(filepath.Join(q.dir, name))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Len returns the number of pending entries.
func (q *Queue) Len() (int, error) {
	if err := q.lock.Lock(); err != nil {
		return 0, err
	}
	defer q.lock.Unlock()

	names, err := q.entryFiles()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// MarkDelivered removes an entry after a confirmed success response.
// Removing an already removed entry is a no-op.
func (q *Queue) MarkDelivered(id string) error {
	if err := q.lock.Lock(); err != nil {
		return err
	}
	defer q.lock.Unlock()

	name, err := q.findEntry(id)
	if err != nil || name == "" {
		return err
	}
	return os.Remove(filepath.Join(q.dir, name))
}

// IncrementAttempts records one more failed delivery attempt for id.
func (q *Queue) IncrementAttempts(id string) error {
	if err := q.lock.Lock(); err != nil {
		return err
	}
	defer q.lock.Unlock()

	name, err := q.findEntry(id)
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("queue entry %s not found", id)
	}

	data, err := os.ReadFile(filepath.Join(q.dir, name))
	if err != nil {
		return err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return err
	}
	entry.Attempts++
	return q.rewriteEntry(name, &entry)
}

// entryFiles lists entry filenames sorted by enqueue order.
func (q *Queue) entryFiles() ([]string, error) {
	all, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for _, f := range all {
		if strings.HasSuffix(f.Name(), ".json") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (q *Queue) findEntry(id string) (string, error) {
	names, err := q.entryFiles()
	if err != nil {
		return "", err
	}
	suffix := "-" + id + ".json"
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			return name, nil
		}
	}
	return "", nil
}

func (q *Queue) writeEntry(entry *Entry) error {
	name := fmt.Sprintf("%020d-%s.json", entry.QueuedAt.UnixNano(), entry.ID)
	return q.rewriteEntry(name, entry)
}

func (q *Queue) rewriteEntry(name string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(q.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(q.dir, name))
}
