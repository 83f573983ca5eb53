package router

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// dayCounters is the on-disk shape for the usage tracker: one file holding all models'
// counts for the current local day, rewritten atomically on every increment.
type dayCounters struct {
	Day    string           `json:"day"` // YYYY-MM-DD, local time
	Counts map[string]int64 `json:"counts"`
}

// UsageTracker counts per-model calls for the current local day, persisted so a process
// restart doesn't reset quota enforcement. Same temp-file-then-rename atomic write as
// internal/sessions/manager.go's Save() and internal/channels/offsets.go's Store().
type UsageTracker struct {
	path string
	mu   sync.Mutex
	data dayCounters
}

// NewUsageTracker loads (or initializes) the counter file at path.
func NewUsageTracker(path string) *UsageTracker {
	t := &UsageTracker{path: path}
	t.data = t.load()
	return t
}

func (t *UsageTracker) today() string {
	return time.Now().Format("2006-01-02")
}

func (t *UsageTracker) load() dayCounters {
	today := t.today()
	data, err := os.ReadFile(t.path)
	if err != nil {
		return dayCounters{Day: today, Counts: map[string]int64{}}
	}
	var d dayCounters
	if err := json.Unmarshal(data, &d); err != nil {
		return dayCounters{Day: today, Counts: map[string]int64{}}
	}
	if d.Day != today {
		// Lazy rollover: stale counts from a prior day are discarded on first read.
		return dayCounters{Day: today, Counts: map[string]int64{}}
	}
	if d.Counts == nil {
		d.Counts = map[string]int64{}
	}
	return d
}

// rolloverLocked resets t.data if the local day has changed since it was last loaded.
// Must be called with t.mu held.
func (t *UsageTracker) rolloverLocked() {
	today := t.today()
	if t.data.Day != today {
		t.data = dayCounters{Day: today, Counts: map[string]int64{}}
	}
}

// Increment bumps modelId's counter for today and returns the new count.
func (t *UsageTracker) Increment(modelID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	t.data.Counts[modelID]++
	count := t.data.Counts[modelID]
	t.persistLocked()
	return count
}

// IsAtLimit reports whether modelId's count for today is >= limit.
func (t *UsageTracker) IsAtLimit(modelID string, limit int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	return t.data.Counts[modelID] >= int64(limit)
}

// IncrementAndCheck increments modelId's counter and reports whether it is still under
// limit after the increment (i.e. whether this call may proceed against that model).
func (t *UsageTracker) IncrementAndCheck(modelID string, limit int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	if t.data.Counts[modelID] >= int64(limit) {
		return false
	}
	t.data.Counts[modelID]++
	t.persistLocked()
	return true
}

// persistLocked writes t.data to disk. Must be called with t.mu held. Persistence
// failures are non-fatal: the tracker keeps working in-memory and retries on the next
// increment, since a quota miss is far less harmful than crashing the router.
func (t *UsageTracker) persistLocked() {
	if t.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return
	}

	data, err := json.Marshal(t.data)
	if err != nil {
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.path), ".usage-*.tmp")
	if err != nil {
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		os.Remove(tmpPath)
	}
}
