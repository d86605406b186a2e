package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"evidencelab/internal/logging"
)

type sessionKey struct{}

// Tracker manages token usage recording and persistence.
type Tracker struct {
	mu            sync.Mutex
	data          UsageData
	filePath      string
	dirty         bool
	saveDelay     time.Duration
	autoSaveTimer *time.Timer
}

// NewTracker creates a tracker persisted at filePath. An empty path keeps
// usage in memory only.
func NewTracker(filePath string) (*Tracker, error) {
	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create usage dir: %w", err)
		}
	}

	t := &Tracker{
		filePath:  filePath,
		saveDelay: 5 * time.Second,
		data: UsageData{
			Version:   "1.0",
			Aggregate: newAggregate(),
		},
	}

	if err := t.Load(); err != nil {
		logging.Get(logging.CategoryUsage).Warn("usage ledger unreadable, starting fresh: %v", err)
		t.data.Aggregate = newAggregate()
	}

	return t, nil
}

func newAggregate() AggregatedStats {
	return AggregatedStats{
		ByProvider:  make(map[string]TokenCounts),
		ByOperation: make(map[string]TokenCounts),
		BySession:   make(map[string]TokenCounts),
	}
}

// Load reads the usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}

	// Ensure maps are initialized if file was empty/partial
	if t.data.Aggregate.ByProvider == nil {
		t.data.Aggregate.ByProvider = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByOperation == nil {
		t.data.Aggregate.ByOperation = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.BySession == nil {
		t.data.Aggregate.BySession = make(map[string]TokenCounts)
	}

	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	t.dirty = false
	if t.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// Close stops any pending auto-save and flushes to disk.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.autoSaveTimer != nil {
		t.autoSaveTimer.Stop()
		t.autoSaveTimer = nil
	}
	return t.saveLocked()
}

// Track records one provider call. The session comes from WithSession.
func (t *Tracker) Track(ctx context.Context, provider string, input, output int, operation string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session := "none"
	if id, ok := SessionFromContext(ctx); ok {
		session = strconv.FormatInt(id, 10)
	}

	t.data.Aggregate.Total.Add(input, output)
	t.data.Aggregate.Calls++
	addToMap(t.data.Aggregate.ByProvider, provider, input, output)
	addToMap(t.data.Aggregate.ByOperation, operation, input, output)
	addToMap(t.data.Aggregate.BySession, session, input, output)

	// Debounced auto-save
	if !t.dirty && t.filePath != "" {
		t.dirty = true
		t.autoSaveTimer = time.AfterFunc(t.saveDelay, func() {
			if err := t.Save(); err != nil {
				logging.Get(logging.CategoryUsage).Warn("usage auto-save failed: %v", err)
			}
		})
	}
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	stats.BySession = copyTokenCountsMap(stats.BySession)
	return stats
}

// SessionStats returns the counters for one session.
func (t *Tracker) SessionStats(sessionID int64) TokenCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Aggregate.BySession[strconv.FormatInt(sessionID, 10)]
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}

// Context Helpers

// WithSession attributes calls made under ctx to a session.
func WithSession(ctx context.Context, sessionID int64) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session set by WithSession.
func SessionFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(sessionKey{}).(int64)
	return id, ok
}
