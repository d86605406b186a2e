package usage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestTracker_TrackAggregatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "usage.json")
	tracker, err := NewTracker(path)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	// Avoid background autosave during the test (debounce uses AfterFunc).
	tracker.dirty = true

	ctx := WithSession(context.Background(), 7)
	tracker.Track(ctx, "gemini/gemini-2.0-flash", 10, 5, "extraction")
	tracker.Track(ctx, "gemini/gemini-2.0-flash", 2, 3, "hypothesis_test")
	tracker.Track(context.Background(), "gemini/gemini-2.0-flash", 1, 1, "intent_classification")

	stats := tracker.Stats()
	if stats.Total.Input != 13 || stats.Total.Output != 9 || stats.Total.Total != 22 {
		t.Fatalf("Total=%+v, want input=13 output=9 total=22", stats.Total)
	}
	if stats.Calls != 3 {
		t.Fatalf("Calls=%d, want 3", stats.Calls)
	}
	if got := stats.ByProvider["gemini/gemini-2.0-flash"]; got.Total != 22 {
		t.Fatalf("ByProvider=%+v, want total=22", got)
	}
	if got := stats.ByOperation["extraction"]; got.Total != 15 || got.Calls != 1 {
		t.Fatalf("ByOperation[extraction]=%+v, want total=15 calls=1", got)
	}
	if got := tracker.SessionStats(7); got.Total != 20 || got.Calls != 2 {
		t.Fatalf("SessionStats(7)=%+v, want total=20 calls=2", got)
	}
	if got := stats.BySession["none"]; got.Total != 2 {
		t.Fatalf("BySession[none]=%+v, want total=2", got)
	}

	if err := tracker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read usage.json: %v", err)
	}
	var persisted UsageData
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("unmarshal usage.json: %v", err)
	}
	if persisted.Aggregate.Total.Total != 22 {
		t.Fatalf("persisted total=%d, want 22", persisted.Aggregate.Total.Total)
	}

	reloaded, err := NewTracker(path)
	if err != nil {
		t.Fatalf("NewTracker reload: %v", err)
	}
	if got := reloaded.SessionStats(7); got.Total != 20 {
		t.Fatalf("reloaded SessionStats(7)=%+v, want total=20", got)
	}
}

func TestTracker_InMemory(t *testing.T) {
	tracker, err := NewTracker("")
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	tracker.Track(context.Background(), "mock", 4, 4, "clustering")
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := tracker.Stats().Total.Total; got != 8 {
		t.Fatalf("Total=%d, want 8", got)
	}
}

func TestTracker_CorruptLedgerStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tracker, err := NewTracker(path)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	tracker.dirty = true
	tracker.Track(context.Background(), "mock", 1, 2, "extraction")
	if got := tracker.Stats().ByOperation["extraction"].Total; got != 3 {
		t.Fatalf("ByOperation[extraction]=%d, want 3", got)
	}
}

func TestTracker_SessionContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := SessionFromContext(ctx); ok {
		t.Fatalf("unexpected session on bare context")
	}
	id, ok := SessionFromContext(WithSession(ctx, 42))
	if !ok || id != 42 {
		t.Fatalf("SessionFromContext = %d,%v want 42,true", id, ok)
	}
}
