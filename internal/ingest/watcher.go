package ingest

import (
	"context"
	"os"
	"sync"
	"time"

	"evidencelab/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Handler receives each settled document. Errors are logged and counted;
// the watcher keeps running.
type Handler func(ctx context.Context, doc Document) error

// Watcher ingests files dropped into an inbox directory. Rapid writes to the
// same file are debounced and a file is handed over once per size and
// modification time.
type Watcher struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	dir       string
	exts      []string
	handle    Handler
	debounce  time.Duration
	pending   map[string]time.Time
	processed map[string]fileStamp
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	EventsSeen    int
	FilesIngested int
	Errors        int
	LastPath      string
	LastEventTime time.Time
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// NewWatcher creates a watcher for dir. Nothing happens until Start.
func NewWatcher(dir string, exts []string, debounce time.Duration, handle Handler) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:   fw,
		dir:       dir,
		exts:      exts,
		handle:    handle,
		debounce:  debounce,
		pending:   make(map[string]time.Time),
		processed: make(map[string]fileStamp),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start creates the inbox if needed, queues files already in it and begins
// watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	err := os.MkdirAll(w.dir, 0755)
	if err == nil {
		err = w.watcher.Add(w.dir)
	}
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Ingest("watching inbox %s", w.dir)

	existing, err := Expand([]string{w.dir}, w.exts)
	if err != nil {
		logging.IngestWarn("could not list existing inbox files: %v", err)
	}
	w.mu.Lock()
	for _, p := range existing {
		w.pending[p] = time.Time{}
	}
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the OS watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryIngest).Error("error closing watcher: %v", err)
	}
	logging.Ingest("inbox watcher stopped")
}

// Stats returns a copy of the counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryIngest).Error("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !Accepts(event.Name, w.exts) {
		return
	}
	logging.IngestDebug("%s event for %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.EventsSeen++
	w.stats.LastPath = event.Name
	w.stats.LastEventTime = time.Now()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// flush hands over files that have been quiet for the debounce window.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.ingest(ctx, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.IngestDebug("file vanished before ingest: %s", path)
			return
		}
		w.fail(path, err)
		return
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}

	w.mu.Lock()
	prev, seen := w.processed[path]
	w.mu.Unlock()
	if seen && prev.size == stamp.size && prev.modTime.Equal(stamp.modTime) {
		return
	}

	doc, err := ReadSource(path)
	if err != nil {
		w.fail(path, err)
		return
	}
	if doc.Text == "" {
		logging.IngestDebug("skipping empty file %s", path)
		return
	}
	if err := w.handle(ctx, *doc); err != nil {
		w.fail(path, err)
		return
	}

	w.mu.Lock()
	w.processed[path] = stamp
	w.stats.FilesIngested++
	w.mu.Unlock()
	logging.Ingest("ingested %s", doc.Name)
}

func (w *Watcher) fail(path string, err error) {
	logging.IngestWarn("ingest of %s failed: %v", path, err)
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}
