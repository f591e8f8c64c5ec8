package tasks

import (
	"log/slog"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"calibkit/internal/fsutil"
)

// FrameEvent reports a FITS frame that appeared or changed.
type FrameEvent struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // "created", "modified"
	Time      time.Time `json:"time"`
}

// FrameWatcher monitors directories for new FITS frames.
type FrameWatcher struct {
	watcher   *fsnotify.Watcher
	Events    chan FrameEvent
	watchDirs []string
	exts      []string
	log       *slog.Logger
	done      chan struct{}
}

// NewFrameWatcher creates a watcher for dirs; exts nil means the default
// FITS extensions.
func NewFrameWatcher(dirs []string, exts []string, log *slog.Logger) (*FrameWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &FrameWatcher{
		watcher:   watcher,
		Events:    make(chan FrameEvent, 100),
		watchDirs: dirs,
		exts:      exts,
		log:       log,
		done:      make(chan struct{}),
	}, nil
}

// Start begins monitoring the configured directories.
func (fw *FrameWatcher) Start() error {
	for _, dir := range fw.watchDirs {
		if err := fw.watcher.Add(dir); err != nil {
			return err
		}
		fw.log.Info("watching directory", "dir", dir)
	}
	go fw.processEvents()
	return nil
}

// Stop closes the watcher. Events is closed once the event loop exits.
func (fw *FrameWatcher) Stop() error {
	close(fw.done)
	return fw.watcher.Close()
}

func (fw *FrameWatcher) processEvents() {
	defer close(fw.Events)
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			var operation string
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				operation = "created"
			case event.Op&fsnotify.Write == fsnotify.Write:
				operation = "modified"
			default:
				continue
			}
			if !fsutil.IsFrame(event.Name, fw.exts) {
				continue
			}

			select {
			case fw.Events <- FrameEvent{Path: event.Name, Operation: operation, Time: time.Now()}:
			default:
				fw.log.Warn("event buffer full, dropping event", "path", event.Name)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error("filesystem watcher error", "error", err)

		case <-fw.done:
			return
		}
	}
}

// Debouncer coalesces repeated events for the same path until it has been
// quiet for the settle interval, so a frame is handled once after its
// writer finishes.
type Debouncer struct {
	settle  time.Duration
	pending map[string]time.Time
}

func NewDebouncer(settle time.Duration) *Debouncer {
	return &Debouncer{settle: settle, pending: map[string]time.Time{}}
}

// Add records an event for path at t.
func (d *Debouncer) Add(path string, t time.Time) {
	d.pending[path] = t
}

// Ready returns, and forgets, the paths quiet since now-settle, sorted.
func (d *Debouncer) Ready(now time.Time) []string {
	var ready []string
	for path, t := range d.pending {
		if now.Sub(t) >= d.settle {
			ready = append(ready, path)
			delete(d.pending, path)
		}
	}
	sort.Strings(ready)
	return ready
}
