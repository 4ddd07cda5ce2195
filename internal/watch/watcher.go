// internal/watch/watcher.go

// Package watch keeps the knowledge graph current while schema exports are
// being edited: it watches the data directory and re-ingests any JSON file
// whose content actually changed.
package watch

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"tablegraph/internal/model"
)

// Loader re-ingests one export file. *graph.Builder behind a parse step
// satisfies it in the CLI; tests substitute a fake.
type Loader interface {
	LoadFile(ctx context.Context, name string) (*model.IngestReport, error)
}

// debounceDelay coalesces the write bursts editors and copies produce.
const debounceDelay = 500 * time.Millisecond

// Watcher re-ingests schema exports as they change on disk.
type Watcher struct {
	dataDir string
	loader  Loader
	tracker *Tracker
	log     *logrus.Logger
}

// New creates a watcher over dataDir.
func New(dataDir string, loader Loader, log *logrus.Logger) *Watcher {
	return &Watcher{
		dataDir: dataDir,
		loader:  loader,
		tracker: NewTracker(dataDir),
		log:     log,
	}
}

// Run watches until ctx is cancelled. Tracker state is loaded at start and
// saved after every successful ingest, so a restart skips unchanged files.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.tracker.Load(); err != nil {
		w.log.Warnf("could not load watch state, all files count as changed: %v", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.dataDir); err != nil {
		return err
	}
	w.log.Infof("watching %s for schema export changes", w.dataDir)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(debounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isExport(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.tracker.Forget(event.Name)
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("watch error: %v", err)

		case now := <-ticker.C:
			for path, stamp := range pending {
				if now.Sub(stamp) < debounceDelay {
					continue
				}
				delete(pending, path)
				w.handle(ctx, path)
			}
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	changed, err := w.tracker.Changed(path)
	if err != nil {
		w.log.Warnf("could not hash %s: %v", path, err)
		return
	}
	if !changed {
		return
	}

	name := filepath.Base(path)
	w.log.Infof("re-ingesting %s", name)
	report, err := w.loader.LoadFile(ctx, name)
	if err != nil {
		// Not marked loaded: the next event for this content retries.
		w.log.Errorf("re-ingest of %s failed: %v", name, err)
		return
	}
	w.log.Infof("%s: %d tables created, %d updated, %d embeddings computed",
		name, report.TablesCreated, report.TablesUpdated, report.EmbeddingsComputed)

	if err := w.tracker.MarkLoaded(path); err != nil {
		w.log.Warnf("could not record watch state for %s: %v", name, err)
	}
	if err := w.tracker.Save(); err != nil {
		w.log.Warnf("could not save watch state: %v", err)
	}
}

func isExport(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(path), ".json")
}
