package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/go-pkgz/lgr"

	"github.com/umputun/beatstore/app/store"
)

// Loader provides default entries from a schedule file and notifies about file changes, thread safe
type Loader struct {
	file     string
	debounce time.Duration
	hupCh    <-chan struct{}
}

// NewLoader makes Loader for file, not loading yet. Changes are delivered debounce after the last file event,
// any signal on hupCh forces reload.
func NewLoader(file string, debounce time.Duration, hupCh <-chan struct{}) *Loader {
	log.Printf("[INFO] schedule file %s, debounce %v", file, debounce)
	return &Loader{file: file, debounce: debounce, hupCh: hupCh}
}

// List loads and validates entries
func (l *Loader) List() ([]store.Entry, error) {
	return Load(l.file)
}

func (l *Loader) String() string {
	return l.file
}

// Changes returns updates channel. Each time the schedule file written, created or replaced it gets loaded
// and the full list of entries sent to the channel. Invalid files are logged and skipped.
// The channel is closed on ctx done.
func (l *Loader) Changes(ctx context.Context) (<-chan []store.Entry, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("can't make watcher: %w", err)
	}
	// watch the directory, editors and config managers often replace the file instead of writing it
	dir, base := filepath.Dir(l.file), filepath.Base(l.file)
	if err = w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("can't watch %s: %w", dir, err)
	}

	ch := make(chan []store.Entry)
	go func() {
		defer close(ch)
		defer w.Close()

		debounce := time.NewTimer(l.debounce)
		debounce.Stop()
		defer debounce.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.EqualFold(filepath.Base(ev.Name), base) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce.Reset(l.debounce)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] schedule watcher error for %s, %v", l.file, err)
			case <-l.hupCh:
				log.Printf("[INFO] reload %s on signal", l.file)
				debounce.Reset(0)
			case <-debounce.C:
				entries, err := l.List()
				if err != nil {
					log.Printf("[WARN] can't reload schedule, %v", err)
					continue
				}
				log.Printf("[INFO] schedule %s changed, %d entries", l.file, len(entries))
				select {
				case ch <- entries:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
