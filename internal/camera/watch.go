package camera

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-enumerates devices when video nodes appear or disappear.
type Watcher struct {
	enum     Enumerator
	dir      string
	debounce time.Duration
}

// NewWatcher watches dir (normally /dev) and re-lists through enum.
func NewWatcher(enum Enumerator, dir string) *Watcher {
	return &Watcher{
		enum:     enum,
		dir:      dir,
		debounce: 750 * time.Millisecond,
	}
}

// Run blocks until ctx is done, calling onChange with the fresh device
// list after every burst of videoN create/remove events. udev creates the
// node before it fixes permissions, hence the debounce.
func (w *Watcher) Run(ctx context.Context, onChange func([]Device)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("camera: create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("camera: watch %s: %w", w.dir, err)
	}
	log.Printf("[Hotplug] Watching %s for camera changes", w.dir)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if _, isVideo := ParseDeviceName(filepath.Base(ev.Name)); !isVideo {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) {
				log.Printf("[Hotplug] %s %s", ev.Op, ev.Name)
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Hotplug] WARNING: watcher error: %v", err)

		case <-timer.C:
			onChange(SafeList(ctx, w.enum))
		}
	}
}
