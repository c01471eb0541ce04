package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads playlists when their files change and passes each fresh
// load to onChange. Bursts of events for one file within debounce collapse
// into a single reload. Watch blocks until ctx is cancelled.
func (c *Catalog) Watch(ctx context.Context, debounce time.Duration, onChange func(Playlist)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}

	c.logger.Info().Str("dir", c.dir).Msg("Watching playlists")

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	reload := func(name string) {
		mu.Lock()
		delete(timers, name)
		mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		pl, err := c.Load(name)
		if err != nil {
			c.logger.Warn().Err(err).Str("playlist", name).Msg("Reload failed")
			return
		}
		c.logger.Info().Str("playlist", name).Int("items", len(pl.Items)).Msg("Playlist changed")
		onChange(pl)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != playlistExt {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(event.Name), playlistExt)

			mu.Lock()
			if t, ok := timers[name]; ok {
				t.Reset(debounce)
			} else {
				timers[name] = time.AfterFunc(debounce, func() { reload(name) })
			}
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}
