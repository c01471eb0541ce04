// Package catalog turns playlist files into queue items.
//
// A playlist is <dir>/<name>.yaml:
//
//	shuffle: true
//	items:
//	  - path: ambient/first.mp3
//	  - title: Station ID
//	    path: https://example.com/id.mp3
//	    duration: 12s
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/jfmyers9/carousel/internal/config"
	"github.com/jfmyers9/carousel/internal/poll"
	"github.com/jfmyers9/carousel/internal/queue"
)

const playlistExt = ".yaml"

var (
	ErrNotFound     = errors.New("playlist not found")
	ErrInvalidEntry = errors.New("invalid playlist entry")
)

// Playlist is a loaded playlist
type Playlist struct {
	Name    string
	Shuffle *bool // nil when the file does not say
	Items   []queue.Item
}

type playlistFile struct {
	Shuffle *bool       `yaml:"shuffle"`
	Items   []entryFile `yaml:"items"`
}

type entryFile struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Artist   string `yaml:"artist"`
	Path     string `yaml:"path"`
	Duration string `yaml:"duration"`
}

// Catalog reads playlists from a directory
type Catalog struct {
	dir    string
	caps   config.Capabilities
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]Playlist
}

// New creates a catalog over dir. Media files are only opened for
// metadata when caps.LocalFiles is set.
func New(dir string, caps config.Capabilities, logger zerolog.Logger) *Catalog {
	return &Catalog{
		dir:    dir,
		caps:   caps,
		logger: logger.With().Str("component", "catalog").Logger(),
		cache:  make(map[string]Playlist),
	}
}

// Dir returns the playlist directory
func (c *Catalog) Dir() string {
	return c.dir
}

// Names lists the available playlists, sorted
func (c *Catalog) Names() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != playlistExt {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), playlistExt))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads a playlist from disk. Every load assigns fresh item ids
// unless the file pins them.
func (c *Catalog) Load(name string) (Playlist, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return Playlist{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	data, err := os.ReadFile(filepath.Join(c.dir, name+playlistExt))
	if errors.Is(err, os.ErrNotExist) {
		return Playlist{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Playlist{}, fmt.Errorf("failed to read playlist %s: %w", name, err)
	}

	var file playlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Playlist{}, fmt.Errorf("failed to parse playlist %s: %w", name, err)
	}

	pl := Playlist{Name: name, Shuffle: file.Shuffle}
	seen := make(map[string]bool, len(file.Items))
	for i, entry := range file.Items {
		item, err := c.buildItem(name, entry)
		if err != nil {
			return Playlist{}, fmt.Errorf("playlist %s item %d: %w", name, i+1, err)
		}
		if seen[item.ID] {
			return Playlist{}, fmt.Errorf("playlist %s item %d: %w: duplicate id %q", name, i+1, ErrInvalidEntry, item.ID)
		}
		seen[item.ID] = true
		pl.Items = append(pl.Items, item)
	}

	c.mu.Lock()
	c.cache[name] = pl
	c.mu.Unlock()

	c.logger.Debug().Str("playlist", name).Int("items", len(pl.Items)).Msg("Loaded playlist")
	return pl, nil
}

// Cached returns the most recent successful load of name
func (c *Catalog) Cached(name string) (Playlist, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pl, ok := c.cache[name]
	return pl, ok
}

func (c *Catalog) buildItem(playlist string, e entryFile) (queue.Item, error) {
	if e.Path == "" {
		return queue.Item{}, fmt.Errorf("%w: missing path", ErrInvalidEntry)
	}

	item := queue.Item{
		ID:          e.ID,
		Title:       strings.TrimSpace(e.Title),
		Artist:      strings.TrimSpace(e.Artist),
		Locator:     e.Path,
		PlaylistTag: playlist,
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	if e.Duration != "" {
		d, err := time.ParseDuration(e.Duration)
		if err != nil || d < 0 {
			return queue.Item{}, fmt.Errorf("%w: duration %q", ErrInvalidEntry, e.Duration)
		}
		item.Duration = d
	}

	if !isRemote(e.Path) {
		if !filepath.IsAbs(e.Path) {
			item.Locator = filepath.Join(c.dir, e.Path)
		}
		if c.caps.LocalFiles {
			fillFromFile(&item)
		}
	}

	if item.Title == "" {
		item.Title = titleFromLocator(item.Locator)
	}
	return item, nil
}

// WaitReady waits for the playlist directory to appear, e.g. on a volume
// that mounts after startup
func WaitReady(ctx context.Context, dir string, interval, maxWait time.Duration) error {
	return poll.Until(ctx, interval, maxWait, func(context.Context) (bool, error) {
		info, err := os.Stat(dir)
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !info.IsDir() {
			return false, fmt.Errorf("%s is not a directory", dir)
		}
		return true, nil
	})
}

func isRemote(path string) bool {
	return strings.Contains(path, "://")
}

func titleFromLocator(locator string) string {
	base := locator
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
