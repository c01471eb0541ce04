package catalog

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"

	"github.com/jfmyers9/carousel/internal/queue"
)

// fillFromFile completes missing title, artist and duration from the media
// file. Unreadable files are left as they are.
func fillFromFile(item *queue.Item) {
	if item.Title == "" || item.Artist == "" {
		title, artist := readTags(item.Locator)
		if item.Title == "" {
			item.Title = title
		}
		if item.Artist == "" {
			item.Artist = artist
		}
	}

	if item.Duration == 0 && strings.EqualFold(filepath.Ext(item.Locator), ".mp3") {
		if d, err := computeMP3Duration(item.Locator); err == nil {
			item.Duration = d.Round(time.Millisecond)
		}
	}
}

func readTags(path string) (title, artist string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(meta.Title()), strings.TrimSpace(meta.Artist())
}

func computeMP3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total time.Duration

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration()
	}

	return total, nil
}
