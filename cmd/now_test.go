package cmd

import (
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/jfmyers9/carousel/internal/controller"
	"github.com/jfmyers9/carousel/internal/queue"
	"github.com/jfmyers9/carousel/internal/statechannel"
)

func TestPadToWidth(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		width    int
		expected string
	}{
		{
			name:     "no padding when width is 0",
			input:    "Hello",
			width:    0,
			expected: "Hello",
		},
		{
			name:     "no padding when width is negative",
			input:    "Hello",
			width:    -1,
			expected: "Hello",
		},
		{
			name:     "pad short text with spaces",
			input:    "Hi",
			width:    10,
			expected: "Hi        ",
		},
		{
			name:     "exact width unchanged",
			input:    "Hello",
			width:    5,
			expected: "Hello",
		},
		{
			name:     "truncate long text with ellipsis",
			input:    "This is a very long string that needs truncation",
			width:    20,
			expected: "This is a very lo...",
		},
		{
			name:     "handle wide characters",
			input:    "日本語",
			width:    10,
			expected: "日本語    ",
		},
		{
			name:     "truncate wide characters",
			input:    "日本語とても長い",
			width:    10,
			expected: "日本語... ", // 6 columns of text, 3 of ellipsis, 1 space
		},
		{
			name:     "empty string padding",
			input:    "",
			width:    5,
			expected: "     ",
		},
		{
			name:     "minimum width for truncation",
			input:    "Hello",
			width:    3,
			expected: "...",
		},
		{
			name:     "narrower than the ellipsis",
			input:    "Hello",
			width:    2,
			expected: "..",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := padToWidth(tt.input, tt.width)
			if result != tt.expected {
				t.Errorf("padToWidth(%q, %d) = %q, expected %q",
					tt.input, tt.width, result, tt.expected)
			}

			if tt.width > 0 {
				resultWidth := runewidth.StringWidth(result)
				if resultWidth != tt.width {
					t.Errorf("padToWidth(%q, %d) produced width %d, expected %d",
						tt.input, tt.width, resultWidth, tt.width)
				}
			}
		})
	}
}

func TestFormatNow(t *testing.T) {
	data := nowData{Title: "Song", Artist: "Band", Volume: 40, Queued: 3}

	tests := []struct {
		name     string
		template string
		expected string
		wantErr  bool
	}{
		{"default format", "{{.Artist}} - {{.Title}}", "Band - Song", false},
		{"extra fields", "{{.Title}} [{{.Volume}}%, {{.Queued}} queued]", "Song [40%, 3 queued]", false},
		{"invalid template", "{{.Title", "", true},
		{"unknown field", "{{.Album}}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatNow(data, tt.template)
			if (err != nil) != tt.wantErr {
				t.Fatalf("formatNow() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("formatNow() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestNowPlaying(t *testing.T) {
	if _, ok := nowPlaying(controller.Frame{}); ok {
		t.Error("nowPlaying() reported an item for an empty frame")
	}

	np := queue.Item{ID: "a", Title: "Song", Duration: time.Minute}
	frame := controller.Frame{
		Queue: []queue.Item{np, {ID: "b"}},
		Snapshot: statechannel.Snapshot{
			PlayerID:    "STUDIO",
			State:       queue.State{NowPlaying: &np, NowPlayingSource: queue.SourceActive},
			Playing:     true,
			Position:    10 * time.Second,
			PublishedAt: time.Now(),
		},
	}

	data, ok := nowPlaying(frame)
	if !ok {
		t.Fatal("nowPlaying() found nothing playing")
	}
	if data.Title != "Song" || data.Player != "STUDIO" || data.Queued != 1 {
		t.Errorf("nowPlaying() = %+v", data)
	}
	if data.Position < 10*time.Second {
		t.Errorf("Position = %v, want at least 10s", data.Position)
	}
}

func TestDirectoryURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ws://127.0.0.1:7420/ws", "http://127.0.0.1:7420", false},
		{"wss://studio.example.com/ws?x=1", "https://studio.example.com", false},
		{"http://studio:7420", "http://studio:7420", false},
		{"ftp://studio", "", true},
	}

	for _, tt := range tests {
		got, err := directoryURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("directoryURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("directoryURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
