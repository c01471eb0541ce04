package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jfmyers9/carousel/internal/controller"
	"github.com/jfmyers9/carousel/internal/queue"
	"github.com/jfmyers9/carousel/internal/statechannel"
)

func TestRenderFrame(t *testing.T) {
	np := queue.Item{ID: "a", Title: "Opening", Artist: "Band"}
	req := queue.Item{ID: "r", Title: "Request"}
	frame := controller.Frame{
		Queue: []queue.Item{np, req, {ID: "b", Title: "Second"}, {ID: "c", Title: "Third"}},
		Snapshot: statechannel.Snapshot{
			PlayerID: "STUDIO",
			Version:  7,
			Volume:   80,
			Playing:  true,
			State: queue.State{
				NowPlaying:       &np,
				NowPlayingSource: queue.SourceActive,
				Priority:         []queue.Item{req},
			},
		},
		Connected: true,
	}

	var buf bytes.Buffer
	renderFrame(&buf, frame, 2)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")

	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "STUDIO · playing · vol 80 · v7") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "▶ Band - Opening") {
		t.Errorf("now playing = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "!  1 Request") {
		t.Errorf("priority line = %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "   2 Second") {
		t.Errorf("active line = %q", lines[3])
	}
	if !strings.Contains(lines[4], "1 more") {
		t.Errorf("overflow line = %q", lines[4])
	}
}

func TestRenderFrame_Disconnected(t *testing.T) {
	var buf bytes.Buffer
	renderFrame(&buf, controller.Frame{Snapshot: statechannel.Snapshot{PlayerID: "STUDIO"}}, 0)

	if !strings.Contains(buf.String(), "disconnected") {
		t.Errorf("output = %q, want disconnected status", buf.String())
	}
}
