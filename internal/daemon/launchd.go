package daemon

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"
)

// Label identifies the player agent to launchd
const Label = "com.carousel.player"

// restartThrottle keeps a player that crashes on startup from spinning
const restartThrottle = 10 * time.Second

// The player exits 0 on SIGTERM, so launchd only restarts it after a crash.
// Interactive keeps audio from being throttled by App Nap.
var agentTemplate = template.Must(template.New("agent").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.Binary}}</string>
		<string>player</string>
{{- range .PlayerArgs}}
		<string>{{.}}</string>
{{- end}}
		<string>--log-file</string>
		<string>{{.Paths.Log}}</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<dict>
		<key>SuccessfulExit</key>
		<false/>
	</dict>
	<key>ThrottleInterval</key>
	<integer>{{.ThrottleSeconds}}</integer>
	<key>ProcessType</key>
	<string>Interactive</string>
	<key>StandardErrorPath</key>
	<string>{{.Paths.Stderr}}</string>
	<key>WorkingDirectory</key>
	<string>{{.Home}}</string>
	<key>EnvironmentVariables</key>
	<dict>
		<key>PATH</key>
		<string>/usr/local/bin:/opt/homebrew/bin:/usr/bin:/bin:/usr/sbin:/sbin</string>
	</dict>
</dict>
</plist>
`))

// AgentPaths are the files an installed player agent uses
type AgentPaths struct {
	Plist  string
	LogDir string
	Log    string // zerolog output of the player
	Stderr string // panics and anything written before logging starts
}

// DefaultAgentPaths resolves the agent files under home
func DefaultAgentPaths(home string) AgentPaths {
	logDir := filepath.Join(home, ".local", "share", "carousel", "logs")
	return AgentPaths{
		Plist:  filepath.Join(home, "Library", "LaunchAgents", Label+".plist"),
		LogDir: logDir,
		Log:    filepath.Join(logDir, "player.log"),
		Stderr: filepath.Join(logDir, "player.err"),
	}
}

// Agent describes the launchd job that keeps a player running
type Agent struct {
	Label    string // defaults to Label
	Binary   string
	Home     string
	PlayerID string // pinned with --id when set
	Listen   string // pinned with --listen when set
	Paths    AgentPaths
}

// NewAgent returns the agent for the current user's home directory
func NewAgent(binary, playerID, listen string) (Agent, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Agent{}, fmt.Errorf("failed to get user home directory: %w", err)
	}
	return Agent{
		Label:    Label,
		Binary:   binary,
		Home:     home,
		PlayerID: playerID,
		Listen:   listen,
		Paths:    DefaultAgentPaths(home),
	}, nil
}

// PlayerArgs are the flags passed to `carousel player`
func (a Agent) PlayerArgs() []string {
	var args []string
	if a.PlayerID != "" {
		args = append(args, "--id", a.PlayerID)
	}
	if a.Listen != "" {
		args = append(args, "--listen", a.Listen)
	}
	return args
}

// ThrottleSeconds is the minimum time between restarts
func (a Agent) ThrottleSeconds() int {
	return int(restartThrottle / time.Second)
}

// Plist renders the launchd property list for the agent
func (a Agent) Plist() (string, error) {
	if a.Label == "" {
		a.Label = Label
	}
	if a.Binary == "" {
		return "", fmt.Errorf("agent has no binary path")
	}

	var buf bytes.Buffer
	if err := agentTemplate.Execute(&buf, a); err != nil {
		return "", fmt.Errorf("failed to render agent plist: %w", err)
	}
	return buf.String(), nil
}
