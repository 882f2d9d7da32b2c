package play

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Player opens a finished session video with whatever player is installed.
type Player struct {
	lookPath   func(string) (string, error)
	candidates []string
}

// DefaultPlayers are tried in order.
var DefaultPlayers = []string{"mpv", "vlc", "ffplay", "xdg-open"}

func New() *Player {
	return &Player{lookPath: exec.LookPath, candidates: DefaultPlayers}
}

// Command builds the player invocation for videoPath without running it.
func (p *Player) Command(videoPath string) (*exec.Cmd, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("video file not found: %s", videoPath)
	}

	player, err := p.find()
	if err != nil {
		return nil, fmt.Errorf("no suitable video player found: %w", err)
	}

	switch player {
	case "vlc":
		return exec.Command("vlc", "--play-and-exit", videoPath), nil
	case "mpv":
		return exec.Command("mpv", "--keep-open=no", videoPath), nil
	case "ffplay":
		return exec.Command("ffplay", "-autoexit", videoPath), nil
	default:
		return exec.Command(player, videoPath), nil
	}
}

// Play blocks until the player exits.
func (p *Player) Play(videoPath string) error {
	cmd, err := p.Command(videoPath)
	if err != nil {
		return err
	}
	slog.Info("Playing video", "path", videoPath, "player", cmd.Args[0])

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", cmd.Args[0], err)
	}
	return nil
}

func (p *Player) find() (string, error) {
	for _, player := range p.candidates {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no video player found (tried: %s)", strings.Join(p.candidates, ", "))
}
