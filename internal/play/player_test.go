package play

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fakeLookPath(available ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, a := range available {
			if a == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
}

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(path, []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommandPrefersFirstAvailablePlayer(t *testing.T) {
	video := writeVideo(t)
	p := &Player{lookPath: fakeLookPath("ffplay", "vlc"), candidates: DefaultPlayers}

	cmd, err := p.Command(video)
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	want := []string{"vlc", "--play-and-exit", video}
	if strings.Join(cmd.Args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", cmd.Args, want)
	}
}

func TestCommandFallsBackToOpener(t *testing.T) {
	video := writeVideo(t)
	p := &Player{lookPath: fakeLookPath("xdg-open"), candidates: DefaultPlayers}

	cmd, err := p.Command(video)
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if cmd.Args[0] != "xdg-open" || cmd.Args[1] != video {
		t.Errorf("unexpected args %v", cmd.Args)
	}
}

func TestCommandErrors(t *testing.T) {
	p := &Player{lookPath: fakeLookPath(), candidates: DefaultPlayers}

	if _, err := p.Command(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("expected error for missing video")
	}
	if _, err := p.Command(writeVideo(t)); err == nil || !strings.Contains(err.Error(), "no video player found") {
		t.Errorf("expected no player error, got %v", err)
	}
}
