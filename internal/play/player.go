package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// players in order of preference
var players = []string{"pw-play", "aplay", "ffplay", "mpv", "vlc"}

var lookPath = exec.LookPath

// Player auditions finished recordings through whichever command line
// player is installed.
type Player struct{}

func New() *Player {
	return &Player{}
}

// Play blocks until the WAV file at path has played or ctx is cancelled.
func (p *Player) Play(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio file not found: %s", path)
	}

	player, err := findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	args := playerArgs(player, path)
	slog.Info("Playing recording", "file", path, "player", player)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Info("Playback completed")
	return nil
}

func playerArgs(player, path string) []string {
	switch player {
	case "ffplay":
		return []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "error", path}
	case "mpv":
		return []string{"mpv", "--no-video", path}
	case "vlc":
		return []string{"vlc", "--play-and-exit", "--intf", "dummy", path}
	default:
		return []string{player, path}
	}
}

func findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
