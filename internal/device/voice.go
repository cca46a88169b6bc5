package device

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrNoSynthesizer is returned when the host has no speech synthesizer.
var ErrNoSynthesizer = errors.New("no system speech synthesizer found")

// SystemVoice speaks through the host synthesizer: say on macOS, PowerShell
// System.Speech on Windows, espeak-ng or espeak elsewhere.
type SystemVoice struct {
	// Command overrides the synthesizer; the text is appended as the last argument.
	Command []string
}

// Speak blocks until the text has been spoken or ctx is done.
func (v SystemVoice) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	argv, err := v.command(text)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (v SystemVoice) command(text string) ([]string, error) {
	if len(v.Command) > 0 {
		return append(append([]string(nil), v.Command...), text), nil
	}
	switch runtime.GOOS {
	case "darwin":
		return []string{"say", text}, nil
	case "windows":
		script := "Add-Type -AssemblyName System.Speech; (New-Object System.Speech.Synthesis.SpeechSynthesizer).Speak($args[0])"
		return []string{"powershell", "-NoProfile", "-Command", script, text}, nil
	}
	for _, bin := range []string{"espeak-ng", "espeak"} {
		if path, err := exec.LookPath(bin); err == nil {
			return []string{path, text}, nil
		}
	}
	return nil, ErrNoSynthesizer
}
