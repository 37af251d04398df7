// Package speech provides sink implementations for rendering accepted words
// audibly. The pipeline treats rendering as best-effort: a failed utterance
// is logged by the caller and never affects history or future predictions.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
)

// CommandSink shells out to a local text-to-speech program (espeak style,
// e.g. "espeak-ng" or "say") once per utterance. Cancelling the context
// kills the process, cutting playback short.
type CommandSink struct {
	command string
	args    []string
}

// NewCommandSink creates a sink invoking command with args plus the text as
// the final argument.
func NewCommandSink(command string, args ...string) *CommandSink {
	return &CommandSink{command: command, args: args}
}

func (c *CommandSink) Speak(ctx context.Context, text string) error {
	args := append(append([]string(nil), c.args...), text)
	cmd := exec.CommandContext(ctx, c.command, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("speech command %s: %w (%s)", c.command, err, bytes.TrimSpace(out))
	}
	return nil
}

// LogSink prints utterances instead of playing them, for headless runs.
type LogSink struct{}

func (LogSink) Speak(_ context.Context, text string) error {
	log.Printf("Speech: %q", text)
	return nil
}
