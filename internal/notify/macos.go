// Package notify surfaces bench events on the operator's desktop.
//
// Manual pauses block a run until someone walks over to the bench, so
// checkpoint notifications use an audible alert sound. Run completion
// and failure use the default notification sound.
package notify

import (
	"fmt"
	"os/exec"
	"strings"
)

// Send posts a macOS notification via osascript with the default sound.
func Send(title, message string) error {
	return display(title, message, "default")
}

// Alert posts a macOS notification with the system alert sound. Used for
// checkpoints that block the run until an operator acknowledges them.
func Alert(title, message string) error {
	return display(title, message, "Sosumi")
}

func display(title, message, sound string) error {
	title = escapeAppleScript(title)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(
		`display notification %q with title %q sound name %q`,
		message, title, sound,
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
