// Package notify delivers escalation alerts to a human outside the
// log stream.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Channels addressable from escalation_channel in phases.yaml.
const (
	ChannelDesktop = "desktop"
	ChannelNone    = "none"
)

// Send routes an alert to the named channel. An empty channel means
// desktop.
func Send(channel, title, message string) error {
	switch channel {
	case "", ChannelDesktop:
		return sendDesktop(title, message)
	case ChannelNone:
		return nil
	default:
		return fmt.Errorf("unknown notification channel %q", channel)
	}
}

func sendDesktop(title, message string) error {
	if runtime.GOOS == "darwin" {
		return sendOsascript(title, message)
	}
	return sendNotifySend(title, message)
}

// sendOsascript posts a macOS notification with sound.
func sendOsascript(title, message string) error {
	title = escapeAppleScript(title)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		message, title,
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// sendNotifySend posts a freedesktop notification.
func sendNotifySend(title, message string) error {
	cmd := exec.Command("notify-send", "--urgency=critical", title, message)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
