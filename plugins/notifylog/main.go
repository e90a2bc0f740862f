package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/meszmate/inbox/pkg/plugin"
)

// NotifyLogPlugin writes one line per notification to stderr, which the
// host folds into its own log, and optionally raises desktop notifications.
type NotifyLogPlugin struct {
	desktop bool
}

// Name returns the plugin name
func (p *NotifyLogPlugin) Name() string {
	return "notifylog"
}

// Version returns the plugin version
func (p *NotifyLogPlugin) Version() string {
	return "1.0.0"
}

// Description returns a short description
func (p *NotifyLogPlugin) Description() string {
	return "Logs stored messages, receipt changes and transport errors"
}

// Notify handles a single notification
func (p *NotifyLogPlugin) Notify(n plugin.Notification) error {
	line := describe(n)
	if line == "" {
		return nil
	}
	fmt.Fprintln(os.Stderr, line)

	if p.desktop && (n.Kind == plugin.KindMessage || n.Kind == plugin.KindTransportError) {
		_ = sendNotification("Inbox", line)
	}
	return nil
}

func describe(n plugin.Notification) string {
	switch n.Kind {
	case plugin.KindMessage:
		switch {
		case n.Encrypted:
			return fmt.Sprintf("%s sent an encrypted message", n.JID)
		case n.Attachment != "":
			return fmt.Sprintf("%s sent %s", n.JID, n.Attachment)
		default:
			return fmt.Sprintf("%s: %s", n.JID, n.Body)
		}
	case plugin.KindStatus:
		return fmt.Sprintf("message %s is now %s (was %s)", n.TransportID, n.Current, n.Previous)
	case plugin.KindChatState:
		if n.ChatState == "composing" {
			return fmt.Sprintf("%s is typing", n.JID)
		}
		return ""
	case plugin.KindTransportError:
		return fmt.Sprintf("message %s failed: %s", n.TransportID, n.Condition)
	default:
		return ""
	}
}

// sendNotification sends a desktop notification
func sendNotification(title, body string) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, body, title)
		return exec.Command("osascript", "-e", script).Run()

	case "linux":
		return exec.Command("notify-send", title, body).Run()

	default:
		return nil
	}
}

func main() {
	plugin.Serve(&NotifyLogPlugin{
		desktop: os.Getenv("INBOX_NOTIFY_DESKTOP") == "1",
	})
}
