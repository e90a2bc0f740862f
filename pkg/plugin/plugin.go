package plugin

import (
	"time"
)

// Plugin is the interface that all plugins must implement
type Plugin interface {
	// Name returns the plugin name
	Name() string

	// Version returns the plugin version
	Version() string

	// Description returns a short description
	Description() string

	// Notify is called for every notification the host forwards.
	// Returning an error is logged by the host and otherwise ignored.
	Notify(n Notification) error
}

// Kind names what a Notification is about
type Kind string

const (
	KindMessage        Kind = "message"
	KindStatus         Kind = "status"
	KindChatState      Kind = "chatstate"
	KindTransportError Kind = "transport_error"
)

// Notification is a flattened event as seen by plugins. Fields that do not
// apply to Kind are left empty.
type Notification struct {
	Kind        Kind
	JID         string
	TransportID string
	Thread      string
	Timestamp   time.Time

	// KindMessage
	Body       string
	Encrypted  bool
	Attachment string

	// KindStatus
	Previous string
	Current  string

	// KindChatState
	ChatState string

	// KindTransportError
	Condition string
	Text      string
}

// Metadata contains plugin metadata
type Metadata struct {
	Name        string
	Version     string
	Description string
}
