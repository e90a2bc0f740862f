package message

import (
	"errors"
	"time"

	"mellium.im/xmpp/jid"
)

var (
	ErrNotFound  = errors.New("message not found")
	ErrDuplicate = errors.New("message already stored")
)

// Inbound is a normalized message received from a peer.
type Inbound struct {
	From        jid.JID
	TransportID string
	Thread      string
	Timestamp   time.Time
	Content     Content
}

// Outbound is a message we sent and track receipts for.
type Outbound struct {
	To          jid.JID
	TransportID string
	Thread      string
	Timestamp   time.Time
	Content     Content
}

// ChatStateNotice is a chat state reported by a peer.
type ChatStateNotice struct {
	From      jid.JID
	Thread    string
	Timestamp time.Time
	State     string
}

// KeyKind selects which identifier a Key refers to.
type KeyKind int

const (
	KeyTransportID KeyKind = iota
	KeyReceiptID
)

func (k KeyKind) String() string {
	if k == KeyReceiptID {
		return "receipt id"
	}
	return "transport id"
}

// Key correlates a receipt with a stored outgoing message.
type Key struct {
	Kind  KeyKind
	Value string
}

func TransportKey(id string) Key { return Key{Kind: KeyTransportID, Value: id} }
func ReceiptKey(id string) Key   { return Key{Kind: KeyReceiptID, Value: id} }

func (k Key) String() string {
	return k.Kind.String() + " " + k.Value
}

// Update asks the store to move the message found by Key to State.
// A non-empty ReceiptID is recorded as the secondary key of that message.
type Update struct {
	Key       Key
	State     State
	ReceiptID string
}

// UpdateStatus is the outcome of an Update.
type UpdateStatus int

// The zero UpdateStatus is UpdateNotFound.
const (
	UpdateNotFound UpdateStatus = iota
	UpdateApplied
	UpdateUnchanged
	UpdateRejected
)

func (s UpdateStatus) String() string {
	switch s {
	case UpdateApplied:
		return "applied"
	case UpdateUnchanged:
		return "unchanged"
	case UpdateRejected:
		return "rejected"
	case UpdateNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// UpdateResult describes what a store did with an Update.
type UpdateResult struct {
	Status      UpdateStatus
	TransportID string
	Previous    State
	Current     State
	// Reason is set for rejected updates.
	Reason error
}

// Found reports whether the key matched a message.
func (r UpdateResult) Found() bool {
	return r.Status != UpdateNotFound
}

// Apply computes the result of u against the current state of the message
// identified by transportID. Stores call it inside their compare-and-swap.
func Apply(transportID string, cur State, u Update) UpdateResult {
	next, changed, err := Advance(cur, u.State)
	res := UpdateResult{
		TransportID: transportID,
		Previous:    cur,
		Current:     next,
	}
	switch {
	case err != nil:
		res.Status = UpdateRejected
		res.Reason = err
	case changed:
		res.Status = UpdateApplied
	default:
		res.Status = UpdateUnchanged
	}
	return res
}

// Tracked is the stored receipt state of an outgoing message.
type Tracked struct {
	TransportID string
	ReceiptID   string
	State       State
	// Condition is the stanza error condition once State is StateError.
	Condition string
}
