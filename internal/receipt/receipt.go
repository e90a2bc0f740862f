// Package receipt drives the delivery state of outgoing messages from the
// receipts peers and the server send back, and answers the receipt
// requests attached to incoming messages.
package receipt

import (
	"context"
	"errors"

	"github.com/meszmate/inbox/internal/message"
	"github.com/meszmate/inbox/internal/xmpp/wire"
)

var (
	// ErrMissingCorrelationID is returned when a receipt cannot be matched
	// because the identifier it needs is absent.
	ErrMissingCorrelationID = errors.New("receipt has no correlation id")
	// ErrUnknownCorrelation marks a receipt for a message we never stored.
	ErrUnknownCorrelation = errors.New("receipt for unknown message")
)

// Event is one kind of receipt carried by a receipt-only stanza.
type Event interface {
	receiptEvent()
}

// Standard is a peer confirming delivery of the message with ID.
type Standard struct{ ID string }

// LegacySent is the server accepting the stanza that carried it. ReceiptID
// is the id the server assigned for later correlation.
type LegacySent struct{ ReceiptID string }

// LegacyReceived is the recipient confirming delivery of ReceiptID.
type LegacyReceived struct{ ReceiptID string }

// LegacyAck closes a legacy handshake. It needs no action.
type LegacyAck struct{ ID string }

// LegacyUnknown is an element of the legacy namespace we don't understand.
type LegacyUnknown struct{ Name string }

func (Standard) receiptEvent()       {}
func (LegacySent) receiptEvent()     {}
func (LegacyReceived) receiptEvent() {}
func (LegacyAck) receiptEvent()      {}
func (LegacyUnknown) receiptEvent()  {}

// Request is a receipt requested by the sender of an incoming message.
type Request interface {
	receiptRequest()
}

// StandardRequest asks for a delivery receipt echoing the message id.
type StandardRequest struct{}

// LegacyRequest asks for a legacy <received/> echoing ID.
type LegacyRequest struct{ ID string }

func (StandardRequest) receiptRequest() {}
func (LegacyRequest) receiptRequest()   {}

// EventFor returns the receipt event carried by st, if any. The standard
// namespace wins over the legacy one.
func EventFor(st *wire.Stanza) (Event, bool) {
	if ext, ok := st.Lookup(wire.KindReceiptReceived); ok {
		return Standard{ID: ext.ID}, true
	}
	for _, ext := range st.Extensions {
		switch ext.Kind {
		case wire.KindServerSent:
			return LegacySent{ReceiptID: ext.ID}, true
		case wire.KindServerReceived:
			return LegacyReceived{ReceiptID: ext.ID}, true
		case wire.KindServerAck:
			return LegacyAck{ID: ext.ID}, true
		case wire.KindServerOther:
			return LegacyUnknown{Name: ext.Name.Local}, true
		}
	}
	return nil, false
}

// RequestFor returns the receipt request attached to a message, if any.
func RequestFor(st *wire.Stanza) (Request, bool) {
	if ext, ok := st.Lookup(wire.KindServerRequest); ok {
		return LegacyRequest{ID: ext.ID}, true
	}
	if st.Has(wire.KindReceiptRequest) {
		return StandardRequest{}, true
	}
	return nil, false
}

// Sender transmits receipt replies.
type Sender interface {
	SendReply(ctx context.Context, reply wire.Reply) error
}

// StateStore holds the receipt state of outgoing messages.
type StateStore interface {
	// UpdateReceiptState moves the message matched by u.Key to u.State if
	// the transition is allowed. The check and the write are atomic.
	UpdateReceiptState(ctx context.Context, u message.Update) (message.UpdateResult, error)
	// ReportTransportError records the error condition of a message we sent.
	ReportTransportError(ctx context.Context, transportID, condition string) error
}
