package ingest

import (
	"github.com/meszmate/inbox/internal/receipt"
	"github.com/meszmate/inbox/internal/xmpp/wire"
	"mellium.im/xmpp/stanza"
)

// Category is what a stanza turned out to be.
type Category int

const (
	CategoryIgnored Category = iota
	CategoryTransportError
	CategoryChatState
	CategoryReceipt
	CategoryMessage
)

func (c Category) String() string {
	switch c {
	case CategoryIgnored:
		return "ignored"
	case CategoryTransportError:
		return "transport_error"
	case CategoryChatState:
		return "chatstate"
	case CategoryReceipt:
		return "receipt"
	case CategoryMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Classification is the result of Classify.
type Classification struct {
	Category Category
	// ChatState is the chat state carried by the stanza. It is reported
	// even when classification went on past it.
	ChatState string
	// Receipt is set for CategoryReceipt.
	Receipt receipt.Event
	// Request is the receipt request of a CategoryMessage stanza, if any.
	Request receipt.Request
}

// DefaultStopStates are the chat states that never come with a payload.
var DefaultStopStates = []string{wire.ChatStateActive}

// Classifier routes a stanza to exactly one category.
type Classifier struct {
	stop map[string]bool
}

func NewClassifier(stopStates []string) *Classifier {
	if stopStates == nil {
		stopStates = DefaultStopStates
	}
	c := &Classifier{stop: make(map[string]bool, len(stopStates))}
	for _, s := range stopStates {
		c.stop[s] = true
	}
	return c
}

// Classify checks, in order: error type, chat state, standard receipt,
// legacy receipt, chat message. The first match wins.
func (c *Classifier) Classify(st *wire.Stanza) Classification {
	switch st.Type {
	case stanza.ErrorMessage:
		return Classification{Category: CategoryTransportError}
	case stanza.ChatMessage:
	default:
		return Classification{Category: CategoryIgnored}
	}

	var cl Classification
	if ext, ok := st.Lookup(wire.KindChatState); ok {
		cl.ChatState = ext.Name.Local
		if c.stop[cl.ChatState] {
			cl.Category = CategoryChatState
			return cl
		}
	}

	if ev, ok := receipt.EventFor(st); ok {
		cl.Category = CategoryReceipt
		cl.Receipt = ev
		return cl
	}

	cl.Category = CategoryMessage
	cl.Request, _ = receipt.RequestFor(st)
	return cl
}
