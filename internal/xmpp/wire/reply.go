package wire

import (
	"encoding/xml"

	"github.com/google/uuid"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// ReceiptElement is the single payload of a receipt reply.
type ReceiptElement struct {
	XMLName xml.Name
	ID      string `xml:"id,attr,omitempty"`
}

// Reply is an outbound chat message carrying one receipt element.
type Reply struct {
	XMLName xml.Name           `xml:"jabber:client message"`
	ID      string             `xml:"id,attr,omitempty"`
	To      jid.JID            `xml:"to,attr"`
	Type    stanza.MessageType `xml:"type,attr"`
	Receipt ReceiptElement
}

func newReply(to jid.JID, ns, local, id string) Reply {
	return Reply{
		ID:   uuid.NewString(),
		To:   to,
		Type: stanza.ChatMessage,
		Receipt: ReceiptElement{
			XMLName: xml.Name{Space: ns, Local: local},
			ID:      id,
		},
	}
}

// DeliveryReceipt builds the XEP-0184 <received/> reply for transportID.
func DeliveryReceipt(to jid.JID, transportID string) Reply {
	return newReply(to, NSReceipts, "received", transportID)
}

// ServerReceived builds the legacy <received/> reply for a receipt request.
func ServerReceived(to jid.JID, receiptID string) Reply {
	return newReply(to, NSServerReceipts, "received", receiptID)
}

// ServerAck builds the legacy <ack/> closing the handshake of the stanza
// identified by transportID.
func ServerAck(to jid.JID, transportID string) Reply {
	return newReply(to, NSServerReceipts, "ack", transportID)
}

// Kind returns the extension kind of the receipt payload.
func (r Reply) Kind() Kind {
	return kindOf(r.Receipt.XMLName)
}

// Marshal encodes the reply.
func (r Reply) Marshal() ([]byte, error) {
	return xml.Marshal(r)
}
