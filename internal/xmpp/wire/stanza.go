package wire

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// ErrNotMessage is returned when the decoded element is not a message stanza.
var ErrNotMessage = errors.New("not a message stanza")

// Stanza is a decoded message stanza. It is read-only once decoded.
type Stanza struct {
	stanza.Message

	Thread  string
	Body    string
	HasBody bool

	// Extensions keeps the children in document order.
	Extensions []Extension
}

// Lookup returns the first extension of kind k.
func (s *Stanza) Lookup(k Kind) (Extension, bool) {
	for _, ext := range s.Extensions {
		if ext.Kind == k {
			return ext, true
		}
	}
	return Extension{}, false
}

// Has reports whether an extension of kind k is present.
func (s *Stanza) Has(k Kind) bool {
	_, ok := s.Lookup(k)
	return ok
}

// LookupNamespace returns the first extension in namespace ns.
func (s *Stanza) LookupNamespace(ns string) (Extension, bool) {
	for _, ext := range s.Extensions {
		if ext.Name.Space == ns {
			return ext, true
		}
	}
	return Extension{}, false
}

// String renders a short description for logs.
func (s *Stanza) String() string {
	return fmt.Sprintf("message type=%q id=%q from=%q extensions=%d body=%t",
		s.Type, s.ID, s.From.String(), len(s.Extensions), s.HasBody)
}

type wireMessage struct {
	XMLName    xml.Name
	ID         string      `xml:"id,attr"`
	To         string      `xml:"to,attr"`
	From       string      `xml:"from,attr"`
	Type       string      `xml:"type,attr"`
	Thread     *string     `xml:"thread"`
	Body       *string     `xml:"body"`
	Extensions []Extension `xml:",any"`
}

// Decode decodes the message element that start opened.
func Decode(d *xml.Decoder, start *xml.StartElement) (*Stanza, error) {
	if start.Name.Local != "message" {
		return nil, fmt.Errorf("%w: <%s>", ErrNotMessage, start.Name.Local)
	}

	var raw wireMessage
	if err := d.DecodeElement(&raw, start); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	st := &Stanza{
		Extensions: raw.Extensions,
	}
	st.ID = raw.ID
	st.Type = stanza.MessageType(raw.Type)
	if raw.Type == "" {
		st.Type = stanza.NormalMessage
	}

	if raw.From != "" {
		from, err := jid.Parse(raw.From)
		if err != nil {
			return nil, fmt.Errorf("invalid from address %q: %w", raw.From, err)
		}
		st.From = from
	}
	if raw.To != "" {
		to, err := jid.Parse(raw.To)
		if err != nil {
			return nil, fmt.Errorf("invalid to address %q: %w", raw.To, err)
		}
		st.To = to
	}
	if raw.Thread != nil {
		st.Thread = *raw.Thread
	}
	if raw.Body != nil {
		st.Body = *raw.Body
		st.HasBody = true
	}

	return st, nil
}

// Read decodes the next message element from r, skipping anything before it.
func Read(r xml.TokenReader) (*Stanza, error) {
	d := xml.NewTokenDecoder(r)
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		return Decode(d, &start)
	}
}

// Parse decodes a single message stanza from b.
func Parse(b []byte) (*Stanza, error) {
	st, err := Read(xml.NewDecoder(bytes.NewReader(b)))
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrNotMessage)
	}
	return st, err
}
