package wire

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags a decoded extension.
type Kind int

const (
	KindUnknown Kind = iota
	KindDelay
	KindLegacyDelay
	KindChatState
	KindReceiptRequest
	KindReceiptReceived
	KindServerSent
	KindServerReceived
	KindServerAck
	KindServerRequest
	KindServerOther
	KindE2E
	KindOOB
	KindError
)

var kindNames = [...]string{
	KindUnknown:         "unknown",
	KindDelay:           "delay",
	KindLegacyDelay:     "legacy-delay",
	KindChatState:       "chatstate",
	KindReceiptRequest:  "receipt-request",
	KindReceiptReceived: "receipt-received",
	KindServerSent:      "server-sent",
	KindServerReceived:  "server-received",
	KindServerAck:       "server-ack",
	KindServerRequest:   "server-request",
	KindServerOther:     "server-other",
	KindE2E:             "e2e",
	KindOOB:             "oob",
	KindError:           "error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

var errEmptyStamp = errors.New("delay without stamp")

// OOB is an out-of-band data reference.
type OOB struct {
	URL       string
	MIMEType  string
	Length    int64
	Encrypted bool
	Desc      string
}

// Extension is one child element of a message stanza, decoded according to
// its Kind. Only the fields relevant to the Kind are set.
type Extension struct {
	Kind Kind
	Name xml.Name

	// ID is the id attribute of receipt elements.
	ID string

	// Stamp is the delay timestamp; StampErr is set when it could not be parsed.
	Stamp    time.Time
	StampErr error

	// Data is the decoded e2e payload; DataErr is set when it was not base64.
	Data    []byte
	DataErr error

	OOB *OOB

	// ErrorType and Condition describe an <error/> child.
	ErrorType string
	Condition string
	ErrorText string
}

func kindOf(name xml.Name) Kind {
	switch name.Space {
	case NSDelay:
		if name.Local == "delay" {
			return KindDelay
		}
	case NSLegacyDelay:
		if name.Local == "x" {
			return KindLegacyDelay
		}
	case NSChatStates:
		switch name.Local {
		case ChatStateActive, ChatStateComposing, ChatStatePaused, ChatStateInactive, ChatStateGone:
			return KindChatState
		}
	case NSReceipts:
		switch name.Local {
		case "request":
			return KindReceiptRequest
		case "received":
			return KindReceiptReceived
		}
	case NSServerReceipts:
		switch name.Local {
		case "sent":
			return KindServerSent
		case "received":
			return KindServerReceived
		case "ack":
			return KindServerAck
		case "request":
			return KindServerRequest
		default:
			return KindServerOther
		}
	case NSE2E:
		if name.Local == "e2e" {
			return KindE2E
		}
	case NSOOB:
		if name.Local == "x" {
			return KindOOB
		}
	case NSClient, "":
		if name.Local == "error" {
			return KindError
		}
	}
	return KindUnknown
}

// UnmarshalXML implements xml.Unmarshaler.
func (e *Extension) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	e.Name = start.Name
	e.Kind = kindOf(start.Name)

	switch e.Kind {
	case KindDelay, KindLegacyDelay:
		var v struct {
			Stamp string `xml:"stamp,attr"`
		}
		if err := d.DecodeElement(&v, &start); err != nil {
			return err
		}
		e.Stamp, e.StampErr = parseStamp(e.Kind, v.Stamp)
	case KindReceiptReceived, KindServerSent, KindServerReceived, KindServerAck, KindServerRequest:
		var v struct {
			ID string `xml:"id,attr"`
		}
		if err := d.DecodeElement(&v, &start); err != nil {
			return err
		}
		e.ID = strings.TrimSpace(v.ID)
	case KindE2E:
		var v struct {
			Data string `xml:",chardata"`
		}
		if err := d.DecodeElement(&v, &start); err != nil {
			return err
		}
		e.Data, e.DataErr = decodeBase64(v.Data)
	case KindOOB:
		var v oobElement
		if err := d.DecodeElement(&v, &start); err != nil {
			return err
		}
		e.OOB = v.toOOB()
	case KindError:
		var v errorElement
		if err := d.DecodeElement(&v, &start); err != nil {
			return err
		}
		e.ErrorType = v.Type
		for _, c := range v.Children {
			if c.XMLName.Space != NSStanzas {
				continue
			}
			if c.XMLName.Local == "text" {
				e.ErrorText = strings.TrimSpace(c.Text)
			} else if e.Condition == "" {
				e.Condition = c.XMLName.Local
			}
		}
	default:
		// chat states, receipt requests and unknown elements carry nothing we read
		return d.Skip()
	}
	return nil
}

func parseStamp(k Kind, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyStamp
	}
	if k == KindLegacyDelay {
		// XEP-0091: CCYYMMDDThh:mm:ss, always UTC
		return time.ParseInLocation("20060102T15:04:05", s, time.UTC)
	}
	return time.Parse(time.RFC3339Nano, s)
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil, errors.New("empty e2e payload")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid e2e payload: %w", err)
	}
	return b, nil
}

type oobElement struct {
	URL struct {
		Type      string `xml:"type,attr"`
		Length    string `xml:"length,attr"`
		Encrypted string `xml:"encrypted,attr"`
		Value     string `xml:",chardata"`
	} `xml:"url"`
	Desc string `xml:"desc"`
}

func (v oobElement) toOOB() *OOB {
	o := &OOB{
		URL:      strings.TrimSpace(v.URL.Value),
		MIMEType: strings.TrimSpace(v.URL.Type),
		Desc:     strings.TrimSpace(v.Desc),
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(v.URL.Length), 10, 64); err == nil && n > 0 {
		o.Length = n
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(v.URL.Encrypted)); err == nil {
		o.Encrypted = b
	}
	return o
}

type errorElement struct {
	Type     string `xml:"type,attr"`
	Children []struct {
		XMLName xml.Name
		Text    string `xml:",chardata"`
	} `xml:",any"`
}
