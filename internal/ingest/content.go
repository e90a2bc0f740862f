package ingest

import (
	"encoding/base64"
	"errors"

	"github.com/meszmate/inbox/internal/logging"
	"github.com/meszmate/inbox/internal/message"
	"github.com/meszmate/inbox/internal/xmpp/wire"
)

// ErrProtocolAnomaly is logged when a message carries both a real body and
// an encrypted payload.
var ErrProtocolAnomaly = errors.New("body next to encrypted payload")

// Extractor builds message.Content out of a stanza.
type Extractor struct {
	placeholder string
	log         *logging.Logger
}

// NewExtractor creates an extractor. A body equal to placeholder is
// expected next to an encrypted payload.
func NewExtractor(placeholder string, log *logging.Logger) *Extractor {
	if placeholder == "" {
		placeholder = wire.EncryptedPlaceholder
	}
	return &Extractor{placeholder: placeholder, log: log}
}

// Extract returns the content of st. The result may be empty.
func (x *Extractor) Extract(st *wire.Stanza) message.Content {
	c := message.Content{PlainText: st.Body}

	if ext, ok := st.Lookup(wire.KindE2E); ok {
		if ext.DataErr != nil {
			x.log.Warn("dropping encrypted payload of message %q from %s: %v", st.ID, st.From, ext.DataErr)
		} else {
			if st.Body != "" && st.Body != x.placeholder {
				x.log.Warn("%v: message %q from %s, keeping the encrypted payload", ErrProtocolAnomaly, st.ID, st.From)
			}
			c.PlainText = ""
			c.EncryptedPayload = base64.StdEncoding.EncodeToString(ext.Data)
		}
	}

	if ext, ok := st.Lookup(wire.KindOOB); ok {
		if ext.OOB == nil || ext.OOB.URL == "" {
			x.log.Warn("ignoring out of band data without url in message %q", st.ID)
		} else {
			c.Attachment = &message.Attachment{
				URI:       ext.OOB.URL,
				MIMEType:  ext.OOB.MIMEType,
				Length:    ext.OOB.Length,
				Encrypted: ext.OOB.Encrypted,
			}
		}
	}

	return c
}
