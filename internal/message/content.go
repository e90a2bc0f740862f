package message

import (
	"encoding/json"
	"errors"
)

var ErrEmptyContent = errors.New("message has no content")

// Attachment references content hosted out of band.
type Attachment struct {
	URI       string `json:"uri"`
	MIMEType  string `json:"mime_type"`
	Length    int64  `json:"length"`
	Encrypted bool   `json:"encrypted"`
}

// Content is the normalized content of one message. EncryptedPayload holds
// base64 ciphertext that is decrypted elsewhere.
type Content struct {
	PlainText        string      `json:"plain_text,omitempty"`
	EncryptedPayload string      `json:"encrypted_payload,omitempty"`
	Attachment       *Attachment `json:"attachment,omitempty"`
}

// IsEmpty reports whether there is nothing worth storing.
func (c Content) IsEmpty() bool {
	return c.PlainText == "" && c.EncryptedPayload == "" && c.Attachment == nil
}

// IsEncrypted reports whether the content still needs decryption.
func (c Content) IsEncrypted() bool {
	return c.EncryptedPayload != ""
}

// Validate returns ErrEmptyContent for empty content.
func (c Content) Validate() error {
	if c.IsEmpty() {
		return ErrEmptyContent
	}
	return nil
}

// JSON encodes the content the way it is persisted.
func (c Content) JSON() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseContent decodes content persisted with JSON.
func ParseContent(s string) (Content, error) {
	var c Content
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return Content{}, err
	}
	return c, nil
}
