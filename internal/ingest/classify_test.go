package ingest

import (
	"testing"

	"github.com/meszmate/inbox/internal/receipt"
	"github.com/meszmate/inbox/internal/xmpp/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classify(t *testing.T, c *Classifier, s string) Classification {
	t.Helper()
	st, err := wire.Parse([]byte(s))
	require.NoError(t, err)
	return c.Classify(st)
}

func TestClassifyRouting(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name  string
		xml   string
		want  Category
		state string
	}{
		{"error", `<message type="error" id="x"><error type="cancel"/></message>`, CategoryTransportError, ""},
		{"headline", `<message type="headline"><body>b</body></message>`, CategoryIgnored, ""},
		{"normal", `<message><body>b</body></message>`, CategoryIgnored, ""},
		{"active stops", `<message type="chat"><active xmlns="http://jabber.org/protocol/chatstates"/><body>b</body></message>`, CategoryChatState, "active"},
		{"composing continues", `<message type="chat"><composing xmlns="http://jabber.org/protocol/chatstates"/><body>b</body></message>`, CategoryMessage, "composing"},
		{"standard receipt", `<message type="chat"><received xmlns="urn:xmpp:receipts" id="m1"/></message>`, CategoryReceipt, ""},
		{"legacy receipt", `<message type="chat" id="m1"><sent xmlns="urn:xmpp:server-receipts" id="r1"/></message>`, CategoryReceipt, ""},
		{"message", `<message type="chat" id="m1"><body>b</body></message>`, CategoryMessage, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := classify(t, c, tt.xml)
			assert.Equal(t, tt.want, cl.Category)
			assert.Equal(t, tt.state, cl.ChatState)
		})
	}
}

func TestClassifyReceiptBeforeMessage(t *testing.T) {
	c := NewClassifier(nil)
	cl := classify(t, c, `<message type="chat" id="m2"><body>b</body><received xmlns="urn:xmpp:receipts" id="m1"/></message>`)
	require.Equal(t, CategoryReceipt, cl.Category)
	assert.Equal(t, receipt.Standard{ID: "m1"}, cl.Receipt)
}

func TestClassifyRequest(t *testing.T) {
	c := NewClassifier(nil)

	cl := classify(t, c, `<message type="chat" id="m1"><body>b</body><request xmlns="urn:xmpp:receipts"/></message>`)
	assert.Equal(t, receipt.StandardRequest{}, cl.Request)

	cl = classify(t, c, `<message type="chat" id="m1"><body>b</body><request xmlns="urn:xmpp:server-receipts" id="r9"/></message>`)
	assert.Equal(t, receipt.LegacyRequest{ID: "r9"}, cl.Request)

	cl = classify(t, c, `<message type="chat" id="m1"><body>b</body></message>`)
	assert.Nil(t, cl.Request)
}

func TestClassifyConfiguredStopStates(t *testing.T) {
	c := NewClassifier([]string{"composing", "paused"})
	assert.Equal(t, CategoryChatState, classify(t, c, `<message type="chat"><paused xmlns="http://jabber.org/protocol/chatstates"/><body>b</body></message>`).Category)
	assert.Equal(t, CategoryMessage, classify(t, c, `<message type="chat"><active xmlns="http://jabber.org/protocol/chatstates"/><body>b</body></message>`).Category)
}
