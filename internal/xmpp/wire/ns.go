// Package wire decodes inbound message stanzas into a flat, tagged list of
// the extensions the ingestion engine understands, and builds the receipt
// replies it sends back.
package wire

// Namespaces understood by the decoder.
const (
	NSClient         = "jabber:client"
	NSDelay          = "urn:xmpp:delay"
	NSLegacyDelay    = "jabber:x:delay"
	NSChatStates     = "http://jabber.org/protocol/chatstates"
	NSReceipts       = "urn:xmpp:receipts"
	NSServerReceipts = "urn:xmpp:server-receipts"
	NSE2E            = "urn:ietf:params:xml:ns:xmpp-e2e"
	NSOOB            = "jabber:x:oob"
	NSStanzas        = "urn:ietf:params:xml:ns:xmpp-stanzas"
)

// Chat state element names (XEP-0085).
const (
	ChatStateActive    = "active"
	ChatStateComposing = "composing"
	ChatStatePaused    = "paused"
	ChatStateInactive  = "inactive"
	ChatStateGone      = "gone"
)

// EncryptedPlaceholder is the body some clients put next to an encrypted payload.
const EncryptedPlaceholder = "(encrypted)"
