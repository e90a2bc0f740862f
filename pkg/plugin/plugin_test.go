package plugin

import (
	"errors"
	"net"
	"net/rpc"
	"sync"
	"testing"
	"time"

	"github.com/meszmate/inbox/internal/events"
	"github.com/meszmate/inbox/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
)

type recorder struct {
	mu   sync.Mutex
	name string
	got  []Notification
	err  error
}

func (r *recorder) Name() string        { return r.name }
func (r *recorder) Version() string     { return "0.1.0" }
func (r *recorder) Description() string { return "records notifications" }

func (r *recorder) Notify(n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recorder) notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.got...)
}

// rpcPair wires an RPCClient to an RPCServer over an in-memory pipe, the
// way go-plugin does across the process boundary.
func rpcPair(t *testing.T, impl Plugin) *RPCClient {
	t.Helper()

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("Plugin", &RPCServer{Impl: impl}))

	a, b := net.Pipe()
	go server.ServeConn(a)

	c := rpc.NewClient(b)
	t.Cleanup(func() { c.Close() })
	return NewRPCClient(c)
}

func TestRPCRoundTrip(t *testing.T) {
	impl := &recorder{name: "rec"}
	c := rpcPair(t, impl)

	assert.Equal(t, "rec", c.Name())
	assert.Equal(t, "0.1.0", c.Version())
	assert.Equal(t, "records notifications", c.Description())

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Notify(Notification{Kind: KindMessage, JID: "alice@example.com", Body: "hi", Timestamp: ts}))

	got := impl.notifications()
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Body)
	assert.True(t, ts.Equal(got[0].Timestamp))
}

func TestRPCErrorPropagates(t *testing.T) {
	c := rpcPair(t, &recorder{name: "rec", err: errors.New("nope")})
	err := c.Notify(Notification{Kind: KindStatus})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestNotificationFor(t *testing.T) {
	n, ok := NotificationFor(events.Event{Type: events.EventMessage, Data: message.Inbound{
		From:        jid.MustParse("alice@example.com/phone"),
		TransportID: "m1",
		Content: message.Content{
			EncryptedPayload: "AAEC",
			Attachment:       &message.Attachment{URI: "https://example.com/f"},
		},
	}})
	require.True(t, ok)
	assert.Equal(t, KindMessage, n.Kind)
	assert.Equal(t, "alice@example.com/phone", n.JID)
	assert.True(t, n.Encrypted)
	assert.Equal(t, "https://example.com/f", n.Attachment)

	n, ok = NotificationFor(events.Event{Type: events.EventStatus, Data: events.StatusChange{
		TransportID: "x1",
		Previous:    message.StatePending,
		Current:     message.StateDelivered,
	}})
	require.True(t, ok)
	assert.Equal(t, message.StateDelivered.String(), n.Current)

	n, ok = NotificationFor(events.Event{Type: events.EventTransportError, Data: events.TransportError{TransportID: "x1", Condition: "item-not-found"}})
	require.True(t, ok)
	assert.Equal(t, "item-not-found", n.Condition)

	_, ok = NotificationFor(events.Event{Type: events.EventMessage, Data: "junk"})
	assert.False(t, ok)
}

func TestHostDispatch(t *testing.T) {
	h := NewHost("", nil)
	a := &recorder{name: "a"}
	b := &recorder{name: "b", err: errors.New("ignored")}
	require.NoError(t, h.Register(a))
	require.NoError(t, h.Register(b))
	assert.Error(t, h.Register(&recorder{name: "a"}))

	names := []string{}
	for _, lp := range h.List() {
		names = append(names, lp.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)

	h.Dispatch(events.Event{Type: events.EventChatState, Data: message.ChatStateNotice{
		From:  jid.MustParse("bob@example.com"),
		State: "composing",
	}})
	require.Len(t, a.notifications(), 1)
	assert.Equal(t, "composing", a.notifications()[0].ChatState)
	assert.Len(t, b.notifications(), 1)

	h.Unload("a")
	assert.Nil(t, h.Get("a"))
	h.UnloadAll()
	assert.Empty(t, h.List())
}

func TestHostAttach(t *testing.T) {
	h := NewHost("", nil)
	r := &recorder{name: "r"}
	require.NoError(t, h.Register(r))

	bus := events.NewBus()
	h.Attach(bus)
	bus.Publish(events.Event{Type: events.EventTransportError, Data: events.TransportError{TransportID: "x1"}})

	assert.Eventually(t, func() bool { return len(r.notifications()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestLoadAllMissingDir(t *testing.T) {
	h := NewHost(t.TempDir()+"/missing", nil)
	assert.NoError(t, h.LoadAll([]string{"notifylog"}))
	assert.Empty(t, h.List())
}
