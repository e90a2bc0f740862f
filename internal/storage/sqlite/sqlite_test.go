package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meszmate/inbox/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
)

func newTestStore(t *testing.T) *DB {
	t.Helper()

	store, err := New(t.TempDir(), "me@example.com")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})
	return store
}

func mustTrack(t *testing.T, store *DB, id string) {
	t.Helper()
	err := store.AppendOutboundMessage(context.Background(), message.Outbound{
		To:          jid.MustParse("bob@example.com/a"),
		TransportID: id,
		Timestamp:   time.Unix(1000, 0),
		Content:     message.Content{PlainText: "hello"},
	})
	if err != nil {
		t.Fatalf("track %q: %v", id, err)
	}
}

func TestInboundRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	in := message.Inbound{
		From:        jid.MustParse("alice@example.com/phone"),
		TransportID: "abc",
		Thread:      "t1",
		Timestamp:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Content: message.Content{
			EncryptedPayload: "AAEC",
			Attachment:       &message.Attachment{URI: "https://example.com/a", MIMEType: "image/png", Length: 10, Encrypted: true},
		},
	}
	require.NoError(t, store.AppendInboundMessage(ctx, in))
	assert.ErrorIs(t, store.AppendInboundMessage(ctx, in), message.ErrDuplicate)

	got, err := store.InboundMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, in.From.String(), got[0].From.String())
	assert.Equal(t, in.TransportID, got[0].TransportID)
	assert.Equal(t, in.Thread, got[0].Thread)
	assert.True(t, in.Timestamp.Equal(got[0].Timestamp))
	assert.Equal(t, in.Content, got[0].Content)

	count, err := store.MessageCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestInboundRejectsEmptyContent(t *testing.T) {
	store := newTestStore(t)
	err := store.AppendInboundMessage(context.Background(), message.Inbound{TransportID: "abc"})
	assert.ErrorIs(t, err, message.ErrEmptyContent)
}

func TestOutboundDuplicate(t *testing.T) {
	store := newTestStore(t)
	mustTrack(t, store, "x1")
	err := store.AppendOutboundMessage(context.Background(), message.Outbound{
		To:          jid.MustParse("carol@example.com"),
		TransportID: "x1",
		Timestamp:   time.Unix(2000, 0),
		Content:     message.Content{PlainText: "again"},
	})
	assert.ErrorIs(t, err, message.ErrDuplicate)
}

func TestReceiptStateTransitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustTrack(t, store, "x1")

	res, err := store.UpdateReceiptState(ctx, message.Update{
		Key:       message.TransportKey("x1"),
		State:     message.StateServerAccepted,
		ReceiptID: "rcpt1",
	})
	require.NoError(t, err)
	assert.Equal(t, message.UpdateApplied, res.Status)
	assert.Equal(t, message.StatePending, res.Previous)

	res, err = store.UpdateReceiptState(ctx, message.Update{
		Key:       message.TransportKey("x1"),
		State:     message.StateServerAccepted,
		ReceiptID: "rcpt1",
	})
	require.NoError(t, err)
	assert.Equal(t, message.UpdateUnchanged, res.Status)

	res, err = store.UpdateReceiptState(ctx, message.Update{
		Key:   message.ReceiptKey("rcpt1"),
		State: message.StateDelivered,
	})
	require.NoError(t, err)
	assert.Equal(t, message.UpdateApplied, res.Status)
	assert.Equal(t, "x1", res.TransportID)

	res, err = store.UpdateReceiptState(ctx, message.Update{
		Key:   message.TransportKey("x1"),
		State: message.StatePending,
	})
	require.NoError(t, err)
	assert.Equal(t, message.UpdateRejected, res.Status)
	assert.ErrorIs(t, res.Reason, message.ErrBackward)

	tr, err := store.Tracked(ctx, message.TransportKey("x1"))
	require.NoError(t, err)
	assert.Equal(t, message.StateDelivered, tr.State)
	assert.Equal(t, "rcpt1", tr.ReceiptID)

	res, err = store.UpdateReceiptState(ctx, message.Update{Key: message.ReceiptKey("missing"), State: message.StateDelivered})
	require.NoError(t, err)
	assert.False(t, res.Found())
}

func TestInboundIsNotTracked(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.AppendInboundMessage(ctx, message.Inbound{
		From:        jid.MustParse("alice@example.com"),
		TransportID: "x1",
		Timestamp:   time.Unix(1000, 0),
		Content:     message.Content{PlainText: "hi"},
	}))

	res, err := store.UpdateReceiptState(ctx, message.Update{Key: message.TransportKey("x1"), State: message.StateDelivered})
	require.NoError(t, err)
	assert.Equal(t, message.UpdateNotFound, res.Status)
}

func TestTransportError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustTrack(t, store, "x1")

	require.NoError(t, store.ReportTransportError(ctx, "x1", "item-not-found"))
	assert.ErrorIs(t, store.ReportTransportError(ctx, "nope", "item-not-found"), message.ErrNotFound)

	tr, err := store.Tracked(ctx, message.TransportKey("x1"))
	require.NoError(t, err)
	assert.Equal(t, "item-not-found", tr.Condition)
}

func TestConcurrentTransitionsStayMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustTrack(t, store, "x1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, st := range []message.State{message.StateServerAccepted, message.StateError, message.StateDelivered} {
			wg.Add(1)
			go func(st message.State) {
				defer wg.Done()
				_, err := store.UpdateReceiptState(ctx, message.Update{Key: message.TransportKey("x1"), State: st})
				assert.NoError(t, err)
			}(st)
		}
	}
	wg.Wait()

	tr, err := store.Tracked(ctx, message.TransportKey("x1"))
	require.NoError(t, err)
	assert.Contains(t, []message.State{message.StateDelivered, message.StateError}, tr.State)
}

func TestChatState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	alice := jid.MustParse("alice@example.com/phone")

	_, err := store.ChatState(ctx, alice)
	assert.ErrorIs(t, err, message.ErrNotFound)

	for _, state := range []string{"composing", "paused"} {
		require.NoError(t, store.ReportChatState(ctx, message.ChatStateNotice{
			From:      alice,
			Timestamp: time.Unix(1000, 0),
			State:     state,
		}))
	}

	n, err := store.ChatState(ctx, jid.MustParse("alice@example.com/laptop"))
	require.NoError(t, err)
	assert.Equal(t, "paused", n.State)
}

func TestSeenStanzas(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.FirstSeen(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = store.FirstSeen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, first)

	require.NoError(t, store.Forget(ctx, "k1"))
	first, err = store.FirstSeen(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, first)

	pruned, err := store.PruneSeen(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = store.FirstSeen(ctx, "")
	assert.Error(t, err)
}
