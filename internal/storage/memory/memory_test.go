package memory

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

func TestInboundDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()

	m := message.Inbound{
		From:        jid.MustParse("alice@example.com/phone"),
		TransportID: "abc",
		Timestamp:   time.Unix(1000, 0),
		Content:     message.Content{PlainText: "hi"},
	}
	require.NoError(t, s.AppendInboundMessage(ctx, m))

	// Another resource of the same account counts as the same sender.
	m.From = jid.MustParse("alice@example.com/laptop")
	assert.ErrorIs(t, s.AppendInboundMessage(ctx, m), message.ErrDuplicate)

	m.Timestamp = m.Timestamp.Add(time.Second)
	require.NoError(t, s.AppendInboundMessage(ctx, m))
	assert.Len(t, s.Inbound(), 2)
}

func TestInboundRejectsEmptyContent(t *testing.T) {
	s := New()
	err := s.AppendInboundMessage(context.Background(), message.Inbound{TransportID: "x"})
	assert.ErrorIs(t, err, message.ErrEmptyContent)
}

func TestLegacyHandshake(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AppendOutboundMessage(ctx, message.Outbound{
		To:          jid.MustParse("bob@example.com"),
		TransportID: "x1",
		Content:     message.Content{PlainText: "hello"},
	}))

	res, err := s.UpdateReceiptState(ctx, message.Update{
		Key:       message.TransportKey("x1"),
		State:     message.StateServerAccepted,
		ReceiptID: "rcpt1",
	})
	require.NoError(t, err)
	assert.Equal(t, message.UpdateApplied, res.Status)

	res, err = s.UpdateReceiptState(ctx, message.Update{
		Key:   message.ReceiptKey("rcpt1"),
		State: message.StateDelivered,
	})
	require.NoError(t, err)
	assert.Equal(t, message.UpdateApplied, res.Status)
	assert.Equal(t, "x1", res.TransportID)

	res, err = s.UpdateReceiptState(ctx, message.Update{
		Key:   message.TransportKey("x1"),
		State: message.StateServerAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, message.UpdateRejected, res.Status)

	tr, err := s.Tracked(ctx, message.ReceiptKey("rcpt1"))
	require.NoError(t, err)
	assert.Equal(t, message.StateDelivered, tr.State)
	assert.Equal(t, "rcpt1", tr.ReceiptID)
}

func TestUpdateUnknownKey(t *testing.T) {
	s := New()
	res, err := s.UpdateReceiptState(context.Background(), message.Update{
		Key:   message.ReceiptKey("nope"),
		State: message.StateDelivered,
	})
	require.NoError(t, err)
	assert.False(t, res.Found())

	assert.ErrorIs(t, s.ReportTransportError(context.Background(), "nope", ""), message.ErrNotFound)
}

func TestConcurrentUpdatesStayMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AppendOutboundMessage(ctx, message.Outbound{TransportID: "x1"}))

	states := []message.State{
		message.StateServerAccepted,
		message.StateDelivered,
		message.StateError,
		message.StateAcknowledged,
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, st := range states {
			wg.Add(1)
			go func(st message.State) {
				defer wg.Done()
				_, _ = s.UpdateReceiptState(ctx, message.Update{Key: message.TransportKey("x1"), State: st})
			}(st)
		}
	}
	wg.Wait()

	tr, err := s.Tracked(ctx, message.TransportKey("x1"))
	require.NoError(t, err)
	// Whichever update won first, the message ends in a terminal state.
	assert.Contains(t, []message.State{message.StateAcknowledged, message.StateError}, tr.State)
}
