package message

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []State{
	StateIncoming,
	StatePending,
	StateServerAccepted,
	StateDelivered,
	StateAcknowledged,
	StateError,
}

func TestAdvanceForwardPath(t *testing.T) {
	s := StatePending
	for _, next := range []State{StateServerAccepted, StateDelivered, StateAcknowledged} {
		got, changed, err := Advance(s, next)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, next, got)
		s = got
	}
}

func TestAdvanceSkipsServerAcceptedForStandardReceipts(t *testing.T) {
	got, changed, err := Advance(StatePending, StateDelivered)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StateDelivered, got)
}

func TestAdvanceIsIdempotent(t *testing.T) {
	for _, s := range allStates {
		got, changed, err := Advance(s, s)
		require.NoError(t, err, s.String())
		assert.False(t, changed)
		assert.Equal(t, s, got)
	}
}

func TestAdvanceNeverMovesBackward(t *testing.T) {
	for _, cur := range allStates {
		for _, next := range allStates {
			got, changed, err := Advance(cur, next)
			if err != nil {
				assert.Equal(t, cur, got, "%s -> %s must keep the state on error", cur, next)
				assert.False(t, changed)
				continue
			}
			if cur.rank() > 0 && got.rank() > 0 {
				assert.GreaterOrEqual(t, got.rank(), cur.rank(), "%s -> %s", cur, next)
			}
		}
	}
}

func TestAdvanceDeliveredCannotReturn(t *testing.T) {
	for _, next := range []State{StatePending, StateServerAccepted} {
		_, _, err := Advance(StateDelivered, next)
		assert.True(t, errors.Is(err, ErrBackward), "Delivered -> %s", next)
	}
}

func TestAdvanceErrorOnlyFromPending(t *testing.T) {
	got, changed, err := Advance(StatePending, StateError)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StateError, got)

	_, _, err = Advance(StateDelivered, StateError)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = Advance(StateError, StateDelivered)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestAdvanceRejectsIncoming(t *testing.T) {
	_, _, err := Advance(StateIncoming, StateDelivered)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = Advance(StatePending, StateIncoming)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestParseStateRoundTrip(t *testing.T) {
	for _, s := range allStates {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseState("sent")
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	res := Apply("x1", StatePending, Update{Key: TransportKey("x1"), State: StateServerAccepted})
	assert.Equal(t, UpdateApplied, res.Status)
	assert.Equal(t, StateServerAccepted, res.Current)

	res = Apply("x1", StateServerAccepted, Update{Key: TransportKey("x1"), State: StateServerAccepted})
	assert.Equal(t, UpdateUnchanged, res.Status)

	res = Apply("x1", StateDelivered, Update{Key: TransportKey("x1"), State: StateServerAccepted})
	assert.Equal(t, UpdateRejected, res.Status)
	assert.ErrorIs(t, res.Reason, ErrBackward)
	assert.Equal(t, StateDelivered, res.Current)
	assert.True(t, res.Found())
}

func TestContentEmptiness(t *testing.T) {
	assert.True(t, Content{}.IsEmpty())
	assert.ErrorIs(t, Content{}.Validate(), ErrEmptyContent)
	assert.False(t, Content{PlainText: "hi"}.IsEmpty())
	assert.False(t, Content{EncryptedPayload: "AAEC"}.IsEmpty())
	assert.False(t, Content{Attachment: &Attachment{URI: "https://example.com/a.png"}}.IsEmpty())
}

func TestContentJSON(t *testing.T) {
	c := Content{
		PlainText:  "plain",
		Attachment: &Attachment{URI: "https://example.com/a.png", MIMEType: "image/png", Length: 42},
	}
	s, err := c.JSON()
	require.NoError(t, err)

	got, err := ParseContent(s)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}
