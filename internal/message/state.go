package message

import (
	"errors"
	"fmt"
)

// State is the receipt status of a message.
type State int

const (
	// StateIncoming is the only state of messages we received.
	StateIncoming State = iota
	// StatePending is an outgoing message without any receipt yet.
	StatePending
	// StateServerAccepted means the server relayed the message (legacy sent receipt).
	StateServerAccepted
	// StateDelivered means the recipient confirmed the message.
	StateDelivered
	// StateAcknowledged means we acknowledged the legacy received receipt.
	StateAcknowledged
	// StateError means a transport error was reported for the message.
	StateError
)

var (
	ErrBackward          = errors.New("receipt state cannot move backward")
	ErrTerminal          = errors.New("receipt state is terminal")
	ErrInvalidTransition = errors.New("invalid receipt state transition")
)

var stateNames = map[State]string{
	StateIncoming:       "incoming",
	StatePending:        "pending",
	StateServerAccepted: "server_accepted",
	StateDelivered:      "delivered",
	StateAcknowledged:   "acknowledged",
	StateError:          "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState parses the name produced by String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown receipt state %q", name)
}

// rank orders the handshake states; Error and Incoming sit outside of it.
func (s State) rank() int {
	switch s {
	case StatePending:
		return 1
	case StateServerAccepted:
		return 2
	case StateDelivered:
		return 3
	case StateAcknowledged:
		return 4
	default:
		return 0
	}
}

// Advance applies next to cur. It reports whether the state changed;
// re-applying the current state is a no-op, never an error.
func Advance(cur, next State) (State, bool, error) {
	if cur == next {
		return cur, false, nil
	}
	if cur == StateError {
		return cur, false, ErrTerminal
	}
	if cur.rank() == 0 {
		return cur, false, fmt.Errorf("%w: %s is not an outgoing state", ErrInvalidTransition, cur)
	}
	if next == StateError {
		if cur != StatePending {
			return cur, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
		}
		return next, true, nil
	}
	if next.rank() == 0 {
		return cur, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	if next.rank() < cur.rank() {
		return cur, false, fmt.Errorf("%w: %s -> %s", ErrBackward, cur, next)
	}
	return next, true, nil
}
