// Package memory is an in-process message store used by the replay tool and
// by tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/meszmate/inbox/internal/message"
	"mellium.im/xmpp/jid"
)

type outbound struct {
	msg     message.Outbound
	tracked message.Tracked
}

// Store keeps everything in maps guarded by one mutex. It is safe for
// concurrent use.
type Store struct {
	mu sync.Mutex

	outbound map[string]*outbound
	receipts map[string]string // receipt id -> transport id

	inbound     []message.Inbound
	inboundKeys map[string]struct{}

	chatStates map[string]message.ChatStateNotice
}

func New() *Store {
	return &Store{
		outbound:    make(map[string]*outbound),
		receipts:    make(map[string]string),
		inboundKeys: make(map[string]struct{}),
		chatStates:  make(map[string]message.ChatStateNotice),
	}
}

// AppendOutboundMessage registers a message we sent in state Pending.
func (s *Store) AppendOutboundMessage(ctx context.Context, m message.Outbound) error {
	if m.TransportID == "" {
		return fmt.Errorf("outbound message to %s has no transport id", m.To)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outbound[m.TransportID]; ok {
		return message.ErrDuplicate
	}
	s.outbound[m.TransportID] = &outbound{
		msg: m,
		tracked: message.Tracked{
			TransportID: m.TransportID,
			State:       message.StatePending,
		},
	}
	return nil
}

// AppendInboundMessage stores m. A message with the same sender, transport
// id and timestamp is reported as message.ErrDuplicate.
func (s *Store) AppendInboundMessage(ctx context.Context, m message.Inbound) error {
	if err := m.Content.Validate(); err != nil {
		return err
	}
	key := inboundKey(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inboundKeys[key]; ok {
		return message.ErrDuplicate
	}
	s.inboundKeys[key] = struct{}{}
	s.inbound = append(s.inbound, m)
	return nil
}

func inboundKey(m message.Inbound) string {
	return fmt.Sprintf("%s|%s|%d", m.From.Bare(), m.TransportID, m.Timestamp.UnixMilli())
}

// UpdateReceiptState applies u under the store lock.
func (s *Store) UpdateReceiptState(ctx context.Context, u message.Update) (message.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(u.Key)
	if !ok {
		return message.UpdateResult{Status: message.UpdateNotFound}, nil
	}

	res := message.Apply(e.tracked.TransportID, e.tracked.State, u)
	if res.Status == message.UpdateApplied {
		e.tracked.State = res.Current
	}
	if u.ReceiptID != "" && res.Status != message.UpdateRejected && e.tracked.ReceiptID == "" {
		e.tracked.ReceiptID = u.ReceiptID
		s.receipts[u.ReceiptID] = e.tracked.TransportID
	}
	return res, nil
}

func (s *Store) lookup(k message.Key) (*outbound, bool) {
	id := k.Value
	if k.Kind == message.KeyReceiptID {
		var ok bool
		if id, ok = s.receipts[k.Value]; !ok {
			return nil, false
		}
	}
	e, ok := s.outbound[id]
	return e, ok
}

// ReportChatState keeps the latest chat state per sender bare JID.
func (s *Store) ReportChatState(ctx context.Context, n message.ChatStateNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatStates[n.From.Bare().String()] = n
	return nil
}

// ReportTransportError records the error condition of an outgoing message.
func (s *Store) ReportTransportError(ctx context.Context, transportID, condition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.outbound[transportID]
	if !ok {
		return message.ErrNotFound
	}
	e.tracked.Condition = condition
	return nil
}

// Tracked returns the receipt state of the message matched by k.
func (s *Store) Tracked(ctx context.Context, k message.Key) (message.Tracked, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(k)
	if !ok {
		return message.Tracked{}, message.ErrNotFound
	}
	return e.tracked, nil
}

// Inbound returns a copy of the stored inbound messages in arrival order.
func (s *Store) Inbound() []message.Inbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Inbound, len(s.inbound))
	copy(out, s.inbound)
	return out
}

// ChatState returns the last chat state reported by from.
func (s *Store) ChatState(from jid.JID) (message.ChatStateNotice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.chatStates[from.Bare().String()]
	return n, ok
}

// Outbound returns the tracked state of every outgoing message.
func (s *Store) Outbound() []message.Tracked {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Tracked, 0, len(s.outbound))
	for _, e := range s.outbound {
		out = append(out, e.tracked)
	}
	return out
}
