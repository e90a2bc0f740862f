package receipt

import (
	"context"
	"errors"
	"fmt"

	"github.com/meszmate/inbox/internal/events"
	"github.com/meszmate/inbox/internal/logging"
	"github.com/meszmate/inbox/internal/message"
	"github.com/meszmate/inbox/internal/telemetry"
	"github.com/meszmate/inbox/internal/xmpp/wire"
)

// Engine runs both receipt protocols. It keeps no state of its own; the
// receipt state lives in the StateStore.
type Engine struct {
	store     StateStore
	sender    Sender
	bus       events.Publisher
	log       *logging.Logger
	telemetry *telemetry.Provider
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets where status changes and transport errors are published.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.bus = p }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTelemetry records replies and transitions on p.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(e *Engine) { e.telemetry = p }
}

// NewEngine creates an engine updating store and replying through sender.
func NewEngine(store StateStore, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		sender: sender,
		bus:    events.Discard{},
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = events.Discard{}
	}
	return e
}

// Handle applies a receipt carried by the receipt-only stanza st.
// Unknown correlations are logged and are not errors.
func (e *Engine) Handle(ctx context.Context, st *wire.Stanza, ev Event) error {
	switch ev := ev.(type) {
	case Standard:
		return e.delivered(ctx, ev)
	case LegacySent:
		return e.serverAccepted(ctx, st, ev)
	case LegacyReceived:
		return e.peerReceived(ctx, st, ev)
	case LegacyAck:
		e.log.Debug("handshake closed by ack for %q from %s", ev.ID, st.From)
		return nil
	case LegacyUnknown:
		e.log.Warn("ignoring unknown server receipt <%s/> from %s", ev.Name, st.From)
		return nil
	default:
		return fmt.Errorf("unhandled receipt event %T", ev)
	}
}

func (e *Engine) delivered(ctx context.Context, ev Standard) error {
	if ev.ID == "" {
		e.log.Warn("%v: delivery receipt without id", ErrMissingCorrelationID)
		return ErrMissingCorrelationID
	}
	_, err := e.update(ctx, message.Update{
		Key:   message.TransportKey(ev.ID),
		State: message.StateDelivered,
	})
	return err
}

func (e *Engine) serverAccepted(ctx context.Context, st *wire.Stanza, ev LegacySent) error {
	if st.ID == "" {
		e.log.Warn("%v: sent receipt on a stanza without id", ErrMissingCorrelationID)
		return ErrMissingCorrelationID
	}
	if ev.ReceiptID == "" {
		e.log.Warn("sent receipt for %s carries no receipt id", st.ID)
	}
	_, err := e.update(ctx, message.Update{
		Key:       message.TransportKey(st.ID),
		State:     message.StateServerAccepted,
		ReceiptID: ev.ReceiptID,
	})
	return err
}

func (e *Engine) peerReceived(ctx context.Context, st *wire.Stanza, ev LegacyReceived) error {
	var (
		res       message.UpdateResult
		updateErr error
	)
	if ev.ReceiptID == "" {
		e.log.Warn("%v: received receipt without receipt id", ErrMissingCorrelationID)
		updateErr = ErrMissingCorrelationID
	} else {
		res, updateErr = e.update(ctx, message.Update{
			Key:   message.ReceiptKey(ev.ReceiptID),
			State: message.StateDelivered,
		})
	}

	if st.From.String() == "" {
		e.log.Warn("not acknowledging receipt %q: no sender address", ev.ReceiptID)
		return updateErr
	}
	if st.ID == "" {
		e.log.Debug("acknowledging receipt %q from %s without a stanza id", ev.ReceiptID, st.From)
	}

	if err := e.send(ctx, wire.ServerAck(st.From, st.ID)); err != nil {
		return errors.Join(updateErr, err)
	}

	if updateErr == nil && res.Found() && res.Current == message.StateDelivered {
		_, updateErr = e.update(ctx, message.Update{
			Key:   message.ReceiptKey(ev.ReceiptID),
			State: message.StateAcknowledged,
		})
	}
	return updateErr
}

// Acknowledge answers the receipt request of a chat message that was
// accepted by the store.
func (e *Engine) Acknowledge(ctx context.Context, st *wire.Stanza, req Request) error {
	if st.From.String() == "" {
		e.log.Warn("not answering receipt request: message %q has no sender", st.ID)
		return nil
	}

	switch req := req.(type) {
	case StandardRequest:
		if st.ID == "" {
			e.log.Warn("not answering receipt request from %s: message has no id", st.From)
			return nil
		}
		return e.send(ctx, wire.DeliveryReceipt(st.From, st.ID))
	case LegacyRequest:
		if req.ID == "" {
			e.log.Warn("not answering server receipt request from %s: no request id", st.From)
			return nil
		}
		return e.send(ctx, wire.ServerReceived(st.From, req.ID))
	default:
		return fmt.Errorf("unhandled receipt request %T", req)
	}
}

// MarkError moves the message that st reports an error for to
// message.StateError and records the error condition.
func (e *Engine) MarkError(ctx context.Context, st *wire.Stanza) error {
	if st.ID == "" {
		e.log.Warn("%v: error stanza from %s has no id", ErrMissingCorrelationID, st.From)
		return ErrMissingCorrelationID
	}

	var condition, text string
	if ext, ok := st.Lookup(wire.KindError); ok {
		condition, text = ext.Condition, ext.ErrorText
	}
	e.log.Warn("got error for message %s from %s: %s", st.ID, st.From, condition)

	res, err := e.update(ctx, message.Update{
		Key:   message.TransportKey(st.ID),
		State: message.StateError,
	})
	if err != nil {
		return err
	}
	if !res.Found() {
		return nil
	}

	if err := e.store.ReportTransportError(ctx, st.ID, condition); err != nil {
		return fmt.Errorf("failed to record error for %s: %w", st.ID, err)
	}
	e.bus.Publish(events.Event{Type: events.EventTransportError, Data: events.TransportError{
		TransportID: st.ID,
		Condition:   condition,
		Text:        text,
	}})
	return nil
}

func (e *Engine) update(ctx context.Context, u message.Update) (message.UpdateResult, error) {
	res, err := e.store.UpdateReceiptState(ctx, u)
	if err != nil {
		e.log.Error("failed to update %s to %s: %v", u.Key, u.State, err)
		return res, fmt.Errorf("failed to update %s: %w", u.Key, err)
	}

	switch res.Status {
	case message.UpdateApplied:
		e.log.Info("message %s: %s -> %s", res.TransportID, res.Previous, res.Current)
		e.telemetry.RecordTransition(ctx, res.Previous.String(), res.Current.String())
		e.bus.Publish(events.Event{Type: events.EventStatus, Data: events.StatusChange{
			TransportID: res.TransportID,
			Previous:    res.Previous,
			Current:     res.Current,
		}})
	case message.UpdateUnchanged:
		e.log.Debug("message %s already %s", res.TransportID, res.Current)
	case message.UpdateRejected:
		e.log.Warn("ignoring %s for message %s: %v", u.State, res.TransportID, res.Reason)
	case message.UpdateNotFound:
		e.log.Warn("%v: %s", ErrUnknownCorrelation, u.Key)
	}
	return res, nil
}

func (e *Engine) send(ctx context.Context, r wire.Reply) error {
	err := e.sender.SendReply(ctx, r)
	e.telemetry.RecordReply(ctx, r.Kind().String(), err)
	if err != nil {
		e.log.Error("failed to send %s for %q to %s: %v", r.Kind(), r.Receipt.ID, r.To, err)
		return fmt.Errorf("failed to send %s: %w", r.Kind(), err)
	}
	e.log.Debug("sent %s for %q to %s", r.Kind(), r.Receipt.ID, r.To)
	return nil
}
