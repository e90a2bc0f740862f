// Package ingest turns inbound message stanzas into stored messages, chat
// state reports and receipt state changes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meszmate/inbox/internal/dedup"
	"github.com/meszmate/inbox/internal/events"
	"github.com/meszmate/inbox/internal/logging"
	"github.com/meszmate/inbox/internal/message"
	"github.com/meszmate/inbox/internal/receipt"
	"github.com/meszmate/inbox/internal/telemetry"
	"github.com/meszmate/inbox/internal/xmpp/wire"
	"mellium.im/xmpp/stanza"
)

// Store is the message store the pipeline writes to.
type Store interface {
	receipt.StateStore
	AppendInboundMessage(ctx context.Context, m message.Inbound) error
	ReportChatState(ctx context.Context, n message.ChatStateNotice) error
}

// Outcome tells the caller what happened to a stanza.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeDuplicate
	OutcomeHandled
	OutcomeStored
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeHandled:
		return "handled"
	case OutcomeStored:
		return "stored"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Options configures a Pipeline. Store and Sender are required.
type Options struct {
	Store  Store
	Sender receipt.Sender

	// Guard drops redelivered stanzas. Nil disables the check.
	Guard     dedup.Guard
	Bus       events.Publisher
	Telemetry *telemetry.Provider
	Logger    *logging.Logger

	// StopStates are the chat states after which nothing else is read.
	StopStates []string
	// Placeholder is the body expected next to an encrypted payload.
	Placeholder string

	Now   func() time.Time
	NewID func() string
}

// Pipeline processes inbound stanzas one at a time per connection.
type Pipeline struct {
	store      Store
	guard      dedup.Guard
	bus        events.Publisher
	telemetry  *telemetry.Provider
	log        *logging.Logger
	newID      func() string
	classifier *Classifier
	resolver   *Resolver
	extractor  *Extractor
	engine     *receipt.Engine
}

func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("ingest: sender is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Bus == nil {
		opts.Bus = events.Discard{}
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Pipeline{
		store:      opts.Store,
		guard:      opts.Guard,
		bus:        opts.Bus,
		telemetry:  opts.Telemetry,
		log:        opts.Logger,
		newID:      opts.NewID,
		classifier: NewClassifier(opts.StopStates),
		resolver:   NewResolver(opts.Now, opts.Logger.Named("timestamp")),
		extractor:  NewExtractor(opts.Placeholder, opts.Logger.Named("content")),
		engine: receipt.NewEngine(opts.Store, opts.Sender,
			receipt.WithPublisher(opts.Bus),
			receipt.WithLogger(opts.Logger.Named("receipt")),
			receipt.WithTelemetry(opts.Telemetry),
		),
	}, nil
}

// ProcessIncoming handles one stanza. It never panics on malformed input;
// failures are logged and returned with OutcomeError.
func (p *Pipeline) ProcessIncoming(ctx context.Context, st *wire.Stanza) (out Outcome, err error) {
	start := time.Now()
	category := CategoryIgnored
	ctx, span := p.telemetry.StartStanza(ctx, string(st.Type), st.ID, st.From.String())
	defer func() {
		p.telemetry.EndSpan(span, out.String(), err)
		p.telemetry.RecordStanza(ctx, out.String(), category.String(), time.Since(start))
	}()

	if st.Type != stanza.ChatMessage && st.Type != stanza.ErrorMessage {
		p.log.Debug("ignoring %s", st)
		return OutcomeIgnored, nil
	}

	if p.guard != nil && st.ID != "" {
		key := dedup.Key(string(st.Type), st.From.String(), st.ID)
		first, gerr := p.guard.FirstSeen(ctx, key)
		switch {
		case gerr != nil:
			p.log.Warn("duplicate check failed for %q: %v", st.ID, gerr)
		case !first:
			p.log.Debug("dropping redelivered %s", st)
			return OutcomeDuplicate, nil
		default:
			defer func() {
				if out != OutcomeError {
					return
				}
				if ferr := p.guard.Forget(ctx, key); ferr != nil {
					p.log.Warn("failed to forget %q: %v", st.ID, ferr)
				}
			}()
		}
	}

	cl := p.classifier.Classify(st)
	category = cl.Category

	if cl.Category == CategoryTransportError {
		if err := p.engine.MarkError(ctx, st); err != nil {
			return OutcomeError, err
		}
		return OutcomeHandled, nil
	}

	ts := p.resolver.Resolve(st)
	if cl.ChatState != "" {
		p.reportChatState(ctx, st, ts, cl.ChatState)
	}

	switch cl.Category {
	case CategoryChatState:
		return OutcomeHandled, nil
	case CategoryReceipt:
		if err := p.engine.Handle(ctx, st, cl.Receipt); err != nil {
			return OutcomeError, err
		}
		return OutcomeHandled, nil
	}

	return p.storeMessage(ctx, st, cl, ts)
}

func (p *Pipeline) storeMessage(ctx context.Context, st *wire.Stanza, cl Classification, ts time.Time) (Outcome, error) {
	content := p.extractor.Extract(st)
	if content.IsEmpty() {
		if cl.ChatState != "" {
			return OutcomeHandled, nil
		}
		p.log.Debug("no content found in %s", st)
		return OutcomeIgnored, nil
	}

	id := st.ID
	if id == "" {
		id = p.newID()
		p.log.Warn("message from %s has no id, using %s", st.From, id)
	}

	msg := message.Inbound{
		From:        st.From,
		TransportID: id,
		Thread:      st.Thread,
		Timestamp:   ts,
		Content:     content,
	}

	out := OutcomeStored
	if err := p.store.AppendInboundMessage(ctx, msg); err != nil {
		if !errors.Is(err, message.ErrDuplicate) {
			p.log.Error("failed to store message %s from %s: %v", id, st.From, err)
			return OutcomeError, fmt.Errorf("failed to store message %s: %w", id, err)
		}
		p.log.Info("message %s from %s already stored", id, st.From)
		out = OutcomeDuplicate
	} else {
		p.log.Debug("stored message %s from %s", id, st.From)
		p.bus.Publish(events.Event{Type: events.EventMessage, Data: msg})
	}

	if cl.Request != nil {
		if err := p.engine.Acknowledge(ctx, st, cl.Request); err != nil {
			return OutcomeError, err
		}
	}
	return out, nil
}

func (p *Pipeline) reportChatState(ctx context.Context, st *wire.Stanza, ts time.Time, state string) {
	n := message.ChatStateNotice{
		From:      st.From,
		Thread:    st.Thread,
		Timestamp: ts,
		State:     state,
	}
	if err := p.store.ReportChatState(ctx, n); err != nil {
		p.log.Warn("failed to report chat state %s from %s: %v", state, st.From, err)
		return
	}
	p.bus.Publish(events.Event{Type: events.EventChatState, Data: n})
}
