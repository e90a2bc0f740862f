// Command inbox-replay runs recorded message stanzas through the ingest
// pipeline without a server connection and prints what happened to each.
package main

import (
	"context"
	"encoding/xml"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/meszmate/inbox/internal/dedup"
	"github.com/meszmate/inbox/internal/ingest"
	"github.com/meszmate/inbox/internal/logging"
	"github.com/meszmate/inbox/internal/message"
	"github.com/meszmate/inbox/internal/report"
	"github.com/meszmate/inbox/internal/storage/memory"
	"github.com/meszmate/inbox/internal/storage/sqlite"
	"github.com/meszmate/inbox/internal/xmpp/wire"
	"mellium.im/xmpp/jid"
)

type options struct {
	storage     string
	dataDir     string
	account     string
	dedup       bool
	track       []string
	stopStates  []string
	placeholder string
	theme       string
	logLevel    string
}

// trackingStore is an ingest.Store that can also seed and report outgoing
// messages.
type trackingStore interface {
	ingest.Store
	AppendOutboundMessage(ctx context.Context, m message.Outbound) error
	Tracked(ctx context.Context, k message.Key) (message.Tracked, error)
}

// recordingSender keeps every reply instead of sending it.
type recordingSender struct {
	mu      sync.Mutex
	replies []wire.Reply
}

func (s *recordingSender) SendReply(_ context.Context, r wire.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
	return nil
}

// take returns the reply kinds recorded since the last call.
func (s *recordingSender) take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, 0, len(s.replies))
	for _, r := range s.replies {
		kinds = append(kinds, r.Kind().String())
	}
	s.replies = nil
	return kinds
}

func main() {
	var opts options
	var track, stop string
	flag.StringVar(&opts.storage, "storage", "memory", "storage driver: memory or sqlite")
	flag.StringVar(&opts.dataDir, "data", ".", "data directory for the sqlite driver")
	flag.StringVar(&opts.account, "account", "me@localhost", "account the stanzas were received on")
	flag.BoolVar(&opts.dedup, "dedup", true, "drop redelivered stanzas")
	flag.StringVar(&track, "track", "", "comma separated ids of outgoing messages receipts may refer to")
	flag.StringVar(&stop, "stop-states", "active", "comma separated chat states that end processing")
	flag.StringVar(&opts.placeholder, "placeholder", "(encrypted)", "body expected next to encrypted payloads")
	flag.StringVar(&opts.theme, "theme", "", "TOML theme file for the report")
	flag.StringVar(&opts.logLevel, "log", "warn", "log level")
	flag.Parse()

	opts.track = splitList(track)
	opts.stopStates = splitList(stop)

	in := io.Reader(os.Stdin)
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	theme := report.NordTheme()
	if opts.theme != "" {
		t, err := report.LoadTheme(opts.theme)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		theme = t
	}

	log := logging.NewWriter(os.Stderr, opts.logLevel)
	rep, states, err := replay(context.Background(), in, opts, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	styles := theme.Compile()
	fmt.Println(rep.Render(styles))
	for _, id := range opts.track {
		fmt.Println(styles.Muted.Render(fmt.Sprintf("%s: %s", id, states[id])))
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func openStore(opts options) (trackingStore, func() error, error) {
	switch opts.storage {
	case "memory":
		return memory.New(), func() error { return nil }, nil
	case "sqlite":
		db, err := sqlite.New(opts.dataDir, opts.account)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", opts.storage)
	}
}

// replay feeds every message element found in r through a fresh pipeline.
// It returns the per-stanza report and the final state of each tracked id.
func replay(ctx context.Context, r io.Reader, opts options, log *logging.Logger) (*report.Report, map[string]string, error) {
	account, err := jid.Parse(opts.account)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid account %q: %w", opts.account, err)
	}

	store, closeStore, err := openStore(opts)
	if err != nil {
		return nil, nil, err
	}
	defer closeStore()

	for _, id := range opts.track {
		err := store.AppendOutboundMessage(ctx, message.Outbound{
			To:          account,
			TransportID: id,
			Timestamp:   time.Now(),
			Content:     message.Content{PlainText: "(replay)"},
		})
		if err != nil && !errors.Is(err, message.ErrDuplicate) {
			return nil, nil, fmt.Errorf("track %q: %w", id, err)
		}
	}

	var guard dedup.Guard
	if opts.dedup {
		guard = dedup.NewMemory(0)
	}

	sender := &recordingSender{}
	pipeline, err := ingest.New(ingest.Options{
		Store:       store,
		Sender:      sender,
		Guard:       guard,
		Logger:      log,
		StopStates:  opts.stopStates,
		Placeholder: opts.placeholder,
	})
	if err != nil {
		return nil, nil, err
	}

	rep := report.New("inbox replay")
	d := xml.NewDecoder(r)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read stanzas: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "message" {
			continue
		}

		st, err := wire.Decode(d, &start)
		if err != nil {
			rep.Add(report.Row{Outcome: ingest.OutcomeError, Err: err})
			continue
		}

		out, err := pipeline.ProcessIncoming(ctx, st)
		rep.Add(report.Row{
			ID:      st.ID,
			From:    st.From.String(),
			Outcome: out,
			Replies: sender.take(),
			Err:     err,
		})
	}

	states := make(map[string]string, len(opts.track))
	for _, id := range opts.track {
		tr, err := store.Tracked(ctx, message.TransportKey(id))
		if err != nil {
			states[id] = err.Error()
			continue
		}
		state := tr.State.String()
		if tr.Condition != "" {
			state += " (" + tr.Condition + ")"
		}
		states[id] = state
	}

	return rep, states, nil
}
