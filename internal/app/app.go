package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meszmate/inbox/internal/config"
	"github.com/meszmate/inbox/internal/dedup"
	"github.com/meszmate/inbox/internal/events"
	"github.com/meszmate/inbox/internal/ingest"
	"github.com/meszmate/inbox/internal/logging"
	"github.com/meszmate/inbox/internal/storage/memory"
	"github.com/meszmate/inbox/internal/storage/sqlite"
	"github.com/meszmate/inbox/internal/telemetry"
	"github.com/meszmate/inbox/internal/xmpp"
	"github.com/meszmate/inbox/internal/xmpp/wire"
	"github.com/meszmate/inbox/pkg/plugin"
)

// Version is set at build time
var Version = "dev"

const (
	maintenanceInterval = time.Hour
	minReconnectDelay   = time.Second
	maxReconnectDelay   = time.Minute
)

// Connection is what App needs from the XMPP client
type Connection interface {
	Connect(ctx context.Context) error
	Serve() error
	Disconnect() error
	SendReply(ctx context.Context, reply wire.Reply) error
	SetStanzaHandler(handler xmpp.StanzaHandler)
}

// App wires configuration, storage, the ingest pipeline and the XMPP
// connection together.
type App struct {
	cfg       *config.Config
	log       *logging.Logger
	telemetry *telemetry.Provider
	bus       *events.Bus
	plugins   *plugin.Host
	pipeline  *ingest.Pipeline
	conn      Connection

	store ingest.Store
	db    *sqlite.DB
	guard dedup.Guard

	closers []func() error
	once    sync.Once
}

// New builds the application from cfg. Nothing touches the network except
// a Redis ping when the redis dedup backend is selected.
func New(cfg *config.Config, log *logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Nop()
	}

	a := &App{
		cfg: cfg,
		log: log,
		bus: events.NewBus(),
	}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	tel, err := telemetry.New(telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = tel
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tel.Shutdown(ctx)
	})

	if err := a.openStorage(); err != nil {
		return nil, err
	}
	if err := a.openGuard(); err != nil {
		return nil, err
	}

	a.plugins = plugin.NewHost(cfg.Plugins.PluginDir, log.Named("plugin"))
	if err := a.plugins.LoadAll(cfg.Plugins.Enabled); err != nil {
		return nil, fmt.Errorf("failed to load plugins: %w", err)
	}
	a.plugins.Attach(a.bus)
	a.closers = append(a.closers, func() error {
		a.plugins.UnloadAll()
		return nil
	})

	client, err := xmpp.NewClient(xmpp.ClientConfig{
		JID:      cfg.Account.JID,
		Password: cfg.Account.Password,
		Server:   cfg.Account.Server,
		Port:     cfg.Account.Port,
		Resource: cfg.Account.Resource,
		NoTLS:    cfg.Account.NoTLS,
		Logger:   log.Named("xmpp"),
	})
	if err != nil {
		return nil, err
	}
	if err := a.setConnection(client); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *App) openStorage() error {
	switch a.cfg.Storage.Driver {
	case "memory":
		a.store = memory.New()
		a.log.Warn("using in-memory storage, nothing survives a restart")
	default:
		db, err := sqlite.New(a.cfg.General.DataDir, a.cfg.Account.JID)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.db = db
		a.store = db
		a.closers = append(a.closers, db.Close)

		if a.cfg.Storage.VacuumOnStartup {
			if err := db.Vacuum(); err != nil {
				a.log.Warn("vacuum failed: %v", err)
			}
		}
	}
	return nil
}

func (a *App) openGuard() error {
	switch a.cfg.Dedup.Backend {
	case "none":
		a.guard = nil
	case "memory":
		a.guard = dedup.NewMemory(a.cfg.Dedup.TTL())
	case "redis":
		g, err := dedup.NewRedis(dedup.RedisConfig{
			Addr:     a.cfg.Dedup.RedisAddr,
			Password: a.cfg.Dedup.RedisPassword,
			DB:       a.cfg.Dedup.RedisDB,
			Prefix:   a.cfg.Dedup.RedisPrefix,
			TTL:      a.cfg.Dedup.TTL(),
		})
		if err != nil {
			return err
		}
		a.guard = g
		a.closers = append(a.closers, g.Close)
	default:
		if a.db == nil {
			return errors.New("sqlite dedup backend needs sqlite storage")
		}
		a.guard = a.db
	}
	return nil
}

// setConnection builds the pipeline around conn
func (a *App) setConnection(conn Connection) error {
	pipeline, err := ingest.New(ingest.Options{
		Store:       a.store,
		Sender:      conn,
		Guard:       a.guard,
		Bus:         a.bus,
		Telemetry:   a.telemetry,
		Logger:      a.log.Named("ingest"),
		StopStates:  a.cfg.Ingest.StopChatStates,
		Placeholder: a.cfg.Ingest.EncryptedPlaceholder,
	})
	if err != nil {
		return err
	}

	a.conn = conn
	a.pipeline = pipeline
	conn.SetStanzaHandler(a.handleStanza)
	return nil
}

func (a *App) handleStanza(ctx context.Context, st *wire.Stanza) {
	out, err := a.pipeline.ProcessIncoming(ctx, st)
	if err != nil {
		a.log.Error("stanza %s from %s: %v", st.ID, st.From, err)
		return
	}
	a.log.Debug("stanza %s from %s: %s", st.ID, st.From, out)
}

// Bus returns the event bus
func (a *App) Bus() *events.Bus {
	return a.bus
}

// Run keeps the connection up until ctx is cancelled, reconnecting with a
// doubling delay after every lost stream.
func (a *App) Run(ctx context.Context) error {
	go a.maintain(ctx)

	delay := minReconnectDelay
	for {
		err := a.conn.Connect(ctx)
		if err == nil {
			delay = minReconnectDelay
			a.markConnected()

			done := make(chan error, 1)
			go func() { done <- a.conn.Serve() }()

			select {
			case <-ctx.Done():
				_ = a.conn.Disconnect()
				<-done
				return nil
			case err = <-done:
				if err == nil {
					err = errors.New("stream closed")
				}
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		a.log.Warn("connection lost: %v, retrying in %s", err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (a *App) markConnected() {
	if a.db == nil {
		return
	}
	if err := a.db.SetAppState("last_connected", time.Now().UTC().Format(time.RFC3339)); err != nil {
		a.log.Warn("failed to record connection time: %v", err)
	}
}

func (a *App) maintain(ctx context.Context) {
	a.Maintain(ctx)

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Maintain(ctx)
		}
	}
}

// Maintain prunes expired dedup keys and messages past the retention window.
func (a *App) Maintain(ctx context.Context) {
	if a.db == nil {
		return
	}

	if ttl := a.cfg.Dedup.TTL(); ttl > 0 && a.cfg.Dedup.Backend == "sqlite" {
		n, err := a.db.PruneSeen(ctx, time.Now().Add(-ttl))
		if err != nil {
			a.log.Warn("prune seen stanzas: %v", err)
		} else if n > 0 {
			a.log.Debug("pruned %d seen stanza keys", n)
		}
	}

	if days := a.cfg.Storage.MessageRetentionDays; days > 0 {
		n, err := a.db.DeleteOldMessages(ctx, days)
		if err != nil {
			a.log.Warn("delete old messages: %v", err)
		} else if n > 0 {
			a.log.Info("deleted %d messages older than %d days", n, days)
		}
	}
}

// Close releases everything New opened, in reverse order
func (a *App) Close() {
	a.once.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.log.Warn("close: %v", err)
			}
		}
	})
}
