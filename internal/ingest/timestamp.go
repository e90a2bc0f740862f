package ingest

import (
	"time"

	"github.com/meszmate/inbox/internal/logging"
	"github.com/meszmate/inbox/internal/xmpp/wire"
)

// Resolver picks the time a message was actually sent. The result is never
// later than the clock.
type Resolver struct {
	now func() time.Time
	log *logging.Logger
}

func NewResolver(now func() time.Time, log *logging.Logger) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now, log: log}
}

// Resolve returns the delay stamp of st, preferring urn:xmpp:delay over the
// legacy jabber:x:delay, or now when there is none.
func (r *Resolver) Resolve(st *wire.Stanza) time.Time {
	now := r.now()

	ext, ok := st.Lookup(wire.KindDelay)
	if !ok {
		ext, ok = st.Lookup(wire.KindLegacyDelay)
	}
	if !ok {
		return now
	}
	if ext.StampErr != nil {
		r.log.Warn("ignoring delay on message %q: %v", st.ID, ext.StampErr)
		return now
	}
	if ext.Stamp.After(now) {
		r.log.Info("delay stamp %s on message %q is in the future, using now", ext.Stamp.Format(time.RFC3339), st.ID)
		return now
	}
	return ext.Stamp
}
