package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meszmate/inbox/internal/message"
	"mellium.im/xmpp/jid"
)

const (
	directionIn  = "in"
	directionOut = "out"
)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AppendOutboundMessage registers a message we sent in state Pending.
func (d *DB) AppendOutboundMessage(ctx context.Context, m message.Outbound) error {
	if m.TransportID == "" {
		return errors.New("transport_id is required")
	}
	return d.insert(ctx, directionOut, m.To, m.TransportID, m.Thread, m.Timestamp, message.StatePending, m.Content)
}

// AppendInboundMessage stores m. A message with the same sender bare JID,
// transport id and timestamp is reported as message.ErrDuplicate.
func (d *DB) AppendInboundMessage(ctx context.Context, m message.Inbound) error {
	if m.TransportID == "" {
		return errors.New("transport_id is required")
	}
	if err := m.Content.Validate(); err != nil {
		return err
	}
	return d.insert(ctx, directionIn, m.From, m.TransportID, m.Thread, m.Timestamp, message.StateIncoming, m.Content)
}

func (d *DB) insert(ctx context.Context, direction string, peer jid.JID, transportID, thread string, ts time.Time, state message.State, content message.Content) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	body, err := content.JSON()
	if err != nil {
		return fmt.Errorf("encode content of %q: %w", transportID, err)
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO messages (account, direction, jid, full_jid, transport_id, thread, timestamp, status, content, encrypted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, d.account, direction, peer.Bare().String(), peer.String(), transportID, thread,
		ts.UnixMilli(), state.String(), body, boolToInt(content.IsEncrypted()))
	if err != nil {
		return fmt.Errorf("insert message %q: %w", transportID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for message %q: %w", transportID, err)
	}
	if n == 0 {
		return message.ErrDuplicate
	}
	return nil
}

// UpdateReceiptState applies u inside a transaction, so the state check and
// the write cannot interleave with another update.
func (d *DB) UpdateReceiptState(ctx context.Context, u message.Update) (message.UpdateResult, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return message.UpdateResult{}, fmt.Errorf("begin receipt update: %w", err)
	}
	defer tx.Rollback()

	tr, err := d.tracked(ctx, tx, u.Key)
	if errors.Is(err, message.ErrNotFound) {
		return message.UpdateResult{Status: message.UpdateNotFound}, nil
	}
	if err != nil {
		return message.UpdateResult{}, err
	}

	res := message.Apply(tr.TransportID, tr.State, u)
	if res.Status == message.UpdateApplied {
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET status = ?
			WHERE account = ? AND direction = 'out' AND transport_id = ?
		`, res.Current.String(), d.account, tr.TransportID); err != nil {
			return message.UpdateResult{}, fmt.Errorf("update status of %q: %w", tr.TransportID, err)
		}
	}
	if u.ReceiptID != "" && res.Status != message.UpdateRejected && tr.ReceiptID == "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET receipt_id = ?
			WHERE account = ? AND direction = 'out' AND transport_id = ?
		`, u.ReceiptID, d.account, tr.TransportID); err != nil {
			return message.UpdateResult{}, fmt.Errorf("record receipt id of %q: %w", tr.TransportID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return message.UpdateResult{}, fmt.Errorf("commit receipt update: %w", err)
	}
	return res, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) tracked(ctx context.Context, q queryer, k message.Key) (message.Tracked, error) {
	column := "transport_id"
	if k.Kind == message.KeyReceiptID {
		column = "receipt_id"
	}

	var (
		tr        message.Tracked
		status    string
		receiptID sql.NullString
		condition sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT transport_id, receipt_id, status, error_condition
		FROM messages
		WHERE account = ? AND direction = 'out' AND `+column+` = ?
	`, d.account, k.Value).Scan(&tr.TransportID, &receiptID, &status, &condition)
	if err == sql.ErrNoRows {
		return message.Tracked{}, message.ErrNotFound
	}
	if err != nil {
		return message.Tracked{}, fmt.Errorf("look up %s: %w", k, err)
	}

	tr.State, err = message.ParseState(status)
	if err != nil {
		return message.Tracked{}, fmt.Errorf("message %q: %w", tr.TransportID, err)
	}
	tr.ReceiptID = receiptID.String
	tr.Condition = condition.String
	return tr, nil
}

// Tracked returns the receipt state of the outgoing message matched by k.
func (d *DB) Tracked(ctx context.Context, k message.Key) (message.Tracked, error) {
	return d.tracked(ctx, d.db, k)
}

// ReportTransportError records the error condition of an outgoing message.
func (d *DB) ReportTransportError(ctx context.Context, transportID, condition string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE messages SET error_condition = ?
		WHERE account = ? AND direction = 'out' AND transport_id = ?
	`, condition, d.account, transportID)
	if err != nil {
		return fmt.Errorf("record error of %q: %w", transportID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for %q: %w", transportID, err)
	}
	if n == 0 {
		return message.ErrNotFound
	}
	return nil
}

// ReportChatState keeps the latest chat state per contact.
func (d *DB) ReportChatState(ctx context.Context, n message.ChatStateNotice) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO chat_state (account, jid, thread, state, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, d.account, n.From.Bare().String(), n.Thread, n.State, n.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("save chat state of %s: %w", n.From, err)
	}
	return nil
}

// ChatState returns the last chat state reported by contact.
func (d *DB) ChatState(ctx context.Context, contact jid.JID) (message.ChatStateNotice, error) {
	var (
		n  message.ChatStateNotice
		ts int64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT thread, state, timestamp FROM chat_state WHERE account = ? AND jid = ?
	`, d.account, contact.Bare().String()).Scan(&n.Thread, &n.State, &ts)
	if err == sql.ErrNoRows {
		return message.ChatStateNotice{}, message.ErrNotFound
	}
	if err != nil {
		return message.ChatStateNotice{}, fmt.Errorf("load chat state of %s: %w", contact, err)
	}
	n.From = contact.Bare()
	n.Timestamp = time.UnixMilli(ts).UTC()
	return n, nil
}

// InboundMessages returns the most recent inbound messages, oldest first.
func (d *DB) InboundMessages(ctx context.Context, limit int) ([]message.Inbound, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT full_jid, transport_id, thread, timestamp, content FROM (
			SELECT id, full_jid, transport_id, thread, timestamp, content
			FROM messages
			WHERE account = ? AND direction = 'in'
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) ORDER BY timestamp ASC, id ASC
	`, d.account, limit)
	if err != nil {
		return nil, fmt.Errorf("query inbound messages: %w", err)
	}
	defer rows.Close()

	var out []message.Inbound
	for rows.Next() {
		var (
			m       message.Inbound
			from    string
			ts      int64
			content string
		)
		if err := rows.Scan(&from, &m.TransportID, &m.Thread, &ts, &content); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if from != "" {
			if m.From, err = jid.Parse(from); err != nil {
				return nil, fmt.Errorf("message %q: invalid sender %q: %w", m.TransportID, from, err)
			}
		}
		if m.Content, err = message.ParseContent(content); err != nil {
			return nil, fmt.Errorf("message %q: invalid content: %w", m.TransportID, err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteOldMessages removes messages older than days.
func (d *DB) DeleteOldMessages(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()
	result, err := d.db.ExecContext(ctx, `DELETE FROM messages WHERE account = ? AND timestamp < ?`, d.account, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
