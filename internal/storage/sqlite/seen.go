package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FirstSeen records a processed stanza key and reports whether it was new.
func (d *DB) FirstSeen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO seen_stanzas (key, seen_at) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert seen stanza %q: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected for seen stanza %q: %w", key, err)
	}
	return n == 1, nil
}

// Forget removes key so the stanza is processed again when redelivered.
func (d *DB) Forget(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM seen_stanzas WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete seen stanza %q: %w", key, err)
	}
	return nil
}

// PruneSeen removes seen stanza keys recorded before cutoff.
func (d *DB) PruneSeen(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.New("cutoff is required")
	}

	res, err := d.db.ExecContext(ctx, `DELETE FROM seen_stanzas WHERE seen_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune seen stanzas: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for seen stanza prune: %w", err)
	}
	return rowsAffected, nil
}
