package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the database file created in the data directory.
const FileName = "inbox.db"

// DB stores the messages, receipt state and chat states of one account.
type DB struct {
	db      *sql.DB
	account string
}

// New opens (and creates) the database in dataDir for account.
func New(dataDir, account string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return Open(filepath.Join(dataDir, FileName), account)
}

// Open opens the database at path.
func Open(path, account string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Receipt transitions rely on transactions being serialized.
	db.SetMaxOpenConns(1)

	store := &DB{db: db, account: account}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			direction TEXT NOT NULL CHECK(direction IN ('in', 'out')),
			jid TEXT NOT NULL,
			full_jid TEXT NOT NULL,
			transport_id TEXT NOT NULL,
			receipt_id TEXT,
			thread TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			status TEXT NOT NULL,
			content TEXT NOT NULL,
			encrypted INTEGER NOT NULL DEFAULT 0,
			error_condition TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_unique
			ON messages(account, direction, jid, transport_id, timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_outbound
			ON messages(account, transport_id) WHERE direction = 'out'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_receipt
			ON messages(account, receipt_id) WHERE receipt_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,

		`CREATE TABLE IF NOT EXISTS chat_state (
			account TEXT NOT NULL,
			jid TEXT NOT NULL,
			thread TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (account, jid)
		)`,

		`CREATE TABLE IF NOT EXISTS seen_stanzas (
			key TEXT PRIMARY KEY,
			seen_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seen_stanzas_seen_at ON seen_stanzas(seen_at)`,

		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func (d *DB) SetAppState(key, value string) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO app_state (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

func (d *DB) GetAppState(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// MessageCount returns the number of stored messages of the account.
func (d *DB) MessageCount() (int64, error) {
	var count int64
	err := d.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE account = ?`, d.account).Scan(&count)
	return count, err
}

// DatabaseSize returns the size of the database in bytes.
func (d *DB) DatabaseSize() (int64, error) {
	var pageCount, pageSize int64
	if err := d.db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		return 0, err
	}
	if err := d.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, err
	}
	return pageCount * pageSize, nil
}

func (d *DB) Vacuum() error {
	_, err := d.db.Exec(`VACUUM`)
	return err
}
