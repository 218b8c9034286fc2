package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tracyhatemice/gomailfetch/internal/model"
)

// schema mirrors the tables the record store reads. The real database has
// more columns; only these are read.
const schema = `
CREATE TABLE mail_accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL,
	password TEXT NOT NULL,
	server TEXT NOT NULL,
	port INTEGER NOT NULL,
	protocol TEXT DEFAULT 'imap',
	ssl INTEGER DEFAULT 1,
	remarks TEXT
);
CREATE TABLE proxy_config (
	config_key TEXT PRIMARY KEY,
	config_value TEXT,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE http_proxies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	username TEXT,
	password TEXT,
	status INTEGER DEFAULT 1
);
CREATE TABLE socks5_proxies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	username TEXT,
	password TEXT,
	status INTEGER DEFAULT 1
);
`

// DB is a writable record-store database for tests.
type DB struct {
	Path string
	db   *sqlx.DB
}

// NewDB creates an empty record-store database in a temp dir.
func NewDB(t testing.TB) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mail.sqlite")
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return &DB{Path: path, db: db}
}

// AddAccount inserts a mailbox account.
func (d *DB) AddAccount(t testing.TB, a model.MailAccount) {
	t.Helper()
	protocol := a.Protocol
	if protocol == "" {
		protocol = model.ProtocolIMAP
	}
	_, err := d.db.Exec(`INSERT INTO mail_accounts (email, username, password, server, port, protocol, ssl)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Email, a.Username, a.Password, a.Server, a.Port, protocol, boolToInt(a.UseTLS))
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
}

// AddProxy inserts a proxy row and returns its id. active sets its status.
func (d *DB) AddProxy(t testing.TB, p model.ProxyDescriptor, active bool) int64 {
	t.Helper()
	table := "http_proxies"
	if p.Kind == model.ProxySOCKS5 {
		table = "socks5_proxies"
	}
	res, err := d.db.Exec(`INSERT INTO `+table+` (name, host, port, username, password, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.Host, p.Port, p.Username, p.Password, boolToInt(active))
	if err != nil {
		t.Fatalf("insert proxy: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("proxy id: %v", err)
	}
	return id
}

// SetProxyConfig writes a proxy_config entry.
func (d *DB) SetProxyConfig(t testing.TB, key, value string) {
	t.Helper()
	_, err := d.db.Exec(`INSERT OR REPLACE INTO proxy_config (config_key, config_value) VALUES (?, ?)`, key, value)
	if err != nil {
		t.Fatalf("set proxy config: %v", err)
	}
}

// DropTable removes a table to simulate an older database.
func (d *DB) DropTable(t testing.TB, name string) {
	t.Helper()
	if _, err := d.db.Exec("DROP TABLE " + name); err != nil {
		t.Fatalf("drop %s: %v", name, err)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
