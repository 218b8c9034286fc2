// Package store reads mailbox accounts and the active proxy from the
// operator's SQLite database. The database is owned by another service;
// this package never writes to it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tracyhatemice/gomailfetch/internal/model"
)

// ErrAccountNotFound is returned when no account has the requested email.
var ErrAccountNotFound = errors.New("mailbox account not found")

// Proxy configuration keys in proxy_config.
const (
	keyProxyEnabled = "proxy_enabled"
	keyProxyType    = "active_proxy_type"
	keyProxyID      = "active_proxy_id"
)

// Store is a read-only view of the record store.
type Store struct {
	db *sqlx.DB
}

// Open opens the database at path read-only.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	db, err := sqlx.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LookupAccount returns the account registered for email.
func (s *Store) LookupAccount(ctx context.Context, email string) (model.MailAccount, error) {
	var a model.MailAccount
	err := s.db.GetContext(ctx, &a, `
		SELECT email, username, password, server, port,
			COALESCE(protocol, 'imap') AS protocol,
			COALESCE(ssl, 1) AS ssl
		FROM mail_accounts WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MailAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return model.MailAccount{}, fmt.Errorf("looking up account %s: %w", email, err)
	}
	return a, nil
}

type proxyRow struct {
	Name     string `db:"name"`
	Host     string `db:"host"`
	Port     int    `db:"port"`
	Username string `db:"username"`
	Password string `db:"password"`
}

// ActiveProxy returns the proxy selected by the operator. A missing
// configuration, a disabled proxy, or a selected proxy that no longer
// exists or is inactive all yield a disabled descriptor.
func (s *Store) ActiveProxy(ctx context.Context) (model.ProxyDescriptor, error) {
	ok, err := s.hasTable(ctx, "proxy_config")
	if err != nil || !ok {
		return model.ProxyDescriptor{}, err
	}

	var rows []struct {
		Key   string `db:"config_key"`
		Value string `db:"config_value"`
	}
	err = s.db.SelectContext(ctx, &rows, `
		SELECT config_key, COALESCE(config_value, '') AS config_value
		FROM proxy_config WHERE config_key IN (?, ?, ?)`,
		keyProxyEnabled, keyProxyType, keyProxyID)
	if err != nil {
		return model.ProxyDescriptor{}, fmt.Errorf("reading proxy config: %w", err)
	}
	cfg := make(map[string]string, len(rows))
	for _, r := range rows {
		cfg[r.Key] = r.Value
	}

	if cfg[keyProxyEnabled] != "1" {
		return model.ProxyDescriptor{}, nil
	}
	id, _ := strconv.Atoi(cfg[keyProxyID])
	if cfg[keyProxyType] == "" || id <= 0 {
		return model.ProxyDescriptor{}, nil
	}

	kind, table := model.ProxyHTTP, "http_proxies"
	if cfg[keyProxyType] == string(model.ProxySOCKS5) {
		kind, table = model.ProxySOCKS5, "socks5_proxies"
	}
	ok, err = s.hasTable(ctx, table)
	if err != nil || !ok {
		return model.ProxyDescriptor{}, err
	}

	var p proxyRow
	// table is one of two constants above.
	err = s.db.GetContext(ctx, &p, `
		SELECT COALESCE(name, '') AS name, host, port,
			COALESCE(username, '') AS username,
			COALESCE(password, '') AS password
		FROM `+table+` WHERE id = ? AND status = 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProxyDescriptor{}, nil
	}
	if err != nil {
		return model.ProxyDescriptor{}, fmt.Errorf("reading %s proxy %d: %w", kind, id, err)
	}
	return model.ProxyDescriptor{
		Enabled:  true,
		Kind:     kind,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Password: p.Password,
		Name:     p.Name,
	}, nil
}

func (s *Store) hasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", name, err)
	}
	return n > 0, nil
}
