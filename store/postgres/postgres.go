package postgres

import (
	"context"
	"database/sql"

	"github.com/juju/errors"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/store"
)

var (
	_ store.Store         = &pgStore{}
	_ store.PrefixRemover = &pgStore{}
)

const (
	createTableSQL = `
		CREATE TABLE IF NOT EXISTS launchpad_store (
			prefix VARCHAR(255) NOT NULL,
			key VARCHAR(255) NOT NULL,
			value BYTEA,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (prefix, key)
		);
		CREATE INDEX IF NOT EXISTS idx_launchpad_store_prefix ON launchpad_store(prefix);
	`
	getSQL = `SELECT value FROM launchpad_store WHERE prefix = $1 AND key = $2`
	// records are rewritten on every worker state change
	upsertSQL = `
		INSERT INTO launchpad_store (prefix, key, value, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (prefix, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP
	`
	removeSQL       = `DELETE FROM launchpad_store WHERE prefix = $1 AND key = $2`
	removePrefixSQL = `DELETE FROM launchpad_store WHERE prefix = $1`
	listSQL         = `SELECT key FROM launchpad_store WHERE prefix = $1 ORDER BY key`
)

type pgStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the database and makes sure the record
// table exists. A nil config means DefaultConfig.
func NewPostgresStore(config *Config) (store.Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, errors.Annotatef(err, "open postgres %s", config.Address())
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "ping postgres %s", config.Address())
	}
	if _, err := db.ExecContext(context.Background(), createTableSQL); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "create record table")
	}
	log.Debugf("worker records kept in postgres %s/%s", config.Address(), config.Database)
	return &pgStore{db: db}, nil
}

func (p *pgStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, getSQL, prefix, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return value, errors.Annotatef(err, "get %s%s", prefix, key)
}

func (p *pgStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, upsertSQL, prefix, key, value)
	return errors.Annotatef(err, "set %s%s", prefix, key)
}

func (p *pgStore) Remove(ctx context.Context, prefix, key string) error {
	_, err := p.db.ExecContext(ctx, removeSQL, prefix, key)
	return errors.Annotatef(err, "remove %s%s", prefix, key)
}

func (p *pgStore) RemovePrefix(ctx context.Context, prefix string) error {
	_, err := p.db.ExecContext(ctx, removePrefixSQL, prefix)
	return errors.Annotatef(err, "remove %s", prefix)
}

func (p *pgStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	rows, err := p.db.QueryContext(ctx, listSQL, prefix)
	if err != nil {
		return errors.Annotatef(err, "list %s", prefix)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return errors.Annotatef(err, "scan key of %s", prefix)
		}
		if !iterator(key) {
			break
		}
	}
	return errors.Annotatef(rows.Err(), "list %s", prefix)
}

func (p *pgStore) Close() error {
	return p.db.Close()
}
