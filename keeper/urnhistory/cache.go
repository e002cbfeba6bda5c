package urnhistory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"
)

// Cache persists discovered urn owners and the per-ilk scan watermark so a
// restarted keeper resumes log replay from where it left off instead of the
// deployment block.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if necessary) the sqlite-backed scan cache.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open urn cache: %w", err)
	}
	cache := &Cache{db: db}
	if err := cache.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return cache, nil
}

func (c *Cache) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS urn_owners (
            ilk TEXT NOT NULL,
            address TEXT NOT NULL,
            PRIMARY KEY(ilk, address)
        );`,
		`CREATE TABLE IF NOT EXISTS scan_watermarks (
            ilk TEXT PRIMARY KEY,
            last_block INTEGER NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("init urn cache schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Owners returns every cached urn owner for an ilk.
func (c *Cache) Owners(ctx context.Context, ilk string) ([]common.Address, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT address FROM urn_owners WHERE ilk = ?`, ilk)
	if err != nil {
		return nil, fmt.Errorf("query urn owners: %w", err)
	}
	defer rows.Close()

	var owners []common.Address
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan urn owner: %w", err)
		}
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("corrupt urn owner %q for ilk %s", raw, ilk)
		}
		owners = append(owners, common.HexToAddress(raw))
	}
	return owners, rows.Err()
}

// AddOwners records newly discovered urn owners and advances the scan
// watermark in one transaction so a crash never loses the pairing.
func (c *Cache) AddOwners(ctx context.Context, ilk string, owners []common.Address, lastBlock uint64) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin urn cache tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, owner := range owners {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO urn_owners(ilk, address) VALUES(?, ?)`,
			ilk, owner.Hex())
		if err != nil {
			return fmt.Errorf("insert urn owner: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO scan_watermarks(ilk, last_block) VALUES(?, ?)
         ON CONFLICT(ilk) DO UPDATE SET last_block = excluded.last_block`,
		ilk, int64(lastBlock))
	if err != nil {
		return fmt.Errorf("update scan watermark: %w", err)
	}
	return tx.Commit()
}

// Watermark returns the last scanned block for an ilk, if any.
func (c *Cache) Watermark(ctx context.Context, ilk string) (uint64, bool, error) {
	var last int64
	err := c.db.QueryRowContext(ctx,
		`SELECT last_block FROM scan_watermarks WHERE ilk = ?`, ilk).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query scan watermark: %w", err)
	}
	return uint64(last), true, nil
}
