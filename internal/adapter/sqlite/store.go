// Package sqlite persists collected machine specs in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	subnet "github.com/Parig0t/compute-subnet-1"

	_ "modernc.org/sqlite"
)

// FileName is the store's file inside the data directory.
const FileName = "validator.db"

// Fixed-width so collected_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS machine_specs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	peer_id TEXT NOT NULL,
	miner_address TEXT NOT NULL,
	duration_class TEXT NOT NULL DEFAULT '',
	specs_json TEXT NOT NULL,
	collected_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS machine_specs_peer ON machine_specs (peer_id, collected_at)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize machine specs schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSpecs appends one workload result.
func (s *Store) SaveSpecs(ctx context.Context, desc subnet.WorkloadDescriptor) error {
	if strings.TrimSpace(desc.PeerID) == "" {
		return errors.New("save machine specs: peer id is required")
	}
	payload, err := json.Marshal(desc.Specs)
	if err != nil {
		return fmt.Errorf("marshal machine specs: %w", err)
	}
	collected := desc.CollectedAt
	if collected.IsZero() {
		collected = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO machine_specs (peer_id, miner_address, duration_class, specs_json, collected_at)
		 VALUES (?, ?, ?, ?, ?)`,
		desc.PeerID,
		desc.MinerAddress,
		desc.DurationClass,
		string(payload),
		collected.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save machine specs: %w", err)
	}
	return nil
}

// ListSpecs returns results newest first. An empty peerID lists every
// miner; a non-positive limit returns all rows.
func (s *Store) ListSpecs(ctx context.Context, peerID string, limit int) ([]subnet.WorkloadDescriptor, error) {
	query := `SELECT peer_id, miner_address, duration_class, specs_json, collected_at FROM machine_specs`
	var args []any
	if peerID = strings.TrimSpace(peerID); peerID != "" {
		query += ` WHERE peer_id = ?`
		args = append(args, peerID)
	}
	query += ` ORDER BY collected_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list machine specs: %w", err)
	}
	defer rows.Close()

	out := make([]subnet.WorkloadDescriptor, 0)
	for rows.Next() {
		desc, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate machine specs rows: %w", err)
	}
	return out, nil
}

// LatestSpecs returns the most recent result for peerID.
func (s *Store) LatestSpecs(ctx context.Context, peerID string) (subnet.WorkloadDescriptor, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT peer_id, miner_address, duration_class, specs_json, collected_at
		 FROM machine_specs WHERE peer_id = ? ORDER BY collected_at DESC, id DESC LIMIT 1`, peerID)
	desc, err := scanDescriptor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return subnet.WorkloadDescriptor{}, false, nil
		}
		return subnet.WorkloadDescriptor{}, false, err
	}
	return desc, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(row scanner) (subnet.WorkloadDescriptor, error) {
	var desc subnet.WorkloadDescriptor
	var specsJSON, collected string
	if err := row.Scan(&desc.PeerID, &desc.MinerAddress, &desc.DurationClass, &specsJSON, &collected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return desc, err
		}
		return desc, fmt.Errorf("scan machine specs row: %w", err)
	}
	if err := json.Unmarshal([]byte(specsJSON), &desc.Specs); err != nil {
		return desc, fmt.Errorf("unmarshal machine specs for %q: %w", desc.PeerID, err)
	}
	at, err := time.Parse(timeLayout, collected)
	if err != nil {
		return desc, fmt.Errorf("parse collected_at for %q: %w", desc.PeerID, err)
	}
	desc.CollectedAt = at
	return desc, nil
}
