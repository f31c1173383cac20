package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"MarginVenue/internal/state"
)

// SnapshotName is the key of the single snapshot row. The engine state is
// small enough to persist whole; there is no history of snapshots.
const SnapshotName = "venue_state"

// SnapshotData is the full engine state at a point in time.
type SnapshotData struct {
	Users     map[string]*state.User `json:"users"`
	CreatedAt time.Time              `json:"created_at"`
}

// SnapshotStore persists engine snapshots to Postgres.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// EnsureSchema creates the snapshot table if it doesn't exist.
func (ss *SnapshotStore) EnsureSchema(ctx context.Context) error {
	_, err := ss.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS venue_snapshots (
			name       TEXT PRIMARY KEY,
			data       JSONB NOT NULL,
			size_bytes BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

// Save upserts the snapshot row. Returns the serialized size in bytes.
func (ss *SnapshotStore) Save(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = ss.db.ExecContext(ctx, `
		INSERT INTO venue_snapshots (name, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET data = $2, size_bytes = $3, created_at = $4
	`, SnapshotName, data, len(data), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	return len(data), nil
}

// Load returns the stored snapshot, or nil on a cold start.
func (ss *SnapshotStore) Load(ctx context.Context) (*SnapshotData, error) {
	row := ss.db.QueryRowContext(ctx, `
		SELECT data FROM venue_snapshots WHERE name = $1
	`, SnapshotName)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}
