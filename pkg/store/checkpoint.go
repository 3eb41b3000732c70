package store

import (
	"database/sql"
	"errors"
	"time"
)

// Checkpoint marks a unit of work as durably completed. Units are free-form
// strings such as "albums" for the listing pass or "album/<source_id>" for
// a fully extracted album. Re-checkpointing a unit refreshes its timestamp.
func (s *Store) Checkpoint(unit string) error {
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (unit, completed_at)
		VALUES (?, CURRENT_TIMESTAMP)
		ON CONFLICT(unit) DO UPDATE SET completed_at = CURRENT_TIMESTAMP`,
		unit,
	)
	return err
}

// IsCheckpointed reports whether a unit has been completed.
func (s *Store) IsCheckpointed(unit string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM checkpoints WHERE unit = ?", unit).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CheckpointRecord is a completed unit of work.
type CheckpointRecord struct {
	Unit        string
	CompletedAt time.Time
}

// LastCheckpoint returns the most recently completed unit, or nil if no
// unit has been checkpointed yet.
func (s *Store) LastCheckpoint() (*CheckpointRecord, error) {
	var rec CheckpointRecord
	err := s.db.QueryRow(
		"SELECT unit, completed_at FROM checkpoints ORDER BY completed_at DESC, unit DESC LIMIT 1",
	).Scan(&rec.Unit, &rec.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ClearCheckpoints drops all completion markers, forcing the next run to
// start from scratch.
func (s *Store) ClearCheckpoints() error {
	_, err := s.db.Exec("DELETE FROM checkpoints")
	return err
}

// Mapping entity kinds.
const (
	EntityUser  = "user"
	EntityAlbum = "album"
	EntityAsset = "asset"
	EntityTag   = "tag"
)

// MapDestinationID records the destination-side identifier assigned to a
// source entity. The write is immediate so an interrupted import run never
// recreates an entity it already pushed.
func (s *Store) MapDestinationID(entity, sourceKey, destinationID string) error {
	_, err := s.db.Exec(`
		INSERT INTO id_mappings (entity, source_key, destination_id)
		VALUES (?, ?, ?)
		ON CONFLICT(entity, source_key) DO UPDATE SET destination_id = excluded.destination_id`,
		entity, sourceKey, destinationID,
	)
	return err
}

// DestinationID looks up the destination identifier for a source entity.
// The boolean is false when no mapping exists.
func (s *Store) DestinationID(entity, sourceKey string) (string, bool, error) {
	var id string
	err := s.db.QueryRow(
		"SELECT destination_id FROM id_mappings WHERE entity = ? AND source_key = ?",
		entity, sourceKey,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Mappings returns every recorded mapping for an entity kind.
func (s *Store) Mappings(entity string) (map[string]string, error) {
	rows, err := s.db.Query(
		"SELECT source_key, destination_id FROM id_mappings WHERE entity = ?", entity,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		out[key] = id
	}
	return out, rows.Err()
}

// DeleteMapping removes a single mapping, typically after the destination
// entity was deleted out of band.
func (s *Store) DeleteMapping(entity, sourceKey string) error {
	_, err := s.db.Exec(
		"DELETE FROM id_mappings WHERE entity = ? AND source_key = ?",
		entity, sourceKey,
	)
	return err
}

// Stats summarizes the store contents for reporting.
type Stats struct {
	Users  int
	Albums int
	Assets int
	Tags   int
	Errors int
	// FinishedAlbums counts albums whose processed count reached the
	// declared item count.
	FinishedAlbums int
}

// Stats computes summary counts across all tables.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM users", &st.Users},
		{"SELECT COUNT(*) FROM albums", &st.Albums},
		{"SELECT COUNT(*) FROM assets", &st.Assets},
		{"SELECT COUNT(*) FROM tags", &st.Tags},
		{"SELECT COUNT(*) FROM scrape_errors", &st.Errors},
		{"SELECT COUNT(*) FROM albums WHERE items > 0 AND processed_items >= items", &st.FinishedAlbums},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	return st, nil
}
