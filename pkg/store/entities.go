package store

import (
	"database/sql"
	"errors"
	"time"

	errs "immichporter/pkg/errors"
)

// User roles as recorded during extraction.
const (
	RoleOwner  = "owner"
	RoleShared = "shared"
)

// User is a person referenced by albums or assets. Users are identified by
// display name because the source service never exposes contact addresses
// for sharing partners; email stays empty until filled in manually.
type User struct {
	ID      int64
	Name    string
	Email   string
	Role    string
	Include bool
}

// Album is a scraped album. Items is the declared size from the album
// listing, ProcessedItems tracks how far photo extraction has progressed.
type Album struct {
	ID             int64
	SourceID       string
	Title          string
	Shared         bool
	OwnerID        int64
	Items          int
	ProcessedItems int
	SourceURL      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Asset is a scraped photo or video.
type Asset struct {
	ID         int64
	SourceID   string
	Filename   string
	MediaType  string
	CapturedAt *time.Time
	OwnerID    int64
	Saved      bool
}

// Tag is a label attached to assets during extraction runs.
type Tag struct {
	ID    int64
	Label string
}

// UpsertUser inserts or updates a user keyed by name and returns the row id.
// An existing email is never cleared by an empty incoming one, and a user
// already marked as owner keeps that role.
func (s *Store) UpsertUser(u User) (int64, error) {
	if u.Name == "" {
		return 0, errs.New(errs.ErrorTypeValidation, "user name is required")
	}
	if u.Role == "" {
		u.Role = RoleShared
	}

	var email interface{}
	if u.Email != "" {
		email = u.Email
	}

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO users (name, email, role, include)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			email = COALESCE(excluded.email, users.email),
			role  = CASE WHEN users.role = 'owner' THEN 'owner' ELSE excluded.role END
		RETURNING id`,
		u.Name, email, u.Role, u.Include,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SetUserEmail fills in a user's email address.
func (s *Store) SetUserEmail(name, email string) error {
	res, err := s.db.Exec("UPDATE users SET email = ? WHERE name = ?", email, name)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.Newf(errs.ErrorTypeNotFound, "user %q not found", name)
	}
	return nil
}

// SetUserInclude toggles whether a user participates in reconciliation.
func (s *Store) SetUserInclude(name string, include bool) error {
	res, err := s.db.Exec("UPDATE users SET include = ? WHERE name = ?", include, name)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.Newf(errs.ErrorTypeNotFound, "user %q not found", name)
	}
	return nil
}

// Users returns all users ordered by name.
func (s *Store) Users() ([]User, error) {
	rows, err := s.db.Query("SELECT id, name, COALESCE(email, ''), role, include FROM users ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Include); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UserByName looks up a single user.
func (s *Store) UserByName(name string) (*User, error) {
	var u User
	err := s.db.QueryRow(
		"SELECT id, name, COALESCE(email, ''), role, include FROM users WHERE name = ?", name,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Include)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.ErrorTypeNotFound, "user %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertAlbum inserts or updates an album keyed by its source id and
// returns the row id. ProcessedItems is preserved on update so resumed
// runs keep their progress counter.
func (s *Store) UpsertAlbum(a Album) (int64, error) {
	if a.SourceID == "" {
		return 0, errs.New(errs.ErrorTypeValidation, "album source id is required")
	}

	var owner interface{}
	if a.OwnerID > 0 {
		owner = a.OwnerID
	}

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO albums (source_id, title, shared, owner_id, items, source_url)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			title      = excluded.title,
			shared     = excluded.shared,
			owner_id   = COALESCE(excluded.owner_id, albums.owner_id),
			items      = excluded.items,
			source_url = excluded.source_url,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id`,
		a.SourceID, a.Title, a.Shared, owner, a.Items, a.SourceURL,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SetProcessedItems records photo-extraction progress for an album.
func (s *Store) SetProcessedItems(albumID int64, processed int) error {
	_, err := s.db.Exec(
		"UPDATE albums SET processed_items = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		processed, albumID,
	)
	return err
}

// AlbumFilter narrows album queries for reporting and resumed runs.
type AlbumFilter struct {
	// NotFinished selects albums whose processed count is below the
	// declared item count.
	NotFinished bool
	Limit       int
	Offset      int
}

// Albums returns albums matching the filter, ordered by title.
func (s *Store) Albums(filter AlbumFilter) ([]Album, error) {
	query := `SELECT id, source_id, title, shared, COALESCE(owner_id, 0), items,
		processed_items, source_url, created_at, updated_at FROM albums`
	if filter.NotFinished {
		query += " WHERE processed_items < items"
	}
	query += " ORDER BY title"

	var args []interface{}
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Album
	for rows.Next() {
		var a Album
		if err := rows.Scan(&a.ID, &a.SourceID, &a.Title, &a.Shared, &a.OwnerID,
			&a.Items, &a.ProcessedItems, &a.SourceURL, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AlbumBySourceID looks up a single album by its source identifier.
func (s *Store) AlbumBySourceID(sourceID string) (*Album, error) {
	var a Album
	err := s.db.QueryRow(`SELECT id, source_id, title, shared, COALESCE(owner_id, 0), items,
		processed_items, source_url, created_at, updated_at FROM albums WHERE source_id = ?`, sourceID,
	).Scan(&a.ID, &a.SourceID, &a.Title, &a.Shared, &a.OwnerID,
		&a.Items, &a.ProcessedItems, &a.SourceURL, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.ErrorTypeNotFound, "album %q not found", sourceID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpsertAsset inserts or updates an asset keyed by its source id and
// returns the row id.
func (s *Store) UpsertAsset(a Asset) (int64, error) {
	if a.SourceID == "" {
		return 0, errs.New(errs.ErrorTypeValidation, "asset source id is required")
	}
	if a.MediaType == "" {
		a.MediaType = "image"
	}

	var owner interface{}
	if a.OwnerID > 0 {
		owner = a.OwnerID
	}
	var captured interface{}
	if a.CapturedAt != nil {
		captured = a.CapturedAt.UTC()
	}

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO assets (source_id, filename, media_type, captured_at, owner_id, saved)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			filename    = excluded.filename,
			media_type  = excluded.media_type,
			captured_at = COALESCE(excluded.captured_at, assets.captured_at),
			owner_id    = COALESCE(excluded.owner_id, assets.owner_id),
			saved       = excluded.saved
		RETURNING id`,
		a.SourceID, a.Filename, a.MediaType, captured, owner, a.Saved,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// LinkAlbumAsset records album membership at the given position. Linking
// the same pair twice updates the position instead of duplicating the row.
func (s *Store) LinkAlbumAsset(albumID, assetID int64, position int) error {
	_, err := s.db.Exec(`
		INSERT INTO album_assets (album_id, asset_id, position)
		VALUES (?, ?, ?)
		ON CONFLICT(album_id, asset_id) DO UPDATE SET position = excluded.position`,
		albumID, assetID, position,
	)
	return err
}

// LinkAlbumUser records that a user participates in an album.
func (s *Store) LinkAlbumUser(albumID, userID int64) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO album_users (album_id, user_id) VALUES (?, ?)",
		albumID, userID,
	)
	return err
}

// AlbumAssets returns an album's assets ordered by their recorded position.
func (s *Store) AlbumAssets(albumID int64) ([]Asset, error) {
	rows, err := s.db.Query(`
		SELECT a.id, a.source_id, a.filename, a.media_type, a.captured_at, COALESCE(a.owner_id, 0), a.saved
		FROM assets a
		JOIN album_assets aa ON aa.asset_id = a.id
		WHERE aa.album_id = ?
		ORDER BY aa.position`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAssets(rows)
}

// AlbumUsers returns the users linked to an album.
func (s *Store) AlbumUsers(albumID int64) ([]User, error) {
	rows, err := s.db.Query(`
		SELECT u.id, u.name, COALESCE(u.email, ''), u.role, u.include
		FROM users u
		JOIN album_users au ON au.user_id = u.id
		WHERE au.album_id = ?
		ORDER BY u.name`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Include); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Assets returns all assets ordered by source id.
func (s *Store) Assets() ([]Asset, error) {
	rows, err := s.db.Query(`SELECT id, source_id, filename, media_type, captured_at,
		COALESCE(owner_id, 0), saved FROM assets ORDER BY source_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAssets(rows)
}

func scanAssets(rows *sql.Rows) ([]Asset, error) {
	var out []Asset
	for rows.Next() {
		var (
			a        Asset
			captured sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.SourceID, &a.Filename, &a.MediaType, &captured, &a.OwnerID, &a.Saved); err != nil {
			return nil, err
		}
		if captured.Valid {
			t := captured.Time
			a.CapturedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AssetBySourceID looks up a single asset by its source identifier.
func (s *Store) AssetBySourceID(sourceID string) (*Asset, error) {
	var (
		a        Asset
		captured sql.NullTime
	)
	err := s.db.QueryRow(`SELECT id, source_id, filename, media_type, captured_at,
		COALESCE(owner_id, 0), saved FROM assets WHERE source_id = ?`, sourceID,
	).Scan(&a.ID, &a.SourceID, &a.Filename, &a.MediaType, &captured, &a.OwnerID, &a.Saved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.ErrorTypeNotFound, "asset %q not found", sourceID)
	}
	if err != nil {
		return nil, err
	}
	if captured.Valid {
		t := captured.Time
		a.CapturedAt = &t
	}
	return &a, nil
}

// UpsertTag inserts a tag if missing and returns its row id.
func (s *Store) UpsertTag(label string) (int64, error) {
	if label == "" {
		return 0, errs.New(errs.ErrorTypeValidation, "tag label is required")
	}

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO tags (label) VALUES (?)
		ON CONFLICT(label) DO UPDATE SET label = excluded.label
		RETURNING id`, label,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// TagAsset attaches a tag to an asset.
func (s *Store) TagAsset(assetID, tagID int64) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO asset_tags (asset_id, tag_id) VALUES (?, ?)",
		assetID, tagID,
	)
	return err
}

// TagAssetsBySource attaches a tag to the assets named by source id,
// creating the tag if missing. Every id is resolved first, so an unknown
// id fails the call before anything is linked.
func (s *Store) TagAssetsBySource(label string, sourceIDs []string) error {
	ids := make([]int64, 0, len(sourceIDs))
	for _, sid := range sourceIDs {
		asset, err := s.AssetBySourceID(sid)
		if err != nil {
			return err
		}
		ids = append(ids, asset.ID)
	}

	tagID, err := s.UpsertTag(label)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.TagAsset(id, tagID); err != nil {
			return err
		}
	}
	return nil
}

// TagAlbumAssets attaches a tag to every asset of an album, creating the
// tag if missing, and returns how many assets it covered.
func (s *Store) TagAlbumAssets(label, albumSourceID string) (int, error) {
	album, err := s.AlbumBySourceID(albumSourceID)
	if err != nil {
		return 0, err
	}
	assets, err := s.AlbumAssets(album.ID)
	if err != nil {
		return 0, err
	}

	tagID, err := s.UpsertTag(label)
	if err != nil {
		return 0, err
	}
	for _, a := range assets {
		if err := s.TagAsset(a.ID, tagID); err != nil {
			return 0, err
		}
	}
	return len(assets), nil
}

// Tags returns all tags ordered by label.
func (s *Store) Tags() ([]Tag, error) {
	rows, err := s.db.Query("SELECT id, label FROM tags ORDER BY label")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Label); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TagAssets returns the source ids of assets carrying the given tag.
func (s *Store) TagAssets(tagID int64) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT a.source_id FROM assets a
		JOIN asset_tags at ON at.asset_id = a.id
		WHERE at.tag_id = ?
		ORDER BY a.source_id`, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteTag removes a tag and its asset links from the local store.
func (s *Store) DeleteTag(label string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow("SELECT id FROM tags WHERE label = ?", label).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Newf(errs.ErrorTypeNotFound, "tag %q not found", label)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM asset_tags WHERE tag_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM tags WHERE id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}
