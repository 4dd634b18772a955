package catalog

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zots0127/filegate/internal/domain/entities"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	file_id TEXT PRIMARY KEY,
	storage_key TEXT NOT NULL,
	original_name TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	checksum TEXT NOT NULL DEFAULT '',
	folder TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	state TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_files_storage_key
	ON files(storage_key) WHERE state != 'DELETED';
CREATE INDEX IF NOT EXISTS idx_files_state_created
	ON files(state, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_files_content_type ON files(content_type);
`

// SQLiteCatalog persists file records in SQLite. database/sql serializes
// access through its pool, so the catalog is safe for concurrent callers;
// state transitions rely on conditional UPDATEs for CAS semantics.
type SQLiteCatalog struct {
	db *sql.DB
}

func New(dbPath string) (*SQLiteCatalog, error) {
	// busy_timeout keeps concurrent CAS updates from surfacing spurious
	// lock errors under the default rollback journal.
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create catalog tables: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

func (c *SQLiteCatalog) Insert(ctx context.Context, rec *entities.FileRecord) error {
	if !rec.State.Valid() {
		return fmt.Errorf("invalid lifecycle state %q", rec.State)
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO files
			(file_id, storage_key, original_name, content_type, size_bytes, checksum, folder, created_at, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FileID, rec.StorageKey, rec.OriginalName, rec.ContentType,
		rec.SizeBytes, rec.Checksum, rec.Folder, rec.CreatedAt.UnixNano(), string(rec.State))
	if err != nil {
		return fmt.Errorf("failed to insert file record: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) Get(ctx context.Context, fileID string) (*entities.FileRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT file_id, storage_key, original_name, content_type, size_bytes, checksum, folder, created_at, state
		FROM files WHERE file_id = ?`, fileID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entities.ErrNotFound
	}
	return rec, err
}

// UpdateState performs the compare-and-swap: the UPDATE only matches when the
// current state equals `from`, so exactly one of N concurrent transitions
// wins and the rest observe ErrStateConflict.
func (c *SQLiteCatalog) UpdateState(ctx context.Context, fileID string, from, to entities.LifecycleState) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE files SET state = ? WHERE file_id = ? AND state = ?`,
		string(to), fileID, string(from))
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM files WHERE file_id = ?)`, fileID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return entities.ErrNotFound
	}
	return entities.ErrStateConflict
}

// List pages through ACTIVE records newest first. Pagination is keyset-based
// on (created_at, file_id), so a cursor stays valid under concurrent inserts:
// rows that existed at issuance and remain ACTIVE are neither skipped nor
// repeated.
func (c *SQLiteCatalog) List(ctx context.Context, filter entities.ListFilter, cursor string, limit int) (*entities.ListPage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	query := strings.Builder{}
	query.WriteString(
		`SELECT file_id, storage_key, original_name, content_type, size_bytes, checksum, folder, created_at, state
		FROM files WHERE state = 'ACTIVE'`)
	var args []interface{}

	if filter.ContentType != "" {
		query.WriteString(" AND content_type = ?")
		args = append(args, filter.ContentType)
	}
	if filter.NameContains != "" {
		query.WriteString(" AND original_name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.NameContains)+"%")
	}
	if filter.Folder != "" {
		query.WriteString(" AND folder = ?")
		args = append(args, filter.Folder)
	}
	if filter.CreatedAfter != nil {
		query.WriteString(" AND created_at > ?")
		args = append(args, filter.CreatedAfter.UnixNano())
	}
	if filter.CreatedBefore != nil {
		query.WriteString(" AND created_at < ?")
		args = append(args, filter.CreatedBefore.UnixNano())
	}
	if cursor != "" {
		createdAt, fileID, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		query.WriteString(" AND (created_at < ? OR (created_at = ? AND file_id < ?))")
		args = append(args, createdAt, createdAt, fileID)
	}

	query.WriteString(" ORDER BY created_at DESC, file_id DESC LIMIT ?")
	args = append(args, limit+1)

	rows, err := c.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var records []*entities.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &entities.ListPage{}
	if len(records) > limit {
		records = records[:limit]
		last := records[len(records)-1]
		page.NextCursor = encodeCursor(last.CreatedAt.UnixNano(), last.FileID)
	}
	page.Records = records
	return page, nil
}

func (c *SQLiteCatalog) ActiveStorageKeys(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT storage_key FROM files WHERE state = 'ACTIVE'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active storage keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = true
	}
	return keys, rows.Err()
}

func (c *SQLiteCatalog) DeletePermanently(ctx context.Context, fileID string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return entities.ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*entities.FileRecord, error) {
	var rec entities.FileRecord
	var createdAt int64
	var state string
	err := row.Scan(&rec.FileID, &rec.StorageKey, &rec.OriginalName, &rec.ContentType,
		&rec.SizeBytes, &rec.Checksum, &rec.Folder, &createdAt, &state)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.State = entities.LifecycleState(state)
	return &rec, nil
}

func encodeCursor(createdAt int64, fileID string) string {
	raw := strconv.FormatInt(createdAt, 10) + "|" + fileID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", entities.ErrInvalidCursor
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return 0, "", entities.ErrInvalidCursor
	}
	createdAt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", entities.ErrInvalidCursor
	}
	return createdAt, parts[1], nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
