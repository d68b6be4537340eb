package tier

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Archive is the durable SQLite tier, the source of truth for memory
// records. Its unavailability blocks writes; every other tier is derived.
type Archive struct {
	db *sql.DB
}

// NewArchive opens or creates the archive database at the given path.
func NewArchive(dbPath string) (*Archive, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		content      TEXT NOT NULL,
		response     TEXT NOT NULL DEFAULT '',
		ts           TEXT NOT NULL,
		ctx_kind     TEXT NOT NULL,
		ctx_group    TEXT NOT NULL DEFAULT '',
		ctx_channel  TEXT NOT NULL DEFAULT '',
		importance   REAL NOT NULL DEFAULT 0,
		tags         TEXT NOT NULL DEFAULT '[]',
		metadata     TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user_ts ON memories(user_id, ts DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_user_importance ON memories(user_id, importance DESC);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Name identifies the tier.
func (a *Archive) Name() string { return TierArchive }

// Store durably writes the record. Replaces any previous version by ID.
func (a *Archive) Store(ctx context.Context, rec *memory.Record) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, content, response, ts,
			ctx_kind, ctx_group, ctx_channel, importance, tags, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			response = excluded.response,
			importance = excluded.importance,
			tags = excluded.tags,
			metadata = excluded.metadata`,
		rec.ID, rec.UserID, rec.Content, rec.Response,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Context.Kind, rec.Context.GroupID, rec.Context.ChannelID,
		rec.ImportanceScore, string(tags), string(meta))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	return nil
}

// Retrieve returns the user's records whose content or response matches the
// query, newest first. An empty query matches everything.
func (a *Archive) Retrieve(ctx context.Context, userID, query string, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `SELECT id, user_id, content, response, ts, ctx_kind, ctx_group,
		ctx_channel, importance, tags, metadata FROM memories WHERE user_id = ?`
	args := []any{userID}

	if q := strings.TrimSpace(query); q != "" {
		sqlQuery += ` AND (content LIKE ? OR response LIKE ?)`
		pattern := "%" + q + "%"
		args = append(args, pattern, pattern)
	}
	sqlQuery += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	return a.query(ctx, sqlQuery, args...)
}

// Recent returns the user's most recent records, newest first.
func (a *Archive) Recent(ctx context.Context, userID string, limit int) ([]memory.Record, error) {
	return a.Retrieve(ctx, userID, "", limit)
}

// ByImportance returns the user's records ordered by importance score,
// ties broken by recency (newer first).
func (a *Archive) ByImportance(ctx context.Context, userID string, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	return a.query(ctx, `SELECT id, user_id, content, response, ts, ctx_kind,
		ctx_group, ctx_channel, importance, tags, metadata
		FROM memories WHERE user_id = ?
		ORDER BY importance DESC, ts DESC LIMIT ?`, userID, limit)
}

// Get returns one record by ID, or ErrRecordNotFound.
func (a *Archive) Get(ctx context.Context, id string) (*memory.Record, error) {
	recs, err := a.query(ctx, `SELECT id, user_id, content, response, ts,
		ctx_kind, ctx_group, ctx_channel, importance, tags, metadata
		FROM memories WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrRecordNotFound
	}
	return &recs[0], nil
}

// UpdateImportance persists a recomputed importance score.
func (a *Archive) UpdateImportance(ctx context.Context, id string, score float64) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("%w: %f", memory.ErrInvalidScore, score)
	}
	res, err := a.db.ExecContext(ctx,
		`UPDATE memories SET importance = ? WHERE id = ?`, score, id)
	if err != nil {
		return fmt.Errorf("update importance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update importance: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// CountByUser returns the number of records stored for a user.
func (a *Archive) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

func (a *Archive) query(ctx context.Context, sqlQuery string, args ...any) ([]memory.Record, error) {
	rows, err := a.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	defer rows.Close()

	var recs []memory.Record
	for rows.Next() {
		var (
			rec       memory.Record
			ts        string
			tags      string
			meta      string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Content, &rec.Response,
			&ts, &rec.Context.Kind, &rec.Context.GroupID, &rec.Context.ChannelID,
			&rec.ImportanceScore, &tags, &meta); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("decode timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		rec.Context.Level = memory.LevelForKind(rec.Context.Kind)
		rec.Context.IsPrivate = rec.Context.Level != memory.LevelPublicGroup
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Ping verifies the archive is reachable.
func (a *Archive) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	return nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
