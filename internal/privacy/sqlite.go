package privacy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// SQLiteStore implements PreferenceStore and AuditStore on a relational
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the privacy database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		user_id                 TEXT PRIMARY KEY,
		level                   TEXT NOT NULL,
		allow_cross_group       INTEGER,
		allow_direct_to_group   INTEGER,
		allow_group_to_direct   INTEGER,
		allow_private_to_public INTEGER,
		custom_rules            TEXT NOT NULL DEFAULT '{}',
		consent_status          TEXT NOT NULL,
		updated_at              TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		source_level  TEXT NOT NULL,
		target_level  TEXT NOT NULL,
		decision      TEXT NOT NULL,
		reason        TEXT NOT NULL,
		privacy_level TEXT NOT NULL,
		ts            TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_user_ts ON audit_log(user_id, ts DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

func boolToNull(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return int64(1)
	}
	return int64(0)
}

func nullToBool(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}

// Get returns the preference for a user, or ErrPreferenceNotFound.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*Preference, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT level, allow_cross_group, allow_direct_to_group,
		       allow_group_to_direct, allow_private_to_public,
		       custom_rules, consent_status, updated_at
		FROM preferences WHERE user_id = ?`, userID)

	var (
		p              = Preference{UserID: userID}
		cg, dg, gd, pp sql.NullInt64
		rules          string
		updatedAt      string
	)
	err := row.Scan(&p.Level, &cg, &dg, &gd, &pp, &rules, &p.ConsentStatus, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPreferenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query preference: %w", err)
	}

	p.AllowCrossGroup = nullToBool(cg)
	p.AllowDirectToGroup = nullToBool(dg)
	p.AllowGroupToDirect = nullToBool(gd)
	p.AllowPrivateToPublic = nullToBool(pp)

	if err := json.Unmarshal([]byte(rules), &p.CustomRules); err != nil {
		return nil, fmt.Errorf("decode custom rules: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &p, nil
}

// Upsert atomically writes the preference record.
func (s *SQLiteStore) Upsert(ctx context.Context, pref *Preference) error {
	if err := pref.Validate(); err != nil {
		return err
	}
	rules, err := json.Marshal(pref.CustomRules)
	if err != nil {
		return fmt.Errorf("encode custom rules: %w", err)
	}
	if pref.UpdatedAt.IsZero() {
		pref.UpdatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, level, allow_cross_group,
			allow_direct_to_group, allow_group_to_direct,
			allow_private_to_public, custom_rules, consent_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			level = excluded.level,
			allow_cross_group = excluded.allow_cross_group,
			allow_direct_to_group = excluded.allow_direct_to_group,
			allow_group_to_direct = excluded.allow_group_to_direct,
			allow_private_to_public = excluded.allow_private_to_public,
			custom_rules = excluded.custom_rules,
			consent_status = excluded.consent_status,
			updated_at = excluded.updated_at`,
		pref.UserID, pref.Level,
		boolToNull(pref.AllowCrossGroup), boolToNull(pref.AllowDirectToGroup),
		boolToNull(pref.AllowGroupToDirect), boolToNull(pref.AllowPrivateToPublic),
		string(rules), pref.ConsentStatus, pref.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// SetCustomRule atomically sets one custom rule inside a transaction,
// creating the preference with defaults if absent.
func (s *SQLiteStore) SetCustomRule(ctx context.Context, userID, transitionKey string, allow bool) error {
	if userID == "" {
		return memory.ErrEmptyUserID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var rules string
	err = tx.QueryRowContext(ctx,
		`SELECT custom_rules FROM preferences WHERE user_id = ?`, userID).Scan(&rules)
	switch {
	case err == sql.ErrNoRows:
		pref := NewDefaultPreference(userID)
		pref.CustomRules[transitionKey] = allow
		encoded, merr := json.Marshal(pref.CustomRules)
		if merr != nil {
			return fmt.Errorf("encode custom rules: %w", merr)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO preferences (user_id, level, custom_rules, consent_status, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			userID, pref.Level, string(encoded), pref.ConsentStatus,
			pref.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert preference: %w", err)
		}
	case err != nil:
		return fmt.Errorf("query custom rules: %w", err)
	default:
		parsed := map[string]bool{}
		if err := json.Unmarshal([]byte(rules), &parsed); err != nil {
			return fmt.Errorf("decode custom rules: %w", err)
		}
		parsed[transitionKey] = allow
		encoded, merr := json.Marshal(parsed)
		if merr != nil {
			return fmt.Errorf("encode custom rules: %w", merr)
		}
		if _, err = tx.ExecContext(ctx, `
			UPDATE preferences SET custom_rules = ?, updated_at = ? WHERE user_id = ?`,
			string(encoded), time.Now().UTC().Format(time.RFC3339Nano), userID); err != nil {
			return fmt.Errorf("update custom rules: %w", err)
		}
	}

	return tx.Commit()
}

// SetConsentStatus atomically updates the consent status, creating the
// preference with defaults if absent.
func (s *SQLiteStore) SetConsentStatus(ctx context.Context, userID string, status ConsentStatus) error {
	if userID == "" {
		return memory.ErrEmptyUserID
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE preferences SET consent_status = ?, updated_at = ? WHERE user_id = ?`,
		status, now, userID)
	if err != nil {
		return fmt.Errorf("update consent status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update consent status: %w", err)
	}
	if affected == 0 {
		pref := NewDefaultPreference(userID)
		pref.ConsentStatus = status
		return s.Upsert(ctx, pref)
	}
	return nil
}

// Append writes one audit entry.
func (s *SQLiteStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, source_level, target_level,
			decision, reason, privacy_level, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.SourceLevel, entry.TargetLevel,
		entry.Decision, entry.Reason, entry.PrivacyLevel,
		entry.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// History returns recent entries, newest first.
func (s *SQLiteStore) History(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, user_id, source_level, target_level, decision, reason, privacy_level, ts
		FROM audit_log`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceLevel, &e.TargetLevel,
			&e.Decision, &e.Reason, &e.PrivacyLevel, &ts); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("decode audit timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE ts < ?`, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune audit log: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
