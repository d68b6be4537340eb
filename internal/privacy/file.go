package privacy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fileNamePattern restricts user IDs used as preference file names.
var fileNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// FileStore implements PreferenceStore and AuditStore on local JSON files.
//
// Preferences live in one JSON file per user; the audit log is a single
// append-only JSON-lines file. Intended for single-process local setups;
// the SQLite store is preferred for anything durable.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	closed bool
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "preferences"), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) prefPath(userID string) (string, error) {
	if !fileNamePattern.MatchString(userID) {
		return "", fmt.Errorf("%w: unsafe user ID %q", ErrInvalidPreference, userID)
	}
	return filepath.Join(s.dir, "preferences", userID+".json"), nil
}

func (s *FileStore) auditPath() string {
	return filepath.Join(s.dir, "audit.jsonl")
}

// Get returns the preference for a user, or ErrPreferenceNotFound.
func (s *FileStore) Get(ctx context.Context, userID string) (*Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	path, err := s.prefPath(userID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrPreferenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read preference: %w", err)
	}

	var p Preference
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode preference: %w", err)
	}
	return &p, nil
}

// Upsert writes the preference atomically via rename.
func (s *FileStore) Upsert(ctx context.Context, pref *Preference) error {
	if err := pref.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.writeLocked(pref)
}

func (s *FileStore) writeLocked(pref *Preference) error {
	path, err := s.prefPath(pref.UserID)
	if err != nil {
		return err
	}
	if pref.UpdatedAt.IsZero() {
		pref.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(pref, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preference: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write preference: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace preference: %w", err)
	}
	return nil
}

// SetCustomRule sets one custom rule under the store lock.
func (s *FileStore) SetCustomRule(ctx context.Context, userID, transitionKey string, allow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	path, err := s.prefPath(userID)
	if err != nil {
		return err
	}

	pref := NewDefaultPreference(userID)
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, pref); err != nil {
			return fmt.Errorf("decode preference: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read preference: %w", err)
	}

	if pref.CustomRules == nil {
		pref.CustomRules = map[string]bool{}
	}
	pref.CustomRules[transitionKey] = allow
	pref.UpdatedAt = time.Now().UTC()
	return s.writeLocked(pref)
}

// SetConsentStatus updates the consent status under the store lock.
func (s *FileStore) SetConsentStatus(ctx context.Context, userID string, status ConsentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	path, err := s.prefPath(userID)
	if err != nil {
		return err
	}

	pref := NewDefaultPreference(userID)
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, pref); err != nil {
			return fmt.Errorf("decode preference: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read preference: %w", err)
	}

	pref.ConsentStatus = status
	pref.UpdatedAt = time.Now().UTC()
	return s.writeLocked(pref)
}

// Append writes one audit entry to the JSON-lines log.
func (s *FileStore) Append(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	f, err := os.OpenFile(s.auditPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// History returns recent entries, newest first.
func (s *FileStore) History(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 100
	}

	entries, err := s.readAuditLocked()
	if err != nil {
		return nil, err
	}

	filtered := entries[:0]
	for _, e := range entries {
		if userID == "" || e.UserID == userID {
			filtered = append(filtered, e)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (s *FileStore) readAuditLocked() ([]AuditEntry, error) {
	f, err := os.Open(s.auditPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// Skip torn/corrupt lines rather than losing the whole log.
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// Prune rewrites the audit log without entries older than the cutoff.
func (s *FileStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	entries, err := s.readAuditLocked()
	if err != nil {
		return 0, err
	}

	var kept []AuditEntry
	var pruned int64
	for _, e := range entries {
		if e.Timestamp.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	if pruned == 0 {
		return 0, nil
	}

	tmp := s.auditPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("rewrite audit log: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, e := range kept {
		data, err := json.Marshal(e)
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("encode audit entry: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			return 0, fmt.Errorf("write audit entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("flush audit log: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close audit log: %w", err)
	}
	if err := os.Rename(tmp, s.auditPath()); err != nil {
		return 0, fmt.Errorf("replace audit log: %w", err)
	}
	return pruned, nil
}

// Close marks the store closed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
