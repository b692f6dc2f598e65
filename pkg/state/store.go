// Package state implements the scoped context store shared by agents and the
// turn pipeline. Session, user, and app scopes persist to sqlite; the
// ephemeral scope lives in memory and is dropped on restart.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"pedagogue/pkg/eventlog"
	"pedagogue/pkg/persistence"
)

// Scope identifies one of the four state namespaces.
type Scope string

const (
	ScopeSession   Scope = "session"
	ScopeUser      Scope = "user"
	ScopeApp       Scope = "app"
	ScopeEphemeral Scope = "ephemeral"
)

// ActorSystem is the only actor allowed to write app-scoped keys.
const ActorSystem = "system"

// ErrScopeViolation is returned when an unprivileged actor writes app scope.
var ErrScopeViolation = errors.New("scope violation")

// ErrKeyNotFound is returned when a key has never been set.
var ErrKeyNotFound = errors.New("key not found")

// ValidScope reports whether s names a known scope.
func ValidScope(s Scope) bool {
	switch s {
	case ScopeSession, ScopeUser, ScopeApp, ScopeEphemeral:
		return true
	}
	return false
}

// Store is the scoped context store. Audit is optional; when set, every
// persistent write is recorded as an eventlog entry.
type Store struct {
	db    *sql.DB
	audit *eventlog.Writer

	mu        sync.RWMutex
	ephemeral map[string]string
}

// NewStore creates a store backed by db, auditing to audit when non-nil.
func NewStore(db *sql.DB, audit *eventlog.Writer) *Store {
	return &Store{
		db:        db,
		audit:     audit,
		ephemeral: make(map[string]string),
	}
}

func ephemeralKey(ownerID, key string) string {
	return ownerID + "\x00" + key
}

func encodeValue(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	return string(data), nil
}

func checkWrite(scope Scope, actor string) error {
	if !ValidScope(scope) {
		return fmt.Errorf("unknown scope %q", scope)
	}
	if scope == ScopeApp && actor != ActorSystem {
		return fmt.Errorf("%w: actor %q cannot write app scope", ErrScopeViolation, actor)
	}
	return nil
}

// Get returns the decoded value for one key. Returns ErrKeyNotFound when the
// key has never been set.
func (s *Store) Get(scope Scope, ownerID, key string) (any, error) {
	raw, err := s.GetRaw(scope, ownerID, key)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("corrupt stored value for %s/%s/%s: %w", scope, ownerID, key, err)
	}
	return value, nil
}

// GetRaw returns the stored JSON text for one key.
func (s *Store) GetRaw(scope Scope, ownerID, key string) (string, error) {
	if !ValidScope(scope) {
		return "", fmt.Errorf("unknown scope %q", scope)
	}
	if scope == ScopeEphemeral {
		s.mu.RLock()
		raw, ok := s.ephemeral[ephemeralKey(ownerID, key)]
		s.mu.RUnlock()
		if !ok {
			return "", ErrKeyNotFound
		}
		return raw, nil
	}

	raw, err := persistence.GetScopedState(s.db, string(scope), ownerID, key)
	if errors.Is(err, persistence.ErrNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return raw, nil
}

// Set writes one key immediately. The value must be JSON-serializable.
// App-scoped writes require the system actor.
func (s *Store) Set(scope Scope, ownerID, key string, value any, actor string) error {
	if err := checkWrite(scope, actor); err != nil {
		return err
	}
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}

	if scope == ScopeEphemeral {
		s.mu.Lock()
		s.ephemeral[ephemeralKey(ownerID, key)] = raw
		s.mu.Unlock()
		return nil
	}

	oldValue, err := s.GetRaw(scope, ownerID, key)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return err
	}

	if err := persistence.UpsertScopedState(s.db, string(scope), ownerID, key, raw); err != nil {
		return err
	}
	s.recordAudit(scope, ownerID, key, oldValue, raw, actor, "")
	return nil
}

// ClearEphemeral drops every ephemeral key belonging to ownerID. Ephemeral
// values are scratch space for a single turn; the turn pipeline calls this
// when a turn ends so nothing leaks into the next one.
func (s *Store) ClearEphemeral(ownerID string) {
	prefix := ownerID + "\x00"
	s.mu.Lock()
	for k := range s.ephemeral {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(s.ephemeral, k)
		}
	}
	s.mu.Unlock()
}

// Snapshot returns all keys under (scope, owner) decoded into a map.
func (s *Store) Snapshot(scope Scope, ownerID string) (map[string]any, error) {
	if !ValidScope(scope) {
		return nil, fmt.Errorf("unknown scope %q", scope)
	}

	snapshot := make(map[string]any)

	if scope == ScopeEphemeral {
		prefix := ownerID + "\x00"
		s.mu.RLock()
		for k, raw := range s.ephemeral {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				var value any
				if err := json.Unmarshal([]byte(raw), &value); err != nil {
					s.mu.RUnlock()
					return nil, fmt.Errorf("corrupt ephemeral value for %s: %w", k, err)
				}
				snapshot[k[len(prefix):]] = value
			}
		}
		s.mu.RUnlock()
		return snapshot, nil
	}

	values, err := persistence.SnapshotScopedState(s.db, string(scope), ownerID)
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		var value any
		if err := json.Unmarshal([]byte(v.ValueJSON), &value); err != nil {
			return nil, fmt.Errorf("corrupt stored value for %s/%s/%s: %w", v.Scope, v.OwnerID, v.Key, err)
		}
		snapshot[v.Key] = value
	}
	return snapshot, nil
}

func (s *Store) recordAudit(scope Scope, ownerID, key, oldValue, newValue, actor, sessionID string) {
	if s.audit == nil {
		return
	}
	// Audit failures must not fail the write itself.
	_ = s.audit.Append(&eventlog.Entry{
		Scope:     string(scope),
		OwnerID:   ownerID,
		Key:       key,
		OldValue:  oldValue,
		NewValue:  newValue,
		Actor:     actor,
		SessionID: sessionID,
	})
}
