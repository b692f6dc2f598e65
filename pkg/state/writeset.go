package state

import (
	"database/sql"
	"errors"
	"fmt"

	"pedagogue/pkg/persistence"
)

type stagedWrite struct {
	scope   Scope
	ownerID string
	key     string
	raw     string
	actor   string
}

// WriteSet accumulates writes during a turn so they land together or not at
// all. Validation (scope, serializability) happens at stage time; nothing is
// visible until Commit.
type WriteSet struct {
	sessionID string
	writes    []stagedWrite
}

// NewWriteSet creates an empty write set for one session's turn.
func NewWriteSet(sessionID string) *WriteSet {
	return &WriteSet{sessionID: sessionID}
}

// Stage validates and records one pending write.
func (ws *WriteSet) Stage(scope Scope, ownerID, key string, value any, actor string) error {
	if err := checkWrite(scope, actor); err != nil {
		return err
	}
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	ws.writes = append(ws.writes, stagedWrite{
		scope:   scope,
		ownerID: ownerID,
		key:     key,
		raw:     raw,
		actor:   actor,
	})
	return nil
}

// Len returns the number of staged writes.
func (ws *WriteSet) Len() int {
	return len(ws.writes)
}

// CommitTx applies all persistent staged writes inside tx. Ephemeral writes
// and audit entries are held back until Finalize, which the caller invokes
// after the transaction commits.
func (s *Store) CommitTx(tx *sql.Tx, ws *WriteSet) error {
	for _, w := range ws.writes {
		if w.scope == ScopeEphemeral {
			continue
		}
		if err := persistence.UpsertScopedStateTx(tx, string(w.scope), w.ownerID, w.key, w.raw); err != nil {
			return fmt.Errorf("failed to commit staged write %s/%s/%s: %w", w.scope, w.ownerID, w.key, err)
		}
	}
	return nil
}

// Finalize applies ephemeral writes and emits audit entries. Call only after
// the transaction that carried CommitTx has committed.
func (s *Store) Finalize(ws *WriteSet, oldValues map[string]string) {
	for _, w := range ws.writes {
		if w.scope == ScopeEphemeral {
			s.mu.Lock()
			s.ephemeral[ephemeralKey(w.ownerID, w.key)] = w.raw
			s.mu.Unlock()
			continue
		}
		s.recordAudit(w.scope, w.ownerID, w.key, oldValues[auditKey(w)], w.raw, w.actor, ws.sessionID)
	}
}

// PriorValues reads the current values of every persistent staged key, for
// audit old/new pairing. Missing keys are omitted.
func (s *Store) PriorValues(ws *WriteSet) (map[string]string, error) {
	prior := make(map[string]string)
	for _, w := range ws.writes {
		if w.scope == ScopeEphemeral {
			continue
		}
		raw, err := s.GetRaw(w.scope, w.ownerID, w.key)
		if errors.Is(err, ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		prior[auditKey(w)] = raw
	}
	return prior, nil
}

func auditKey(w stagedWrite) string {
	return string(w.scope) + "\x00" + w.ownerID + "\x00" + w.key
}
