package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"meridian/internal/logging"
	"meridian/internal/types"
)

// CreateActiveSession inserts a new active session for a document and
// marks the document's ai_version with the base snapshot so the open
// session is visible to readers. The partial unique index on
// (document_id WHERE status='active') is the cross-process backstop: a
// losing concurrent inserter gets the already-active session back
// instead of an error.
func (s *LocalStore) CreateActiveSession(ctx context.Context, documentID, baseSnapshot string, chatID, turnID *string) (*types.AISession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &types.AISession{
		ID:           uuid.NewString(),
		DocumentID:   documentID,
		ChatID:       chatID,
		TurnID:       turnID,
		BaseSnapshot: baseSnapshot,
		AIVersion:    baseSnapshot,
		Status:       types.StatusActive,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ai_sessions (id, document_id, chat_id, turn_id, base_snapshot, ai_version, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.DocumentID, sess.ChatID, sess.TurnID, sess.BaseSnapshot, sess.AIVersion, sess.Status)
	if err != nil {
		// Unique-index loser: someone else opened the session first.
		if existing, gerr := s.getActiveSessionLocked(ctx, documentID); gerr == nil {
			logging.SessionDebug("Lost active-session race for document %s, reusing %s", documentID, existing.ID)
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE documents
		 SET ai_version = ?, ai_version_rev = ai_version_rev + 1, updated_at = ?
		 WHERE id = ?`,
		sess.AIVersion, time.Now().UTC(), documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark document draft: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	logging.SessionDebug("Created session %s for document %s", sess.ID, documentID)
	return s.getSessionLocked(ctx, sess.ID)
}

// GetActiveSession returns the single active session for a document, or
// types.ErrNotFound when no session is open.
func (s *LocalStore) GetActiveSession(ctx context.Context, documentID string) (*types.AISession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getActiveSessionLocked(ctx, documentID)
}

// GetSession returns a session by id.
func (s *LocalStore) GetSession(ctx context.Context, id string) (*types.AISession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSessionLocked(ctx, id)
}

// ListSessions returns all sessions for a document, newest first.
func (s *LocalStore) ListSessions(ctx context.Context, documentID string) ([]*types.AISession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		sessionSelect+` WHERE document_id = ? ORDER BY created_at DESC, id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.AISession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// AppendEdit atomically writes one successful edit: the ledger record at
// the next gapless order, the session's advanced ai_version, and the
// document's ai_version (revision bumped). Nothing is written for failed
// commands; the interpreter rejects those before this is called.
func (s *LocalStore) AppendEdit(ctx context.Context, sessionID, newAIVersion string, rec *types.EditRecord) (*types.EditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var documentID string
	var status types.SessionStatus
	err = tx.QueryRowContext(ctx,
		`SELECT document_id, status FROM ai_sessions WHERE id = ?`, sessionID).
		Scan(&documentID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if status.Terminal() {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrSessionResolved)
	}

	var nextOrder int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(edit_order), 0) + 1 FROM ai_edits WHERE session_id = ?`, sessionID).
		Scan(&nextOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to compute edit order: %w", err)
	}

	stored := *rec
	stored.ID = uuid.NewString()
	stored.SessionID = sessionID
	stored.Order = nextOrder
	if stored.Status == "" {
		stored.Status = "applied"
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ai_edits (id, session_id, edit_order, command, path, old_str, new_str, insert_line, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.SessionID, stored.Order, stored.Command, stored.Path,
		stored.OldStr, stored.NewStr, stored.InsertLine, stored.Status)
	if err != nil {
		// UNIQUE(session_id, edit_order) trips only across processes;
		// the caller must retry from a fresh read, never skip an order.
		return nil, fmt.Errorf("%w: failed to append edit: %v", types.ErrConflict, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE ai_sessions SET ai_version = ? WHERE id = ?`, newAIVersion, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to advance session draft: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE documents
		 SET ai_version = ?, ai_version_rev = ai_version_rev + 1, updated_at = ?
		 WHERE id = ?`,
		newAIVersion, time.Now().UTC(), documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to advance document draft: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit edit: %w", err)
	}

	logging.SessionDebug("Appended edit %d (%s) to session %s", stored.Order, stored.Command, sessionID)
	return &stored, nil
}

// ResolveSession transitions an active session to accepted or rejected,
// stamps the resolution time, and clears the document's ai_version in
// the same transaction so the document stops advertising an open draft.
// The session's ai_version and the edit ledger are retained for audit.
func (s *LocalStore) ResolveSession(ctx context.Context, sessionID string, status types.SessionStatus) (*types.AISession, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: resolve status must be accepted or rejected", types.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var documentID string
	err = tx.QueryRowContext(ctx,
		`SELECT document_id FROM ai_sessions WHERE id = ?`, sessionID).Scan(&documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE ai_sessions SET status = ?, resolved_at = ? WHERE id = ? AND status = 'active'`,
		status, time.Now().UTC(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		sess, gerr := s.getSessionLocked(ctx, sessionID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, types.ErrSessionResolved)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE documents
		 SET ai_version = NULL, ai_version_rev = ai_version_rev + 1, updated_at = ?
		 WHERE id = ? AND ai_version IS NOT NULL`,
		time.Now().UTC(), documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear document draft: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit resolution: %w", err)
	}

	logging.SessionDebug("Resolved session %s as %s", sessionID, status)
	return s.getSessionLocked(ctx, sessionID)
}

// ListEdits returns a session's ledger in order.
func (s *LocalStore) ListEdits(ctx context.Context, sessionID string) ([]*types.EditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, edit_order, command, path, old_str, new_str, insert_line, status, created_at
		 FROM ai_edits WHERE session_id = ? ORDER BY edit_order`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edits: %w", err)
	}
	defer rows.Close()

	var edits []*types.EditRecord
	for rows.Next() {
		var rec types.EditRecord
		err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Order, &rec.Command, &rec.Path,
			&rec.OldStr, &rec.NewStr, &rec.InsertLine, &rec.Status, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edit: %w", err)
		}
		edits = append(edits, &rec)
	}
	return edits, rows.Err()
}

const sessionSelect = `SELECT id, document_id, chat_id, turn_id, base_snapshot, ai_version, status, created_at, resolved_at
	FROM ai_sessions`

func (s *LocalStore) getActiveSessionLocked(ctx context.Context, documentID string) (*types.AISession, error) {
	row := s.db.QueryRowContext(ctx,
		sessionSelect+` WHERE document_id = ? AND status = 'active'`, documentID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active session for document %s: %w", documentID, types.ErrNotFound)
	}
	return sess, err
}

func (s *LocalStore) getSessionLocked(ctx context.Context, id string) (*types.AISession, error) {
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	return sess, err
}

func scanSession(row rowScanner) (*types.AISession, error) {
	var sess types.AISession
	err := row.Scan(&sess.ID, &sess.DocumentID, &sess.ChatID, &sess.TurnID,
		&sess.BaseSnapshot, &sess.AIVersion, &sess.Status, &sess.CreatedAt, &sess.ResolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &sess, nil
}
