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

// OptionalAIVersion carries tri-state ai_version update semantics
// (RFC 7396 style): absent means keep, present+nil means clear (close the
// open session's draft tracking), present+value means set.
type OptionalAIVersion struct {
	Present bool
	Value   *string
}

// UpdateDocumentRequest is the document update surface. AIVersionBaseRev
// must be supplied whenever AIVersion is present; it is the CAS token.
// CloseStatus names the terminal state for the document's active session
// when the update clears ai_version (defaults to accepted); a cleared
// draft and a still-active session must never coexist.
type UpdateDocumentRequest struct {
	Content          *string
	AIVersion        OptionalAIVersion
	AIVersionBaseRev int
	CloseStatus      types.SessionStatus
}

// CreateDocument inserts a new document with canonical content only.
func (s *LocalStore) CreateDocument(ctx context.Context, path, name, content string) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := &types.Document{
		ID:        uuid.NewString(),
		Path:      path,
		Name:      name,
		Content:   content,
		WordCount: types.CountWords(content),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, path, name, content, word_count) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Path, doc.Name, doc.Content, doc.WordCount,
	)
	if err != nil {
		logging.StoreError("Failed to create document %s: %v", path, err)
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	logging.StoreDebug("Created document %s at %s (%d words)", doc.ID, path, doc.WordCount)
	return s.getDocumentLocked(ctx, doc.ID)
}

// GetDocument fetches a document by id.
func (s *LocalStore) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getDocumentLocked(ctx, id)
}

// GetDocumentByPath fetches a document by its normalized slash path.
func (s *LocalStore) GetDocumentByPath(ctx context.Context, path string) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, name, content, ai_version, ai_version_rev, word_count, created_at, updated_at
		 FROM documents WHERE path = ?`, path)
	return scanDocument(row)
}

// ListDocuments returns every document ordered by path.
func (s *LocalStore) ListDocuments(ctx context.Context) ([]*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, name, content, ai_version, ai_version_rev, word_count, created_at, updated_at
		 FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*types.Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocument applies the tri-state update. Writes that touch
// ai_version are guarded by the CAS revision: when the stored
// ai_version_rev differs from AIVersionBaseRev the write is rejected with
// a RevisionConflictError and nothing changes. Content writes recompute
// the word count.
func (s *LocalStore) UpdateDocument(ctx context.Context, id string, req UpdateDocumentRequest) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Content == nil && !req.AIVersion.Present {
		return s.getDocumentLocked(ctx, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if req.Content != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET content = ?, word_count = ?, updated_at = ? WHERE id = ?`,
			*req.Content, types.CountWords(*req.Content), time.Now().UTC(), id)
		if err != nil {
			return nil, fmt.Errorf("failed to update content: %w", err)
		}
	}

	if req.AIVersion.Present {
		res, err := tx.ExecContext(ctx,
			`UPDATE documents
			 SET ai_version = ?, ai_version_rev = ai_version_rev + 1, updated_at = ?
			 WHERE id = ? AND ai_version_rev = ?`,
			req.AIVersion.Value, time.Now().UTC(), id, req.AIVersionBaseRev)
		if err != nil {
			return nil, fmt.Errorf("failed to update ai_version: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			var current int
			err := tx.QueryRowContext(ctx,
				`SELECT ai_version_rev FROM documents WHERE id = ?`, id).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read current revision: %w", err)
			}
			logging.StoreDebug("CAS reject on document %s: base=%d current=%d", id, req.AIVersionBaseRev, current)
			return nil, &RevisionConflictError{DocumentID: id, BaseRev: req.AIVersionBaseRev, CurrentRev: current}
		}

		// Clearing the draft resolves the document's active session in the
		// same transaction. A cleared ai_version with a still-active
		// session would let the next edit resurrect the pre-close draft.
		if req.AIVersion.Value == nil {
			status := req.CloseStatus
			if status == "" {
				status = types.StatusAccepted
			}
			if !status.Terminal() {
				return nil, fmt.Errorf("%w: close status must be accepted or rejected", types.ErrInvalidInput)
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE ai_sessions SET status = ?, resolved_at = ?
				 WHERE document_id = ? AND status = 'active'`,
				status, time.Now().UTC(), id)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve session on draft close: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return s.getDocumentLocked(ctx, id)
}

func (s *LocalStore) getDocumentLocked(ctx context.Context, id string) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, name, content, ai_version, ai_version_rev, word_count, created_at, updated_at
		 FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row *sql.Row) (*types.Document, error) {
	doc, err := scanDocumentRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document: %w", types.ErrNotFound)
	}
	return doc, err
}

func scanDocumentRows(row rowScanner) (*types.Document, error) {
	var doc types.Document
	err := row.Scan(&doc.ID, &doc.Path, &doc.Name, &doc.Content,
		&doc.AIVersion, &doc.AIVersionRev, &doc.WordCount, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	return &doc, nil
}
