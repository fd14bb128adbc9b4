// Package session owns the per-document AI-session state machine:
// no-session -> active -> accepted|rejected. The active session and its
// AI draft are single-writer resources; every mutation funnels through
// the Manager here.
package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"meridian/internal/interp"
	"meridian/internal/logging"
	"meridian/internal/store"
	"meridian/internal/types"
)

// Linkage carries the optional conversation context an edit originated
// from. Supplied by the chat transport collaborator; opaque here.
type Linkage struct {
	ChatID *string
	TurnID *string
}

// Manager coordinates session lifecycle and edit application.
type Manager struct {
	store *store.LocalStore

	// create collapses concurrent GetOrCreate calls per document so two
	// racing tool calls cannot both try to open a session. The store's
	// partial unique index is the cross-process backstop.
	create singleflight.Group

	// locks serializes AddEdit per session to keep edit orders gapless
	// and the draft consistent.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager over the given store.
func NewManager(s *store.LocalStore) *Manager {
	return &Manager{
		store: s,
		locks: make(map[string]*sync.Mutex),
	}
}

// GetOrCreate returns the document's active session, creating one with
// aiVersion initialized to the document's current draft base if none is
// open. Idempotent: repeated calls before resolution return the same
// session.
func (m *Manager) GetOrCreate(ctx context.Context, doc *types.Document, link Linkage) (*types.AISession, error) {
	v, err, _ := m.create.Do(doc.ID, func() (any, error) {
		if existing, err := m.store.GetActiveSession(ctx, doc.ID); err == nil {
			return existing, nil
		}
		return m.store.CreateActiveSession(ctx, doc.ID, doc.Draft(), link.ChatID, link.TurnID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.AISession), nil
}

// AddEdit interprets one command against the session's current draft and,
// on success, persists the new draft together with its ledger record in
// one transaction. On failure nothing is persisted and the typed
// interpreter error is returned as-is for the tool surface.
func (m *Manager) AddEdit(ctx context.Context, sessionID, path string, cmd interp.Command) (*types.EditRecord, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrSessionResolved)
	}

	res, err := interp.Apply(sess.AIVersion, cmd)
	if err != nil {
		logging.SessionDebug("Edit rejected for session %s: %v", sessionID, err)
		return nil, err
	}

	rec, err := editRecord(path, cmd)
	if err != nil {
		return nil, err
	}
	return m.store.AppendEdit(ctx, sessionID, res.Text, rec)
}

// Resolve transitions the session to its terminal state and clears the
// document's draft tracking in the same transaction; a document must
// never advertise a draft for a resolved session. The session's own
// draft and the ledger are retained for audit.
func (m *Manager) Resolve(ctx context.Context, sessionID string, accepted bool) (*types.AISession, error) {
	status := types.StatusRejected
	if accepted {
		status = types.StatusAccepted
	}
	return m.store.ResolveSession(ctx, sessionID, status)
}

// Active returns the active session for a document, or types.ErrNotFound.
func (m *Manager) Active(ctx context.Context, documentID string) (*types.AISession, error) {
	return m.store.GetActiveSession(ctx, documentID)
}

// History returns all of a document's sessions, newest first.
func (m *Manager) History(ctx context.Context, documentID string) ([]*types.AISession, error) {
	return m.store.ListSessions(ctx, documentID)
}

// Ledger returns a session's ordered edit records.
func (m *Manager) Ledger(ctx context.Context, sessionID string) ([]*types.EditRecord, error) {
	return m.store.ListEdits(ctx, sessionID)
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

// editRecord maps an interpreter command to its ledger shape. Only the
// three mutating ledger commands are recordable; view never reaches here
// and create initializes a document rather than editing a draft.
func editRecord(path string, cmd interp.Command) (*types.EditRecord, error) {
	rec := &types.EditRecord{Path: path}
	switch cmd.Kind {
	case interp.KindStrReplace:
		rec.Command = types.CommandStrReplace
		oldStr, newStr := cmd.OldStr, cmd.NewStr
		rec.OldStr = &oldStr
		rec.NewStr = &newStr
	case interp.KindInsert:
		rec.Command = types.CommandInsert
		newStr := cmd.NewStr
		line := cmd.InsertLine
		rec.NewStr = &newStr
		rec.InsertLine = &line
	case interp.KindAppend:
		rec.Command = types.CommandAppend
		newStr := cmd.NewStr
		rec.NewStr = &newStr
	default:
		return nil, fmt.Errorf("%w: command %s cannot be recorded as an edit", types.ErrInvalidInput, cmd.Kind)
	}
	return rec, nil
}
