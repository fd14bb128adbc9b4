// Package types holds the shared domain records for the draft engine:
// documents, AI sessions, and the per-session edit ledger. It has no
// dependencies on storage or transport so every other package can import it.
package types

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of an AI session.
// A session is created active and ends accepted or rejected; terminal
// sessions are retained for audit, never deleted.
type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusAccepted SessionStatus = "accepted"
	StatusRejected SessionStatus = "rejected"
)

// Terminal reports whether the status is a resolved end state.
func (s SessionStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Valid reports whether the status is one of the known states.
func (s SessionStatus) Valid() bool {
	return s == StatusActive || s == StatusAccepted || s == StatusRejected
}

// Document is the persisted document record. Content is the human-owned
// ground truth. AIVersion is non-nil exactly while an AI session is open
// for the document; AIVersionRev is the CAS counter guarding it.
type Document struct {
	ID           string
	Path         string
	Name         string
	Content      string
	AIVersion    *string
	AIVersionRev int
	WordCount    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasDraft reports whether the document has an open AI draft.
func (d *Document) HasDraft() bool {
	return d.AIVersion != nil
}

// Draft returns the AI draft if present, else the canonical content.
// This is the base every AI edit command operates against.
func (d *Document) Draft() string {
	if d.AIVersion != nil {
		return *d.AIVersion
	}
	return d.Content
}

// AISession tracks one AI editing pass over a document.
// BaseSnapshot is the content at session start and never changes;
// AIVersion starts equal to BaseSnapshot and advances with each edit.
type AISession struct {
	ID           string
	DocumentID   string
	ChatID       *string
	TurnID       *string
	BaseSnapshot string
	AIVersion    string
	Status       SessionStatus
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// CommandKind identifies a persisted edit command.
type CommandKind string

const (
	CommandStrReplace CommandKind = "str_replace"
	CommandInsert     CommandKind = "insert"
	CommandAppend     CommandKind = "append"
)

// EditRecord is one row of the append-only per-session edit ledger.
// Order is gapless and strictly increasing within a session. Status is
// audit-only; rendering never depends on it.
type EditRecord struct {
	ID         string
	SessionID  string
	Order      int
	Command    CommandKind
	Path       string
	OldStr     *string
	NewStr     *string
	InsertLine *int
	Status     string
	CreatedAt  time.Time
}

// CountWords returns the number of whitespace-separated words in s.
// Kept here so every writer of Document.Content computes it the same way.
func CountWords(s string) int {
	return len(strings.Fields(s))
}
