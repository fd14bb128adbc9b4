// Package hunks resolves individual change regions in a merged buffer.
// The engine never caches offsets: every operation rescans the current
// buffer, because any prior accept/reject shifts positions and stale
// offsets would corrupt text.
package hunks

import (
	"context"
	"errors"
	"fmt"

	"meridian/internal/logging"
	"meridian/internal/merge"
)

// ErrHunkNotFound is returned when an id does not match any hunk in the
// current buffer, typically because a prior mutation already consumed it.
var ErrHunkNotFound = errors.New("hunk not found")

// Buffer is the host editing surface. Replace must be one atomic
// mutation so native undo records an accept/reject as a single step.
type Buffer interface {
	Text() string
	Replace(start, end int, repl string)
}

// DraftCloser clears the remote AI-draft tracking once every hunk is
// resolved, carrying the polarity of the decision that consumed the
// last hunk so the closed session lands in the matching terminal state.
// Satisfied by the sync coordinator.
type DraftCloser interface {
	CloseDraft(ctx context.Context, key string, baseRev int, accepted bool) error
}

// Engine applies accept/reject decisions to one document's merged
// buffer. key and baseRev identify the document and the CAS token from
// its last hydration, used when resolution empties the buffer.
type Engine struct {
	buf     Buffer
	closer  DraftCloser
	key     string
	baseRev int
}

func NewEngine(buf Buffer, closer DraftCloser, key string, baseRev int) *Engine {
	return &Engine{buf: buf, closer: closer, key: key, baseRev: baseRev}
}

// Hunks rescans the buffer and returns the unresolved hunks in order.
func (e *Engine) Hunks() []merge.Hunk {
	return merge.Hunks(e.buf.Text())
}

// Accept resolves the hunk in the AI's favor: its full sentinel span is
// rewritten to just the inserted payload.
func (e *Engine) Accept(ctx context.Context, id string) error {
	return e.resolve(ctx, id, true)
}

// Reject resolves the hunk in the human's favor: its full sentinel span
// is rewritten to just the deleted payload.
func (e *Engine) Reject(ctx context.Context, id string) error {
	return e.resolve(ctx, id, false)
}

func (e *Engine) resolve(ctx context.Context, id string, accept bool) error {
	text := e.buf.Text()
	var target *merge.Hunk
	for _, h := range merge.Hunks(text) {
		if h.ID == id {
			h := h
			target = &h
			break
		}
	}
	if target == nil {
		return fmt.Errorf("hunk %s: %w", id, ErrHunkNotFound)
	}

	kept := target.Deleted
	if accept {
		kept = target.Inserted
	}
	end := target.InsEnd + len(string(merge.InsEnd))
	e.buf.Replace(target.DelStart, end, kept)
	logging.HunksDebug("Resolved hunk %s for %s: accept=%t", id, e.key, accept)

	return e.closeIfDone(ctx, accept)
}

// AcceptAll replaces the whole buffer with the fully AI-resolved text
// in one operation, then closes out the draft.
func (e *Engine) AcceptAll(ctx context.Context) error {
	text := e.buf.Text()
	e.buf.Replace(0, len(text), merge.AcceptAll(text))
	return e.closeIfDone(ctx, true)
}

// RejectAll replaces the whole buffer with the fully human-resolved
// text in one operation, then closes out the draft.
func (e *Engine) RejectAll(ctx context.Context) error {
	text := e.buf.Text()
	e.buf.Replace(0, len(text), merge.RejectAll(text))
	return e.closeIfDone(ctx, false)
}

// First returns the first unresolved hunk by position.
func (e *Engine) First() (merge.Hunk, bool) {
	hs := e.Hunks()
	if len(hs) == 0 {
		return merge.Hunk{}, false
	}
	return hs[0], true
}

// Next returns the hunk following id by position, or false when id is
// last or no longer present.
func (e *Engine) Next(id string) (merge.Hunk, bool) {
	hs := e.Hunks()
	for i, h := range hs {
		if h.ID == id && i+1 < len(hs) {
			return hs[i+1], true
		}
	}
	return merge.Hunk{}, false
}

// Prev returns the hunk preceding id by position, or false when id is
// first or no longer present.
func (e *Engine) Prev(id string) (merge.Hunk, bool) {
	hs := e.Hunks()
	for i, h := range hs {
		if h.ID == id && i > 0 {
			return hs[i-1], true
		}
	}
	return merge.Hunk{}, false
}

// closeIfDone clears the draft tracking once no hunks remain. Required
// so a reopened document does not show a stale open session. The
// decision that consumed the last hunk names the terminal state.
func (e *Engine) closeIfDone(ctx context.Context, accepted bool) error {
	if len(e.Hunks()) > 0 || e.closer == nil {
		return nil
	}
	logging.HunksDebug("All hunks resolved for %s, closing draft (accepted=%t)", e.key, accepted)
	return e.closer.CloseDraft(ctx, e.key, e.baseRev, accepted)
}

// TextBuffer is the plain in-memory Buffer used outside a host editor.
type TextBuffer struct {
	text string
}

func NewTextBuffer(text string) *TextBuffer {
	return &TextBuffer{text: text}
}

func (b *TextBuffer) Text() string { return b.text }

func (b *TextBuffer) Replace(start, end int, repl string) {
	b.text = b.text[:start] + repl + b.text[end:]
}
