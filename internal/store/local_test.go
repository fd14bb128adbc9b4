package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"meridian/internal/types"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, "/chapters/ch1.md", "ch1.md", "It was a dark and stormy night.")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	if doc.ID == "" {
		t.Error("document id must be assigned")
	}
	if doc.WordCount != 7 {
		t.Errorf("WordCount = %d, want 7", doc.WordCount)
	}
	if doc.HasDraft() {
		t.Error("fresh document must have no draft")
	}

	byPath, err := s.GetDocumentByPath(ctx, "/chapters/ch1.md")
	if err != nil {
		t.Fatalf("GetDocumentByPath failed: %v", err)
	}
	if byPath.ID != doc.ID {
		t.Error("path lookup returned a different document")
	}

	if _, err := s.GetDocumentByPath(ctx, "/missing.md"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing path must return ErrNotFound, got %v", err)
	}
}

func TestUpdateDocumentTriState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, "/a.md", "a.md", "original words here")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	// Absent ai_version: nothing draft-related changes.
	content := "rewritten words"
	updated, err := s.UpdateDocument(ctx, doc.ID, UpdateDocumentRequest{Content: &content})
	if err != nil {
		t.Fatalf("content update failed: %v", err)
	}
	if updated.Content != content {
		t.Errorf("Content = %q", updated.Content)
	}
	if updated.WordCount != 2 {
		t.Errorf("WordCount = %d, want 2", updated.WordCount)
	}
	if updated.AIVersion != nil || updated.AIVersionRev != 0 {
		t.Error("absent ai_version must not touch draft state")
	}

	// Present+value: sets the draft and bumps the revision.
	draft := "ai draft"
	updated, err = s.UpdateDocument(ctx, doc.ID, UpdateDocumentRequest{
		AIVersion:        OptionalAIVersion{Present: true, Value: &draft},
		AIVersionBaseRev: 0,
	})
	if err != nil {
		t.Fatalf("draft set failed: %v", err)
	}
	if updated.AIVersion == nil || *updated.AIVersion != draft {
		t.Error("draft not stored")
	}
	if updated.AIVersionRev != 1 {
		t.Errorf("AIVersionRev = %d, want 1", updated.AIVersionRev)
	}

	// Present+nil: clears the draft (closes the open session view).
	updated, err = s.UpdateDocument(ctx, doc.ID, UpdateDocumentRequest{
		AIVersion:        OptionalAIVersion{Present: true, Value: nil},
		AIVersionBaseRev: 1,
	})
	if err != nil {
		t.Fatalf("draft clear failed: %v", err)
	}
	if updated.AIVersion != nil {
		t.Error("draft must be cleared")
	}
	if updated.AIVersionRev != 2 {
		t.Errorf("AIVersionRev = %d, want 2", updated.AIVersionRev)
	}
}

func TestDraftClearResolvesActiveSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name        string
		closeStatus types.SessionStatus
		want        types.SessionStatus
	}{
		{"explicit rejected", types.StatusRejected, types.StatusRejected},
		{"default accepted", "", types.StatusAccepted},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := s.CreateDocument(ctx, fmt.Sprintf("/close-%d.md", i), "c.md", "base")
			if err != nil {
				t.Fatalf("CreateDocument failed: %v", err)
			}
			sess, err := s.CreateActiveSession(ctx, doc.ID, doc.Content, nil, nil)
			if err != nil {
				t.Fatalf("CreateActiveSession failed: %v", err)
			}

			withDraft, err := s.GetDocument(ctx, doc.ID)
			if err != nil {
				t.Fatalf("GetDocument failed: %v", err)
			}
			cleared, err := s.UpdateDocument(ctx, doc.ID, UpdateDocumentRequest{
				AIVersion:        OptionalAIVersion{Present: true},
				AIVersionBaseRev: withDraft.AIVersionRev,
				CloseStatus:      tc.closeStatus,
			})
			if err != nil {
				t.Fatalf("draft clear failed: %v", err)
			}
			if cleared.HasDraft() {
				t.Fatal("clear must remove the draft")
			}

			// An absent draft and an active session must never coexist.
			if _, err := s.GetActiveSession(ctx, doc.ID); !errors.Is(err, types.ErrNotFound) {
				t.Fatalf("active session survived the draft clear: %v", err)
			}
			got, err := s.GetSession(ctx, sess.ID)
			if err != nil {
				t.Fatalf("GetSession failed: %v", err)
			}
			if got.Status != tc.want || got.ResolvedAt == nil {
				t.Errorf("session = %s (resolved_at=%v), want %s", got.Status, got.ResolvedAt, tc.want)
			}
		})
	}
}

func TestResolveSessionClearsDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, "/a.md", "a.md", "base")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	sess, err := s.CreateActiveSession(ctx, doc.ID, doc.Content, nil, nil)
	if err != nil {
		t.Fatalf("CreateActiveSession failed: %v", err)
	}

	before, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if !before.HasDraft() {
		t.Fatal("open session must mark the document draft")
	}

	if _, err := s.ResolveSession(ctx, sess.ID, types.StatusRejected); err != nil {
		t.Fatalf("ResolveSession failed: %v", err)
	}

	after, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if after.HasDraft() {
		t.Error("resolution must clear the document draft")
	}
	if after.AIVersionRev != before.AIVersionRev+1 {
		t.Errorf("AIVersionRev = %d, want %d", after.AIVersionRev, before.AIVersionRev+1)
	}
}

func TestUpdateDocumentCASConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, "/a.md", "a.md", "content")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	v1 := "draft one"
	if _, err := s.UpdateDocument(ctx, doc.ID, UpdateDocumentRequest{
		AIVersion: OptionalAIVersion{Present: true, Value: &v1},
	}); err != nil {
		t.Fatalf("first draft write failed: %v", err)
	}

	// Second writer still holding base rev 0 must be rejected, never
	// silently overwrite.
	v2 := "draft two"
	_, err = s.UpdateDocument(ctx, doc.ID, UpdateDocumentRequest{
		AIVersion:        OptionalAIVersion{Present: true, Value: &v2},
		AIVersionBaseRev: 0,
	})
	var conflict *RevisionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected RevisionConflictError, got %v", err)
	}
	if conflict.CurrentRev != 1 {
		t.Errorf("CurrentRev = %d, want 1", conflict.CurrentRev)
	}
	if types.Classify(err) != types.ClassConflict {
		t.Error("CAS rejection must classify as conflict")
	}

	// Stored draft is untouched by the rejected write.
	got, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.AIVersion == nil || *got.AIVersion != v1 {
		t.Error("rejected write must not mutate the stored draft")
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, "/a.md", "a.md", "base text")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	sess, err := s.CreateActiveSession(ctx, doc.ID, doc.Content, nil, nil)
	if err != nil {
		t.Fatalf("CreateActiveSession failed: %v", err)
	}
	if sess.Status != types.StatusActive {
		t.Errorf("Status = %s, want active", sess.Status)
	}
	if sess.AIVersion != doc.Content || sess.BaseSnapshot != doc.Content {
		t.Error("session must initialize ai_version to the base snapshot")
	}

	// Creating the session marks the document's draft.
	withDraft, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if !withDraft.HasDraft() {
		t.Error("open session must be visible on the document")
	}

	// A second insert for the same document returns the existing session.
	again, err := s.CreateActiveSession(ctx, doc.ID, doc.Content, nil, nil)
	if err != nil {
		t.Fatalf("second CreateActiveSession failed: %v", err)
	}
	if again.ID != sess.ID {
		t.Errorf("active-session uniqueness violated: %s vs %s", again.ID, sess.ID)
	}

	resolved, err := s.ResolveSession(ctx, sess.ID, types.StatusAccepted)
	if err != nil {
		t.Fatalf("ResolveSession failed: %v", err)
	}
	if resolved.Status != types.StatusAccepted || resolved.ResolvedAt == nil {
		t.Error("resolution must set status and resolved_at")
	}

	if _, err := s.ResolveSession(ctx, sess.ID, types.StatusRejected); !errors.Is(err, types.ErrSessionResolved) {
		t.Errorf("double resolve must fail with ErrSessionResolved, got %v", err)
	}

	// Terminal session is retained.
	kept, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("terminal session must be retained: %v", err)
	}
	if kept.AIVersion != doc.Content {
		t.Error("resolution must not mutate the session draft")
	}

	// With the old session terminal, a new one can open.
	fresh, err := s.CreateActiveSession(ctx, doc.ID, "new base", nil, nil)
	if err != nil {
		t.Fatalf("new session after resolution failed: %v", err)
	}
	if fresh.ID == sess.ID {
		t.Error("new session must get a new id")
	}
}

func TestAppendEdit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, "/a.md", "a.md", "one two three")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	sess, err := s.CreateActiveSession(ctx, doc.ID, doc.Content, nil, nil)
	if err != nil {
		t.Fatalf("CreateActiveSession failed: %v", err)
	}

	old1, new1 := "two", "2"
	rec, err := s.AppendEdit(ctx, sess.ID, "one 2 three", &types.EditRecord{
		Command: types.CommandStrReplace,
		Path:    "/a.md",
		OldStr:  &old1,
		NewStr:  &new1,
	})
	if err != nil {
		t.Fatalf("AppendEdit failed: %v", err)
	}
	if rec.Order != 1 {
		t.Errorf("first edit order = %d, want 1", rec.Order)
	}

	new2 := "four"
	rec2, err := s.AppendEdit(ctx, sess.ID, "one 2 three\nfour", &types.EditRecord{
		Command: types.CommandAppend,
		Path:    "/a.md",
		NewStr:  &new2,
	})
	if err != nil {
		t.Fatalf("second AppendEdit failed: %v", err)
	}
	if rec2.Order != 2 {
		t.Errorf("second edit order = %d, want 2", rec2.Order)
	}

	// Both the session and document drafts advanced; rev bumped per write.
	gotSess, _ := s.GetSession(ctx, sess.ID)
	if gotSess.AIVersion != "one 2 three\nfour" {
		t.Errorf("session draft = %q", gotSess.AIVersion)
	}
	gotDoc, _ := s.GetDocument(ctx, doc.ID)
	if gotDoc.AIVersion == nil || *gotDoc.AIVersion != "one 2 three\nfour" {
		t.Error("document draft did not advance")
	}
	if gotDoc.AIVersionRev != 3 { // 1 session open + 2 edits
		t.Errorf("AIVersionRev = %d, want 3", gotDoc.AIVersionRev)
	}

	edits, err := s.ListEdits(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListEdits failed: %v", err)
	}
	if len(edits) != 2 {
		t.Fatalf("got %d edits, want 2", len(edits))
	}
	for i, e := range edits {
		if e.Order != i+1 {
			t.Errorf("edit %d has order %d; ledger must be gapless", i, e.Order)
		}
	}

	// Edits against a resolved session are refused.
	if _, err := s.ResolveSession(ctx, sess.ID, types.StatusRejected); err != nil {
		t.Fatalf("ResolveSession failed: %v", err)
	}
	_, err = s.AppendEdit(ctx, sess.ID, "x", &types.EditRecord{Command: types.CommandAppend, Path: "/a.md"})
	if !errors.Is(err, types.ErrSessionResolved) {
		t.Errorf("edit after resolve must fail with ErrSessionResolved, got %v", err)
	}
}
