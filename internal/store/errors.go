package store

import (
	"fmt"

	"meridian/internal/types"
)

// RevisionConflictError is the CAS rejection for ai_version writes whose
// base revision no longer matches storage. CurrentRev lets the caller
// rehydrate and retry with a fresh token.
type RevisionConflictError struct {
	DocumentID string
	BaseRev    int
	CurrentRev int
}

func (e *RevisionConflictError) Error() string {
	return fmt.Sprintf("stale ai_version revision for document %s: base %d, current %d",
		e.DocumentID, e.BaseRev, e.CurrentRev)
}

// Class implements types.Classifier.
func (e *RevisionConflictError) Class() types.Class {
	return types.ClassConflict
}
