// Package merge encodes two divergent versions of a document - the
// human-owned content and the AI draft - into a single sentinel-marked
// buffer, and decodes that buffer back into both halves. The merged form
// is an ephemeral client-side representation; storage only ever sees the
// sentinel-free halves.
package merge

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Sentinel markers delimiting one hunk in a merged buffer. These are
// Unicode noncharacters (U+FDD0..U+FDD3), reserved by the standard for
// process-internal use and never valid document content.
const (
	DelStart = '\ufdd0'
	DelEnd   = '\ufdd1'
	InsStart = '\ufdd2'
	InsEnd   = '\ufdd3'
)

var sentinels = string([]rune{DelStart, DelEnd, InsStart, InsEnd})

// Hunk is one change region in a merged buffer: the deleted payload, the
// inserted payload, and the byte offsets of the four sentinel runes.
// Offsets are only valid against the exact buffer they were scanned from.
type Hunk struct {
	ID       string
	DelStart int
	DelEnd   int
	InsStart int
	InsEnd   int
	Deleted  string
	Inserted string
}

// Parsed is the result of decoding a merged buffer.
type Parsed struct {
	Content    string
	AIVersion  string
	HasChanges bool
}

var dmp = func() *diffmatchpatch.DiffMatchPatch {
	d := diffmatchpatch.New()
	d.DiffTimeout = 0
	return d
}()

// Build encodes content and aiVersion into one merged buffer. Equal
// inputs return content verbatim with no markers; that is the canonical
// no-open-session form. Otherwise a character diff is computed, coalesced
// into semantic edits, its boundaries slid to word edges, and each run of
// delete-then-insert is emitted as a four-sentinel hunk. A standalone
// deletion gets an empty inserted payload and vice versa, so every hunk
// always carries all four sentinels.
func Build(content, aiVersion string) string {
	if content == aiVersion {
		return content
	}

	diffs := dmp.DiffMain(content, aiVersion, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCleanupSemanticLossless(diffs)

	var b strings.Builder
	b.Grow(len(content) + len(aiVersion))

	var pendingDel string
	hasDel := false

	flush := func(inserted string) {
		b.WriteRune(DelStart)
		b.WriteString(pendingDel)
		b.WriteRune(DelEnd)
		b.WriteRune(InsStart)
		b.WriteString(inserted)
		b.WriteRune(InsEnd)
		pendingDel = ""
		hasDel = false
	}

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			if hasDel {
				// Two deletions in a row: the first has no paired insertion.
				flush("")
			}
			pendingDel = d.Text
			hasDel = true
		case diffmatchpatch.DiffInsert:
			flush(d.Text)
		case diffmatchpatch.DiffEqual:
			if hasDel {
				flush("")
			}
			b.WriteString(d.Text)
		}
	}
	if hasDel {
		flush("")
	}

	return b.String()
}

// Parse decodes a merged buffer into its two halves. A buffer with no
// sentinels has no changes and both halves equal the input. A buffer with
// malformed sentinel structure degrades to the same plain-text treatment
// rather than failing: local edits must survive a corrupted marker.
func Parse(merged string) Parsed {
	if !strings.ContainsAny(merged, sentinels) {
		return Parsed{Content: merged, AIVersion: merged}
	}

	hunks, ok := scan(merged)
	if !ok {
		return Parsed{Content: merged, AIVersion: merged}
	}

	var content, aiVersion strings.Builder
	content.Grow(len(merged))
	aiVersion.Grow(len(merged))

	pos := 0
	for _, h := range hunks {
		unchanged := merged[pos:h.DelStart]
		content.WriteString(unchanged)
		aiVersion.WriteString(unchanged)
		content.WriteString(h.Deleted)
		aiVersion.WriteString(h.Inserted)
		pos = h.InsEnd + len(string(InsEnd))
	}
	tail := merged[pos:]
	content.WriteString(tail)
	aiVersion.WriteString(tail)

	return Parsed{Content: content.String(), AIVersion: aiVersion.String(), HasChanges: true}
}

// Hunks scans a merged buffer and returns its hunks in buffer order.
// Malformed buffers return nil, matching the plain-text degradation of
// Parse. Offsets must be re-scanned after any mutation of the buffer.
func Hunks(merged string) []Hunk {
	hunks, ok := scan(merged)
	if !ok || len(hunks) == 0 {
		return nil
	}
	return hunks
}

// AcceptAll resolves every hunk in the AI's favor and returns the fully
// resolved text, identical to Parse(merged).AIVersion.
func AcceptAll(merged string) string {
	return Parse(merged).AIVersion
}

// RejectAll resolves every hunk in the human's favor and returns the
// fully resolved text, identical to Parse(merged).Content.
func RejectAll(merged string) string {
	return Parse(merged).Content
}

// scan walks the buffer matching the strict hunk grammar:
// DelStart payload DelEnd InsStart payload InsEnd, with no nesting and no
// stray sentinels between or inside hunks. ok is false on any violation.
func scan(merged string) ([]Hunk, bool) {
	var hunks []Hunk
	pos := 0
	for {
		rel := strings.IndexRune(merged[pos:], DelStart)
		if rel < 0 {
			// No further hunks; remaining text must be sentinel-free.
			if strings.ContainsAny(merged[pos:], sentinels) {
				return nil, false
			}
			return hunks, true
		}
		if strings.ContainsAny(merged[pos:pos+rel], sentinels) {
			return nil, false
		}

		h := Hunk{DelStart: pos + rel}
		cur := h.DelStart + len(string(DelStart))

		delEnd, ok := payloadEnd(merged, cur, DelEnd)
		if !ok {
			return nil, false
		}
		h.Deleted = merged[cur:delEnd]
		h.DelEnd = delEnd
		cur = delEnd + len(string(DelEnd))

		// Insertion span must immediately follow the deletion span.
		if !strings.HasPrefix(merged[cur:], string(InsStart)) {
			return nil, false
		}
		h.InsStart = cur
		cur += len(string(InsStart))

		insEnd, ok := payloadEnd(merged, cur, InsEnd)
		if !ok {
			return nil, false
		}
		h.Inserted = merged[cur:insEnd]
		h.InsEnd = insEnd

		h.ID = hunkID(h.DelStart, h.Deleted, h.Inserted)
		hunks = append(hunks, h)
		pos = insEnd + len(string(InsEnd))
	}
}

// payloadEnd finds the closing sentinel for a payload starting at from,
// requiring the payload itself to be sentinel-free.
func payloadEnd(merged string, from int, closing rune) (int, bool) {
	rel := strings.IndexRune(merged[from:], closing)
	if rel < 0 {
		return 0, false
	}
	if strings.ContainsAny(merged[from:from+rel], sentinels) {
		return 0, false
	}
	return from + rel, true
}

// hunkID hashes the hunk position and both payloads (FNV-1a) so the UI
// has a stable identity for a hunk as long as it is unmodified.
func hunkID(offset int, deleted, inserted string) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d\x00%s\x00%s", offset, deleted, inserted)
	return fmt.Sprintf("%016x", h.Sum64())
}
