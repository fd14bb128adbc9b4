package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"meridian/internal/hunks"
	"meridian/internal/merge"
	"meridian/internal/store"
	"meridian/internal/syncer"
)

var (
	acceptAll bool
	rejectAll bool
)

// displayMarkers make the internal sentinels visible on a terminal.
var displayMarkers = strings.NewReplacer(
	string(merge.DelStart), "[-",
	string(merge.DelEnd), "-]",
	string(merge.InsStart), "{+",
	string(merge.InsEnd), "+}",
)

// mergeCmd prints the merged buffer with visible change markers.
var mergeCmd = &cobra.Command{
	Use:   "merge [path]",
	Short: "Show the merged view of content and draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		doc, err := s.GetDocumentByPath(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !doc.HasDraft() {
			fmt.Println(doc.Content)
			return nil
		}

		merged := merge.Build(doc.Content, *doc.AIVersion)
		fmt.Println(displayMarkers.Replace(merged))
		return nil
	},
}

// hunksCmd lists the unresolved hunks between content and draft.
var hunksCmd = &cobra.Command{
	Use:   "hunks [path]",
	Short: "List unresolved hunks between content and draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		doc, err := s.GetDocumentByPath(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !doc.HasDraft() {
			fmt.Println("No open draft.")
			return nil
		}

		hs := merge.Hunks(merge.Build(doc.Content, *doc.AIVersion))
		if len(hs) == 0 {
			fmt.Println("No hunks; draft matches content.")
			return nil
		}
		for i, h := range hs {
			fmt.Printf("%d. %s\n", i+1, h.ID)
			fmt.Printf("   - %q\n", h.Deleted)
			fmt.Printf("   + %q\n", h.Inserted)
		}
		return nil
	},
}

// acceptCmd accepts one hunk by id, or every hunk with --all.
var acceptCmd = &cobra.Command{
	Use:   "accept [path] [hunk-id]",
	Short: "Accept a hunk (or --all) in the AI's favor",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveHunks(cmd.Context(), args, acceptAll, true)
	},
}

// rejectCmd rejects one hunk by id, or every hunk with --all.
var rejectCmd = &cobra.Command{
	Use:   "reject [path] [hunk-id]",
	Short: "Reject a hunk (or --all) in the human's favor",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveHunks(cmd.Context(), args, rejectAll, false)
	},
}

// resolveHunks runs one accept/reject decision through the engine and
// persists both halves of the resulting buffer. When the decision
// consumes the last hunk the engine closes the draft through the sync
// coordinator, so the document stops advertising an open session.
func resolveHunks(ctx context.Context, args []string, all, accept bool) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	doc, err := s.GetDocumentByPath(ctx, args[0])
	if err != nil {
		return err
	}
	if !doc.HasDraft() {
		return fmt.Errorf("no open draft for %s", args[0])
	}

	buf := hunks.NewTextBuffer(merge.Build(doc.Content, *doc.AIVersion))
	coord := newCoordinator(s)
	engine := hunks.NewEngine(buf, coord, doc.ID, doc.AIVersionRev)

	switch {
	case all:
		if accept {
			err = engine.AcceptAll(ctx)
		} else {
			err = engine.RejectAll(ctx)
		}
	case len(args) == 2:
		if accept {
			err = engine.Accept(ctx, args[1])
		} else {
			err = engine.Reject(ctx, args[1])
		}
	default:
		return fmt.Errorf("provide a hunk id or --all")
	}
	if err != nil {
		return err
	}

	parsed := merge.Parse(buf.Text())
	remaining := len(engine.Hunks())

	// Persist the human half. The draft half: still-open buffers carry
	// their surviving draft forward under the same CAS token; fully
	// resolved buffers were already closed by the engine.
	content := parsed.Content
	req := store.UpdateDocumentRequest{Content: &content}
	if _, err := s.UpdateDocument(ctx, doc.ID, req); err != nil {
		return fmt.Errorf("failed to persist resolved content: %w", err)
	}
	if remaining > 0 {
		if err := coord.Save(ctx, &syncer.Entry{
			Key:     doc.ID,
			Value:   parsed.AIVersion,
			BaseRev: doc.AIVersionRev,
		}); err != nil {
			return fmt.Errorf("failed to persist surviving draft: %w", err)
		}
	}
	logger.Info("hunks resolved",
		zap.String("path", args[0]),
		zap.Bool("accept", accept),
		zap.Int("remaining", remaining))
	if remaining == 0 {
		fmt.Println("All hunks resolved; draft closed.")
	} else {
		fmt.Printf("%d hunk(s) remaining.\n", remaining)
	}
	return nil
}

func init() {
	acceptCmd.Flags().BoolVar(&acceptAll, "all", false, "Accept every hunk")
	rejectCmd.Flags().BoolVar(&rejectAll, "all", false, "Reject every hunk")
}
