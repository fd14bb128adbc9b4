package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"meridian/internal/types"
)

var (
	createFile string
	createText string

	viewFrom int
	viewTo   int

	editOldStr  string
	editNewStr  string
	editLine    int
	editCommand string

	resolveReject bool
)

// createCmd creates a new document.
var createCmd = &cobra.Command{
	Use:   "create [path]",
	Short: "Create a new document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := createText
		if createFile != "" {
			data, err := os.ReadFile(createFile)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", createFile, err)
			}
			text = string(data)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		reg, _ := newEditor(s)
		res, err := reg.Execute(cmd.Context(), "doc_edit", map[string]any{
			"command":   "create",
			"path":      args[0],
			"file_text": text,
		})
		if err != nil {
			return err
		}
		fmt.Println(res.Result)
		return nil
	},
}

// viewCmd prints a document's current draft.
var viewCmd = &cobra.Command{
	Use:   "view [path]",
	Short: "Show a document's current draft (or content when no draft is open)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		reg, _ := newEditor(s)
		toolArgs := map[string]any{"path": args[0]}
		if viewFrom > 0 {
			toolArgs["view_from"] = float64(viewFrom)
		}
		if viewTo > 0 {
			toolArgs["view_to"] = float64(viewTo)
		}
		res, err := reg.Execute(cmd.Context(), "doc_view", toolArgs)
		if err != nil {
			return err
		}
		fmt.Println(res.Result)
		return nil
	},
}

// editCmd runs one edit command against a document's draft, exactly the
// way the LLM tool surface would.
var editCmd = &cobra.Command{
	Use:   "edit [path]",
	Short: "Apply one draft edit (str_replace, insert, append)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		toolArgs := map[string]any{
			"command": editCommand,
			"path":    args[0],
		}
		switch editCommand {
		case "str_replace":
			toolArgs["old_str"] = editOldStr
			toolArgs["new_str"] = editNewStr
		case "insert":
			toolArgs["insert_line"] = float64(editLine)
			toolArgs["new_str"] = editNewStr
		case "append":
			toolArgs["new_str"] = editNewStr
		default:
			return fmt.Errorf("unknown command %q (expected: str_replace, insert, append)", editCommand)
		}

		reg, _ := newEditor(s)
		res, err := reg.Execute(cmd.Context(), "doc_edit", toolArgs)
		if err != nil {
			return err
		}
		logger.Debug("edit applied", zap.String("path", args[0]), zap.String("command", editCommand))
		fmt.Println(res.Result)
		return nil
	},
}

// resolveCmd transitions a document's active session to its terminal state.
var resolveCmd = &cobra.Command{
	Use:   "resolve [path]",
	Short: "Resolve the active session (accepted by default, --reject for rejected)",
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
		_, manager := newEditor(s)
		sess, err := manager.Active(cmd.Context(), doc.ID)
		if err != nil {
			return fmt.Errorf("no active session for %s: %w", args[0], err)
		}

		resolved, err := manager.Resolve(cmd.Context(), sess.ID, !resolveReject)
		if err != nil {
			return err
		}
		fmt.Printf("Session %s resolved: %s\n", resolved.ID, resolved.Status)
		return nil
	},
}

// sessionsCmd lists a document's sessions and their edit ledgers.
var sessionsCmd = &cobra.Command{
	Use:   "sessions [path]",
	Short: "List a document's sessions and edit ledger",
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
		_, manager := newEditor(s)
		sessions, err := manager.History(cmd.Context(), doc.ID)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return nil
		}

		for _, sess := range sessions {
			fmt.Printf("%s  %-8s  created %s", sess.ID, sess.Status, sess.CreatedAt.Format("2006-01-02 15:04:05"))
			if sess.ResolvedAt != nil {
				fmt.Printf("  resolved %s", sess.ResolvedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Println()

			ledger, err := manager.Ledger(cmd.Context(), sess.ID)
			if err != nil {
				return err
			}
			for _, rec := range ledger {
				fmt.Printf("  %3d  %-11s  %s\n", rec.Order, rec.Command, summarizeEdit(rec))
			}
		}
		return nil
	},
}

func summarizeEdit(rec *types.EditRecord) string {
	switch rec.Command {
	case types.CommandStrReplace:
		return fmt.Sprintf("%q -> %q", truncate(deref(rec.OldStr)), truncate(deref(rec.NewStr)))
	case types.CommandInsert:
		line := 0
		if rec.InsertLine != nil {
			line = *rec.InsertLine
		}
		return fmt.Sprintf("after line %d: %q", line, truncate(deref(rec.NewStr)))
	case types.CommandAppend:
		return fmt.Sprintf("%q", truncate(deref(rec.NewStr)))
	default:
		return ""
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string) string {
	const max = 40
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func init() {
	createCmd.Flags().StringVar(&createFile, "file", "", "Read initial content from a file")
	createCmd.Flags().StringVar(&createText, "text", "", "Initial content")

	viewCmd.Flags().IntVar(&viewFrom, "from", 0, "First line to show (1-indexed)")
	viewCmd.Flags().IntVar(&viewTo, "to", 0, "Last line to show (inclusive)")

	editCmd.Flags().StringVar(&editCommand, "command", "str_replace", "Edit command: str_replace, insert, append")
	editCmd.Flags().StringVar(&editOldStr, "old", "", "Exact text to replace (str_replace)")
	editCmd.Flags().StringVar(&editNewStr, "new", "", "New text")
	editCmd.Flags().IntVar(&editLine, "line", 0, "0-indexed line to insert after (insert)")

	resolveCmd.Flags().BoolVar(&resolveReject, "reject", false, "Resolve as rejected instead of accepted")
}
