// Package interp applies one pattern-based edit command to a text buffer.
// It is pure and synchronous: a command either succeeds and returns the
// new buffer, or fails with a typed error and the buffer is untouched.
// The interpreter only ever sees the AI draft, never canonical content,
// so staleness of the human-owned copy cannot affect it.
package interp

import (
	"fmt"
	"strings"
)

// Kind is the closed set of edit commands. Adding a command means adding
// a constant here and a case to Apply; the switch has no default success
// path, so a missed case fails loudly.
type Kind int

const (
	KindView Kind = iota
	KindStrReplace
	KindInsert
	KindAppend
	KindCreate
)

func (k Kind) String() string {
	switch k {
	case KindView:
		return "view"
	case KindStrReplace:
		return "str_replace"
	case KindInsert:
		return "insert"
	case KindAppend:
		return "append"
	case KindCreate:
		return "create"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ErrorCode identifies why a command was rejected. The codes are wire
// values consumed by the tool-call surface.
type ErrorCode string

const (
	CodeNoMatch        ErrorCode = "NO_MATCH"
	CodeAmbiguousMatch ErrorCode = "AMBIGUOUS_MATCH"
	CodeInvalidLine    ErrorCode = "INVALID_LINE"
	CodeBadArgument    ErrorCode = "BAD_ARGUMENT"
)

// CommandError is the typed rejection of a command. The buffer is
// guaranteed unchanged when one is returned.
type CommandError struct {
	Code    ErrorCode
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Command is one edit instruction. Only the fields for its Kind are read.
type Command struct {
	Kind Kind

	// str_replace
	OldStr string
	NewStr string

	// insert: NewStr is the line, InsertLine the 0-indexed line to
	// insert after (0 = prepend).
	InsertLine int

	// create
	FileText string

	// view: optional 1-indexed inclusive line range.
	ViewFrom int
	ViewTo   int
}

// Result is the outcome of a successful command.
type Result struct {
	// Text is the buffer after the command. For view it equals the input.
	Text string

	// View carries the requested buffer slice for view commands.
	View string

	// LineCount is the buffer's line count after the command.
	LineCount int
}

// Apply runs cmd against buffer. All-or-nothing: any error leaves the
// returned Text semantics moot and the caller must keep its old buffer.
func Apply(buffer string, cmd Command) (Result, error) {
	switch cmd.Kind {
	case KindView:
		return applyView(buffer, cmd)
	case KindStrReplace:
		return applyStrReplace(buffer, cmd)
	case KindInsert:
		return applyInsert(buffer, cmd)
	case KindAppend:
		return applyAppend(buffer, cmd)
	case KindCreate:
		return applyCreate(cmd)
	default:
		return Result{}, &CommandError{
			Code:    CodeBadArgument,
			Message: fmt.Sprintf("unknown command kind %d", int(cmd.Kind)),
		}
	}
}

func applyView(buffer string, cmd Command) (Result, error) {
	lines := strings.Split(buffer, "\n")
	res := Result{Text: buffer, View: buffer, LineCount: len(lines)}
	if cmd.ViewFrom == 0 && cmd.ViewTo == 0 {
		return res, nil
	}

	from, to := cmd.ViewFrom, cmd.ViewTo
	if to == 0 {
		to = len(lines)
	}
	if from < 1 || from > len(lines) || to < from || to > len(lines) {
		return Result{}, &CommandError{
			Code:    CodeInvalidLine,
			Message: fmt.Sprintf("view range [%d,%d] out of bounds for %d lines", from, to, len(lines)),
		}
	}
	res.View = strings.Join(lines[from-1:to], "\n")
	return res, nil
}

func applyStrReplace(buffer string, cmd Command) (Result, error) {
	if cmd.OldStr == "" {
		return Result{}, &CommandError{
			Code:    CodeBadArgument,
			Message: "str_replace requires a non-empty old_str",
		}
	}

	switch n := strings.Count(buffer, cmd.OldStr); {
	case n == 0:
		return Result{}, &CommandError{
			Code:    CodeNoMatch,
			Message: "text not found in draft; view the current draft and retry",
		}
	case n > 1:
		return Result{}, &CommandError{
			Code:    CodeAmbiguousMatch,
			Message: fmt.Sprintf("text appears %d times; include more surrounding context to make the match unique", n),
		}
	}

	text := strings.Replace(buffer, cmd.OldStr, cmd.NewStr, 1)
	return Result{Text: text, LineCount: lineCount(text)}, nil
}

func applyInsert(buffer string, cmd Command) (Result, error) {
	lines := strings.Split(buffer, "\n")
	if cmd.InsertLine < 0 || cmd.InsertLine > len(lines) {
		return Result{}, &CommandError{
			Code:    CodeInvalidLine,
			Message: fmt.Sprintf("line %d out of range; draft has %d lines (valid: 0-%d)", cmd.InsertLine, len(lines), len(lines)),
		}
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:cmd.InsertLine]...)
	out = append(out, cmd.NewStr)
	out = append(out, lines[cmd.InsertLine:]...)
	text := strings.Join(out, "\n")
	return Result{Text: text, LineCount: len(out)}, nil
}

func applyAppend(buffer string, cmd Command) (Result, error) {
	if cmd.NewStr == "" {
		return Result{}, &CommandError{
			Code:    CodeBadArgument,
			Message: "append requires a non-empty new_str",
		}
	}

	text := buffer
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	text += cmd.NewStr
	return Result{Text: text, LineCount: lineCount(text)}, nil
}

func applyCreate(cmd Command) (Result, error) {
	return Result{Text: cmd.FileText, LineCount: lineCount(cmd.FileText)}, nil
}

func lineCount(s string) int {
	return len(strings.Split(s, "\n"))
}
