package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"meridian/internal/interp"
	"meridian/internal/logging"
	"meridian/internal/session"
	"meridian/internal/store"
	"meridian/internal/types"
)

// Tool-surface error codes. Returned inside the result payload, not as
// Go errors, so the LLM can read the code and recover.
const (
	CodeDocNotFound     = "DOC_NOT_FOUND"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeContentTooLarge = "CONTENT_TOO_LARGE"
)

// Limits bounds user-supplied payload sizes before they reach the
// interpreter. Zero means unbounded; the hosting application supplies
// its configured values.
type Limits struct {
	MaxDocumentBytes int
	MaxEditBytes     int
}

// AuthzGate decides whether the current caller may touch a document.
// Supplied by the hosting application; nil means allow everything.
type AuthzGate interface {
	CanEdit(ctx context.Context, documentID string) error
}

// ConversationContext supplies the chat/turn linkage recorded on the
// session a tool call opens. Supplied by the conversation transport.
type ConversationContext interface {
	Linkage(ctx context.Context) (chatID, turnID *string)
}

// DocEditor backs the doc_edit and doc_view tools. Edits are written to
// the document's AI draft through the session manager for user review
// before acceptance; canonical content is never touched.
type DocEditor struct {
	store    *store.LocalStore
	sessions *session.Manager
	authz    AuthzGate
	conv     ConversationContext
	limits   Limits
}

// NewDocEditor creates the editor. authz and conv may be nil; a zero
// Limits leaves payload sizes unbounded.
func NewDocEditor(s *store.LocalStore, sessions *session.Manager, authz AuthzGate, conv ConversationContext, limits Limits) *DocEditor {
	return &DocEditor{store: s, sessions: sessions, authz: authz, conv: conv, limits: limits}
}

// RegisterAll registers the document tools on the given registry.
func (e *DocEditor) RegisterAll(r *Registry) {
	r.MustRegister(e.EditTool())
	r.MustRegister(e.ViewTool())
}

// EditTool returns the doc_edit tool definition.
func (e *DocEditor) EditTool() *Tool {
	return &Tool{
		Name:        "doc_edit",
		Description: "Edit a document's draft with str_replace, insert, append, or create a new document.",
		Category:    CategoryDocument,
		Execute:     e.executeEdit,
		Schema: ToolSchema{
			Required: []string{"command", "path"},
			Properties: map[string]Property{
				"command":     {Type: "string", Description: "One of str_replace, insert, append, create", Enum: []any{"str_replace", "insert", "append", "create"}},
				"path":        {Type: "string", Description: "Unix-style path to the document"},
				"old_str":     {Type: "string", Description: "For str_replace: exact text to find (must match exactly once)"},
				"new_str":     {Type: "string", Description: "For str_replace/insert/append: replacement or new text"},
				"insert_line": {Type: "integer", Description: "For insert: 0-indexed line to insert after (0 = start)"},
				"file_text":   {Type: "string", Description: "For create: initial document content"},
			},
		},
	}
}

// ViewTool returns the doc_view tool definition.
func (e *DocEditor) ViewTool() *Tool {
	return &Tool{
		Name:        "doc_view",
		Description: "Read a document's current draft, optionally a line range.",
		Category:    CategoryDocument,
		Execute:     e.executeView,
		Schema: ToolSchema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path":      {Type: "string", Description: "Unix-style path to the document"},
				"view_from": {Type: "integer", Description: "First line to show (1-indexed)"},
				"view_to":   {Type: "integer", Description: "Last line to show (inclusive)"},
			},
		},
	}
}

func (e *DocEditor) executeEdit(ctx context.Context, args map[string]any) (string, error) {
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return "", errors.New("missing required parameter: command")
	}
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", errors.New("missing required parameter: path")
	}
	path = normalizePath(path)

	switch command {
	case "str_replace":
		return e.executeStrReplace(ctx, path, args)
	case "insert":
		return e.executeInsert(ctx, path, args)
	case "append":
		return e.executeAppend(ctx, path, args)
	case "create":
		return e.executeCreate(ctx, path, args)
	default:
		return "", fmt.Errorf("unknown command: %s (expected: str_replace, insert, append, create)", command)
	}
}

func (e *DocEditor) executeStrReplace(ctx context.Context, path string, args map[string]any) (string, error) {
	oldStr, ok := args["old_str"].(string)
	if !ok || oldStr == "" {
		return "", errors.New("str_replace requires old_str parameter")
	}
	newStr, _ := args["new_str"].(string) // empty means deletion
	if e.oversizeEdit(oldStr, newStr) {
		return e.tooLargeResult(e.limits.MaxEditBytes)
	}

	cmd := interp.Command{Kind: interp.KindStrReplace, OldStr: oldStr, NewStr: newStr}
	return e.applyEdit(ctx, path, cmd, "Suggested text replacement")
}

func (e *DocEditor) executeInsert(ctx context.Context, path string, args map[string]any) (string, error) {
	lineFloat, ok := args["insert_line"].(float64) // JSON numbers are float64
	if !ok {
		return "", errors.New("insert requires insert_line parameter (integer)")
	}
	newStr, ok := args["new_str"].(string)
	if !ok {
		return "", errors.New("insert requires new_str parameter")
	}
	if e.oversizeEdit(newStr) {
		return e.tooLargeResult(e.limits.MaxEditBytes)
	}

	cmd := interp.Command{Kind: interp.KindInsert, InsertLine: int(lineFloat), NewStr: newStr}
	return e.applyEdit(ctx, path, cmd, fmt.Sprintf("Suggested insertion after line %d", int(lineFloat)))
}

func (e *DocEditor) executeAppend(ctx context.Context, path string, args map[string]any) (string, error) {
	newStr, ok := args["new_str"].(string)
	if !ok || newStr == "" {
		return "", errors.New("append requires new_str parameter")
	}
	if e.oversizeEdit(newStr) {
		return e.tooLargeResult(e.limits.MaxEditBytes)
	}

	cmd := interp.Command{Kind: interp.KindAppend, NewStr: newStr}
	return e.applyEdit(ctx, path, cmd, "Suggested appending text to document")
}

// applyEdit runs one mutating command through the session manager:
// resolve document, open or reuse its active session, apply the edit.
func (e *DocEditor) applyEdit(ctx context.Context, path string, cmd interp.Command, message string) (string, error) {
	doc, err := e.store.GetDocumentByPath(ctx, path)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return errorResult(CodeDocNotFound, fmt.Sprintf("Document not found: %s", path))
		}
		return "", fmt.Errorf("failed to get document: %w", err)
	}
	if e.authz != nil {
		if err := e.authz.CanEdit(ctx, doc.ID); err != nil {
			return "", fmt.Errorf("edit not permitted for %s: %w", path, err)
		}
	}

	sess, err := e.sessions.GetOrCreate(ctx, doc, e.linkage(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}

	if _, err := e.sessions.AddEdit(ctx, sess.ID, path, cmd); err != nil {
		var cmdErr *interp.CommandError
		if errors.As(err, &cmdErr) {
			return errorResult(string(cmdErr.Code), cmdErr.Message)
		}
		if errors.Is(err, types.ErrSessionResolved) || errors.Is(err, types.ErrNotFound) {
			return errorResult(CodeSessionNotFound, fmt.Sprintf("No active session for %s; retry to open a new one.", path))
		}
		return "", fmt.Errorf("failed to apply edit: %w", err)
	}

	logging.ToolsDebug("doc_edit %s applied %s", path, cmd.Kind)
	return successResult(path, message)
}

func (e *DocEditor) executeCreate(ctx context.Context, path string, args map[string]any) (string, error) {
	fileText, ok := args["file_text"].(string)
	if !ok {
		return "", errors.New("create requires file_text parameter")
	}
	if e.limits.MaxDocumentBytes > 0 && len(fileText) > e.limits.MaxDocumentBytes {
		return e.tooLargeResult(e.limits.MaxDocumentBytes)
	}

	if _, err := e.store.GetDocumentByPath(ctx, path); err == nil {
		return errorResult(CodeAlreadyExists, fmt.Sprintf("Document already exists: %s. Use str_replace, insert, or append to modify it.", path))
	} else if !errors.Is(err, types.ErrNotFound) {
		return "", fmt.Errorf("failed to check document existence: %w", err)
	}

	_, docName := splitDocPath(path)
	if _, err := e.store.CreateDocument(ctx, path, docName, fileText); err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}

	return successResult(path, "Created new document")
}

// executeView reads the current draft without opening a session.
func (e *DocEditor) executeView(ctx context.Context, args map[string]any) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", errors.New("missing required parameter: path")
	}
	path = normalizePath(path)

	doc, err := e.store.GetDocumentByPath(ctx, path)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return errorResult(CodeDocNotFound, fmt.Sprintf("Document not found: %s", path))
		}
		return "", fmt.Errorf("failed to get document: %w", err)
	}

	cmd := interp.Command{Kind: interp.KindView}
	if from, ok := args["view_from"].(float64); ok {
		cmd.ViewFrom = int(from)
	}
	if to, ok := args["view_to"].(float64); ok {
		cmd.ViewTo = int(to)
	}

	res, err := interp.Apply(doc.Draft(), cmd)
	if err != nil {
		var cmdErr *interp.CommandError
		if errors.As(err, &cmdErr) {
			return errorResult(string(cmdErr.Code), cmdErr.Message)
		}
		return "", err
	}

	return marshalResult(map[string]any{
		"success":    true,
		"path":       path,
		"content":    res.View,
		"line_count": res.LineCount,
	})
}

// oversizeEdit reports whether any edit payload exceeds the configured
// per-edit bound. Zero MaxEditBytes disables the check.
func (e *DocEditor) oversizeEdit(payloads ...string) bool {
	if e.limits.MaxEditBytes <= 0 {
		return false
	}
	for _, p := range payloads {
		if len(p) > e.limits.MaxEditBytes {
			return true
		}
	}
	return false
}

func (e *DocEditor) tooLargeResult(limit int) (string, error) {
	return errorResult(CodeContentTooLarge, fmt.Sprintf("Content exceeds the %d byte limit.", limit))
}

func (e *DocEditor) linkage(ctx context.Context) session.Linkage {
	if e.conv == nil {
		return session.Linkage{}
	}
	chatID, turnID := e.conv.Linkage(ctx)
	return session.Linkage{ChatID: chatID, TurnID: turnID}
}

// Helper functions

// normalizePath ensures path starts with / and has no trailing /
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// splitDocPath splits a document path into folder path and document name.
// "/chapters/ch1.md" -> ("/chapters", "ch1.md")
// "/readme.md" -> ("/", "readme.md")
func splitDocPath(path string) (folderPath, docName string) {
	path = strings.TrimPrefix(path, "/")
	lastSlash := strings.LastIndex(path, "/")
	if lastSlash == -1 {
		return "/", path
	}
	return "/" + path[:lastSlash], path[lastSlash+1:]
}

// successResult creates a successful tool result payload.
func successResult(path, message string) (string, error) {
	return marshalResult(map[string]any{
		"success": true,
		"path":    path,
		"message": message,
	})
}

// errorResult creates an error tool result (returned, not thrown).
// Error codes help the LLM understand what went wrong and how to recover.
func errorResult(code, message string) (string, error) {
	return marshalResult(map[string]any{
		"success":    false,
		"error_code": code,
		"message":    message,
	})
}

func marshalResult(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return string(data), nil
}
