package tools

import (
	"context"
	"errors"
	"testing"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Category:    CategoryGeneral,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "success", nil
		},
		Schema: ToolSchema{
			Required: []string{},
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := reg.Get("test_tool")
	if got == nil {
		t.Fatal("Get returned nil for registered tool")
	}
	if got.Name != "test_tool" {
		t.Errorf("got name %q, want %q", got.Name, "test_tool")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:     "dupe",
		Category: CategoryGeneral,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", nil
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	err := reg.Register(tool)
	if err == nil {
		t.Fatal("expected error for duplicate registration")
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name    string
		tool    *Tool
		wantErr error
	}{
		{
			name:    "empty name",
			tool:    &Tool{Name: "", Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }},
			wantErr: ErrToolNameEmpty,
		},
		{
			name:    "nil execute",
			tool:    &Tool{Name: "test", Execute: nil},
			wantErr: ErrToolExecuteNil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.tool)
			if err == nil {
				t.Errorf("expected error %v, got nil", tt.wantErr)
			}
		})
	}
}

func TestGetByCategory(t *testing.T) {
	reg := NewRegistry()

	tools := []*Tool{
		{Name: "doc_b", Category: CategoryDocument, Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }},
		{Name: "doc_a", Category: CategoryDocument, Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }},
		{Name: "misc", Category: CategoryGeneral, Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }},
	}

	for _, tool := range tools {
		reg.MustRegister(tool)
	}

	docs := reg.GetByCategory(CategoryDocument)
	if len(docs) != 2 {
		t.Errorf("expected 2 document tools, got %d", len(docs))
	}
	// Sorted by name.
	if docs[0].Name != "doc_a" {
		t.Errorf("expected doc_a first, got %s", docs[0].Name)
	}
}

func TestExecute(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:     "echo",
		Category: CategoryGeneral,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			msg, _ := args["message"].(string)
			return "Echo: " + msg, nil
		},
		Schema: ToolSchema{
			Required:   []string{"message"},
			Properties: map[string]Property{"message": {Type: "string"}},
		},
	}

	reg.MustRegister(tool)

	// Test successful execution
	result, err := reg.Execute(context.Background(), "echo", map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Result != "Echo: hello" {
		t.Errorf("got result %q, want %q", result.Result, "Echo: hello")
	}
	if !result.IsSuccess() {
		t.Error("expected IsSuccess to be true")
	}

	// Test missing required arg
	_, err = reg.Execute(context.Background(), "echo", map[string]any{})
	if err == nil {
		t.Error("expected error for missing required arg")
	}

	// Test tool not found
	_, err = reg.Execute(context.Background(), "nonexistent", map[string]any{})
	if err == nil {
		t.Error("expected error for nonexistent tool")
	}
}

func TestExecuteArgTypeValidation(t *testing.T) {
	reg := NewRegistry()

	reg.MustRegister(&Tool{
		Name:     "typed",
		Category: CategoryGeneral,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "ok", nil
		},
		Schema: ToolSchema{
			Required: []string{"name"},
			Properties: map[string]Property{
				"name":  {Type: "string"},
				"count": {Type: "integer"},
				"force": {Type: "boolean"},
			},
		},
	})

	cases := []struct {
		name string
		args map[string]any
		ok   bool
	}{
		{"all valid", map[string]any{"name": "x", "count": float64(3), "force": true}, true},
		{"int count accepted", map[string]any{"name": "x", "count": 3}, true},
		{"optional omitted", map[string]any{"name": "x"}, true},
		{"string arg wrong type", map[string]any{"name": 42}, false},
		{"integer arg wrong type", map[string]any{"name": "x", "count": "three"}, false},
		{"boolean arg wrong type", map[string]any{"name": "x", "force": "yes"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Execute(context.Background(), "typed", tc.args)
			if tc.ok && err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidArgType) {
				t.Fatalf("expected ErrInvalidArgType, got %v", err)
			}
		})
	}
}
