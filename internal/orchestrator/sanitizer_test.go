package orchestrator

import "testing"

func TestSanitizeToolArgumentsStrict(t *testing.T) {
	args, err := sanitizeToolArguments(`{"command":"ls","parameters":["-la"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["command"] != "ls" {
		t.Fatalf("got %v", args)
	}
}

func TestSanitizeToolArgumentsTrailingComma(t *testing.T) {
	args, err := sanitizeToolArguments(`{"command":"ls",}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["command"] != "ls" {
		t.Fatalf("got %v", args)
	}
}

func TestSanitizeToolArgumentsUnterminatedString(t *testing.T) {
	args, err := sanitizeToolArguments(`{"command":"ls -la`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["command"] != "ls -la" {
		t.Fatalf("got %v", args)
	}
}

func TestSanitizeToolArgumentsTruncateToBalanced(t *testing.T) {
	args, err := sanitizeToolArguments(`{"command":"ls"} garbage trailing content {{{`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["command"] != "ls" {
		t.Fatalf("got %v", args)
	}
}

func TestSanitizeToolArgumentsEmpty(t *testing.T) {
	args, err := sanitizeToolArguments("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 0 {
		t.Fatalf("expected empty map, got %v", args)
	}
}

func TestSanitizeToolArgumentsUnrecoverable(t *testing.T) {
	if _, err := sanitizeToolArguments("not json at all, no braces"); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyPlainTextToolIntentFallback(t *testing.T) {
	resp := llmResponseText(`calling tool: shell_cmd {"command": "ls"}`)
	out := applyPlainTextToolIntentFallback(resp)
	if out.Type != "tool_calls" {
		t.Fatalf("expected tool_calls, got %v", out.Type)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "shell_cmd" {
		t.Fatalf("got %+v", out.ToolCalls)
	}
}

func TestApplyPlainTextToolIntentFallbackLooseLiteral(t *testing.T) {
	resp := llmResponseText(`calling tool: shell_cmd {command: "ls"}`)
	out := applyPlainTextToolIntentFallback(resp)
	if len(out.ToolCalls) != 1 {
		t.Fatalf("got %+v", out)
	}
	if out.ToolCalls[0].Arguments != `{"command": "ls"}` {
		t.Fatalf("got %q", out.ToolCalls[0].Arguments)
	}
}

func TestApplyPlainTextToolIntentFallbackNoMatch(t *testing.T) {
	resp := llmResponseText("just a normal reply")
	out := applyPlainTextToolIntentFallback(resp)
	if out.Type != "text" {
		t.Fatalf("expected unchanged text response, got %v", out.Type)
	}
}
