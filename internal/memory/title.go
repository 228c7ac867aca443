package memory

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/agentworld/core/internal/llm"
	"github.com/agentworld/core/internal/storage"
	"github.com/agentworld/core/internal/worldmodel"
)

// ErrTitleGenerationCanceled marks a title generation call that was
// canceled before it produced a result. Callers treat it as an empty
// title, never as a user-visible error.
var ErrTitleGenerationCanceled = errors.New("memory: title generation canceled")

const (
	titleTokenBudget      = 20
	titleMaxTurns         = 24
	titleMaxTokensPerTurn = 60
	titleMaxChars         = 100
)

var titleInstruction = "Turn conversations into concise titles (3-6 words)."

var lowQualityTitles = map[string]bool{
	"chat": true, "new chat": true, "conversation": true, "untitled": true,
	"title": true, "assistant chat": true, "user chat": true, "chat title": true,
}

var (
	leadingHashOrList = regexp.MustCompile(`^[\s#\-*\d.]+`)
	titlePrefix       = regexp.MustCompile(`(?i)^title:\s*`)
	trailingPunct     = regexp.MustCompile(`[.,;:!\s]+$`)
)

// GenerateChatTitle asks the model for a short title summarizing the
// recent turns of a chat, falling back to the first substantive user
// message, and finally to a generic title, if the model's answer is
// missing or low quality. model selects the tiktoken encoding used to
// window the turns fed into the prompt; an unrecognized model falls
// back to cl100k_base.
func GenerateChatTitle(ctx context.Context, store storage.Store, client llm.LLM, worldID, chatID, seedContent, model string) (string, error) {
	msgs, err := store.GetMemory(ctx, worldID, chatID)
	if err != nil {
		return "", err
	}
	if seedContent != "" {
		msgs = append(msgs, worldmodel.AgentMessage{Role: worldmodel.RoleUser, Content: seedContent, ChatID: chatID})
	}

	enc, err := NewTokenCounter(model)
	if err != nil {
		enc = nil // fall back to the rough CountTokens estimate
	}

	window := buildTitleWindow(msgs, enc)
	if len(window) == 0 {
		return "Chat Session", nil
	}

	prompt := formatTitlePrompt(window)
	resp, err := client.Generate(ctx, []llm.Message{
		{Role: "system", Content: titleInstruction},
		{Role: "user", Content: prompt},
	}, llm.CallOptions{MaxTokens: titleTokenBudget})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ErrTitleGenerationCanceled
		}
		return "", err
	}

	sanitized := sanitizeTitle(resp.Content)
	if isLowQuality(sanitized) {
		if fallback := firstNonLowQualityUserMessage(window); fallback != "" {
			sanitized = sanitizeTitle(fallback)
		} else {
			sanitized = "Chat Session"
		}
	}
	if isLowQuality(sanitized) {
		sanitized = "Chat Session"
	}
	return capTitle(sanitized), nil
}

// buildTitleWindow keeps only user/assistant roles, deduplicates
// consecutive-identical content, clips each turn to titleMaxTokensPerTurn
// using enc (or a char-count approximation if enc is nil), and caps to
// the last titleMaxTurns turns.
func buildTitleWindow(msgs []worldmodel.AgentMessage, enc *tiktoken.Tiktoken) []worldmodel.AgentMessage {
	var out []worldmodel.AgentMessage
	var lastContent string
	for _, m := range msgs {
		if m.Role != worldmodel.RoleUser && m.Role != worldmodel.RoleAssistant {
			continue
		}
		content := clipToTokenBudget(m.Content, enc, titleMaxTokensPerTurn)
		if content == lastContent {
			continue
		}
		lastContent = content
		m.Content = content
		out = append(out, m)
	}
	if len(out) > titleMaxTurns {
		out = out[len(out)-titleMaxTurns:]
	}
	return out
}

// clipToTokenBudget truncates s to at most n tokens as counted by enc.
// With enc nil it approximates using CountTokens's 4-chars-per-token rule.
func clipToTokenBudget(s string, enc *tiktoken.Tiktoken, n int) string {
	if enc == nil {
		maxChars := n * 4
		if len(s) <= maxChars {
			return s
		}
		return s[:maxChars]
	}
	tokens := enc.Encode(s, nil, nil)
	if len(tokens) <= n {
		return s
	}
	return enc.Decode(tokens[:n])
}

func formatTitlePrompt(window []worldmodel.AgentMessage) string {
	var b strings.Builder
	for _, m := range window {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func sanitizeTitle(s string) string {
	s = strings.TrimSpace(s)
	s = leadingHashOrList.ReplaceAllString(s, "")
	s = titlePrefix.ReplaceAllString(s, "")
	s = strings.Trim(s, `"'`)
	s = strings.Join(strings.Fields(s), " ")
	s = trailingPunct.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func isLowQuality(s string) bool {
	lower := strings.ToLower(s)
	return s == "" || len(s) < 3 || lowQualityTitles[lower]
}

func firstNonLowQualityUserMessage(window []worldmodel.AgentMessage) string {
	for _, m := range window {
		if m.Role != worldmodel.RoleUser {
			continue
		}
		if candidate := sanitizeTitle(m.Content); !isLowQuality(candidate) {
			return candidate
		}
	}
	return ""
}

func capTitle(s string) string {
	if len(s) <= titleMaxChars {
		return s
	}
	return strings.TrimSpace(s[:titleMaxChars]) + "…"
}

// NewTokenCounter wraps tiktoken-go, falling back to the cl100k_base
// encoding when model isn't recognized.
func NewTokenCounter(model string) (*tiktoken.Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return enc, nil
}

// CountTokens returns the token length of s using enc, or a rough
// 4-chars-per-token estimate if enc is nil.
func CountTokens(enc *tiktoken.Tiktoken, s string) int {
	if enc == nil {
		return len(s) / 4
	}
	return len(enc.Encode(s, nil, nil))
}
