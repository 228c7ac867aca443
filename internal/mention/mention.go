// Package mention implements pure text routing functions: paragraph-leading
// @mention detection, world-tag parsing, self-mention stripping, and
// auto-mention injection.
//
// No direct teacher equivalent exists (hector routes via its A2A agent
// directory, not free-text mentions); these are built fresh as small,
// single-purpose pure functions, in the style of hector's own
// text-processing helpers (one function per concern, table-driven tests).
package mention

import (
	"regexp"
	"strings"
)

// mentionAtStart matches a `@name` token at the start of a line, with an
// optional trailing comma/colon and whitespace, capturing the name.
// Allowed name chars : [A-Za-z][\w-]*.
var mentionAtStart = regexp.MustCompile(`^[ \t]*@([A-Za-z][\w-]*)[,:]?[ \t]*`)

// anyMention matches a `@name` token anywhere in the text.
var anyMention = regexp.MustCompile(`@([A-Za-z][\w-]*)`)

// worldTag matches an inline <world>...</world> control token.
var worldTag = regexp.MustCompile(`(?is)<world>\s*(.*?)\s*</world>`)

// PollTagCommands are the recognized bare world-tag bodies.
const (
	tagStop = "stop"
	tagDone = "done"
	tagPass = "pass"
)

var toTag = regexp.MustCompile(`(?is)^to\s*:\s*(.*)$`)

// lines splits text preserving the ability to reconstruct it, tracking
// paragraph boundaries as individual lines: each line is a potential
// paragraph start, matching typical chat-message formatting.
func lines(text string) []string {
	return strings.Split(text, "\n")
}

// ParagraphBeginMentions returns the lower-cased names of every @mention
// appearing at the start of a line, stopping at the first line that does
// not begin with a mention.
func ParagraphBeginMentions(text string) []string {
	var out []string
	for _, line := range lines(text) {
		m := mentionAtStart.FindStringSubmatch(line)
		if m == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			break
		}
		out = append(out, strings.ToLower(m[1]))
	}
	return out
}

// HasAnyMentionAtBeginning reports whether text begins with at least one
// leading @mention.
func HasAnyMentionAtBeginning(text string) bool {
	return len(ParagraphBeginMentions(text)) > 0
}

// ExtractMentions returns the lower-cased names of every @mention
// appearing anywhere in text (not just at paragraph starts).
func ExtractMentions(text string) []string {
	matches := anyMention.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	out := make([]string, 0, len(matches))
	seen := map[string]bool{}
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// StripMentionsAtParagraphBeginnings removes leading @mentions from text.
// If target is non-empty, only @target is stripped (case-insensitive);
// otherwise any leading mention is stripped. Every consecutive matching
// mention at the start of a line is removed, so a second call changes
// nothing. Stops at the first line
// whose leading token is not a (matching) mention, preserving everything
// from there on including leading whitespace on non-stripped lines.
func StripMentionsAtParagraphBeginnings(text string, target string) string {
	ls := lines(text)
	i := 0
	for i < len(ls) {
		line := ls[i]
		if strings.TrimSpace(line) == "" {
			i++
			continue
		}
		m := mentionAtStart.FindStringSubmatchIndex(line)
		if m == nil {
			break
		}
		name := line[m[2]:m[3]]
		if target != "" && !strings.EqualFold(name, target) {
			break
		}
		ls[i] = line[m[1]:]
		for {
			m = mentionAtStart.FindStringSubmatchIndex(ls[i])
			if m == nil || (target != "" && !strings.EqualFold(ls[i][m[2]:m[3]], target)) {
				break
			}
			ls[i] = ls[i][m[1]:]
		}
		i++
	}
	return strings.Join(ls, "\n")
}

// RemoveSelfMentions strips any leading @agentId mention from text.
func RemoveSelfMentions(text string, agentID string) string {
	return StripMentionsAtParagraphBeginnings(text, agentID)
}

// parsedWorldTag is the decoded body of a <world>...</world> tag.
type parsedWorldTag struct {
	found      bool
	control    string   // "stop", "done", "pass", or "" when not a bare control
	recipients []string // populated when control == "to"
	isTo       bool
	span       string // the full matched "<world>...</world>" substring
}

func parseWorldTag(text string) parsedWorldTag {
	m := worldTag.FindStringSubmatch(text)
	if m == nil {
		return parsedWorldTag{}
	}
	body := strings.TrimSpace(m[1])
	lower := strings.ToLower(body)
	switch lower {
	case tagStop, tagDone, tagPass:
		return parsedWorldTag{found: true, control: lower, span: m[0]}
	}
	if tm := toTag.FindStringSubmatch(body); tm != nil {
		raw := strings.TrimSpace(tm[1])
		var recipients []string
		if raw != "" {
			for _, part := range strings.Split(raw, ",") {
				if name := strings.TrimSpace(part); name != "" {
					recipients = append(recipients, name)
				}
			}
		}
		return parsedWorldTag{found: true, isTo: true, recipients: recipients, span: m[0]}
	}
	return parsedWorldTag{found: true, span: m[0]}
}

// AddAutoMention applies world-tag precedence: an explicit <world> tag
// (STOP/DONE/PASS, TO:) takes precedence over ordinary auto-mention
// injection.
func AddAutoMention(text string, sender string) string {
	tag := parseWorldTag(text)
	if tag.found {
		switch {
		case tag.control != "":
			return StripMentionsAtParagraphBeginnings(text, "")
		case tag.isTo:
			withoutTag := strings.Replace(text, tag.span, "", 1)
			if len(tag.recipients) == 0 {
				return genericAutoMention(strings.TrimLeft(withoutTag, " \t"), sender)
			}
			stripped := StripMentionsAtParagraphBeginnings(withoutTag, "")
			var prefix strings.Builder
			for _, r := range tag.recipients {
				prefix.WriteString("@")
				prefix.WriteString(r)
				prefix.WriteString("\n")
			}
			return prefix.String() + strings.TrimLeft(stripped, "\n")
		}
	}
	return genericAutoMention(text, sender)
}

func genericAutoMention(text string, sender string) string {
	if HasAnyMentionAtBeginning(text) {
		return text
	}
	return "@" + sender + " " + text
}

// ShouldAutoMention reports whether a response from agentId addressed to
// sender should receive an injected auto-mention.
func ShouldAutoMention(response string, sender string, agentID string) bool {
	if strings.EqualFold(sender, "human") || strings.EqualFold(sender, "user") {
		return false
	}
	if strings.EqualFold(sender, agentID) {
		return false
	}
	leading := ParagraphBeginMentions(response)
	for _, m := range leading {
		if !strings.EqualFold(m, agentID) {
			return false
		}
	}
	return true
}
