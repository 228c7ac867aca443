package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParagraphBeginMentions(t *testing.T) {
	assert.Empty(t, ParagraphBeginMentions("hello @a, world"))
	assert.Equal(t, []string{"a", "b"}, ParagraphBeginMentions("@A\n@b body"))
	assert.Equal(t, []string{"alice"}, ParagraphBeginMentions("@alice do the thing"))
}

func TestHasAnyMentionAtBeginning(t *testing.T) {
	assert.True(t, HasAnyMentionAtBeginning("@a hi"))
	assert.False(t, HasAnyMentionAtBeginning("hi @a"))
	assert.False(t, HasAnyMentionAtBeginning(""))
}

func TestStripMentionsAtParagraphBeginnings(t *testing.T) {
	got := StripMentionsAtParagraphBeginnings("@a hello world", "")
	assert.Equal(t, "hello world", got)

	got = StripMentionsAtParagraphBeginnings("@a, @b body", "a")
	assert.Equal(t, "@b body", got)
}

func TestStripMentionsIdempotent(t *testing.T) {
	text := "@a @b hello\nworld"
	once := StripMentionsAtParagraphBeginnings(text, "")
	twice := StripMentionsAtParagraphBeginnings(once, "")
	assert.Equal(t, once, twice)
}

func TestAddAutoMentionStopStripsLeading(t *testing.T) {
	got := AddAutoMention("@a done for now <world>STOP</world>", "a1")
	assert.Equal(t, "done for now <world>STOP</world>", got)
}

func TestAddAutoMentionTo(t *testing.T) {
	got := AddAutoMention("<world>TO: a1, a2</world> please review", "human")
	assert.Equal(t, "@a1\n@a2\n please review", got)
}

func TestAddAutoMentionEmptyToFallsBack(t *testing.T) {
	got := AddAutoMention("<world>TO:</world> hello", "human")
	assert.Equal(t, "@human hello", got)
}

func TestAddAutoMentionDefault(t *testing.T) {
	assert.Equal(t, "@human hi", AddAutoMention("hi", "human"))
	assert.Equal(t, "@a1 hi", AddAutoMention("@a1 hi", "human"))
}

func TestAddAutoMentionIdempotentWhenNotSelf(t *testing.T) {
	once := AddAutoMention("hello", "human")
	twice := AddAutoMention(once, "human")
	assert.Equal(t, once, twice)
}

func TestShouldAutoMention(t *testing.T) {
	assert.False(t, ShouldAutoMention("hi", "human", "a1"))
	assert.False(t, ShouldAutoMention("hi", "a1", "a1"))
	assert.False(t, ShouldAutoMention("@a2 hi", "a2", "a1"))
	assert.True(t, ShouldAutoMention("hi there", "a2", "a1"))
	assert.True(t, ShouldAutoMention("@a1 hi", "a2", "a1"))
}

func TestRemoveSelfMentions(t *testing.T) {
	assert.Equal(t, "hello", RemoveSelfMentions("@a1 hello", "a1"))
	assert.Equal(t, "@a2 hello", RemoveSelfMentions("@a2 hello", "a1"))
}

func TestExtractMentions(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ExtractMentions("hi @A, meet @b and @a again"))
}
