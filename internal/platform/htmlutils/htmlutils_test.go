package htmlutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripTags(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain text untouched",
			input: "Just a plain description.",
			want:  "Just a plain description.",
		},
		{
			name:  "inline tags removed",
			input: "We talk to <b>Jane Doe</b> about <i>pricing</i>.",
			want:  "We talk to Jane Doe about pricing.",
		},
		{
			name:  "paragraphs become lines",
			input: "<p>First topic.</p><p>Second topic.</p>",
			want:  "First topic.\n\nSecond topic.",
		},
		{
			name:  "list items on own lines",
			input: "<ul><li>One</li><li>Two</li></ul>",
			want:  "One\n\nTwo",
		},
		{
			name:  "entities decoded",
			input: "Q&amp;A session &mdash; live",
			want:  "Q&A session — live",
		},
		{
			name:  "script content dropped",
			input: "<p>Notes</p><script>alert(1)</script>",
			want:  "Notes",
		},
		{
			name:  "links keep anchor text only",
			input: `Subscribe at <a href="https://example.com/pod">our site</a> today`,
			want:  "Subscribe at our site today",
		},
		{
			name:  "whitespace collapsed",
			input: "Too   many\t spaces\n\n\n\nhere",
			want:  "Too many spaces\n\nhere",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripTags(tt.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exact", Truncate("exact", 5))
	assert.Equal(t, "abc…", Truncate("abcdef", 3))
	assert.Equal(t, "", Truncate("anything", 0))

	// Rune safe: never splits a multibyte character.
	assert.Equal(t, "héll…", Truncate("héllo world", 4))
}
