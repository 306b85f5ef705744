package bot

import (
	"fmt"
	"strings"

	"github.com/tagai-dao/tagclaw/pkg/models"
)

// BuildPrompt composes the outbound prompt text for one mention. Related
// events (the tweet that was quoted or replied to) are prepended as
// context lines so the model sees the thread, not just the mention.
func BuildPrompt(event *models.Event) string {
	if len(event.RelatedEvents) == 0 {
		return event.Text
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	for _, rel := range event.RelatedEvents {
		kind := rel.RelationKind
		if kind == "" {
			kind = "related"
		}
		fmt.Fprintf(&b, "[%s] @%s: %s\n", kind, rel.AuthorID, rel.Text)
	}
	b.WriteString("\nMention:\n")
	b.WriteString(event.Text)
	return b.String()
}

// TruncateReply normalizes a raw completion into a postable reply: keep
// only the first line, cut to intendedLimit runes, then enforce hardLimit
// runes (the platform's absolute cap). No word-boundary awareness.
func TruncateReply(text string, intendedLimit, hardLimit int) string {
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if intendedLimit > 0 && len(runes) > intendedLimit {
		runes = runes[:intendedLimit]
	}
	if hardLimit > 0 && len(runes) > hardLimit {
		runes = runes[:hardLimit]
	}
	return string(runes)
}
