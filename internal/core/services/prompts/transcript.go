package prompts

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
)

// FormatTranscript renders turns as "Round N - A|B|Judge: content" lines.
// Content is NFC-normalized so composed and decomposed input read the same.
func FormatTranscript(turns []domain.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		content := norm.NFC.String(strings.TrimSpace(t.Content))
		lines = append(lines, fmt.Sprintf("Round %d - %s: %s", t.Round, t.Actor.Label(), content))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
