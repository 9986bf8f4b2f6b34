// Package export renders a debate transcript as Markdown or JSON.
package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
	"github.com/alejandroruanova/debate-engine/internal/core/services/debates"
	apperrors "github.com/alejandroruanova/debate-engine/internal/pkg/errors"
)

// Format is an export encoding
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts markdown, md and json
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", apperrors.UnsupportedFormat(s)
	}
}

// Filename is the stored name for a format
func (f Format) Filename() string {
	if f == FormatJSON {
		return "transcript.json"
	}
	return "transcript.md"
}

// Document is the JSON export layout
type Document struct {
	Debate          *domain.Debate `json:"debate"`
	Turns           []domain.Turn  `json:"turns"`
	CompletedRounds int            `json:"completed_rounds"`
	ExportedAt      time.Time      `json:"exported_at"`
}

// Render encodes detail in format
func Render(detail *debates.Detail, format Format, exportedAt time.Time) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return []byte(Markdown(detail, exportedAt)), nil
	case FormatJSON:
		doc := Document{
			Debate:          detail.Debate,
			Turns:           detail.Turns,
			CompletedRounds: detail.CompletedRounds,
			ExportedAt:      exportedAt.UTC(),
		}
		if doc.Turns == nil {
			doc.Turns = []domain.Turn{}
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		return append(out, '\n'), nil
	default:
		return nil, apperrors.UnsupportedFormat(string(format))
	}
}

// Markdown renders the debate header, its settings and the transcript
func Markdown(detail *debates.Detail, exportedAt time.Time) string {
	d := detail.Debate
	s := d.Config()

	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(d.Topic)
	sb.WriteString("\n\n---\n\n")

	fmt.Fprintf(&sb, "**Debate ID:** `%s`\n\n", d.ID)
	fmt.Fprintf(&sb, "**Created:** %s\n\n", d.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Status:** %s", d.Status)
	if d.StopReason != nil {
		fmt.Fprintf(&sb, " (%s)", *d.StopReason)
	}
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "**Completed rounds:** %d\n\n", detail.CompletedRounds)
	fmt.Fprintf(&sb, "**Sides:** A argues %s, B argues %s\n\n", s.EffectiveSide(), s.EffectiveSide().Opposite())
	if d.LastError != nil {
		fmt.Fprintf(&sb, "**Last error:** %s\n\n", *d.LastError)
	}

	sb.WriteString("## Settings\n\n")
	writeSettings(&sb, s)
	sb.WriteString("\n---\n\n")

	sb.WriteString("## Transcript\n\n")
	if len(detail.Turns) == 0 {
		sb.WriteString("_No turns yet._\n")
	}
	for i, turn := range detail.Turns {
		fmt.Fprintf(&sb, "### Round %d - %s", turn.Round, turn.Actor.Label())
		if turn.Model != nil && *turn.Model != "" {
			fmt.Fprintf(&sb, " (%s)", *turn.Model)
		}
		sb.WriteString("\n\n")

		for _, line := range strings.Split(strings.TrimSpace(turn.Content), "\n") {
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")

		if i < len(detail.Turns)-1 {
			sb.WriteString("---\n\n")
		}
	}

	fmt.Fprintf(&sb, "\n---\n\n*Exported on %s*\n", exportedAt.UTC().Format(time.RFC3339))
	return sb.String()
}

// writeSettings lists the stored settings as a sorted bullet list
func writeSettings(sb *strings.Builder, s domain.Settings) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "- `%s`: %v\n", k, fields[k])
	}
}
