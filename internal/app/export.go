package app

import (
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/kode-sdk/kode-chat/internal/domain"
	formatting "github.com/kode-sdk/kode-chat/internal/formatting"
	storage "github.com/kode-sdk/kode-chat/internal/infra/storage"
	yaml "gopkg.in/yaml.v3"
)

// ExportTranscript renders an archived transcript in the requested format
func ExportTranscript(t storage.Transcript, format domain.ExportFormat) ([]byte, error) {
	switch format {
	case domain.ExportJSON:
		return json.MarshalIndent(t, "", "  ")

	case domain.ExportYAML:
		return yaml.Marshal(t)

	case domain.ExportMarkdown, "":
		return exportMarkdown(t), nil

	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportMarkdown(t storage.Transcript) []byte {
	var content strings.Builder

	fmt.Fprintf(&content, "# %s\n\n", t.Metadata.Title)
	fmt.Fprintf(&content, "**Conversation:** %s\n", t.Metadata.ID)
	fmt.Fprintf(&content, "**Date:** %s\n", formatting.FormatTimestamp(t.Metadata.CreatedAt))
	fmt.Fprintf(&content, "**Entries:** %d\n", len(t.Entries))
	if t.Metadata.Usage.Total() > 0 {
		fmt.Fprintf(&content, "**Input Tokens:** %d\n", t.Metadata.Usage.InputTokens)
		fmt.Fprintf(&content, "**Output Tokens:** %d\n", t.Metadata.Usage.OutputTokens)
	}
	content.WriteString("\n---\n\n")

	for _, entry := range t.Entries {
		switch entry.Kind {
		case domain.EntryKindText:
			if entry.Role == domain.RoleUser {
				content.WriteString("## You\n\n")
			} else {
				content.WriteString("## Agent\n\n")
			}
			content.WriteString(entry.Content)
			content.WriteString("\n\n")

		case domain.EntryKindThinking:
			content.WriteString("<details><summary>Thinking</summary>\n\n")
			content.WriteString(entry.Content)
			content.WriteString("\n\n</details>\n\n")

		case domain.EntryKindTool:
			fmt.Fprintf(&content, "### Tool: %s (%s)\n\n", entry.Name, entry.Status)
			if entry.DurationMs != nil {
				fmt.Fprintf(&content, "*Duration: %s*\n\n", formatting.FormatDurationMs(*entry.DurationMs))
			}
			if entry.Input != "" {
				fmt.Fprintf(&content, "Input:\n\n```json\n%s\n```\n\n", entry.Input)
			}
			if entry.Result != "" {
				fmt.Fprintf(&content, "Result:\n\n```\n%s\n```\n\n", entry.Result)
			}

		case domain.EntryKindEvent:
			fmt.Fprintf(&content, "> **%s**", entry.Title)
			if entry.Details != "" {
				content.WriteString(" " + entry.Details)
			}
			content.WriteString("\n\n")
		}
	}

	return []byte(content.String())
}
