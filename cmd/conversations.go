package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	lipgloss "github.com/charmbracelet/lipgloss"
	table "github.com/charmbracelet/lipgloss/table"
	app "github.com/kode-sdk/kode-chat/internal/app"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	formatting "github.com/kode-sdk/kode-chat/internal/formatting"
	storage "github.com/kode-sdk/kode-chat/internal/infra/storage"
	ui "github.com/kode-sdk/kode-chat/internal/ui"
	cobra "github.com/spf13/cobra"
)

var errArchiveDisabled = errors.New("transcript archive is disabled (storage.enabled is false)")

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage archived conversations",
	Long: `View and manage conversation transcripts archived by chat and send.

Transcripts are stored in the configured storage backend (JSONL files,
SQLite, PostgreSQL, Redis or memory).`,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived conversations",
	Long: `Display archived conversations, most recently updated first.

Examples:
  # List the 50 most recent conversations
  kode-chat conversations list

  # Paginate
  kode-chat conversations list --limit 20 --offset 40

  # Output as JSON
  kode-chat conversations list --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		format, _ := cmd.Flags().GetString("format")
		return withStorage(cmd, func(ctx context.Context, store storage.TranscriptStorage) error {
			return listConversations(ctx, store, cmd.OutOrStdout(), limit, offset, format)
		})
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print an archived conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, store storage.TranscriptStorage) error {
			return showConversation(ctx, store, cmd.OutOrStdout(), args[0])
		})
	},
}

var conversationsExportCmd = &cobra.Command{
	Use:   "export ID",
	Short: "Export an archived conversation",
	Long: `Export an archived conversation as markdown, json or yaml.

Examples:
  kode-chat conversations export 3f6c... --format markdown
  kode-chat conversations export 3f6c... --format json --output chat.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		return withStorage(cmd, func(ctx context.Context, store storage.TranscriptStorage) error {
			return exportConversation(ctx, store, cmd.OutOrStdout(), args[0], domain.ExportFormat(format), output)
		})
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an archived conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, store storage.TranscriptStorage) error {
			if err := store.DeleteTranscript(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete conversation %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", args[0])
			return nil
		})
	},
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd, conversationsShowCmd, conversationsExportCmd, conversationsDeleteCmd)

	conversationsListCmd.Flags().IntP("limit", "l", 50, "Maximum number of conversations to display")
	conversationsListCmd.Flags().Int("offset", 0, "Number of conversations to skip")
	conversationsListCmd.Flags().StringP("format", "f", "text", "Output format (text, json)")

	conversationsExportCmd.Flags().StringP("format", "f", "markdown", "Export format (markdown, json, yaml)")
	conversationsExportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	conversationsCmd.PersistentFlags().String("storage", "", "storage backend (jsonl, sqlite, postgres, redis, memory)")

	rootCmd.AddCommand(conversationsCmd)
}

func withStorage(cmd *cobra.Command, fn func(context.Context, storage.TranscriptStorage) error) error {
	c, err := newContainer(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	store := c.GetStorage()
	if store == nil {
		return errArchiveDisabled
	}
	return fn(cmd.Context(), store)
}

func listConversations(ctx context.Context, store storage.TranscriptStorage, out io.Writer, limit, offset int, format string) error {
	items, err := store.ListTranscripts(ctx, limit, offset)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	if format == "json" {
		data, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal conversations: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(items) == 0 {
		fmt.Fprintln(out, "No conversations found.")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		status := "open"
		if item.Completed {
			status = "done"
		}
		rows = append(rows, []string{
			item.ID,
			formatting.TruncateText(item.Title, 40),
			strconv.Itoa(item.EntryCount),
			formatting.FormatTokens(item.Usage.Total()),
			status,
			formatting.FormatTimestamp(item.UpdatedAt),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "TITLE", "ENTRIES", "TOKENS", "STATUS", "UPDATED").
		Rows(rows...)
	fmt.Fprintln(out, t.String())
	fmt.Fprintf(out, "Showing %d conversation(s)\n", len(items))
	return nil
}

func showConversation(ctx context.Context, store storage.TranscriptStorage, out io.Writer, id string) error {
	transcript, err := store.LoadTranscript(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	conv := domain.NewConversation(transcript.Metadata.ID)
	conv.Entries = transcript.Entries
	conv.ToolCalls = transcript.ToolCalls
	conv.Usage = transcript.Metadata.Usage
	conv.HasCompleted = transcript.Metadata.Completed

	renderer := ui.NewRenderer(ui.RendererOptions{
		Width:          100,
		MarkdownStyle:  "notty",
		ShowThinking:   true,
		ShowTokenUsage: true,
	})
	fmt.Fprintln(out, renderer.StatusLine(*conv))
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderer.Render(*conv))
	return nil
}

func exportConversation(ctx context.Context, store storage.TranscriptStorage, out io.Writer, id string, format domain.ExportFormat, output string) error {
	transcript, err := store.LoadTranscript(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	data, err := app.ExportTranscript(transcript, format)
	if err != nil {
		return err
	}

	if output == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Fprintf(out, "Exported conversation %s to %s\n", id, output)
	return nil
}
