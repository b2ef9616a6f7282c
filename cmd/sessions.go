package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	lipgloss "github.com/charmbracelet/lipgloss"
	table "github.com/charmbracelet/lipgloss/table"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	cobra "github.com/spf13/cobra"
)

type sessionLister interface {
	ListSessions(ctx context.Context, userID string) ([]domain.SessionSummary, error)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions known to the backend",
	Long: `List the conversation sessions the agent backend keeps, optionally
filtered by user. Defaults to backend.user_id from the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newContainer(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		format, _ := cmd.Flags().GetString("format")
		return listSessions(cmd.Context(), c.GetClient(), cmd.OutOrStdout(), c.GetConfig().Backend.UserID, format)
	},
}

func init() {
	sessionsCmd.Flags().String("user", "", "only list sessions of this user")
	sessionsCmd.Flags().String("backend-url", "", "agent backend URL")
	sessionsCmd.Flags().StringP("format", "f", "text", "Output format (text, json)")
	rootCmd.AddCommand(sessionsCmd)
}

func listSessions(ctx context.Context, lister sessionLister, out io.Writer, userID, format string) error {
	sessions, err := lister.ListSessions(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if format == "json" {
		data, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal sessions: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{s.ID, s.Name, s.UserID, strconv.Itoa(s.MessagesCount), s.UpdatedAt})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "USER", "MESSAGES", "UPDATED").
		Rows(rows...)
	fmt.Fprintln(out, t.String())
	return nil
}
