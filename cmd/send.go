package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	app "github.com/kode-sdk/kode-chat/internal/app"
	formatting "github.com/kode-sdk/kode-chat/internal/formatting"
	ui "github.com/kode-sdk/kode-chat/internal/ui"
	cobra "github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send MESSAGE",
	Short: "Send one message and stream the reply",
	Long: `Send a single message, print the reply to stdout as it streams and exit
once the turn completes. A summary line is written to stderr.

Examples:
  # Start a new conversation
  kode-chat send "What is the weather like?"

  # Continue an existing conversation
  kode-chat send --conversation 3f6c... "And tomorrow?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringP("conversation", "C", "", "conversation id to resume")
	sendCmd.Flags().String("transport", "", "event stream transport (sse, websocket)")
	sendCmd.Flags().String("backend-url", "", "agent backend URL")
	sendCmd.Flags().Duration("timeout", 5*time.Minute, "maximum time to wait for the reply")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	c, err := newContainer(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	conversationID, _ := cmd.Flags().GetString("conversation")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session := c.NewChatSession()
	defer closeSession(session)

	message := strings.Join(args, " ")
	return sendMessage(ctx, session, conversationID, message, c.GetConfig().Chat.ShowThinking, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// sendMessage runs a single turn, streaming it to out and the summary to errOut
func sendMessage(ctx context.Context, session *app.ChatSession, conversationID, message string, showThinking bool, out, errOut io.Writer) error {
	if err := session.Start(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to start conversation: %w", err)
	}
	if err := session.WaitReady(ctx); err != nil {
		return fmt.Errorf("event stream did not open: %w", err)
	}

	printer := ui.NewPlainPrinter(out, showThinking)
	printer.Baseline(session.Snapshot())
	unsubscribe := session.Subscribe(printer.Update)
	defer unsubscribe()

	if err := session.Submit(ctx, message); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	snap, err := session.WaitForTurn(ctx)
	printer.Update(session.Snapshot())
	if err != nil {
		return err
	}

	fmt.Fprintf(errOut, "conversation %s: %d entries, %s tokens\n",
		snap.ID, len(snap.Entries), formatting.FormatTokens(snap.Usage.Total()))
	return nil
}
