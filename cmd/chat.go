package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	term "github.com/charmbracelet/x/term"
	config "github.com/kode-sdk/kode-chat/config"
	app "github.com/kode-sdk/kode-chat/internal/app"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
	ui "github.com/kode-sdk/kode-chat/internal/ui"
	cobra "github.com/spf13/cobra"
)

const closeTimeout = 5 * time.Second

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive chat with the agent backend. A new conversation is
created unless --conversation names one to resume.

When stdin is not a terminal, or --plain is given, chat runs in line mode:
each input line is sent as a message and the reply is printed as it streams.
In line mode, /new starts a new conversation and /quit exits.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringP("conversation", "C", "", "conversation id to resume")
	chatCmd.Flags().String("transport", "", "event stream transport (sse, websocket)")
	chatCmd.Flags().String("backend-url", "", "agent backend URL")
	chatCmd.Flags().Bool("plain", false, "use line mode instead of the full-screen interface")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	c, err := newContainer(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := c.GetConfig()
	session := c.NewChatSession()
	defer closeSession(session)

	conversationID, _ := cmd.Flags().GetString("conversation")
	plain, _ := cmd.Flags().GetBool("plain")

	if plain || !term.IsTerminal(os.Stdin.Fd()) {
		if err := session.Start(ctx, conversationID); err != nil {
			return fmt.Errorf("failed to start conversation: %w", err)
		}
		return runLineChat(ctx, session, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	// start errors are shown in the error banner; ctrl+r retries
	if err := session.Start(ctx, conversationID); err != nil {
		logger.Warn("conversation start failed", "error", err)
	}

	model := ui.NewChatModel(ctx, session, rendererOptions(cfg))
	defer model.Close()

	if prompt := strings.TrimSpace(cfg.Chat.InitialPrompt); prompt != "" {
		go submitWhenReady(ctx, session, prompt)
	}

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat interface failed: %w", err)
	}
	return nil
}

func rendererOptions(cfg *config.Config) ui.RendererOptions {
	return ui.RendererOptions{
		MarkdownStyle:  cfg.Chat.MarkdownStyle,
		ShowThinking:   cfg.Chat.ShowThinking,
		ShowTokenUsage: cfg.Chat.ShowTokenUsage,
	}
}

func submitWhenReady(ctx context.Context, session *app.ChatSession, text string) {
	if err := session.WaitReady(ctx); err != nil {
		return
	}
	if err := session.Submit(ctx, text); err != nil {
		logger.Warn("initial prompt failed", "error", err)
	}
}

// runLineChat reads one message per line from in and streams replies to out
func runLineChat(ctx context.Context, session *app.ChatSession, cfg *config.Config, in io.Reader, out io.Writer) error {
	printer := ui.NewPlainPrinter(out, cfg.Chat.ShowThinking)
	unsubscribe := session.Subscribe(printer.Update)
	defer unsubscribe()
	printer.Update(session.Snapshot())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	if prompt := strings.TrimSpace(cfg.Chat.InitialPrompt); prompt != "" {
		if err := runTurn(ctx, session, prompt); err != nil {
			return err
		}
	}

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			if err := session.Restart(ctx); err != nil {
				return fmt.Errorf("failed to start conversation: %w", err)
			}
			fmt.Fprintf(out, "-- new conversation %s\n", session.Snapshot().ID)
			continue
		}

		if err := runTurn(ctx, session, line); err != nil {
			return err
		}
	}
}

// runTurn submits text and waits for the reply. Surfaced stream errors are
// printed by the printer and do not end the chat.
func runTurn(ctx context.Context, session *app.ChatSession, text string) error {
	if err := session.WaitReady(ctx); err != nil {
		return err
	}
	if err := session.Submit(ctx, text); err != nil {
		if errors.Is(err, domain.ErrEmptyMessage) {
			return nil
		}
		var cerr *domain.ConversationError
		if errors.As(err, &cerr) {
			return nil
		}
		return err
	}

	if _, err := session.WaitForTurn(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return nil
}

func closeSession(session *app.ChatSession) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		logger.Error("failed to archive conversation", "error", err)
	}
}
