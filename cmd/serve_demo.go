package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	demo "github.com/kode-sdk/kode-chat/internal/demo"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
	cobra "github.com/spf13/cobra"
)

var serveDemoCmd = &cobra.Command{
	Use:   "serve-demo",
	Short: "Run the scripted demo backend",
	Long: `Run a local agent backend that answers every message with a scripted
turn: thinking, a streamed greeting, one echo tool call, token usage and done.
It speaks the same REST, SSE and WebSocket contract as a real backend, so
chat and send can be tried without one.

Examples:
  kode-chat serve-demo --addr :3000
  kode-chat chat --backend-url http://localhost:3000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := loadConfigService(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := demo.OptionsFromConfig(cs.GetConfig())
		srv := demo.NewServer(opts)
		defer srv.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "Demo backend listening on %s (API prefix %s)\n", opts.Addr, opts.APIPrefix)
		logger.Info("demo backend starting", "addr", opts.Addr)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveDemoCmd.Flags().String("addr", "", "listen address (default demo.addr)")
	serveDemoCmd.Flags().Int("chunk-delay", 0, "delay between scripted events in milliseconds (default demo.chunk_delay_ms)")
	rootCmd.AddCommand(serveDemoCmd)
}
