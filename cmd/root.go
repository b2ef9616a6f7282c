package cmd

import (
	"fmt"
	"os"

	config "github.com/kode-sdk/kode-chat/config"
	container "github.com/kode-sdk/kode-chat/internal/container"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
	services "github.com/kode-sdk/kode-chat/internal/services"
	cobra "github.com/spf13/cobra"
	viper "github.com/spf13/viper"
	gotenv "github.com/subosito/gotenv"
)

var rootCmd = &cobra.Command{
	Use:   "kode-chat",
	Short: "Terminal client for streaming agent conversations",
	Long: `kode-chat talks to a conversational agent backend over REST and an
event stream (SSE or WebSocket), rendering thinking, tool calls and replies
as they arrive. Transcripts are archived locally.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Welcome to kode-chat!")
		fmt.Println("Use 'kode-chat chat' to start an interactive conversation or --help to see available commands.")
	},
}

func Execute() {
	defer logger.Close()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", fmt.Sprintf("config file (default is %s)", config.DefaultConfigPath))
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file with KODE_* overrides")

	cobra.OnInitialize(initEnv)
}

// initEnv loads the dotenv file before any command reads configuration.
// Variables already present in the environment win.
func initEnv() {
	envFile, _ := rootCmd.PersistentFlags().GetString("env-file")
	if envFile == "" {
		return
	}
	if _, err := os.Stat(envFile); err != nil {
		return
	}
	if err := gotenv.Load(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", envFile, err)
	}
}

// flagKeys maps command flags onto the config keys they override
var flagKeys = map[string]string{
	"backend-url": "backend.url",
	"transport":   "stream.transport",
	"user":        "backend.user_id",
	"storage":     "storage.type",
	"addr":        "demo.addr",
	"chunk-delay": "demo.chunk_delay_ms",
}

// loadConfigService reads the configuration named by --config, binds the
// command's override flags and starts the logger
func loadConfigService(cmd *cobra.Command) (*services.ConfigService, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	v, err := services.NewViper(configPath)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	cs, err := services.NewConfigService(v)
	if err != nil {
		return nil, err
	}

	logger.Init(verbose, cs.GetConfig())
	return cs, nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	return nil
}

// newContainer loads configuration and wires the application services
func newContainer(cmd *cobra.Command) (*container.ServiceContainer, error) {
	cs, err := loadConfigService(cmd)
	if err != nil {
		return nil, err
	}
	return container.NewServiceContainer(cs.GetConfig(), cs.GetViper())
}
