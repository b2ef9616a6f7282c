package cmd

import (
	"fmt"
	"os"

	config "github.com/kode-sdk/kode-chat/config"
	cobra "github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  `Inspect and change the kode-chat configuration file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file and
KODE_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := loadConfigService(cmd)
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cs.GetConfig())
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new project configuration",
	Long: `Write a configuration file with default settings, by default
.kode/config.yaml in the current directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := configFilePath(cmd)

		if _, err := os.Stat(configPath); err == nil {
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			if !overwrite {
				return fmt.Errorf("configuration file %s already exists (use --overwrite to replace)", configPath)
			}
		}

		if err := config.DefaultConfig().SaveConfig(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Successfully created %s\n", configPath)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long: `Set a configuration value using dot notation and save it to the config file.

Examples:
  kode-chat config set backend.url http://localhost:8080
  kode-chat config set stream.transport websocket
  kode-chat config set storage.type sqlite`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := loadConfigService(cmd)
		if err != nil {
			return err
		}
		if err := cs.SetValue(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", args[0], args[1], cs.GetViper().ConfigFileUsed())
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("overwrite", false, "overwrite an existing configuration file")
	configCmd.AddCommand(configShowCmd, configInitCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func configFilePath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return config.DefaultConfigPath
}
