package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/psantana5/excel-host/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage bridge configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long:  `Write the default configuration to $HOME/.xlhost/config.yaml (or the path given with --config) so it can be edited.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to find home directory: %w", err)
		}
		path = filepath.Join(home, ".xlhost", "config.yaml")
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Println("Wrote default config to", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	fmt.Printf("visible:            %v\n", cfg.Visible)
	fmt.Printf("suppress_alerts:    %v\n", cfg.SuppressAlerts)
	fmt.Printf("attach_to_existing: %v\n", cfg.AttachToExisting)
	fmt.Printf("host_process_name:  %s\n", cfg.HostProcessName)
	fmt.Printf("listen_addr:        %s\n", cfg.ListenAddr)
	fmt.Printf("terminate_wait:     %s\n", cfg.TerminateWait)
	fmt.Printf("log_level:          %s\n", cfg.LogLevel)
	return nil
}
