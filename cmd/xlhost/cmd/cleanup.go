package cmd

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psantana5/excel-host/internal/guardian"
	"github.com/psantana5/excel-host/internal/logging"
)

var cleanupLocal bool

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Force termination of leaked host processes",
	Long: `Ask the running bridge to terminate every host process it tracks. With
--local the bridge is bypassed and orphaned host processes parented by this
terminal are swept directly, for when the bridge itself is gone.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupLocal, "local", false, "sweep orphaned host processes without a running bridge")
	cleanupCmd.Flags().String("host-process", "EXCEL.EXE", "host executable name for the local sweep")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupLocal {
		log, err := logging.New("info")
		if err != nil {
			return err
		}
		defer log.Sync()
		hostName, _ := cmd.Flags().GetString("host-process")
		if hostName == "" {
			hostName = "EXCEL.EXE"
		}
		guard := guardian.New(hostName, log)
		guard.ForceCleanupAll()
		log.Info("local sweep complete", zap.String("host", hostName))
		return nil
	}

	body, status, err := postJSON("/api/cleanup", bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("failed to reach the bridge (use --local to sweep without one): %w", err)
	}
	if status != http.StatusOK {
		return apiError(status, body)
	}
	fmt.Println("Cleanup triggered")
	return nil
}
