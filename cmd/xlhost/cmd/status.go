package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/excel-host/internal/session"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the bridge session status",
	Long:  `Query the running bridge for its session state: whether a host instance is held, how it was obtained, and which documents are tracked.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	body, err := getJSON("/api/status")
	if err != nil {
		return fmt.Errorf("failed to query bridge: %w", err)
	}

	var st session.Status
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	mode := "created"
	if st.AttachMode {
		mode = "attached"
	}
	running := "no"
	if st.Running {
		running = "yes"
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Running", "Mode", "Documents")
	table.Append(running, mode, fmt.Sprintf("%d", st.DocumentCount))
	table.Render()

	for _, p := range st.OpenPaths {
		fmt.Println("  " + p)
	}
	return nil
}
