package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/excel-host/internal/session"
)

// docsCmd represents the docs command
var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage documents in the host session",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents tracked by the session",
	RunE:  runDocsList,
}

var docsUnsavedCmd = &cobra.Command{
	Use:   "unsaved",
	Short: "List documents with unsaved changes",
	RunE:  runDocsUnsaved,
}

var docsSaveAllCmd = &cobra.Command{
	Use:   "save-all",
	Short: "Save every document that has a path and unsaved changes",
	RunE:  runDocsSaveAll,
}

var (
	docsCloseSave  bool
	docsCloseForce bool
)

var docsCloseCmd = &cobra.Command{
	Use:   "close <path>",
	Short: "Close a tracked document",
	Long:  `Close a document that the bridge tracks. Documents the bridge did not open are refused unless --force is given.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsClose,
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsUnsavedCmd)
	docsCmd.AddCommand(docsSaveAllCmd)
	docsCmd.AddCommand(docsCloseCmd)

	docsCloseCmd.Flags().BoolVar(&docsCloseSave, "save", false, "save before closing")
	docsCloseCmd.Flags().BoolVar(&docsCloseForce, "force", false, "close even if the bridge does not own the document")
}

func runDocsList(cmd *cobra.Command, args []string) error {
	return printDocuments("/api/documents")
}

func runDocsUnsaved(cmd *cobra.Command, args []string) error {
	return printDocuments("/api/documents/unsaved")
}

func printDocuments(path string) error {
	body, err := getJSON(path)
	if err != nil {
		return fmt.Errorf("failed to query bridge: %w", err)
	}

	var docs []session.DocumentInfo
	if err := json.Unmarshal(body, &docs); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(docs) == 0 {
		fmt.Println("No documents")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "Path", "Saved")
	for _, d := range docs {
		saved := "yes"
		if !d.Saved {
			saved = "no"
		}
		table.Append(d.Name, d.Path, saved)
	}
	table.Render()
	return nil
}

func runDocsSaveAll(cmd *cobra.Command, args []string) error {
	body, status, err := postJSON("/api/save-all", bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("failed to query bridge: %w", err)
	}
	if status != http.StatusOK {
		return apiError(status, body)
	}

	var rep session.SaveReport
	if err := json.Unmarshal(body, &rep); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("Saved %d document(s)\n", rep.Count)
	for _, e := range rep.Errors {
		fmt.Println("  " + e)
	}
	return nil
}

func runDocsClose(cmd *cobra.Command, args []string) error {
	req, err := json.Marshal(map[string]any{
		"path":  args[0],
		"save":  docsCloseSave,
		"force": docsCloseForce,
	})
	if err != nil {
		return err
	}

	body, status, err := postJSON("/api/close", bytes.NewReader(req))
	if err != nil {
		return fmt.Errorf("failed to query bridge: %w", err)
	}
	switch status {
	case http.StatusNoContent:
		fmt.Println("Closed", args[0])
		return nil
	case http.StatusConflict:
		return fmt.Errorf("the bridge did not open %s; pass --force to close it anyway", args[0])
	default:
		return apiError(status, body)
	}
}
