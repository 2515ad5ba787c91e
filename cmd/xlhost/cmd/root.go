package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	serverURL    string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "xlhost",
	Short: "Session bridge for the desktop spreadsheet host",
	Long: `xlhost keeps a single automation session against the desktop spreadsheet
application: it attaches to or launches the host, leases workbooks through it,
preserves the user's view across edits, and guarantees that any instance it
launched is cleaned up on exit.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.xlhost/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8807", "bridge API URL")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// GetServerURL returns the configured bridge URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

func apiError(status int, body []byte) error {
	return fmt.Errorf("API error (status %d): %s", status, strings.TrimSpace(string(body)))
}

// getJSON fetches a bridge API endpoint and returns the response body.
func getJSON(path string) ([]byte, error) {
	resp, err := http.Get(GetServerURL() + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, body)
	}
	return body, nil
}

// postJSON posts a JSON body to a bridge API endpoint.
func postJSON(path string, body io.Reader) ([]byte, int, error) {
	resp, err := http.Post(GetServerURL()+path, "application/json", body)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return out, resp.StatusCode, nil
}
