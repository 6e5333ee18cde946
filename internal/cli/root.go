// Package cli wires the command surface: the global target URL, the test
// command and the fetch_table command.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/0x6d61/sqldrip/internal/transport"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sqldrip",
	Short: "Automatically exploit time-based blind SQL injection",
	Long: `sqldrip - time-based blind SQL injection extraction tool

Given a target URL and its request parameters, sqldrip confirms which
parameters can be exploited through a conditional-sleep timing oracle and
dumps table contents character by character.

WARNING: Use this tool only against systems you have explicit permission to
test. Unauthorized access to computer systems is illegal.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetCount("verbose")
		configureLogging(verbose)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Target flags
	rootCmd.PersistentFlags().StringP("url", "u", "", "Target URL (e.g., http://target.com/page.php)")
	rootCmd.MarkPersistentFlagRequired("url") //nolint:errcheck

	// Connection flags
	rootCmd.PersistentFlags().String("proxy", "", "Proxy URL (http://host:port or socks5://host:port)")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().Float64("max-rps", 0, "Max requests per second (0 = unlimited)")
	rootCmd.PersistentFlags().Bool("insecure", false, "Skip TLS certificate verification")

	// Output flags
	rootCmd.PersistentFlags().CountP("verbose", "v", "Verbosity level (repeatable)")
	rootCmd.PersistentFlags().Bool("no-progress", false, "Disable the interactive progress display")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sqldrip %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

// configureLogging maps the -v counter onto a slog level on stderr.
func configureLogging(verbose int) {
	level := slog.LevelError
	switch {
	case verbose >= 3:
		level = slog.LevelDebug
	case verbose >= 2:
		level = slog.LevelInfo
	case verbose >= 1:
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// buildClient creates the transport client from the root flags.
func buildClient(cmd *cobra.Command) (transport.Client, error) {
	proxyURL, _ := cmd.Flags().GetString("proxy")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	maxRPS, _ := cmd.Flags().GetFloat64("max-rps")
	insecure, _ := cmd.Flags().GetBool("insecure")

	client, err := transport.NewClient(transport.ClientOptions{
		Timeout:            timeout,
		ProxyURL:           proxyURL,
		FollowRedirects:    true,
		InsecureSkipVerify: insecure,
		MaxRPS:             maxRPS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return client, nil
}

// --------------------------------------------------------------------------
// Flag validation helpers
// --------------------------------------------------------------------------

// parseMethod validates the -M flag: only get and post are accepted.
func parseMethod(raw string) (string, error) {
	method := strings.ToLower(raw)
	switch method {
	case "get", "post":
		return method, nil
	default:
		return "", fmt.Errorf("method must be one of: get, post")
	}
}

// parseJSONMap validates a -P/-H flag value: a JSON object with string
// values.
func parseJSONMap(raw, name string) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("%s must be a JSON object with string values", name)
	}
	return m, nil
}

// validateThreshold enforces threshold > 1 before any network call.
func validateThreshold(threshold float64) error {
	if threshold <= 1 {
		return fmt.Errorf("threshold must be greater than 1")
	}
	return nil
}

// validateMin enforces value >= min for an integer flag.
func validateMin(value, min int, name string) error {
	if value < min {
		return fmt.Errorf("%s must be greater or equal than %d", name, min)
	}
	return nil
}
