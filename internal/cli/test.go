package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/0x6d61/sqldrip/internal/engine"
	"github.com/0x6d61/sqldrip/internal/payload"
	"github.com/0x6d61/sqldrip/internal/transport"
	"github.com/0x6d61/sqldrip/internal/ui"
)

var testCmd = &cobra.Command{
	Use:     "test",
	Aliases: []string{"t"},
	Short:   "Test whether some parameters can be exploited",
	Long: `Test probes every given parameter with the payload template library and
reports which ones respond to the conditional-sleep oracle.`,
	RunE: runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)

	testCmd.Flags().StringP("method", "M", "", "HTTP method for the requests (get or post)")
	testCmd.Flags().StringP("params", "P", "", "Parameters to test and their default values (JSON object)")
	testCmd.Flags().StringP("headers", "H", "", "Headers for the requests (JSON object)")
	testCmd.Flags().Float64P("threshold", "T", payload.DefaultThreshold, "Threshold multiplying the reference response time (must be greater than 1)")
	testCmd.Flags().IntP("max_interval", "I", engine.DefaultMaxInterval, "Max time to wait between each request in ms")
	testCmd.Flags().Int("threads", engine.DefaultMaxThreads, "Max number of concurrent requests")
	testCmd.MarkFlagRequired("method") //nolint:errcheck
	testCmd.MarkFlagRequired("params") //nolint:errcheck
}

func runTest(cmd *cobra.Command, args []string) error {
	targetURL, _ := cmd.Flags().GetString("url")

	method, err := parseMethod(mustString(cmd, "method"))
	if err != nil {
		return err
	}
	params, err := parseJSONMap(mustString(cmd, "params"), "params")
	if err != nil {
		return err
	}
	headers, err := parseHeadersFlag(cmd)
	if err != nil {
		return err
	}
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	if err := validateThreshold(threshold); err != nil {
		return err
	}
	maxInterval, _ := cmd.Flags().GetInt("max_interval")
	if err := validateMin(maxInterval, 0, "max_interval"); err != nil {
		return err
	}
	threads, _ := cmd.Flags().GetInt("threads")
	if err := validateMin(threads, 1, "threads"); err != nil {
		return err
	}

	client, err := buildClient(cmd)
	if err != nil {
		return err
	}
	target := transport.NewTarget(targetURL, client)
	builder, err := payload.NewBuilder(target, threshold)
	if err != nil {
		return err
	}

	opts := engine.DefaultOptions()
	opts.MaxInterval = maxInterval
	opts.MaxThreads = threads

	eng := engine.New(target, params, builder, buildSink(cmd), opts)

	// Ctrl+C cancels the run; the engine reports partial results.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	defaultRequest := transport.NewRequest(params, method, headers)

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	exploitable, err := eng.Test(ctx, defaultRequest, names)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("test failed: %w", err)
	}

	if len(exploitable) == 0 {
		fmt.Println("No exploitable parameters found.")
	} else {
		fmt.Printf("Exploitable parameters: %s\n", strings.Join(exploitable, ", "))
	}
	return nil
}

// mustString reads a string flag that cobra already guarantees to exist.
func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

// parseHeadersFlag reads -H, falling back to the default header set.
func parseHeadersFlag(cmd *cobra.Command) (map[string]string, error) {
	raw := mustString(cmd, "headers")
	if raw == "" {
		return transport.DefaultHeaders, nil
	}
	return parseJSONMap(raw, "headers")
}

// buildSink creates the progress sink: an in-place terminal renderer, or
// a no-op one when --no-progress is set.
func buildSink(cmd *cobra.Command) ui.Sink {
	if noProgress, _ := cmd.Flags().GetBool("no-progress"); noProgress {
		return ui.NopSink{}
	}
	return ui.NewTermLogger(os.Stdout)
}
