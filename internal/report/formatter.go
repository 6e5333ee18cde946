// Package report formats fetched tables for the output file.
package report

import (
	"fmt"
	"strings"
)

// Formatter renders a fetched table: a header line, one line per row, and
// a trailing footer (possibly empty).
type Formatter interface {
	// Format returns the format name (e.g., "tsv").
	Format() string

	// Header returns the first line of the output.
	Header() string

	// Row renders one fetched row, given as a column-name → value map.
	Row(row map[string]string) string

	// Footer returns the text appended after the last row.
	Footer() string
}

// New creates a formatter by format name for the given columns. The
// format name is case-insensitive.
func New(format string, columns []string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "tsv":
		return NewTSVFormatter(columns), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %q", format)
	}
}
