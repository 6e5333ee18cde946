package report

import "strings"

// TSVFormatter renders rows as tab-separated values: the header line is
// the tab-joined column names, each row line the tab-joined values in the
// same order. There is no footer.
type TSVFormatter struct {
	columns []string
}

// NewTSVFormatter creates a TSV formatter for the given columns.
func NewTSVFormatter(columns []string) *TSVFormatter {
	return &TSVFormatter{columns: columns}
}

// Format returns "tsv".
func (f *TSVFormatter) Format() string { return "tsv" }

// Header returns the tab-joined column names.
func (f *TSVFormatter) Header() string {
	return strings.Join(f.columns, "\t")
}

// Row returns the tab-joined values in column order. Columns missing from
// the map render as empty fields.
func (f *TSVFormatter) Row(row map[string]string) string {
	values := make([]string, len(f.columns))
	for i, c := range f.columns {
		values[i] = row[c]
	}
	return strings.Join(values, "\t")
}

// Footer returns the empty string.
func (f *TSVFormatter) Footer() string { return "" }
