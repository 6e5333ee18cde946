// Package testutil provides a mock vulnerable web server for integration
// testing of the extraction engine.
//
// SECURITY NOTE: This package is for testing only. The mock server
// intentionally simulates a time-based SQL-injectable endpoint.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// sleepDelayCap is the maximum simulated delay for any single request.
// Kept short to keep integration tests fast.
const sleepDelayCap = 1 * time.Second

// fetchCharPattern matches a rendered fetch-char payload and captures the
// column expression, table name, row index, char index, comparison
// operator and comparison value.
var fetchCharPattern = regexp.MustCompile(
	`(?i)if\(ord\(mid\(\(select (.+?) from (\w+) limit (\d+),1\),(\d+),1\)\)\s*(=|<|>)\s*(-?\d+),\s*sleep\([0-9.]+\),\s*sleep\(0\)\)`)

// rowLengthPattern matches a rendered fetch-row-length payload.
var rowLengthPattern = regexp.MustCompile(
	`(?i)if\(char_length\(\(select (.+?) from (\w+) limit (\d+),1\)\)\s*(=|<|>)\s*(-?\d+),\s*sleep\([0-9.]+\),\s*sleep\(0\)\)`)

// plainSleepPattern matches a bare test payload.
var plainSleepPattern = regexp.MustCompile(`(?i)or sleep\([0-9.]+\)`)

// Table holds the data the mock server "leaks" through the oracle.
type Table struct {
	Columns []string
	Rows    [][]string
}

// VulnServer simulates a web application whose named parameter is
// injectable in a MySQL query. Every response takes BaseDelay; responses
// whose injected condition holds take BaseDelay+SleepDelay, so the
// reference response time and the sleep threshold are well separated.
type VulnServer struct {
	// Param is the vulnerable parameter name.
	Param string

	// StringContext simulates a parameter embedded in a single-quoted
	// literal: only payloads that break out with a quote are interpreted.
	// When false the parameter sits in a numeric context and quoted
	// payloads cause a (silent) SQL error instead.
	StringContext bool

	// BaseDelay is the simulated work for every request.
	BaseDelay time.Duration

	// SleepDelay is added when an injected condition holds.
	SleepDelay time.Duration

	// Tables maps table names to their content.
	Tables map[string]Table
}

// NewServer starts an httptest server around the VulnServer. The caller
// must Close it.
func (v *VulnServer) NewServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(v.handle))
}

// handle sleeps according to the injected payload and answers 200.
func (v *VulnServer) handle(w http.ResponseWriter, r *http.Request) {
	value := v.paramValue(r)

	delay := v.BaseDelay
	if v.interpreted(value) && v.conditionHolds(value) {
		delay += v.SleepDelay
	}
	if delay > sleepDelayCap {
		delay = sleepDelayCap
	}
	time.Sleep(delay)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("<html><body><p>Record found.</p></body></html>")) //nolint:errcheck
}

// paramValue extracts the vulnerable parameter from the query string or
// the form body.
func (v *VulnServer) paramValue(r *http.Request) string {
	if r.Method == http.MethodPost {
		r.ParseForm() //nolint:errcheck
		return r.PostFormValue(v.Param)
	}
	return r.URL.Query().Get(v.Param)
}

// interpreted reports whether the payload escapes the simulated SQL
// context: quoted payloads only work in a string context and unquoted
// ones only in a numeric context.
func (v *VulnServer) interpreted(value string) bool {
	quoted := strings.HasPrefix(value, "1' ")
	return quoted == v.StringContext
}

// conditionHolds evaluates the injected predicate against the configured
// tables. A bare sleep payload (vulnerability test) always holds.
func (v *VulnServer) conditionHolds(value string) bool {
	if m := fetchCharPattern.FindStringSubmatch(value); m != nil {
		cell, ok := v.selectCell(m[1], m[2], atoi(m[3]))
		if !ok {
			return false
		}
		charIndex := atoi(m[4])
		if charIndex < 1 || charIndex > len(cell) {
			return false
		}
		return compare(int(cell[charIndex-1]), m[5], atoi(m[6]))
	}

	if m := rowLengthPattern.FindStringSubmatch(value); m != nil {
		cell, ok := v.selectCell(m[1], m[2], atoi(m[3]))
		if !ok {
			return false
		}
		return compare(len(cell), m[4], atoi(m[5]))
	}

	return plainSleepPattern.MatchString(value)
}

// selectCell evaluates `select <expr> from <table> limit <row>,1`. The
// expression is either a single column or concat(c1,char(9),c2,...).
func (v *VulnServer) selectCell(expr, table string, rowIndex int) (string, bool) {
	t, ok := v.Tables[table]
	if !ok || rowIndex < 0 || rowIndex >= len(t.Rows) {
		return "", false
	}
	row := t.Rows[rowIndex]

	column := func(name string) string {
		for i, c := range t.Columns {
			if c == name && i < len(row) {
				return row[i]
			}
		}
		return ""
	}

	expr = strings.TrimSpace(expr)
	if inner, found := strings.CutPrefix(expr, "concat("); found {
		inner = strings.TrimSuffix(inner, ")")
		b := &strings.Builder{}
		for _, part := range strings.Split(inner, ",") {
			part = strings.TrimSpace(part)
			if strings.EqualFold(part, "char(9)") {
				b.WriteByte('\t')
				continue
			}
			b.WriteString(column(part))
		}
		return b.String(), true
	}
	return column(expr), true
}

// compare evaluates `left <op> right`.
func compare(left int, op string, right int) bool {
	switch op {
	case "=":
		return left == right
	case ">":
		return left > right
	case "<":
		return left < right
	}
	return false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
