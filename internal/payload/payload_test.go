package payload

import (
	"strings"
	"testing"
)

func TestDefaultFamiliesShareContext(t *testing.T) {
	t.Parallel()
	families := DefaultFamilies()
	if len(families) != 2 {
		t.Fatalf("len(families) = %d, want 2", len(families))
	}

	// Family 0: numeric context, no quote, no trailing comment.
	for _, tmpl := range []string{families[0].Test, families[0].FetchChar, families[0].FetchRowLength} {
		if !strings.HasPrefix(tmpl, "1 and 0 or ") {
			t.Errorf("family 0 template %q does not start with the numeric-context prefix", tmpl)
		}
		if strings.Contains(tmpl, "-- -") {
			t.Errorf("family 0 template %q should not carry a comment suffix", tmpl)
		}
	}

	// Family 1: single-quote breakout plus comment suffix.
	for _, tmpl := range []string{families[1].Test, families[1].FetchChar, families[1].FetchRowLength} {
		if !strings.HasPrefix(tmpl, "1' and 0 or ") {
			t.Errorf("family 1 template %q does not start with the quoted-context prefix", tmpl)
		}
		if !strings.HasSuffix(tmpl, " -- -") {
			t.Errorf("family 1 template %q does not end with the comment suffix", tmpl)
		}
	}
}

func TestDefaultFamiliesPlaceholders(t *testing.T) {
	t.Parallel()
	for i, f := range DefaultFamilies() {
		if !strings.Contains(f.Test, PlaceholderSleepTime) {
			t.Errorf("family %d test template lacks %s", i, PlaceholderSleepTime)
		}
		for _, tmpl := range []string{f.FetchChar, f.FetchRowLength} {
			for _, ph := range []string{
				PlaceholderColumnName, PlaceholderTableName, PlaceholderRowIndex,
				PlaceholderCondition, PlaceholderValue, PlaceholderSleepTime,
			} {
				if !strings.Contains(tmpl, ph) {
					t.Errorf("family %d template %q lacks %s", i, tmpl, ph)
				}
			}
		}
		if !strings.Contains(f.FetchChar, PlaceholderCharIndex) {
			t.Errorf("family %d fetch-char template lacks %s", i, PlaceholderCharIndex)
		}
	}
}

func TestRenderStaged(t *testing.T) {
	t.Parallel()
	tmpl := "if(x{condition}{value}, sleep({sleep_time}), sleep(0))"

	// First stage: sleep time only; the rest must survive untouched.
	got := Render(tmpl, PlaceholderSleepTime, "0.5")
	want := "if(x{condition}{value}, sleep(0.5), sleep(0))"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}

	// Second stage: condition and value.
	got = Render(got, PlaceholderCondition, ">", PlaceholderValue, "63")
	want = "if(x>63, sleep(0.5), sleep(0))"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestFormatSleepTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		seconds float64
		want    string
	}{
		{0.5, "0.5"},
		{2, "2"},
		{0.375, "0.375"},
		{1.25, "1.25"},
	}
	for _, tt := range tests {
		if got := FormatSleepTime(tt.seconds); got != tt.want {
			t.Errorf("FormatSleepTime(%f) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestColumnsConcatSingle(t *testing.T) {
	t.Parallel()
	expr, sep := ColumnsConcat([]string{"x"})
	if expr != "x" {
		t.Errorf("expr = %q, want %q", expr, "x")
	}
	if sep != "\t" {
		t.Errorf("separator = %q, want tab", sep)
	}
}

func TestColumnsConcatMultiple(t *testing.T) {
	t.Parallel()
	expr, sep := ColumnsConcat([]string{"a", "b", "c"})
	if want := "concat(a,char(9),b,char(9),c)"; expr != want {
		t.Errorf("expr = %q, want %q", expr, want)
	}
	if sep != "\t" {
		t.Errorf("separator = %q, want tab", sep)
	}
}
