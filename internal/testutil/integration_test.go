package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/0x6d61/sqldrip/internal/engine"
	"github.com/0x6d61/sqldrip/internal/payload"
	"github.com/0x6d61/sqldrip/internal/transport"
	"github.com/0x6d61/sqldrip/internal/ui"
)

// newIntegrationEngine wires a real transport client and engine against a
// VulnServer instance.
func newIntegrationEngine(t *testing.T, srvURL string, params map[string]string, maxThreads int) *engine.Engine {
	t.Helper()

	client, err := transport.NewClient(transport.ClientOptions{
		Timeout:         10 * time.Second,
		FollowRedirects: true,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	target := transport.NewTarget(srvURL, client)

	builder, err := payload.NewBuilder(target, 3)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	opts := engine.DefaultOptions()
	opts.MaxThreads = maxThreads
	opts.MaxRowLength = 16
	return engine.New(target, params, builder, ui.NopSink{}, opts)
}

func integrationServer(stringContext bool) *VulnServer {
	return &VulnServer{
		Param:         "id",
		StringContext: stringContext,
		BaseDelay:     5 * time.Millisecond,
		SleepDelay:    120 * time.Millisecond,
		Tables: map[string]Table{
			"users": {
				Columns: []string{"first_name", "last_name"},
				Rows: [][]string{
					{"admin", "admin"},
					{"Gordon", "Brown"},
				},
			},
		},
	}
}

func TestIntegrationTestCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing-based integration test in short mode")
	}

	v := integrationServer(false)
	srv := v.NewServer()
	defer srv.Close()

	params := map[string]string{"id": "1", "Submit": "Submit"}
	eng := newIntegrationEngine(t, srv.URL, params, 2)

	req := transport.NewRequest(params, "get", nil)
	exploitable, err := eng.Test(context.Background(), req, []string{"id", "Submit"})
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if len(exploitable) != 1 || exploitable[0] != "id" {
		t.Errorf("exploitable = %v, want [id]", exploitable)
	}
}

func TestIntegrationFetchRowLength(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing-based integration test in short mode")
	}

	v := integrationServer(false)
	srv := v.NewServer()
	defer srv.Close()

	params := map[string]string{"id": "1"}
	eng := newIntegrationEngine(t, srv.URL, params, 4)

	req := transport.NewRequest(params, "get", nil)
	length, ok, err := eng.FetchRowLength(context.Background(), req, "id", "users", []string{"first_name"}, 1)
	if err != nil {
		t.Fatalf("FetchRowLength: %v", err)
	}
	if !ok || length != 6 {
		t.Errorf("FetchRowLength = (%d, %v), want (6, true)", length, ok)
	}
}

func TestIntegrationFetchChar(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing-based integration test in short mode")
	}

	v := integrationServer(false)
	srv := v.NewServer()
	defer srv.Close()

	params := map[string]string{"id": "1"}
	eng := newIntegrationEngine(t, srv.URL, params, 4)

	req := transport.NewRequest(params, "get", nil)
	ch, ok, err := eng.FetchChar(context.Background(), req, "id", "users", []string{"first_name"}, 1, 1)
	if err != nil {
		t.Fatalf("FetchChar: %v", err)
	}
	if !ok || ch != 'G' {
		t.Errorf("FetchChar = (%q, %v), want ('G', true)", ch, ok)
	}
}

// TestIntegrationFetchRowStringContext drives the full per-character
// protocol through a parameter embedded in a quoted literal, so family 1
// must be selected for anything to work.
func TestIntegrationFetchRowStringContext(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing-based integration test in short mode")
	}

	v := integrationServer(true)
	srv := v.NewServer()
	defer srv.Close()

	params := map[string]string{"id": "Gordon"}
	eng := newIntegrationEngine(t, srv.URL, params, 4)

	req := transport.NewRequest(params, "get", nil)
	row, ok, err := eng.FetchRow(context.Background(), req, "id", "users", []string{"first_name"}, 1)
	if err != nil {
		t.Fatalf("FetchRow: %v", err)
	}
	if !ok {
		t.Fatal("FetchRow reported an absent row")
	}
	if row["first_name"] != "Gordon" {
		t.Errorf("first_name = %q, want %q", row["first_name"], "Gordon")
	}
}
