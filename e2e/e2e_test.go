//go:build e2e

// Package e2e contains end-to-end tests that require the live vulnerable
// application defined in testenv/vulnapp, backed by a real MySQL server.
//
// Run with:
//
//	MYSQL_DSN=... go run ./testenv/vulnapp &
//	go test -v -tags e2e -count=1 -timeout 600s ./e2e/...
package e2e_test

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/0x6d61/sqldrip/internal/engine"
	"github.com/0x6d61/sqldrip/internal/payload"
	"github.com/0x6d61/sqldrip/internal/transport"
	"github.com/0x6d61/sqldrip/internal/ui"
)

const defaultE2EURL = "http://localhost:18081"

// e2eBaseURL returns the base URL of the vulnapp, skipping the test when
// it is not reachable.
func e2eBaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("SQLDRIP_E2E_URL")
	if url == "" {
		url = defaultE2EURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/health", nil)
	if err != nil {
		t.Skipf("cannot build health-check request for %s: %v", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Skipf("E2E vulnapp not available at %s (start with: go run ./testenv/vulnapp): %v", url, err)
	}
	return url
}

// newE2EEngine builds a real engine against the given endpoint.
func newE2EEngine(t *testing.T, endpoint string, params map[string]string) *engine.Engine {
	t.Helper()

	client, err := transport.NewClient(transport.ClientOptions{
		Timeout:         60 * time.Second,
		FollowRedirects: true,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	target := transport.NewTarget(endpoint, client)

	// A high threshold keeps the oracle robust against network noise on a
	// local loopback where the baseline is tiny.
	builder, err := payload.NewBuilder(target, 50)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	opts := engine.DefaultOptions()
	opts.MaxThreads = 6
	return engine.New(target, params, builder, ui.NopSink{}, opts)
}

func TestE2E_TestCommand_NumericContext(t *testing.T) {
	base := e2eBaseURL(t)

	params := map[string]string{"id": "1"}
	eng := newE2EEngine(t, base+"/user", params)

	req := transport.NewRequest(params, "get", nil)
	exploitable, err := eng.Test(context.Background(), req, []string{"id"})
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if len(exploitable) != 1 || exploitable[0] != "id" {
		t.Errorf("exploitable = %v, want [id]", exploitable)
	}
}

func TestE2E_FetchRow_StringContext(t *testing.T) {
	base := e2eBaseURL(t)

	params := map[string]string{"name": "Gordon"}
	eng := newE2EEngine(t, base+"/search", params)

	req := transport.NewRequest(params, "get", nil)
	row, ok, err := eng.FetchRow(context.Background(), req, "name", "users", []string{"first_name"}, 1)
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
