package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/0x6d61/sqldrip/internal/payload"
	"github.com/0x6d61/sqldrip/internal/transport"
	"github.com/0x6d61/sqldrip/internal/ui"
)

// --------------------------------------------------------------------------
// Scripted oracle: returns a fixed latency triple, for the decision table
// --------------------------------------------------------------------------

type scriptedOracle struct {
	baselineMS float64
	triple     []float64
}

func (o *scriptedOracle) ResponseTime(ctx context.Context, req *transport.Request) (float64, error) {
	return o.baselineMS, nil
}

func (o *scriptedOracle) ResponseTimes(ctx context.Context, requests []*transport.Request, maxInterval, maxThreads int) ([]float64, error) {
	times := make([]float64, len(requests))
	copy(times, o.triple)
	return times, nil
}

// --------------------------------------------------------------------------
// Condition oracle: evaluates "probe <op><value>" against a secret value
// --------------------------------------------------------------------------

// probePattern matches the synthetic search template used by the search
// tests.
var probePattern = regexp.MustCompile(`^probe (=|<|>)(-?\d+)$`)

type conditionOracle struct {
	baselineMS float64
	secret     int  // value the oracle "knows"
	absent     bool // true = no predicate ever fires
	param      string
	batches    atomic.Int64
}

func (o *conditionOracle) ResponseTime(ctx context.Context, req *transport.Request) (float64, error) {
	return o.baselineMS, nil
}

func (o *conditionOracle) ResponseTimes(ctx context.Context, requests []*transport.Request, maxInterval, maxThreads int) ([]float64, error) {
	o.batches.Add(1)
	times := make([]float64, len(requests))
	for i, req := range requests {
		times[i] = o.baselineMS
		if o.absent {
			continue
		}
		m := probePattern.FindStringSubmatch(req.Params()[o.param])
		if m == nil {
			continue
		}
		value, _ := strconv.Atoi(m[2])
		fired := false
		switch m[1] {
		case "=":
			fired = o.secret == value
		case ">":
			fired = o.secret > value
		case "<":
			fired = o.secret < value
		}
		if fired {
			times[i] = o.baselineMS * 5
		}
	}
	return times, nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

type oracle interface {
	Oracle
	payload.Prober
}

func newTestEngine(t *testing.T, o oracle, maxThreads int) *Engine {
	t.Helper()
	builder, err := payload.NewBuilder(o, 2)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	opts := DefaultOptions()
	opts.MaxThreads = maxThreads
	return New(o, map[string]string{"id": "1"}, builder, ui.NopSink{}, opts)
}

const searchTemplate = "probe {condition}{value}"

// --------------------------------------------------------------------------
// Ternary decision table
// --------------------------------------------------------------------------

func TestReduceRangeDecisionTable(t *testing.T) {
	t.Parallel()

	// baseline 100ms, threshold 2 => sleep threshold 200ms.
	tests := []struct {
		name   string
		triple []float64
		want   reducedRange
	}{
		{
			name:   "contradiction, two predicates fire",
			triple: []float64{200, 200, 100},
			want:   reducedRange{},
		},
		{
			name:   "contradiction, all predicates fire",
			triple: []float64{250, 300, 220},
			want:   reducedRange{},
		},
		{
			name:   "no predicate fires, value absent",
			triple: []float64{100, 100, 100},
			want:   reducedRange{absent: true},
		},
		{
			name:   "only equals fires, value found",
			triple: []float64{200, 100, 100},
			want:   reducedRange{lo: 63, hi: 63, hasLo: true, hasHi: true},
		},
		{
			name:   "only greater fires, lower bound moves",
			triple: []float64{100, 210, 100},
			want:   reducedRange{lo: 63, hasLo: true},
		},
		{
			name:   "only less fires, upper bound moves",
			triple: []float64{100, 100, 1000},
			want:   reducedRange{hi: 63, hasHi: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := &scriptedOracle{baselineMS: 100, triple: tt.triple}
			eng := newTestEngine(t, o, 2)

			req := transport.NewRequest(map[string]string{"id": "1"}, "get", nil)
			got, err := eng.reduceRange(context.Background(), req, "id", 0, 126, searchTemplate, 1)
			if err != nil {
				t.Fatalf("reduceRange: %v", err)
			}
			if got != tt.want {
				t.Errorf("reduceRange = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReduceRangeMidpointPromotion(t *testing.T) {
	t.Parallel()
	// Range [5,6]: floor midpoint equals lo, so the midpoint is promoted
	// to hi and the equality predicate tests the upper endpoint.
	o := &scriptedOracle{baselineMS: 100, triple: []float64{200, 100, 100}}
	eng := newTestEngine(t, o, 2)

	req := transport.NewRequest(map[string]string{"id": "1"}, "get", nil)
	got, err := eng.reduceRange(context.Background(), req, "id", 5, 6, searchTemplate, 1)
	if err != nil {
		t.Fatalf("reduceRange: %v", err)
	}
	if want := (reducedRange{lo: 6, hi: 6, hasLo: true, hasHi: true}); got != want {
		t.Errorf("reduceRange = %+v, want %+v", got, want)
	}
}

func TestReduceRangePromotedBelowShrinks(t *testing.T) {
	t.Parallel()
	// Range [5,6] with only "<" firing: the promoted midpoint is the
	// upper endpoint, so the reduced range must exclude it.
	o := &scriptedOracle{baselineMS: 100, triple: []float64{100, 100, 200}}
	eng := newTestEngine(t, o, 2)

	req := transport.NewRequest(map[string]string{"id": "1"}, "get", nil)
	got, err := eng.reduceRange(context.Background(), req, "id", 5, 6, searchTemplate, 1)
	if err != nil {
		t.Fatalf("reduceRange: %v", err)
	}
	if want := (reducedRange{hi: 5, hasHi: true}); got != want {
		t.Errorf("reduceRange = %+v, want %+v", got, want)
	}
}

// --------------------------------------------------------------------------
// Value search convergence
// --------------------------------------------------------------------------

func TestGetValueConvergesForEveryChar(t *testing.T) {
	t.Parallel()
	for _, secret := range []int{0, 1, 9, 33, 63, 64, 71, 100, 125, 126} {
		t.Run(fmt.Sprintf("secret=%d", secret), func(t *testing.T) {
			t.Parallel()
			o := &conditionOracle{baselineMS: 100, secret: secret, param: "id"}
			eng := newTestEngine(t, o, 2)

			req := transport.NewRequest(map[string]string{"id": "1"}, "get", nil)
			got, ok, err := eng.getValue(context.Background(), req, "id", 0, 126, searchTemplate)
			if err != nil {
				t.Fatalf("getValue: %v", err)
			}
			if !ok {
				t.Fatal("getValue reported absent for an encoded value")
			}
			if got != secret {
				t.Errorf("getValue = %d, want %d", got, secret)
			}
			// One ternary probe trisects the interval, so convergence over
			// 127 values takes a handful of rounds.
			if batches := o.batches.Load(); batches > 16 {
				t.Errorf("getValue used %d probe batches, want <= 16", batches)
			}
		})
	}
}

func TestGetValueConvergesExhaustively(t *testing.T) {
	for secret := 0; secret <= 126; secret++ {
		o := &conditionOracle{baselineMS: 100, secret: secret, param: "id"}
		eng := newTestEngine(t, o, 2)

		req := transport.NewRequest(map[string]string{"id": "1"}, "get", nil)
		got, ok, err := eng.getValue(context.Background(), req, "id", 0, 126, searchTemplate)
		if err != nil {
			t.Fatalf("getValue(secret=%d): %v", secret, err)
		}
		if !ok || got != secret {
			t.Fatalf("getValue(secret=%d) = (%d, %v), want (%d, true)", secret, got, ok, secret)
		}
	}
}

func TestGetValueWithPartitionedSearch(t *testing.T) {
	t.Parallel()
	// maxThreads 6 reserves 3 inner requests and probes 3 partitions per
	// round.
	for _, secret := range []int{0, 42, 71, 126} {
		o := &conditionOracle{baselineMS: 100, secret: secret, param: "id"}
		eng := newTestEngine(t, o, 6)

		req := transport.NewRequest(map[string]string{"id": "1"}, "get", nil)
		got, ok, err := eng.getValue(context.Background(), req, "id", 0, 126, searchTemplate)
		if err != nil {
			t.Fatalf("getValue(secret=%d): %v", secret, err)
		}
		if !ok || got != secret {
			t.Errorf("getValue(secret=%d) = (%d, %v), want (%d, true)", secret, got, ok, secret)
		}
	}
}

func TestGetValueAbsence(t *testing.T) {
	t.Parallel()
	o := &conditionOracle{baselineMS: 100, absent: true, param: "id"}
	eng := newTestEngine(t, o, 2)

	req := transport.NewRequest(map[string]string{"id": "1"}, "get", nil)
	_, ok, err := eng.getValue(context.Background(), req, "id", 0, 126, searchTemplate)
	if err != nil {
		t.Fatalf("getValue: %v", err)
	}
	if ok {
		t.Error("getValue found a value although the oracle never sleeps")
	}
}

func TestGetValueCancelled(t *testing.T) {
	t.Parallel()
	o := &conditionOracle{baselineMS: 100, secret: 42, param: "id"}
	eng := newTestEngine(t, o, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := transport.NewRequest(map[string]string{"id": "1"}, "get", nil)
	if _, _, err := eng.getValue(ctx, req, "id", 0, 126, searchTemplate); err == nil {
		t.Error("getValue should surface context cancellation")
	}
}
