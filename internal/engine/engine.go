// Package engine implements the exploitation core: the parallel
// ternary-probe search that recovers an integer through the timing
// oracle, and the row/column fetch protocol built on top of it.
package engine

import (
	"context"

	"github.com/0x6d61/sqldrip/internal/payload"
	"github.com/0x6d61/sqldrip/internal/transport"
	"github.com/0x6d61/sqldrip/internal/ui"
)

// Defaults for the tunable knobs of the search.
const (
	// DefaultMaxThreads is the number of concurrent outbound requests.
	DefaultMaxThreads = 2

	// DefaultMinChar / DefaultMaxChar bound the range in which a
	// character's code point is searched.
	DefaultMinChar = 0
	DefaultMaxChar = 126

	// DefaultMinRowLength / DefaultMaxRowLength bound the range in which
	// a row's length is searched.
	DefaultMinRowLength = 0
	DefaultMaxRowLength = 128

	// DefaultMaxInterval is the max pre-submission delay between requests
	// in ms.
	DefaultMaxInterval = 0

	// DefaultUnknownChar replaces characters the search could not recover.
	DefaultUnknownChar = '?'

	// DefaultOutputPath receives fetched tables when no path is chosen.
	DefaultOutputPath = "./sqldrip.out"
)

// Oracle issues timing probes against the target. *transport.Target
// implements it; tests substitute mocks.
type Oracle interface {
	ResponseTime(ctx context.Context, req *transport.Request) (float64, error)
	ResponseTimes(ctx context.Context, requests []*transport.Request, maxInterval, maxThreads int) ([]float64, error)
}

// Options tune the search and fetch behavior of an Engine.
type Options struct {
	// MinChar and MaxChar bound the character search range.
	MinChar, MaxChar int

	// MinRowLength and MaxRowLength bound the row-length search range.
	MinRowLength, MaxRowLength int

	// MaxInterval is the max pre-submission delay between requests in ms.
	MaxInterval int

	// MaxThreads bounds the number of concurrent outbound requests.
	MaxThreads int

	// UnknownChar replaces characters that could not be recovered.
	UnknownChar rune
}

// DefaultOptions returns the default engine tuning.
func DefaultOptions() Options {
	return Options{
		MinChar:      DefaultMinChar,
		MaxChar:      DefaultMaxChar,
		MinRowLength: DefaultMinRowLength,
		MaxRowLength: DefaultMaxRowLength,
		MaxInterval:  DefaultMaxInterval,
		MaxThreads:   DefaultMaxThreads,
		UnknownChar:  DefaultUnknownChar,
	}
}

// Engine drives the exploitation of a single target. The default
// parameter values are cloned before every mutation, so an Engine is safe
// to use from the worker goroutines it spawns internally.
type Engine struct {
	target  Oracle
	params  map[string]string
	builder *payload.Builder
	sink    ui.Sink
	opts    Options
}

// New creates an engine for the target. params maps every request
// parameter to its default value; sink receives progress frames (use
// ui.NopSink to discard them).
func New(target Oracle, params map[string]string, builder *payload.Builder, sink ui.Sink, opts Options) *Engine {
	if opts.MaxThreads <= 0 {
		opts.MaxThreads = DefaultMaxThreads
	}
	if opts.UnknownChar == 0 {
		opts.UnknownChar = DefaultUnknownChar
	}
	if sink == nil {
		sink = ui.NopSink{}
	}
	return &Engine{
		target:  target,
		params:  params,
		builder: builder,
		sink:    sink,
		opts:    opts,
	}
}
