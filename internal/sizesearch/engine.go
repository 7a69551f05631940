// Package sizesearch finds each benchmark's base parameter value: the
// smallest candidate on a geometric ladder whose trace reaches the
// configured size threshold.
package sizesearch

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tracesmith/tracesmith/internal/bench"
	"github.com/tracesmith/tracesmith/internal/detect"
	terrors "github.com/tracesmith/tracesmith/internal/errors"
	"github.com/tracesmith/tracesmith/internal/journal"
)

// Runner executes one invocation and returns the new artifacts it produced,
// in name order. Implementations clean matching leftovers before the run so
// the diff only sees this run's own output.
type Runner interface {
	Run(ctx context.Context, spec *bench.Spec, inv bench.Invocation) ([]detect.Artifact, error)
}

// Params bounds one benchmark's base-value search.
type Params struct {
	// Start is the first candidate value.
	Start int64
	// Max bounds the ladder; exceeding it exhausts the search.
	Max int64
	// Growth is the ladder's multiplier between candidates.
	Growth int64
	// Threshold is the minimum primary artifact size in bytes.
	Threshold int64
}

// Accepted is a successful search outcome: the first candidate whose primary
// artifact reached the threshold. The accepted probe's artifacts stay in the
// work directory for the caller to record; the run is never repeated.
type Accepted struct {
	Value      int64
	Invocation bench.Invocation
	Artifacts  []detect.Artifact
	Primary    detect.Artifact
	Probes     int
}

// Engine walks a benchmark's candidate ladder.
type Engine struct {
	runner  Runner
	journal *journal.Journal // optional flight recorder
}

// NewEngine creates a search engine. The journal may be nil.
func NewEngine(runner Runner, j *journal.Journal) *Engine {
	return &Engine{runner: runner, journal: j}
}

// Search probes candidate values from p.Start, multiplying by p.Growth,
// until a probe's primary artifact reaches p.Threshold. Undersized probe
// artifacts are deleted; a probe with no artifact counts as size zero and
// the ladder keeps growing. A probe run failure is fatal for the benchmark:
// if a small run already fails there is nothing a larger value can fix.
func (e *Engine) Search(ctx context.Context, spec *bench.Spec, p Params) (*Accepted, error) {
	if p.Start <= 0 || p.Max < p.Start || p.Growth < 2 {
		return nil, fmt.Errorf("sizesearch: invalid ladder start=%d max=%d growth=%d", p.Start, p.Max, p.Growth)
	}

	probes := 0
	v := p.Start
	for {
		probes++
		inv := spec.Base(v)
		log.Printf("[%s base] probe %d: %s", spec.Name, probes, inv.CommandLine())

		artifacts, err := e.runner.Run(ctx, spec, inv)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, terrors.NewSearchError(terrors.CodeSearchFailed,
				fmt.Sprintf("probe run at %s %d failed", spec.BaseParam, v), err)
		}

		var size int64
		primary, ok := detect.Primary(artifacts)
		if ok {
			size = primary.SizeBytes
		}

		if size >= p.Threshold {
			e.record(inv, journal.OutcomeProbeAccepted, v, size)
			log.Printf("[%s base] accepted %s %d: %s (%d bytes)",
				spec.Name, spec.BaseParam, v, primary.Name, size)
			return &Accepted{
				Value:      v,
				Invocation: inv,
				Artifacts:  artifacts,
				Primary:    primary,
				Probes:     probes,
			}, nil
		}

		e.record(inv, journal.OutcomeProbeDiscarded, v, size)
		log.Printf("[%s base] %s %d undersized: %d bytes < %d, growing",
			spec.Name, spec.BaseParam, v, size, p.Threshold)
		for _, a := range artifacts {
			if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("sizesearch: failed to discard probe artifact %s: %w", a.Name, err)
			}
		}

		// Stop before the next step would pass Max (or overflow).
		if v > p.Max/p.Growth {
			break
		}
		v *= p.Growth
	}

	return nil, terrors.NewSearchError(terrors.CodeSearchExhausted,
		fmt.Sprintf("no %s value up to %d produced a trace of at least %d bytes", spec.BaseParam, p.Max, p.Threshold), nil).
		WithDetails(map[string]interface{}{
			"start":     p.Start,
			"max":       p.Max,
			"threshold": p.Threshold,
			"probes":    probes,
		})
}

// record appends a probe outcome to the flight recorder.
func (e *Engine) record(inv bench.Invocation, outcome journal.Outcome, value, size int64) {
	if e.journal == nil {
		return
	}
	entry := &journal.Entry{
		Timestamp: time.Now().Unix(),
		Benchmark: inv.Benchmark,
		Category:  inv.Category.String(),
		Outcome:   outcome,
		Command:   inv.CommandLine(),
		SizeBytes: size,
		Detail:    fmt.Sprintf("probe value %d", value),
	}
	if _, err := e.journal.Append(entry); err != nil {
		log.Printf("[%s base] journal append failed: %v", inv.Benchmark, err)
	}
}
