// Package sweep plans and drives a benchmark batch: size search, the
// normal/special run set, artifact registration, and outcome accounting.
package sweep

import (
	"github.com/tracesmith/tracesmith/internal/bench"
)

// Plan is a lazy, finite enumeration of one benchmark's sweep runs at a
// fixed base value: the normal cross-product first (declared axis order,
// first axis outermost), then one run per special flag in declared order.
// The accepted base run is not part of the plan; it was already executed by
// the size search.
//
// A Plan is consumed by Next and cannot be rewound. Planning again from the
// same spec and base value yields an identical sequence.
type Plan struct {
	spec  *bench.Spec
	value int64

	indices    []int
	normalDone bool
	specialIdx int
}

// NewPlan plans a benchmark's sweep at an accepted base value.
func NewPlan(spec *bench.Spec, baseValue int64) *Plan {
	p := &Plan{spec: spec, value: baseValue}

	if len(spec.NormalAxes) == 0 {
		p.normalDone = true
		return p
	}
	p.indices = make([]int, len(spec.NormalAxes))
	for _, axis := range spec.NormalAxes {
		// An axis with no values empties the whole cross-product.
		if len(axis.Values) == 0 {
			p.normalDone = true
			return p
		}
	}
	return p
}

// Runs returns the total number of runs the plan yields.
func (p *Plan) Runs() int {
	normal := 0
	if len(p.spec.NormalAxes) > 0 {
		normal = 1
		for _, axis := range p.spec.NormalAxes {
			normal *= len(axis.Values)
		}
	}
	return normal + len(p.spec.SpecialFlags)
}

// Next returns the next planned invocation. ok is false once the plan is
// exhausted.
func (p *Plan) Next() (inv bench.Invocation, ok bool) {
	if !p.normalDone {
		settings := make([]bench.Setting, len(p.spec.NormalAxes))
		for i, axis := range p.spec.NormalAxes {
			settings[i] = bench.Setting{Param: axis.Param, Value: axis.Values[p.indices[i]]}
		}
		inv = p.spec.Normal(p.value, settings)
		p.advance()
		return inv, true
	}

	if p.specialIdx < len(p.spec.SpecialFlags) {
		inv = p.spec.Special(p.value, p.spec.SpecialFlags[p.specialIdx])
		p.specialIdx++
		return inv, true
	}

	return bench.Invocation{}, false
}

// advance steps the cross-product odometer: the last axis turns fastest, so
// the declared axis order reads outer-to-inner.
func (p *Plan) advance() {
	for i := len(p.indices) - 1; i >= 0; i-- {
		p.indices[i]++
		if p.indices[i] < len(p.spec.NormalAxes[i].Values) {
			return
		}
		p.indices[i] = 0
	}
	p.normalDone = true
}
