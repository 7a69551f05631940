// Package bench models benchmark parameter spaces and runs benchmark
// processes.
package bench

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tracesmith/tracesmith/pkg/traceid"
)

// Spec describes one benchmark's executable and parameter space.
type Spec struct {
	// Name is the benchmark's profile name
	Name string

	// BuildDir is the directory the build command runs in
	BuildDir string

	// ExecPath is the built executable; must be absolute because runs
	// execute with a different working directory
	ExecPath string

	// CommonArgs are prepended to every invocation
	CommonArgs []string

	// BaseParam is the size-controlling flag, e.g. "-length"
	BaseParam string

	// BaseStart is the first size-search candidate
	BaseStart int64

	// BaseMax bounds the size search
	BaseMax int64

	// NormalAxes are swept as a full cross product, in declared order
	NormalAxes []Axis

	// SpecialFlags each produce one extra run, in declared order
	SpecialFlags []string
}

// Axis is one normal parameter: a flag and its ordered candidate values.
type Axis struct {
	Param  string
	Values []int64
}

// Setting is one chosen value on an axis.
type Setting struct {
	Param string
	Value int64
}

// ExecName returns the executable's base name, used in recorded command
// lines so records stay identical across checkouts on different machines.
func (s Spec) ExecName() string {
	return filepath.Base(s.ExecPath)
}

// Invocation is one concrete benchmark run: the full argument vector and
// the category its traces will be registered under.
type Invocation struct {
	Benchmark string
	Category  traceid.Category
	ExecName  string
	Args      []string
}

// CommandLine returns the display form of the invocation.
func (inv Invocation) CommandLine() string {
	return inv.ExecName + " " + strings.Join(inv.Args, " ")
}

// Base builds the invocation for a size-search probe or the accepted base
// run: common args plus the base parameter at v.
func (s Spec) Base(v int64) Invocation {
	return Invocation{
		Benchmark: s.Name,
		Category:  traceid.CategoryBase,
		ExecName:  s.ExecName(),
		Args:      s.baseArgs(v),
	}
}

// Normal builds a cross-product invocation: the base args at v plus one
// chosen value per normal axis, in axis order.
func (s Spec) Normal(v int64, settings []Setting) Invocation {
	args := s.baseArgs(v)
	for _, set := range settings {
		args = append(args, set.Param, strconv.FormatInt(set.Value, 10))
	}
	return Invocation{
		Benchmark: s.Name,
		Category:  traceid.CategoryNormal,
		ExecName:  s.ExecName(),
		Args:      args,
	}
}

// Special builds an invocation with one special flag appended to the base
// args at v. Flags may carry their own values ("-unified-gpus 1,2") and are
// split on whitespace.
func (s Spec) Special(v int64, flag string) Invocation {
	args := append(s.baseArgs(v), strings.Fields(flag)...)
	return Invocation{
		Benchmark: s.Name,
		Category:  traceid.CategorySpecial,
		ExecName:  s.ExecName(),
		Args:      args,
	}
}

func (s Spec) baseArgs(v int64) []string {
	args := make([]string, 0, len(s.CommonArgs)+2)
	args = append(args, s.CommonArgs...)
	args = append(args, s.BaseParam, strconv.FormatInt(v, 10))
	return args
}
