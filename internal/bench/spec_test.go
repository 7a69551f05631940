package bench

import (
	"reflect"
	"testing"

	"github.com/tracesmith/tracesmith/pkg/traceid"
)

func sampleSpec() Spec {
	return Spec{
		Name:       "fir",
		BuildDir:   "/src/fir",
		ExecPath:   "/src/fir/fir",
		CommonArgs: []string{"-timing", "-trace-vis"},
		BaseParam:  "-length",
		BaseStart:  4096,
		BaseMax:    1 << 26,
		NormalAxes: []Axis{
			{Param: "-griddim", Values: []int64{64, 128}},
		},
		SpecialFlags: []string{"-parallel", "-unified-gpus 1,2"},
	}
}

func TestBaseInvocation(t *testing.T) {
	inv := sampleSpec().Base(4096)

	if inv.Category != traceid.CategoryBase {
		t.Errorf("category = %v", inv.Category)
	}
	want := []string{"-timing", "-trace-vis", "-length", "4096"}
	if !reflect.DeepEqual(inv.Args, want) {
		t.Errorf("args = %v, want %v", inv.Args, want)
	}
	if inv.CommandLine() != "fir -timing -trace-vis -length 4096" {
		t.Errorf("command line = %q", inv.CommandLine())
	}
}

func TestNormalInvocation(t *testing.T) {
	inv := sampleSpec().Normal(8192, []Setting{
		{Param: "-griddim", Value: 64},
		{Param: "-wg", Value: 256},
	})

	if inv.Category != traceid.CategoryNormal {
		t.Errorf("category = %v", inv.Category)
	}
	want := []string{"-timing", "-trace-vis", "-length", "8192", "-griddim", "64", "-wg", "256"}
	if !reflect.DeepEqual(inv.Args, want) {
		t.Errorf("args = %v, want %v", inv.Args, want)
	}
}

func TestSpecialInvocationSplitsFlagTokens(t *testing.T) {
	inv := sampleSpec().Special(8192, "-unified-gpus 1,2")

	if inv.Category != traceid.CategorySpecial {
		t.Errorf("category = %v", inv.Category)
	}
	want := []string{"-timing", "-trace-vis", "-length", "8192", "-unified-gpus", "1,2"}
	if !reflect.DeepEqual(inv.Args, want) {
		t.Errorf("args = %v, want %v", inv.Args, want)
	}
}

func TestExecNameIsBasename(t *testing.T) {
	if got := sampleSpec().ExecName(); got != "fir" {
		t.Errorf("ExecName() = %q", got)
	}
}
