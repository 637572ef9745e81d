package mask

import (
	"fmt"

	"github.com/expr-lang/expr/vm"

	"github.com/maskwriter/runtime/internal/errhandling"
)

// Evaluator evaluates a compiled Program pixel by pixel.
// It reuses its environment and virtual machine across calls and is not
// safe for concurrent use.
type Evaluator struct {
	program *Program
	env     map[string]interface{}
	flags   []map[string]bool
	machine vm.VM
}

// NewEvaluator returns an Evaluator for p.
func NewEvaluator(p *Program) *Evaluator {
	e := &Evaluator{
		program: p,
		env:     make(map[string]interface{}, len(p.bindings)),
		flags:   make([]map[string]bool, len(p.bindings)),
	}
	for i, b := range p.bindings {
		m := make(map[string]bool, len(b.Flags))
		for _, f := range b.Flags {
			m[f.Name] = false
		}
		e.flags[i] = m
		e.env[b.Dataset] = m
	}
	return e
}

// Program returns the program being evaluated.
func (e *Evaluator) Program() *Program { return e.program }

// EvalRow evaluates row y. samples holds one slice of raw flag samples per
// binding, in Bindings order, each at least len(dst) long. dst[x] is set to
// True or False.
func (e *Evaluator) EvalRow(y int, samples [][]uint32, dst []int) error {
	if len(samples) != len(e.flags) {
		return errhandling.NewEvalError(y,
			fmt.Sprintf("expected samples for %d datasets, got %d", len(e.flags), len(samples)), nil)
	}
	for i, s := range samples {
		if len(s) < len(dst) {
			return errhandling.NewEvalError(y,
				fmt.Sprintf("dataset %q has %d samples, row needs %d", e.program.bindings[i].Dataset, len(s), len(dst)), nil)
		}
	}

	for x := range dst {
		for i, b := range e.program.bindings {
			sample := samples[i][x]
			for _, f := range b.Flags {
				e.flags[i][f.Name] = f.IsSet(sample)
			}
		}
		out, err := e.machine.Run(e.program.program, e.env)
		if err != nil {
			return errhandling.NewEvalError(y, fmt.Sprintf("evaluating pixel %d", x), err)
		}
		set, ok := out.(bool)
		if !ok {
			return errhandling.NewEvalError(y, fmt.Sprintf("expression returned %T, want bool", out), nil)
		}
		if set {
			dst[x] = True
		} else {
			dst[x] = False
		}
	}
	return nil
}
