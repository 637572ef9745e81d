package product

import (
	"github.com/maskwriter/runtime/internal/errhandling"
	"github.com/maskwriter/runtime/internal/mask"
)

// rowReader reads the raw samples of one flag dataset row into dst.
type rowReader func(dataset string, y int, dst []uint32) error

// compiledExpression is a cached evaluator and the row buffers it reads.
type compiledExpression struct {
	evaluator *mask.Evaluator
	rows      [][]uint32
}

// flagEvaluator compiles expressions against a product's flag datasets and
// evaluates them row by row. Each dataset gets one row buffer for the
// lifetime of the product.
type flagEvaluator struct {
	schema   mask.Schema
	width    int
	read     rowReader
	compiled map[string]*compiledExpression
	buffers  map[string][]uint32
}

func newFlagEvaluator(schema mask.Schema, width int, read rowReader) *flagEvaluator {
	return &flagEvaluator{
		schema:   schema,
		width:    width,
		read:     read,
		compiled: make(map[string]*compiledExpression),
		buffers:  make(map[string][]uint32),
	}
}

func (f *flagEvaluator) compile(expression string) (*compiledExpression, error) {
	if c, ok := f.compiled[expression]; ok {
		return c, nil
	}
	program, err := mask.Compile(expression, f.schema)
	if err != nil {
		return nil, err
	}

	c := &compiledExpression{evaluator: mask.NewEvaluator(program)}
	for _, name := range program.Datasets() {
		buf, ok := f.buffers[name]
		if !ok {
			buf = make([]uint32, f.width)
			f.buffers[name] = buf
		}
		c.rows = append(c.rows, buf)
	}
	f.compiled[expression] = c
	return c, nil
}

func (f *flagEvaluator) validate(expression string) error {
	_, err := f.compile(expression)
	return err
}

func (f *flagEvaluator) evaluateRow(expression string, y int, dst []int) error {
	c, err := f.compile(expression)
	if err != nil {
		return errhandling.Classify(err, errhandling.KindExpression, y)
	}
	for i, b := range c.evaluator.Program().Bindings() {
		if err := f.read(b.Dataset, y, c.rows[i]); err != nil {
			return errhandling.Classify(err, errhandling.KindEval, y)
		}
	}
	return c.evaluator.EvalRow(y, c.rows, dst)
}
