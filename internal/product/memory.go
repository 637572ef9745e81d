package product

import (
	"fmt"

	"github.com/maskwriter/runtime/internal/errhandling"
	"github.com/maskwriter/runtime/internal/mask"
)

// Memory is a product held entirely in memory.
type Memory struct {
	name   string
	typ    string
	width  int
	height int

	schema  mask.Schema
	samples map[string][]uint32
	flags   *flagEvaluator
	closed  bool
}

// NewMemory creates an empty in-memory product of the given size.
func NewMemory(name, typ string, width, height int) (*Memory, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid product size %dx%d", width, height)
	}
	m := &Memory{
		name:    name,
		typ:     typ,
		width:   width,
		height:  height,
		samples: make(map[string][]uint32),
	}
	return m, nil
}

// AddFlagBand adds a flag dataset with one sample per pixel in row-major order.
func (m *Memory) AddFlagBand(name string, flags []mask.Flag, samples []uint32) error {
	if err := mask.ValidateDatasetName(name); err != nil {
		return err
	}
	if _, exists := m.samples[name]; exists {
		return fmt.Errorf("flag band %q already exists", name)
	}
	if len(samples) != m.width*m.height {
		return fmt.Errorf("flag band %q has %d samples, want %d", name, len(samples), m.width*m.height)
	}
	m.samples[name] = samples
	m.schema = append(m.schema, mask.Dataset{Name: name, Flags: flags})
	m.flags = nil
	return nil
}

func (m *Memory) Name() string { return m.name }
func (m *Memory) Width() int   { return m.width }
func (m *Memory) Height() int  { return m.height }

// Describe implements Describer.
func (m *Memory) Describe() Info {
	return Info{Name: m.name, Type: m.typ, Width: m.width, Height: m.height, Datasets: m.schema}
}

// ValidateExpression implements ExpressionValidator.
func (m *Memory) ValidateExpression(expression string) error {
	return m.evaluator().validate(expression)
}

// EvaluateRow implements Product.
func (m *Memory) EvaluateRow(expression string, y int, dst []int) error {
	if m.closed {
		return errhandling.NewEvalError(y, "product is closed", nil)
	}
	if err := checkRow(m.width, m.height, y, dst); err != nil {
		return err
	}
	return m.evaluator().evaluateRow(expression, y, dst)
}

// Close implements Product.
func (m *Memory) Close() error {
	m.closed = true
	return nil
}

func (m *Memory) evaluator() *flagEvaluator {
	if m.flags == nil {
		m.flags = newFlagEvaluator(m.schema, m.width, m.readRow)
	}
	return m.flags
}

func (m *Memory) readRow(dataset string, y int, dst []uint32) error {
	samples, ok := m.samples[dataset]
	if !ok {
		return fmt.Errorf("flag band %q not found", dataset)
	}
	copy(dst, samples[y*m.width:(y+1)*m.width])
	return nil
}
