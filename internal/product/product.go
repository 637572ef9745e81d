// Package product provides raster products that evaluate flag mask
// expressions one scanline at a time.
package product

import (
	"github.com/maskwriter/runtime/internal/errhandling"
	"github.com/maskwriter/runtime/internal/mask"
)

// Product is an opened raster product.
// Width and Height are fixed once the product is open.
type Product interface {
	Name() string
	Width() int
	Height() int

	// EvaluateRow evaluates expression for every pixel of row y and stores
	// the mask values in dst, which must hold exactly Width() values.
	EvaluateRow(expression string, y int, dst []int) error

	Close() error
}

// ExpressionValidator is implemented by products that can check an
// expression against their flag datasets without evaluating any row.
type ExpressionValidator interface {
	ValidateExpression(expression string) error
}

// Info describes a product for display.
type Info struct {
	Name        string
	Type        string
	Description string
	Width       int
	Height      int
	Datasets    []mask.Dataset
}

// Describer is implemented by products that can describe themselves.
type Describer interface {
	Describe() Info
}

// Opener opens products by locator.
type Opener interface {
	Open(locator string) (Product, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(locator string) (Product, error)

// Open calls f(locator).
func (f OpenerFunc) Open(locator string) (Product, error) {
	return f(locator)
}

// FileOpener opens product descriptor files from the local filesystem.
type FileOpener struct{}

// Open opens the descriptor at locator and its flag band files.
func (FileOpener) Open(locator string) (Product, error) {
	p, err := OpenDescriptor(locator)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// checkRow validates the row index and destination length of an EvaluateRow call.
func checkRow(width, height, y int, dst []int) error {
	if y < 0 || y >= height {
		return errhandling.NewEvalError(y, "row out of range", nil)
	}
	if len(dst) != width {
		return errhandling.NewEvalError(y, "destination does not match product width", nil)
	}
	return nil
}
