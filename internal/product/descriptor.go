package product

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/maskwriter/runtime/internal/config"
	"github.com/maskwriter/runtime/internal/errhandling"
	"github.com/maskwriter/runtime/internal/mask"
)

// Descriptor is a product described by a YAML or JSON descriptor whose flag
// datasets are stored as raw sample files. Rows are read on demand.
type Descriptor struct {
	desc   *config.ProductDescriptor
	bands  map[string]*bandFile
	schema mask.Schema
	flags  *flagEvaluator
	closed bool
}

// bandFile is an open flag band file and its row buffer.
type bandFile struct {
	band  config.FlagBandDescriptor
	file  *os.File
	order binary.ByteOrder
	raw   []byte
}

// OpenDescriptor opens the descriptor at path read-only, together with
// every flag band file it references. Failures are open errors.
func OpenDescriptor(path string) (*Descriptor, error) {
	desc, _, err := config.LoadDescriptor(path)
	if err != nil {
		return nil, errhandling.NewOpenError(fmt.Sprintf("cannot open product %s", path), err)
	}
	return openBands(desc)
}

func openBands(desc *config.ProductDescriptor) (*Descriptor, error) {
	d := &Descriptor{
		desc:  desc,
		bands: make(map[string]*bandFile, len(desc.FlagBands)),
	}

	for _, band := range desc.FlagBands {
		bf, err := openBandFile(desc, band)
		if err != nil {
			_ = d.Close()
			return nil, errhandling.NewOpenError(fmt.Sprintf("cannot open flag band %q of product %s", band.Name, desc.Name), err)
		}
		d.bands[band.Name] = bf

		ds := mask.Dataset{Name: band.Name}
		for _, f := range band.Flags {
			ds.Flags = append(ds.Flags, mask.Flag{Name: f.Name, Mask: f.Mask})
		}
		d.schema = append(d.schema, ds)
	}

	d.flags = newFlagEvaluator(d.schema, desc.Width, d.readRow)
	return d, nil
}

func openBandFile(desc *config.ProductDescriptor, band config.FlagBandDescriptor) (*bandFile, error) {
	f, err := os.Open(desc.Path(band))
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	rowBytes := int64(desc.Width) * int64(band.SampleSize())
	need := band.Offset + rowBytes*int64(desc.Height)
	if info.Size() < need {
		_ = f.Close()
		return nil, fmt.Errorf("file %s has %d bytes, need at least %d", f.Name(), info.Size(), need)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if band.ByteOrder == config.ByteOrderBig {
		order = binary.BigEndian
	}
	return &bandFile{band: band, file: f, order: order, raw: make([]byte, rowBytes)}, nil
}

func (d *Descriptor) Name() string { return d.desc.Name }
func (d *Descriptor) Width() int   { return d.desc.Width }
func (d *Descriptor) Height() int  { return d.desc.Height }

// Describe implements Describer.
func (d *Descriptor) Describe() Info {
	return Info{
		Name:        d.desc.Name,
		Type:        d.desc.Type,
		Description: d.desc.Description,
		Width:       d.desc.Width,
		Height:      d.desc.Height,
		Datasets:    d.schema,
	}
}

// ValidateExpression implements ExpressionValidator.
func (d *Descriptor) ValidateExpression(expression string) error {
	return d.flags.validate(expression)
}

// EvaluateRow implements Product.
func (d *Descriptor) EvaluateRow(expression string, y int, dst []int) error {
	if d.closed {
		return errhandling.NewEvalError(y, "product is closed", nil)
	}
	if err := checkRow(d.desc.Width, d.desc.Height, y, dst); err != nil {
		return err
	}
	return d.flags.evaluateRow(expression, y, dst)
}

// Close closes every band file. It is safe to call more than once.
func (d *Descriptor) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for name, bf := range d.bands {
		if err := bf.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing flag band %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Descriptor) readRow(dataset string, y int, dst []uint32) error {
	bf, ok := d.bands[dataset]
	if !ok {
		return fmt.Errorf("flag band %q not found", dataset)
	}

	off := bf.band.Offset + int64(y)*int64(len(bf.raw))
	if _, err := bf.file.ReadAt(bf.raw, off); err != nil {
		return fmt.Errorf("reading flag band %q: %w", dataset, err)
	}

	switch bf.band.SampleSize() {
	case 1:
		for x := range dst {
			dst[x] = uint32(bf.raw[x])
		}
	case 2:
		for x := range dst {
			dst[x] = uint32(bf.order.Uint16(bf.raw[2*x:]))
		}
	default:
		for x := range dst {
			dst[x] = bf.order.Uint32(bf.raw[4*x:])
		}
	}
	return nil
}
