package product

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maskwriter/runtime/internal/config"
	"github.com/maskwriter/runtime/internal/logger"
	"github.com/maskwriter/runtime/internal/mask"
)

// WriteDescriptor saves m to dir as a product descriptor plus one raw
// little-endian band file per flag dataset, and returns the descriptor path.
// Each band uses the smallest sample type that holds its samples and masks.
// The written product can be opened with OpenDescriptor.
func WriteDescriptor(m *Memory, dir string) (string, error) {
	if m.closed {
		return "", fmt.Errorf("product %s is closed", m.name)
	}

	desc := &config.ProductDescriptor{
		Name:   m.name,
		Type:   m.typ,
		Width:  m.width,
		Height: m.height,
	}
	for _, ds := range m.schema {
		band := config.FlagBandDescriptor{
			Name:      ds.Name,
			File:      ds.Name + ".raw",
			DataType:  sampleType(ds.Flags, m.samples[ds.Name]),
			ByteOrder: config.ByteOrderLittle,
		}
		for _, f := range ds.Flags {
			band.Flags = append(band.Flags, config.FlagDescriptor{Name: f.Name, Mask: f.Mask})
		}
		desc.FlagBands = append(desc.FlagBands, band)
	}

	content, err := config.MarshalDescriptor(desc)
	if err != nil {
		return "", fmt.Errorf("cannot describe product %s: %w", m.name, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create directory %s: %w", dir, err)
	}
	for i, band := range desc.FlagBands {
		path := filepath.Join(dir, band.File)
		if err := m.writeBand(path, band); err != nil {
			return "", fmt.Errorf("cannot write flag band %q: %w", band.Name, err)
		}
		logger.Debug("flag band written",
			slog.String("product", m.name),
			slog.String("band", band.Name),
			slog.String("file", path),
			slog.String("data_type", band.DataType),
			slog.Int("band_index", i+1),
			slog.Int("band_count", len(desc.FlagBands)),
		)
	}

	path := filepath.Join(dir, descriptorFileName(m.name))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("cannot write product descriptor: %w", err)
	}
	logger.Info("product written",
		slog.String("product", m.name),
		slog.String("descriptor", path),
		slog.Int("flag_bands", len(desc.FlagBands)),
	)
	return path, nil
}

func (m *Memory) writeBand(path string, band config.FlagBandDescriptor) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	size := band.SampleSize()
	row := make([]byte, 0, m.width*size)
	samples := m.samples[band.Name]
	for y := 0; y < m.height; y++ {
		row = row[:0]
		for _, s := range samples[y*m.width : (y+1)*m.width] {
			switch size {
			case 1:
				row = append(row, byte(s))
			case 2:
				row = binary.LittleEndian.AppendUint16(row, uint16(s))
			default:
				row = binary.LittleEndian.AppendUint32(row, s)
			}
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Flush()
}

// sampleType returns the narrowest data type that holds every sample and mask.
func sampleType(flags []mask.Flag, samples []uint32) string {
	var widest uint32
	for _, f := range flags {
		widest |= f.Mask
	}
	for _, s := range samples {
		widest |= s
	}
	switch {
	case widest <= 0xFF:
		return config.DataTypeUint8
	case widest <= 0xFFFF:
		return config.DataTypeUint16
	default:
		return config.DataTypeUint32
	}
}

// descriptorFileName derives the descriptor file name from the product name,
// falling back to product.yaml when the name is not a plain file name.
func descriptorFileName(name string) string {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\:`) {
		return "product.yaml"
	}
	return name + ".yaml"
}
