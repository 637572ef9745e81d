// Package config provides functionality for parsing and validating
// export job files and product descriptors (JSON/YAML).
package config

import (
	"fmt"
	"math"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maskwriter/runtime/internal/mask"
	"github.com/maskwriter/runtime/internal/pathutil"
	"github.com/maskwriter/runtime/pkg/maskexport"
)

// Sample data types of a flag band.
const (
	DataTypeUint8  = "uint8"
	DataTypeUint16 = "uint16"
	DataTypeUint32 = "uint32"
)

// Byte orders of a flag band.
const (
	ByteOrderLittle = "little"
	ByteOrderBig    = "big"
)

// ProductDescriptor describes a raster product stored as raw flag band files.
type ProductDescriptor struct {
	Name        string
	Type        string
	Description string
	Width       int
	Height      int
	FlagBands   []FlagBandDescriptor
	// BaseDir is the directory band files are resolved against
	BaseDir string
}

// FlagBandDescriptor describes one flag dataset backed by a raw sample file.
type FlagBandDescriptor struct {
	Name      string
	File      string
	DataType  string
	ByteOrder string
	// Offset is the number of header bytes to skip in File
	Offset int64
	// Flags is sorted by name
	Flags []FlagDescriptor
}

// FlagDescriptor names a bit mask within a flag band.
type FlagDescriptor struct {
	Name string
	Mask uint32
}

// SampleSize returns the size in bytes of one sample of the band.
func (b FlagBandDescriptor) SampleSize() int {
	switch b.DataType {
	case DataTypeUint16:
		return 2
	case DataTypeUint32:
		return 4
	default:
		return 1
	}
}

// Path returns the band file resolved against the descriptor directory.
func (d *ProductDescriptor) Path(band FlagBandDescriptor) string {
	return pathutil.Resolve(d.BaseDir, band.File)
}

// ConvertToJob converts a validated job document to a Job.
// Relative input and output paths are resolved against baseDir.
func ConvertToJob(data map[string]interface{}, baseDir string) (*maskexport.Job, error) {
	if data == nil {
		return nil, fmt.Errorf("job data is nil")
	}

	job := &maskexport.Job{}
	var err error
	if job.Input, err = requiredString(data, "input"); err != nil {
		return nil, err
	}
	if job.Output, err = requiredString(data, "output"); err != nil {
		return nil, err
	}
	if job.Expression, err = requiredString(data, "expression"); err != nil {
		return nil, err
	}
	if id, ok := data["id"].(string); ok {
		job.ID = id
	}

	job.Input = pathutil.Resolve(baseDir, job.Input)
	job.Output = pathutil.Resolve(baseDir, job.Output)
	return job, nil
}

// ConvertToDescriptor converts a validated product document to a ProductDescriptor.
//
// The document is expected to have this structure:
//
//	product:
//	  name: MER_RR__1P
//	  width: 1121
//	  height: 1105
//	flagBands:
//	  - name: l1_flags
//	    file: l1_flags.raw
//	    dataType: uint8
//	    flags: {INVALID: 0x80, BRIGHT: 0x20}
func ConvertToDescriptor(data map[string]interface{}, baseDir string) (*ProductDescriptor, error) {
	if data == nil {
		return nil, fmt.Errorf("product data is nil")
	}

	productData, ok := data["product"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'product' section")
	}

	desc := &ProductDescriptor{BaseDir: baseDir}
	var err error
	if desc.Name, err = requiredString(productData, "name"); err != nil {
		return nil, fmt.Errorf("product: %w", err)
	}
	desc.Type, _ = productData["type"].(string)
	desc.Description, _ = productData["description"].(string)
	if desc.Width, err = positiveInt(productData, "width"); err != nil {
		return nil, fmt.Errorf("product: %w", err)
	}
	if desc.Height, err = positiveInt(productData, "height"); err != nil {
		return nil, fmt.Errorf("product: %w", err)
	}

	bands, _ := data["flagBands"].([]interface{})
	seen := make(map[string]bool, len(bands))
	for i, raw := range bands {
		bandData, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("flagBands[%d]: expected object", i)
		}
		band, err := convertFlagBand(bandData)
		if err != nil {
			return nil, fmt.Errorf("flagBands[%d]: %w", i, err)
		}
		if seen[band.Name] {
			return nil, fmt.Errorf("flagBands[%d]: duplicate band name %q", i, band.Name)
		}
		seen[band.Name] = true
		desc.FlagBands = append(desc.FlagBands, band)
	}

	return desc, nil
}

func convertFlagBand(data map[string]interface{}) (FlagBandDescriptor, error) {
	var band FlagBandDescriptor
	var err error

	if band.Name, err = requiredString(data, "name"); err != nil {
		return band, err
	}
	if err := mask.ValidateDatasetName(band.Name); err != nil {
		return band, err
	}
	if band.File, err = requiredString(data, "file"); err != nil {
		return band, err
	}
	// Band files live next to the descriptor.
	if path.IsAbs(band.File) || filepath.IsAbs(band.File) {
		return band, fmt.Errorf("band %q: file %q must be relative to the descriptor", band.Name, band.File)
	}
	if err := pathutil.ValidateFilePath(filepath.FromSlash(band.File)); err != nil {
		return band, fmt.Errorf("band %q: %w", band.Name, err)
	}

	band.DataType, _ = data["dataType"].(string)
	switch band.DataType {
	case DataTypeUint8, DataTypeUint16, DataTypeUint32:
	default:
		return band, fmt.Errorf("band %q: unsupported data type %q", band.Name, band.DataType)
	}

	band.ByteOrder = ByteOrderLittle
	if order, ok := data["byteOrder"].(string); ok && order != "" {
		band.ByteOrder = strings.ToLower(order)
	}

	if off, ok := data["offset"].(float64); ok {
		if off < 0 || off != math.Trunc(off) {
			return band, fmt.Errorf("band %q: offset must be a non-negative integer", band.Name)
		}
		band.Offset = int64(off)
	}

	flags, ok := data["flags"].(map[string]interface{})
	if !ok || len(flags) == 0 {
		return band, fmt.Errorf("band %q: at least one flag is required", band.Name)
	}
	maxMask := uint64(1)<<(8*band.SampleSize()) - 1
	for name, raw := range flags {
		v, ok := raw.(float64)
		if !ok || v < 1 || v != math.Trunc(v) || uint64(v) > maxMask {
			return band, fmt.Errorf("band %q: flag %q must be a mask between 1 and %d", band.Name, name, maxMask)
		}
		band.Flags = append(band.Flags, FlagDescriptor{Name: name, Mask: uint32(v)})
	}
	sort.Slice(band.Flags, func(i, j int) bool { return band.Flags[i].Name < band.Flags[j].Name })

	return band, nil
}

func requiredString(data map[string]interface{}, key string) (string, error) {
	s, ok := data[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("missing required field '%s'", key)
	}
	return s, nil
}

func positiveInt(data map[string]interface{}, key string) (int, error) {
	v, ok := data[key].(float64)
	if !ok || v < 1 || v != math.Trunc(v) || v > math.MaxInt32 {
		return 0, fmt.Errorf("field '%s' must be a positive integer", key)
	}
	return int(v), nil
}
