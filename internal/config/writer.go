package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type productDocument struct {
	Product   productSection `yaml:"product"`
	FlagBands []bandSection  `yaml:"flagBands,omitempty"`
}

type productSection struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type,omitempty"`
	Description string `yaml:"description,omitempty"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
}

type bandSection struct {
	Name      string            `yaml:"name"`
	File      string            `yaml:"file"`
	DataType  string            `yaml:"dataType"`
	ByteOrder string            `yaml:"byteOrder,omitempty"`
	Offset    int64             `yaml:"offset,omitempty"`
	Flags     map[string]uint32 `yaml:"flags"`
}

// MarshalDescriptor renders desc as a YAML product descriptor. The result is
// parsed and validated again before it is returned, so anything this
// function emits can be loaded with LoadDescriptor.
func MarshalDescriptor(desc *ProductDescriptor) ([]byte, error) {
	if desc == nil {
		return nil, fmt.Errorf("product descriptor is nil")
	}

	doc := productDocument{Product: productSection{
		Name:        desc.Name,
		Type:        desc.Type,
		Description: desc.Description,
		Width:       desc.Width,
		Height:      desc.Height,
	}}
	for _, band := range desc.FlagBands {
		section := bandSection{
			Name:      band.Name,
			File:      band.File,
			DataType:  band.DataType,
			ByteOrder: band.ByteOrder,
			Offset:    band.Offset,
			Flags:     make(map[string]uint32, len(band.Flags)),
		}
		for _, f := range band.Flags {
			section.Flags[f.Name] = f.Mask
		}
		doc.FlagBands = append(doc.FlagBands, section)
	}

	content, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling product descriptor: %w", err)
	}

	result := ParseString(string(content), FormatYAML, KindProduct)
	if !result.IsValid() {
		return nil, fmt.Errorf("%w: product descriptor %s: %w", ErrInvalidDocument, desc.Name, result.Err())
	}
	if _, err := ConvertToDescriptor(result.Data, ""); err != nil {
		return nil, fmt.Errorf("%w: product descriptor %s: %w", ErrInvalidDocument, desc.Name, err)
	}
	return content, nil
}
