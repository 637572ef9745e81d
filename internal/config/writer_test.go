package config

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMarshalDescriptor_LoadsBack(t *testing.T) {
	desc := &ProductDescriptor{
		Name:   "written",
		Type:   "TEST",
		Width:  4,
		Height: 2,
		FlagBands: []FlagBandDescriptor{
			{
				Name: "l1_flags", File: "l1_flags.raw", DataType: DataTypeUint8, ByteOrder: ByteOrderLittle,
				Flags: []FlagDescriptor{{Name: "INVALID", Mask: 0x80}, {Name: "LAND", Mask: 0x10}},
			},
			{
				Name: "quality", File: "quality.raw", DataType: DataTypeUint32, ByteOrder: ByteOrderBig, Offset: 8,
				Flags: []FlagDescriptor{{Name: "CLOUD", Mask: 0x00010000}},
			},
		},
	}

	content, err := MarshalDescriptor(desc)
	if err != nil {
		t.Fatalf("MarshalDescriptor() error = %v", err)
	}

	dir := t.TempDir()
	path := writeFile(t, dir, "written.yaml", string(content))
	loaded, _, err := LoadDescriptor(path)
	if err != nil {
		t.Fatalf("LoadDescriptor() error = %v\n%s", err, content)
	}

	desc.BaseDir = filepath.Dir(path)
	if !reflect.DeepEqual(loaded, desc) {
		t.Errorf("loaded descriptor = %+v, want %+v", loaded, desc)
	}
}

func TestMarshalDescriptor_Invalid(t *testing.T) {
	tests := []struct {
		name string
		desc *ProductDescriptor
	}{
		{"nil", nil},
		{"zero width", &ProductDescriptor{Name: "p", Width: 0, Height: 1}},
		{"zero mask", &ProductDescriptor{Name: "p", Width: 1, Height: 1, FlagBands: []FlagBandDescriptor{
			{Name: "f", File: "f.raw", DataType: DataTypeUint8, Flags: []FlagDescriptor{{Name: "A", Mask: 0}}},
		}}},
		{"reserved band name", &ProductDescriptor{Name: "p", Width: 1, Height: 1, FlagBands: []FlagBandDescriptor{
			{Name: "or", File: "f.raw", DataType: DataTypeUint8, Flags: []FlagDescriptor{{Name: "A", Mask: 1}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalDescriptor(tt.desc)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.desc != nil && !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("expected invalid document error, got %v", err)
			}
		})
	}
}
