package models

import (
	"errors"
	"testing"
)

func TestMinStride(t *testing.T) {
	t.Parallel()
	tests := []struct {
		w      uint32
		coding ColorCoding
		want   uint64
	}{
		{640, CodingMono8, 640},
		{640, CodingMono16, 1280},
		{640, CodingRGB8, 1920},
		{640, CodingYUV422, 1280},
		{640, CodingYUV411, 960},
		{3, CodingYUV411, 5},
		{10, CodingRGB16, 60},
		{1 << 29, CodingMono8, 1 << 29},
		{1<<32 - 1, CodingRGB16, 6 * (1<<32 - 1)},
	}
	for _, tt := range tests {
		if got := MinStride(tt.w, tt.coding); got != tt.want {
			t.Errorf("MinStride(%d, %v) = %d, want %d", tt.w, tt.coding, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ok := FrameRecord{Width: 4, Height: 2, Stride: 4, Coding: CodingMono8, TotalBytes: 8, PixelData: make([]byte, 8)}

	tests := []struct {
		name   string
		mutate func(f *FrameRecord)
		want   error
	}{
		{"valid", func(f *FrameRecord) {}, nil},
		{"zero width", func(f *FrameRecord) { f.Width = 0 }, ErrBadDimensions},
		{"bad coding", func(f *FrameRecord) { f.Coding = 1 }, ErrBadCoding},
		{"bad filter", func(f *FrameRecord) { f.Filter = 7 }, ErrBadFilter},
		{"short stride", func(f *FrameRecord) { f.Stride = 3 }, ErrBadStride},
		{"short total", func(f *FrameRecord) { f.TotalBytes = 7; f.PixelData = make([]byte, 7) }, ErrBadTotalBytes},
		{"padding", func(f *FrameRecord) { f.TotalBytes = 12; f.PixelData = make([]byte, 12) }, nil},
		{"dropped", func(f *FrameRecord) { f.TotalBytes = 0; f.PixelData = nil }, nil},
		{"wide stride wrap", func(f *FrameRecord) { f.Width = 1 << 29; f.Stride = 1 }, ErrBadStride},
		{"length mismatch", func(f *FrameRecord) { f.PixelData = make([]byte, 9) }, ErrPixelLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := ok
			tt.mutate(&f)
			if err := f.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseColorCoding(t *testing.T) {
	t.Parallel()
	for _, c := range []ColorCoding{CodingMono8, CodingYUV422, CodingRaw16} {
		got, err := ParseColorCoding(c.String())
		if err != nil || got != c {
			t.Errorf("ParseColorCoding(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseColorCoding("H264"); err == nil {
		t.Error("expected error for unknown coding")
	}
	if f, err := ParseColorFilter(""); err != nil || f != FilterNone {
		t.Errorf("ParseColorFilter(\"\") = %v, %v", f, err)
	}
}

func TestCloneRelease(t *testing.T) {
	t.Parallel()
	f := &FrameRecord{Width: 1, Height: 1, Stride: 1, Coding: CodingMono8, TotalBytes: 1, PixelData: []byte{5}, Aux: []byte{1}}
	c := f.Clone()
	c.PixelData[0] = 9
	if f.PixelData[0] != 5 {
		t.Error("Clone shares pixel buffer")
	}
	f.Release()
	if f.PixelData != nil || f.Aux != nil {
		t.Error("Release kept buffers")
	}
}
