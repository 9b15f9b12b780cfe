package models

import (
	"errors"
	"fmt"
	"strings"
)

// ColorCoding 像素颜色编码 (数值与 IIDC/libdc1394 保持一致)
type ColorCoding uint32

const (
	CodingMono8   ColorCoding = 352
	CodingYUV411  ColorCoding = 353
	CodingYUV422  ColorCoding = 354
	CodingYUV444  ColorCoding = 355
	CodingRGB8    ColorCoding = 356
	CodingMono16  ColorCoding = 357
	CodingRGB16   ColorCoding = 358
	CodingMono16S ColorCoding = 359
	CodingRGB16S  ColorCoding = 360
	CodingRaw8    ColorCoding = 361
	CodingRaw16   ColorCoding = 362
)

// ColorFilter Bayer 滤镜排列，仅 RAW 编码有意义
type ColorFilter uint32

const (
	FilterNone ColorFilter = 0
	FilterRGGB ColorFilter = 512
	FilterGBRG ColorFilter = 513
	FilterGRBG ColorFilter = 514
	FilterBGGR ColorFilter = 515
)

var codingNames = map[ColorCoding]string{
	CodingMono8:   "MONO8",
	CodingYUV411:  "YUV411",
	CodingYUV422:  "YUV422",
	CodingYUV444:  "YUV444",
	CodingRGB8:    "RGB8",
	CodingMono16:  "MONO16",
	CodingRGB16:   "RGB16",
	CodingMono16S: "MONO16S",
	CodingRGB16S:  "RGB16S",
	CodingRaw8:    "RAW8",
	CodingRaw16:   "RAW16",
}

var filterNames = map[ColorFilter]string{
	FilterNone: "NONE",
	FilterRGGB: "RGGB",
	FilterGBRG: "GBRG",
	FilterGRBG: "GRBG",
	FilterBGGR: "BGGR",
}

func (c ColorCoding) String() string {
	if name, ok := codingNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ColorCoding(%d)", uint32(c))
}

// Valid 是否为已知编码
func (c ColorCoding) Valid() bool {
	_, ok := codingNames[c]
	return ok
}

func (f ColorFilter) String() string {
	if name, ok := filterNames[f]; ok {
		return name
	}
	return fmt.Sprintf("ColorFilter(%d)", uint32(f))
}

// Valid 是否为已知滤镜 (包括 NONE)
func (f ColorFilter) Valid() bool {
	_, ok := filterNames[f]
	return ok
}

// ParseColorCoding 从名称解析编码，大小写不敏感
func ParseColorCoding(s string) (ColorCoding, error) {
	for c, name := range codingNames {
		if strings.EqualFold(name, s) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown color coding %q", s)
}

// ParseColorFilter 从名称解析滤镜，空字符串视为 NONE
func ParseColorFilter(s string) (ColorFilter, error) {
	if s == "" {
		return FilterNone, nil
	}
	for f, name := range filterNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown color filter %q", s)
}

// BitsPerPixel 每像素位数。YUV411 为 12 位 (4 像素 6 字节)
func BitsPerPixel(c ColorCoding) uint32 {
	switch c {
	case CodingMono8, CodingRaw8:
		return 8
	case CodingYUV411:
		return 12
	case CodingYUV422, CodingMono16, CodingMono16S, CodingRaw16:
		return 16
	case CodingYUV444, CodingRGB8:
		return 24
	case CodingRGB16, CodingRGB16S:
		return 48
	}
	return 0
}

// Channels 解码后的颜色通道数
func Channels(c ColorCoding) int {
	switch c {
	case CodingMono8, CodingMono16, CodingMono16S, CodingRaw8, CodingRaw16:
		return 1
	}
	return 3
}

// IsRaw 是否为未去马赛克的传感器原始数据
func IsRaw(c ColorCoding) bool {
	return c == CodingRaw8 || c == CodingRaw16
}

// MinStride 给定宽度与编码下的最小行字节数。按 64 位计算，宽度再大也不会回绕
func MinStride(width uint32, c ColorCoding) uint64 {
	return (uint64(width)*uint64(BitsPerPixel(c)) + 7) / 8
}

// FrameRecord 一帧的元数据与像素数据
type FrameRecord struct {
	Width           uint32
	Height          uint32
	Stride          uint32 // 每行字节数
	Coding          ColorCoding
	Filter          ColorFilter
	TotalBytes      uint64 // 像素负载字节数，可能包含对齐填充
	TimestampMicros uint64
	PixelData       []byte // 长度恰好为 TotalBytes
	Aux             []byte // 可选遥测数据块，长度由调用方模式决定
}

// 校验错误
var (
	ErrBadDimensions = errors.New("frame: width and height must be positive")
	ErrBadStride     = errors.New("frame: stride smaller than one scanline")
	ErrBadTotalBytes = errors.New("frame: total bytes smaller than stride*height")
	ErrBadCoding     = errors.New("frame: unknown color coding")
	ErrBadFilter     = errors.New("frame: unknown color filter")
	ErrPixelLength   = errors.New("frame: pixel data length does not match total bytes")
)

// ImageBytes 图像数据字节数 (不含填充)
func (f *FrameRecord) ImageBytes() uint64 {
	return uint64(f.Stride) * uint64(f.Height)
}

// Dropped 是否为空帧 (TotalBytes == 0)
func (f *FrameRecord) Dropped() bool {
	return f.TotalBytes == 0
}

// ValidateHeader 仅校验元数据
func (f *FrameRecord) ValidateHeader() error {
	if f.Width == 0 || f.Height == 0 {
		return ErrBadDimensions
	}
	if !f.Coding.Valid() {
		return ErrBadCoding
	}
	if !f.Filter.Valid() {
		return ErrBadFilter
	}
	if uint64(f.Stride) < MinStride(f.Width, f.Coding) {
		return ErrBadStride
	}
	if f.TotalBytes != 0 && f.TotalBytes < f.ImageBytes() {
		return ErrBadTotalBytes
	}
	return nil
}

// Validate 校验元数据与像素缓冲区
func (f *FrameRecord) Validate() error {
	if err := f.ValidateHeader(); err != nil {
		return err
	}
	if uint64(len(f.PixelData)) != f.TotalBytes {
		return ErrPixelLength
	}
	return nil
}

// Release 释放像素缓冲区，记录槽位可复用
func (f *FrameRecord) Release() {
	f.PixelData = nil
	f.Aux = nil
}

// Clone 深拷贝
func (f *FrameRecord) Clone() *FrameRecord {
	c := *f
	if f.PixelData != nil {
		c.PixelData = append([]byte(nil), f.PixelData...)
	}
	if f.Aux != nil {
		c.Aux = append([]byte(nil), f.Aux...)
	}
	return &c
}
