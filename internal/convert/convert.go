// Package convert 将传感器原始数据转换为可显示的灰度或 RGB 图像
//
// 转换是无状态的，不会修改输入的 FrameRecord。
package convert

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"camrec/internal/models"
)

// Mode 显示模式
type Mode int

const (
	ModeGray Mode = iota
	ModeRGB
	ModeDebayer

	// ModeAuto 按帧的编码选择，见 DefaultMode
	ModeAuto Mode = -1
)

func (m Mode) String() string {
	switch m {
	case ModeGray:
		return "gray"
	case ModeRGB:
		return "rgb"
	case ModeDebayer:
		return "debayer"
	case ModeAuto:
		return "auto"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode 解析显示模式。兼容原有的单字符写法 g / c / 7
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "gray", "grey", "g":
		return ModeGray, nil
	case "rgb", "color", "c":
		return ModeRGB, nil
	case "debayer", "format7", "7":
		return ModeDebayer, nil
	case "auto", "":
		return ModeAuto, nil
	}
	return 0, fmt.Errorf("unknown display mode %q", s)
}

// ErrUnsupportedEncoding 编码与模式组合没有对应的转换算法
var ErrUnsupportedEncoding = errors.New("convert: unsupported encoding")

// Image 可显示的像素缓冲区 (1 或 3 通道，8 位)
type Image struct {
	Width    int
	Height   int
	Channels int
	Stride   int
	Pix      []byte
}

// DefaultMode 根据编码选择显示模式
func DefaultMode(f *models.FrameRecord) Mode {
	switch {
	case models.IsRaw(f.Coding) && f.Filter != models.FilterNone:
		return ModeDebayer
	case models.Channels(f.Coding) == 1:
		return ModeGray
	}
	return ModeRGB
}

// Convert 按模式转换一帧
func Convert(f *models.FrameRecord, mode Mode) (*Image, error) {
	if err := f.ValidateHeader(); err != nil {
		return nil, err
	}
	if mode == ModeAuto {
		mode = DefaultMode(f)
	}
	if f.TotalBytes < f.ImageBytes() || uint64(len(f.PixelData)) < f.ImageBytes() {
		return nil, fmt.Errorf("convert: frame has no image data (%d bytes)", len(f.PixelData))
	}

	switch mode {
	case ModeGray:
		return toGray(f)
	case ModeRGB:
		return toRGB(f)
	case ModeDebayer:
		return debayer(f)
	}
	return nil, fmt.Errorf("%w: mode %v", ErrUnsupportedEncoding, mode)
}

func unsupported(f *models.FrameRecord, mode Mode) error {
	return fmt.Errorf("%w: %v (filter %v) as %v", ErrUnsupportedEncoding, f.Coding, f.Filter, mode)
}

// toGray 8 位单通道直接引用原缓冲区；16 位取高字节
func toGray(f *models.FrameRecord) (*Image, error) {
	w, h := int(f.Width), int(f.Height)
	switch f.Coding {
	case models.CodingMono8, models.CodingRaw8:
		n := int(f.Stride)*(h-1) + w
		return &Image{Width: w, Height: h, Channels: 1, Stride: int(f.Stride), Pix: f.PixelData[:n]}, nil
	case models.CodingMono16, models.CodingMono16S, models.CodingRaw16:
		out := newImage(w, h, 1)
		for y := 0; y < h; y++ {
			row := f.PixelData[y*int(f.Stride):]
			dst := out.Pix[y*out.Stride:]
			for x := 0; x < w; x++ {
				// IIDC 16 位数据为大端序
				dst[x] = row[2*x]
			}
		}
		return out, nil
	}
	return nil, unsupported(f, ModeGray)
}

func newImage(w, h, channels int) *Image {
	return &Image{
		Width:    w,
		Height:   h,
		Channels: channels,
		Stride:   w * channels,
		Pix:      make([]byte, w*h*channels),
	}
}

// toRGB 多通道颜色模型转换，输出新分配的 w*h*3 缓冲区
func toRGB(f *models.FrameRecord) (*Image, error) {
	w, h := int(f.Width), int(f.Height)
	stride := int(f.Stride)
	switch {
	case f.Coding == models.CodingYUV422 && w%2 != 0,
		f.Coding == models.CodingYUV411 && w%4 != 0:
		return nil, fmt.Errorf("%w: %v with width %d", ErrUnsupportedEncoding, f.Coding, w)
	}
	out := newImage(w, h, 3)

	for y := 0; y < h; y++ {
		row := f.PixelData[y*stride:]
		dst := out.Pix[y*out.Stride : (y+1)*out.Stride]
		switch f.Coding {
		case models.CodingRGB8:
			copy(dst, row[:3*w])
		case models.CodingRGB16, models.CodingRGB16S:
			for i := 0; i < 3*w; i++ {
				dst[i] = row[2*i]
			}
		case models.CodingMono8, models.CodingRaw8:
			for x := 0; x < w; x++ {
				v := row[x]
				dst[3*x], dst[3*x+1], dst[3*x+2] = v, v, v
			}
		case models.CodingMono16, models.CodingMono16S, models.CodingRaw16:
			for x := 0; x < w; x++ {
				v := row[2*x]
				dst[3*x], dst[3*x+1], dst[3*x+2] = v, v, v
			}
		case models.CodingYUV444:
			// U Y V
			for x := 0; x < w; x++ {
				u, yy, v := row[3*x], row[3*x+1], row[3*x+2]
				putYUV(dst[3*x:], yy, u, v)
			}
		case models.CodingYUV422:
			// U Y0 V Y1
			for x := 0; x < w; x++ {
				q := row[4*(x/2):]
				putYUV(dst[3*x:], q[1+2*(x%2)], q[0], q[2])
			}
		case models.CodingYUV411:
			// U Y0 Y1 V Y2 Y3
			for x := 0; x < w; x++ {
				q := row[6*(x/4):]
				yIdx := [4]int{1, 2, 4, 5}[x%4]
				putYUV(dst[3*x:], q[yIdx], q[0], q[3])
			}
		default:
			return nil, unsupported(f, ModeRGB)
		}
	}
	return out, nil
}

func putYUV(dst []byte, y, u, v uint8) {
	r, g, b := color.YCbCrToRGB(y, u, v)
	dst[0], dst[1], dst[2] = r, g, b
}

// ToImage 转换为标准库 image.Image，便于 PNG/JPEG 编码
func (img *Image) ToImage() image.Image {
	rect := image.Rect(0, 0, img.Width, img.Height)
	if img.Channels == 1 {
		g := image.NewGray(rect)
		for y := 0; y < img.Height; y++ {
			copy(g.Pix[y*g.Stride:y*g.Stride+img.Width], img.Pix[y*img.Stride:])
		}
		return g
	}
	out := image.NewNRGBA(rect)
	for y := 0; y < img.Height; y++ {
		src := img.Pix[y*img.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < img.Width; x++ {
			dst[4*x] = src[3*x]
			dst[4*x+1] = src[3*x+1]
			dst[4*x+2] = src[3*x+2]
			dst[4*x+3] = 0xff
		}
	}
	return out
}
