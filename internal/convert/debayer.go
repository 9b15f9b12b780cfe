package convert

import (
	"camrec/internal/models"
)

// cfaLayout 2x2 单元内 R 与 B 的位置
type cfaLayout struct {
	rx, ry int
	bx, by int
}

var layouts = map[models.ColorFilter]cfaLayout{
	models.FilterRGGB: {rx: 0, ry: 0, bx: 1, by: 1},
	models.FilterGBRG: {rx: 0, ry: 1, bx: 1, by: 0},
	models.FilterGRBG: {rx: 1, ry: 0, bx: 0, by: 1},
	models.FilterBGGR: {rx: 1, ry: 1, bx: 0, by: 0},
}

// greenX 单元第 row 行中 G 的横坐标，每行恰好一个 G
func (l cfaLayout) greenX(row int) int {
	if row == l.ry {
		return 1 - l.rx
	}
	return 1 - l.bx
}

// debayer 最近邻去马赛克
// 2x2 单元内每个像素取单元的 R、B 采样，以及本行的 G 采样
func debayer(f *models.FrameRecord) (*Image, error) {
	layout, ok := layouts[f.Filter]
	if !ok {
		return nil, unsupported(f, ModeDebayer)
	}

	var bps int // 每个采样的字节数
	switch f.Coding {
	case models.CodingRaw8, models.CodingMono8:
		bps = 1
	case models.CodingRaw16:
		bps = 2
	default:
		return nil, unsupported(f, ModeDebayer)
	}

	w, h := int(f.Width), int(f.Height)
	stride := int(f.Stride)
	sample := func(x, y int) byte {
		if x >= w {
			x = w - 1
		}
		if y >= h {
			y = h - 1
		}
		// 16 位取高字节
		return f.PixelData[y*stride+x*bps]
	}

	out := newImage(w, h, 3)
	for y := 0; y < h; y++ {
		cy := y &^ 1
		gx := layout.greenX(y & 1)
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			cx := x &^ 1
			dst[3*x] = sample(cx+layout.rx, cy+layout.ry)
			dst[3*x+1] = sample(cx+gx, y)
			dst[3*x+2] = sample(cx+layout.bx, cy+layout.by)
		}
	}
	return out, nil
}

// SampleChannel 返回 CFA 在 (x, y) 处采样的颜色通道：0=R 1=G 2=B
// 未设置滤镜时返回 -1
func SampleChannel(filter models.ColorFilter, x, y int) int {
	l, ok := layouts[filter]
	if !ok {
		return -1
	}
	cx, cy := x&1, y&1
	switch {
	case cx == l.rx && cy == l.ry:
		return 0
	case cx == l.bx && cy == l.by:
		return 2
	}
	return 1
}
