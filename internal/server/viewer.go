package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"

	"camrec/internal/capture"
	"camrec/internal/catalog"
	"camrec/internal/config"
	"camrec/internal/convert"
	"camrec/internal/index"
	"camrec/internal/logging"
	"camrec/internal/models"
	"camrec/internal/playback"
)

// ErrBadRenderOptions 渲染参数无效
var ErrBadRenderOptions = errors.New("server: invalid render options")

// mapping 一个录像文件的共享只读映射
type mapping struct {
	file    *index.MappedFile
	size    int64
	modTime time.Time
	refs    int
	stale   bool
}

// Viewer 播放器服务核心：录像目录、共享映射和已编码帧缓存
type Viewer struct {
	cfg     *config.Config
	catalog *catalog.Catalog

	mu   sync.Mutex
	maps map[string]*mapping

	frames *lru.Cache[string, *RenderedFrame]
}

// NewViewer 创建播放器服务
func NewViewer(cfg *config.Config) (*Viewer, error) {
	frames, err := lru.New[string, *RenderedFrame](cfg.Server.FrameLRU)
	if err != nil {
		return nil, err
	}
	return &Viewer{
		cfg:     cfg,
		catalog: catalog.New(cfg.Storage.Dir, cfg.Camera.AuxLength, cfg.Storage.ScanWorkers),
		maps:    make(map[string]*mapping),
		frames:  frames,
	}, nil
}

// Catalog 录像目录
func (v *Viewer) Catalog() *catalog.Catalog {
	return v.catalog
}

// Config 运行配置
func (v *Viewer) Config() *config.Config {
	return v.cfg
}

// Rescan 重新扫描录像目录
func (v *Viewer) Rescan(ctx context.Context) error {
	return v.catalog.Scan(ctx)
}

// OpenPlayer 为一个会话创建回放游标，release 归还共享映射
// 文件大小或修改时间变化 (例如仍在录制) 时重新映射
func (v *Viewer) OpenPlayer(name string) (*playback.Player, func(), error) {
	path, err := v.catalog.PathFor(name)
	if err != nil {
		return nil, nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", catalog.ErrUnknownRecording, name)
		}
		return nil, nil, err
	}

	v.mu.Lock()
	m := v.maps[path]
	if m != nil && (m.size != st.Size() || !m.modTime.Equal(st.ModTime())) {
		m.stale = true
		delete(v.maps, path)
		if m.refs == 0 {
			m.file.Close()
		}
		m = nil
	}
	if m == nil {
		f, err := index.Map(path)
		if err != nil {
			v.mu.Unlock()
			return nil, nil, err
		}
		m = &mapping{file: f, size: f.Size(), modTime: st.ModTime()}
		v.maps[path] = m
		logging.LogDebug("映射录像文件", "file", name, "size", f.Size())
	}
	m.refs++
	v.mu.Unlock()

	unref := func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		m.refs--
		if m.refs == 0 && m.stale {
			m.file.Close()
		}
	}

	p, err := playback.NewPlayer(m.file, m.size, v.catalog.AuxLength())
	if err != nil {
		unref()
		return nil, nil, err
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			p.Close()
			unref()
		})
	}
	return p, release, nil
}

// RenderOptions 帧渲染参数
type RenderOptions struct {
	Mode    string // gray / rgb / debayer，空或 auto 表示按编码选择
	Format  string // png / jpeg
	Width   int    // 缩放后的宽度，0 表示原始尺寸
	Quality int    // JPEG 质量
}

func (o *RenderOptions) normalize() error {
	switch strings.ToLower(o.Format) {
	case "", "png":
		o.Format = "png"
	case "jpg", "jpeg":
		o.Format = "jpeg"
	default:
		return fmt.Errorf("%w: format %q", ErrBadRenderOptions, o.Format)
	}
	if _, err := convert.ParseMode(o.Mode); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRenderOptions, err)
	}
	if o.Width < 0 {
		return fmt.Errorf("%w: width %d", ErrBadRenderOptions, o.Width)
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 90
	}
	return nil
}

// mode 已经过 normalize 校验
func (o RenderOptions) mode() convert.Mode {
	m, _ := convert.ParseMode(o.Mode)
	return m
}

// FrameInfo 帧元数据
type FrameInfo struct {
	Index           int                `json:"index"`
	FrameCount      int                `json:"frameCount"`
	Width           uint32             `json:"width"`
	Height          uint32             `json:"height"`
	Stride          uint32             `json:"stride"`
	Coding          string             `json:"coding"`
	Filter          string             `json:"filter"`
	TotalBytes      uint64             `json:"totalBytes"`
	TimestampMicros uint64             `json:"timestamp"`
	Mode            string             `json:"mode,omitempty"`
	Telemetry       *capture.Telemetry `json:"telemetry,omitempty"`
}

func frameInfo(p *playback.Player, f *models.FrameRecord) FrameInfo {
	info := FrameInfo{
		Index:           p.Index(),
		FrameCount:      p.FrameCount(),
		Width:           f.Width,
		Height:          f.Height,
		Stride:          f.Stride,
		Coding:          f.Coding.String(),
		Filter:          f.Filter.String(),
		TotalBytes:      f.TotalBytes,
		TimestampMicros: f.TimestampMicros,
	}
	if t, ok := capture.ParseTelemetry(f.Aux); ok {
		info.Telemetry = &t
	}
	return info
}

// RenderedFrame 编码后的帧图像
type RenderedFrame struct {
	Info        FrameInfo
	ContentType string
	Data        []byte
}

// RenderCurrent 把游标当前帧编码为图像
func RenderCurrent(p *playback.Player, opts RenderOptions) (*RenderedFrame, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	f := p.Frame()
	if f == nil {
		return nil, playback.ErrNotFound
	}
	img, err := convert.Convert(f, opts.mode())
	if err != nil {
		return nil, err
	}
	return encodeFrame(p, img, opts)
}

// renderAt 经 DecodeFrameAt 定位并转换第 i 帧
func renderAt(p *playback.Player, i int, opts RenderOptions) (*RenderedFrame, error) {
	img, err := p.DecodeFrameAt(i, opts.mode())
	if err != nil {
		return nil, err
	}
	return encodeFrame(p, img, opts)
}

// encodeFrame 缩放并编码游标当前帧的转换结果
func encodeFrame(p *playback.Player, img *convert.Image, opts RenderOptions) (*RenderedFrame, error) {
	f := p.Frame()
	mode := opts.mode()
	if mode == convert.ModeAuto {
		mode = convert.DefaultMode(f)
	}

	out := img.ToImage()
	if opts.Width > 0 && opts.Width < img.Width {
		out = imaging.Resize(out, opts.Width, 0, imaging.Box)
	}

	var (
		buf bytes.Buffer
		err error
	)
	rf := &RenderedFrame{Info: frameInfo(p, f)}
	rf.Info.Mode = mode.String()
	if opts.Format == "jpeg" {
		err = imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(opts.Quality))
		rf.ContentType = "image/jpeg"
	} else {
		err = imaging.Encode(&buf, out, imaging.PNG)
		rf.ContentType = "image/png"
	}
	if err != nil {
		return nil, err
	}
	rf.Data = buf.Bytes()
	return rf, nil
}

// RenderFrame 渲染录像的第 i 帧，结果按 (文件版本, 帧, 参数) 缓存
func (v *Viewer) RenderFrame(name string, i int, opts RenderOptions) (*RenderedFrame, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	path, err := v.catalog.PathFor(name)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownRecording, name)
	}
	key := fmt.Sprintf("%s|%d|%d|%d|%s|%s|%d|%d",
		path, st.Size(), st.ModTime().UnixNano(), i, opts.Mode, opts.Format, opts.Width, opts.Quality)
	if rf, ok := v.frames.Get(key); ok {
		return rf, nil
	}

	p, release, err := v.OpenPlayer(name)
	if err != nil {
		return nil, err
	}
	defer release()

	rf, err := renderAt(p, i, opts)
	if err != nil {
		return nil, err
	}
	v.frames.Add(key, rf)
	return rf, nil
}

// FrameInfoAt 读取第 i 帧的元数据
func (v *Viewer) FrameInfoAt(name string, i int) (FrameInfo, error) {
	p, release, err := v.OpenPlayer(name)
	if err != nil {
		return FrameInfo{}, err
	}
	defer release()
	if err := p.SeekTo(i); err != nil {
		return FrameInfo{}, err
	}
	return frameInfo(p, p.Frame()), nil
}

// Close 释放所有映射
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for path, m := range v.maps {
		if m.refs == 0 {
			m.file.Close()
		} else {
			m.stale = true
		}
		delete(v.maps, path)
	}
	v.frames.Purge()
}
