package capture

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"camrec/internal/config"
	"camrec/internal/convert"
	"camrec/internal/logging"
	"camrec/internal/models"
)

// SimConfig 模拟相机参数
type SimConfig struct {
	Width     uint32
	Height    uint32
	Coding    models.ColorCoding
	Filter    models.ColorFilter
	Interval  time.Duration
	RingDepth int
	AuxLength int
	Padding   uint32 // 每帧像素数据末尾的填充字节
}

// SimConfigFrom 由配置文件的相机段生成模拟参数
func SimConfigFrom(c *config.CameraConfig) (SimConfig, error) {
	coding, err := models.ParseColorCoding(c.Coding)
	if err != nil {
		return SimConfig{}, err
	}
	filter, err := models.ParseColorFilter(c.Filter)
	if err != nil {
		return SimConfig{}, err
	}
	return SimConfig{
		Width:     c.Width,
		Height:    c.Height,
		Coding:    coding,
		Filter:    filter,
		Interval:  c.FrameInterval(),
		RingDepth: c.RingDepth,
		AuxLength: c.AuxLength,
		Padding:   uint32(max(c.PaddingSize, 0)),
	}, nil
}

// SimSource 模拟采集源
// 后台协程按固定间隔填充环形缓冲区；消费者来不及取帧时新帧被丢弃并计数
type SimSource struct {
	cfg    SimConfig
	frames []*models.FrameRecord

	free  chan int
	ready chan int

	mu    sync.Mutex
	inUse []bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool

	seq     atomic.Uint64
	dropped atomic.Int64
}

// NewSimSource 创建并启动模拟采集源
func NewSimSource(cfg SimConfig) (*SimSource, error) {
	if cfg.RingDepth <= 0 {
		cfg.RingDepth = config.RingDepth
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("capture: invalid frame interval %v", cfg.Interval)
	}

	stride := models.MinStride(cfg.Width, cfg.Coding)
	if stride > math.MaxUint32 {
		return nil, fmt.Errorf("capture: sim width %d too large", cfg.Width)
	}
	template := models.FrameRecord{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Stride:     uint32(stride),
		Coding:     cfg.Coding,
		Filter:     cfg.Filter,
		TotalBytes: stride*uint64(cfg.Height) + uint64(cfg.Padding),
	}
	if err := template.ValidateHeader(); err != nil {
		return nil, fmt.Errorf("capture: sim format: %w", err)
	}
	if template.TotalBytes > config.MaxTotalBytes {
		return nil, fmt.Errorf("capture: sim frame too large (%d bytes)", template.TotalBytes)
	}

	s := &SimSource{
		cfg:   cfg,
		free:  make(chan int, cfg.RingDepth),
		ready: make(chan int, cfg.RingDepth),
		inUse: make([]bool, cfg.RingDepth),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for i := 0; i < cfg.RingDepth; i++ {
		f := template
		f.PixelData = make([]byte, f.TotalBytes)
		if cfg.AuxLength > 0 {
			f.Aux = make([]byte, cfg.AuxLength)
		}
		s.frames = append(s.frames, &f)
		s.free <- i
	}

	go s.run()
	logging.LogDebug("模拟相机已启动",
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"coding", cfg.Coding.String(),
		"filter", cfg.Filter.String(),
		"interval", cfg.Interval,
		"ring", cfg.RingDepth)
	return s, nil
}

func (s *SimSource) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		select {
		case slot := <-s.free:
			s.fill(s.frames[slot], s.seq.Add(1))
			s.ready <- slot
		default:
			// 环形缓冲区已满
			s.dropped.Add(1)
		}
	}
}

// Acquire 实现 Source
func (s *SimSource) Acquire(timeout time.Duration) (*Buffer, error) {
	if s.stopped.Load() {
		return nil, ErrSourceStopped
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case slot := <-s.ready:
		s.mu.Lock()
		s.inUse[slot] = true
		s.mu.Unlock()
		return &Buffer{Slot: slot, Frame: s.frames[slot], FramesBehind: len(s.ready)}, nil
	case <-s.stop:
		return nil, ErrSourceStopped
	case <-timer.C:
		return nil, ErrCaptureTimeout
	}
}

// Release 实现 Source。停止后归还是空操作
func (s *SimSource) Release(b *Buffer) error {
	if s.stopped.Load() {
		return nil
	}
	if b == nil || b.Slot < 0 || b.Slot >= len(s.frames) {
		return ErrUnknownBuffer
	}
	s.mu.Lock()
	if !s.inUse[b.Slot] {
		s.mu.Unlock()
		return ErrUnknownBuffer
	}
	s.inUse[b.Slot] = false
	s.mu.Unlock()

	s.free <- b.Slot
	return nil
}

// Stop 停止采集并回收所有缓冲区，可重复调用
func (s *SimSource) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stop)
		<-s.done

		s.mu.Lock()
		for i := range s.inUse {
			s.inUse[i] = false
		}
		s.mu.Unlock()
		logging.LogDebug("模拟相机已停止", "frames", s.seq.Load(), "dropped", s.dropped.Load())
	})
	return nil
}

// Produced 已产生的帧数
func (s *SimSource) Produced() uint64 {
	return s.seq.Load()
}

// Dropped 因缓冲区满而丢弃的帧数
func (s *SimSource) Dropped() int64 {
	return s.dropped.Load()
}

// fill 按编码生成测试图案：灰度渐变、彩色场景的 Bayer 马赛克、RGB、YUV422
func (s *SimSource) fill(f *models.FrameRecord, seq uint64) {
	w, h := int(f.Width), int(f.Height)
	stride := int(f.Stride)
	shift := int(seq)

	scene := func(x, y int) [3]byte {
		r := byte((x*255/max(w-1, 1) + shift) & 0xff)
		g := byte(y * 255 / max(h-1, 1))
		return [3]byte{r, g, 255 - r}
	}
	gray := func(x, y int) byte {
		return byte((x + y + shift) & 0xff)
	}
	value := func(x, y int) byte {
		if ch := convert.SampleChannel(f.Filter, x, y); ch >= 0 {
			return scene(x, y)[ch]
		}
		return gray(x, y)
	}

	for y := 0; y < h; y++ {
		row := f.PixelData[y*stride : (y+1)*stride]
		switch f.Coding {
		case models.CodingMono8, models.CodingRaw8:
			for x := 0; x < w; x++ {
				row[x] = value(x, y)
			}
		case models.CodingMono16, models.CodingMono16S, models.CodingRaw16:
			// 大端序
			for x := 0; x < w; x++ {
				row[2*x], row[2*x+1] = value(x, y), 0
			}
		case models.CodingRGB8:
			for x := 0; x < w; x++ {
				c := scene(x, y)
				copy(row[3*x:], c[:])
			}
		case models.CodingYUV422:
			for x := 0; x+1 < w; x += 2 {
				q := row[2*x:]
				q[0], q[1], q[2], q[3] = 128, gray(x, y), 128, gray(x+1, y)
			}
		default:
			for i := range row {
				row[i] = byte(i + shift)
			}
		}
	}

	f.TimestampMicros = uint64(time.Now().UnixMicro())
	if len(f.Aux) > 0 {
		t := float64(seq) * 0.05
		PutTelemetry(f.Aux, Telemetry{
			Seq:   seq,
			Roll:  float32(10 * math.Sin(t)),
			Pitch: float32(5 * math.Cos(t)),
			Yaw:   float32(math.Mod(float64(seq), 360)),
			P:     float32(0.5 * math.Cos(t)),
			Q:     float32(-0.25 * math.Sin(t)),
		})
	}
}
