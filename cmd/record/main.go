package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"camrec/internal/capture"
	"camrec/internal/config"
	"camrec/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	output := flag.String("o", "", "Output recording file")
	duration := flag.Int64("duration", 5000, "Recording duration in milliseconds")
	width := flag.Uint("width", 0, "Frame width (overrides config)")
	height := flag.Uint("height", 0, "Frame height (overrides config)")
	coding := flag.String("coding", "", "Color coding, e.g. MONO8, RAW8, YUV422 (overrides config)")
	filter := flag.String("filter", "", "Bayer filter for RAW codings: RGGB, GBRG, GRBG, BGGR")
	fps := flag.Float64("fps", 0, "Frame rate (overrides config)")
	aux := flag.Int("aux", -1, "Telemetry block length in bytes (overrides config)")
	padding := flag.Int("padding", -1, "Padding bytes after each frame's pixels")
	syncFrames := flag.Bool("sync", false, "fsync after every frame")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *output == "" {
		fmt.Fprintln(os.Stderr, "usage: record -o <file> [-duration ms] [options]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}
	cam := &cfg.Camera
	if *width > 0 {
		cam.Width = uint32(*width)
	}
	if *height > 0 {
		cam.Height = uint32(*height)
	}
	if *coding != "" {
		cam.Coding = *coding
	}
	if *filter != "" {
		cam.Filter = *filter
	}
	if *fps > 0 {
		cam.FPS = *fps
	}
	if *aux >= 0 {
		cam.AuxLength = *aux
	}
	if *padding >= 0 {
		cam.PaddingSize = *padding
	}
	if *syncFrames {
		cfg.Storage.SyncFrames = true
	}
	// 日志走 stderr，stdout 留给进度行
	logging.SetOutput(os.Stderr)
	if *debug || cfg.Debug {
		logging.SetDebugMode(true)
	}

	os.Exit(run(cfg, *output, *duration))
}

// run 录制一段并返回退出码。所有路径都会停止相机并关闭输出文件
func run(cfg *config.Config, output string, duration int64) int {
	cam := &cfg.Camera
	sc, err := capture.SimConfigFrom(cam)
	if err != nil {
		fmt.Fprintf(os.Stderr, "相机参数错误: %v\n", err)
		return 1
	}
	src, err := capture.NewSimSource(sc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "相机启动失败: %v\n", err)
		return 1
	}
	defer src.Stop()

	f, err := os.Create(output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法创建输出文件: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("录制 %dx%d %s", sc.Width, sc.Height, sc.Coding)
	if sc.Filter.Valid() && sc.Filter != 0 {
		fmt.Printf(" (%s)", sc.Filter)
	}
	fmt.Printf(" @ %.1f fps, %d ms → %s\n", cam.FPS, duration, output)

	r := &capture.Recorder{
		Source:        src,
		Timeout:       cam.CaptureTimeout(),
		AuxLength:     cam.AuxLength,
		SyncEachFrame: cfg.Storage.SyncFrames,
		Progress: func(frames int, elapsed time.Duration) {
			fmt.Printf("\r%d frames (%d ms)", frames, elapsed.Milliseconds())
		},
	}
	stats, err := r.RecordSession(ctx, duration, f)
	// 先停止传输，回收所有未归还的缓冲区
	src.Stop()
	cerr := f.Close()
	fmt.Println()

	// Ctrl-C 视为正常停止，已写入的帧保留
	if errors.Is(err, context.Canceled) {
		fmt.Println("已停止")
		err = nil
	}
	if err == nil {
		err = cerr
	}
	fmt.Printf("%d frames in %d ms (%.2f fps), %s, camera produced %d, dropped %d\n",
		stats.Frames, stats.ElapsedMs, stats.FPS, humanize.IBytes(uint64(stats.Bytes)),
		src.Produced(), src.Dropped())
	if err != nil {
		fmt.Fprintf(os.Stderr, "录制中止: %v\n", err)
		return 1
	}
	return 0
}
