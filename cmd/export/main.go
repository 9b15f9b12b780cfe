package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"camrec/internal/convert"
	"camrec/internal/index"
	"camrec/internal/logging"
	"camrec/internal/playback"
)

func main() {
	input := flag.String("i", "", "Input recording file")
	outDir := flag.String("o", ".", "Output directory")
	aux := flag.Int("aux", 0, "Telemetry block length in bytes")
	modeName := flag.String("mode", "", "Display mode: gray, rgb, debayer, auto (default: by coding)")
	format := flag.String("format", "png", "Image format: png or jpg")
	width := flag.Int("width", 0, "Resize to this width (0 keeps original)")
	workers := flag.Int("workers", 2, "Parallel encoders")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: export -i <file.rec> [-o dir] [options]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	logging.SetOutput(os.Stderr)
	if *debug {
		logging.SetDebugMode(true)
	}

	ext := strings.ToLower(strings.TrimPrefix(*format, "."))
	if ext == "jpeg" {
		ext = "jpg"
	}
	if ext != "png" && ext != "jpg" {
		fmt.Fprintf(os.Stderr, "不支持的格式: %s\n", *format)
		os.Exit(2)
	}
	mode, err := convert.ParseMode(*modeName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "无法创建输出目录: %v\n", err)
		os.Exit(1)
	}

	// 所有编码协程共享一个只读映射，各自持有独立游标
	m, err := index.Map(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法打开录像: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	probe, err := playback.NewPlayer(m, m.Size(), *aux)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法解析录像: %v\n", err)
		os.Exit(1)
	}
	total := probe.FrameCount()
	probe.Close()

	n := max(*workers, 1)
	chunk := (total + n - 1) / n
	var done atomic.Int64

	var g errgroup.Group
	for w := 0; w < n; w++ {
		from, to := w*chunk, min((w+1)*chunk, total)
		if from >= to {
			break
		}
		g.Go(func() error {
			p, err := playback.NewPlayer(m, m.Size(), *aux)
			if err != nil {
				return err
			}
			defer p.Close()
			for i := from; i < to; i++ {
				img, err := p.DecodeFrameAt(i, mode)
				if err != nil {
					return fmt.Errorf("frame %d: %w", i, err)
				}
				out := img.ToImage()
				if *width > 0 && *width < img.Width {
					out = imaging.Resize(out, *width, 0, imaging.Lanczos)
				}
				path := filepath.Join(*outDir, fmt.Sprintf("%d.%s", i, ext))
				if err := imaging.Save(out, path, imaging.JPEGQuality(95)); err != nil {
					return fmt.Errorf("frame %d: %w", i, err)
				}
				if d := done.Add(1); d%10 == 0 || int(d) == total {
					fmt.Printf("\r%d/%d", d, total)
				}
			}
			return nil
		})
	}
	err = g.Wait()
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "导出失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("已导出 %d 帧到 %s\n", total, *outDir)
}
