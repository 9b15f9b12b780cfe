package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"camrec/internal/capture"
	"camrec/internal/logging"
	"camrec/internal/models"
	"camrec/internal/rec"
)

func main() {
	input := flag.String("i", "", "Input recording file")
	aux := flag.Int("aux", 0, "Telemetry block length in bytes")
	limit := flag.Int("n", 0, "Print at most n frames (0 = all)")
	headersOut := flag.String("headers", "", "Also write a header-only stream to this file")
	fromHeaders := flag.Bool("from-headers", false, "Input is a header-only stream")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect -i <file> [options]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logging.SetOutput(os.Stderr)
	os.Exit(run(*input, *aux, *limit, *headersOut, *fromHeaders))
}

func run(input string, aux, limit int, headersOut string, fromHeaders bool) (code int) {
	in, err := os.Open(input)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer in.Close()

	var hdrs *bufio.Writer
	if headersOut != "" {
		f, err := os.Create(headersOut)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		hdrs = bufio.NewWriter(f)
		// 头部文件写入失败时不能静默截断
		defer func() {
			err := hdrs.Flush()
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", headersOut, err)
				code = 1
			}
		}()
	}

	rd := rec.NewReader(in, aux)
	next := rd.Next
	if fromHeaders {
		br := bufio.NewReader(in)
		next = func() (*models.FrameRecord, error) { return rec.DecodeHeader(br) }
	}

	var (
		count   int
		bytes   uint64
		dropped int
		firstTs uint64
		lastTs  uint64
		failed  bool
	)
	for {
		f, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "frame %d: %v\n", count, err)
			failed = true
			break
		}

		if limit == 0 || count < limit {
			printFrameInfo(count, f, lastTs)
		}
		if hdrs != nil {
			if err := rec.EncodeHeader(hdrs, f); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
		}

		if count == 0 {
			firstTs = f.TimestampMicros
		}
		lastTs = f.TimestampMicros
		bytes += f.TotalBytes
		if f.Dropped() {
			dropped++
		}
		count++
		f.Release()
	}

	if rd.Truncated() {
		fmt.Fprintln(os.Stderr, "warning: trailing partial record ignored")
	}
	fmt.Println("========================")
	fmt.Printf("frames:  %d (%d empty)\n", count, dropped)
	fmt.Printf("pixels:  %s\n", humanize.IBytes(bytes))
	if lastTs > firstTs {
		ms := float64(lastTs-firstTs) / 1000
		fmt.Printf("span:    %.1f ms", ms)
		if count > 1 {
			fmt.Printf(" (%.2f fps)", float64(count-1)*1000/ms)
		}
		fmt.Println()
	}
	if failed {
		return 1
	}
	return 0
}

func printFrameInfo(i int, f *models.FrameRecord, prevTs uint64) {
	fmt.Printf("-------- Frame %d ---------\n", i)
	fmt.Printf("size:   %dw x %dh\n", f.Width, f.Height)
	fmt.Printf("bpp     %d\n", models.BitsPerPixel(f.Coding))
	fmt.Printf("stride: %d\n", f.Stride)
	fmt.Printf("bytes:  %d\n", f.TotalBytes)
	if f.TimestampMicros != 0 {
		fmt.Printf("time:   %d", f.TimestampMicros)
		if i > 0 && f.TimestampMicros > prevTs {
			fmt.Printf(" (+%.1f ms)", float64(f.TimestampMicros-prevTs)/1000)
		}
		fmt.Println()
	}
	fmt.Printf("color coding:\n        %s\n", f.Coding)
	if models.IsRaw(f.Coding) {
		fmt.Printf("color filter:\n        %s\n", f.Filter)
	} else {
		fmt.Printf("color filter:\n        N/A\n")
	}
	if t, ok := capture.ParseTelemetry(f.Aux); ok {
		fmt.Printf("ahrs:   seq %d roll %.2f pitch %.2f yaw %.2f p %.3f q %.3f r %.3f\n",
			t.Seq, t.Roll, t.Pitch, t.Yaw, t.P, t.Q, t.R)
	}
}
