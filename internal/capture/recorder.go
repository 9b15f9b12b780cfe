package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"camrec/internal/config"
	"camrec/internal/logging"
	"camrec/internal/rec"
)

// Stats 一次录制会话的统计
type Stats struct {
	Frames    int
	Elapsed   time.Duration
	ElapsedMs int64
	FPS       float64
	Bytes     int64
}

func (s *Stats) finish(start time.Time) {
	s.Elapsed = time.Since(start)
	s.ElapsedMs = s.Elapsed.Milliseconds()
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.FPS = float64(s.Frames) / secs
	}
}

// ProgressFunc 每写入一帧回调一次
type ProgressFunc func(frames int, elapsed time.Duration)

// Recorder 定时录制循环
type Recorder struct {
	Source        Source
	Timeout       time.Duration // 单帧等待超时，0 使用默认值
	AuxLength     int
	SyncEachFrame bool
	Progress      ProgressFunc
}

// RecordSession 录制 durationMs 毫秒的帧到 sink
//
// 每帧: 取帧 → 编码 → 归还缓冲区 → 重新计算已用时间，直到已用时间不小于预算。
// 任何单帧失败都会中止会话，返回的 Stats 中包含已写入的帧数。
func (r *Recorder) RecordSession(ctx context.Context, durationMs int64, sink io.Writer) (Stats, error) {
	var stats Stats
	if r.Source == nil {
		return stats, errors.New("capture: recorder has no source")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = config.DefaultCaptureTimeout
	}
	budget := time.Duration(durationMs) * time.Millisecond
	w := rec.NewWriter(sink, r.AuxLength, r.SyncEachFrame)

	logging.LogInfo("开始录制", "duration_ms", durationMs, "aux", r.AuxLength)

	start := time.Now()
	for time.Since(start) < budget {
		if err := ctx.Err(); err != nil {
			stats.finish(start)
			return stats, err
		}

		n, err := r.captureOne(w, timeout)
		if err != nil {
			stats.finish(start)
			logging.LogError("录制中止", "frames", stats.Frames, "error", err)
			return stats, err
		}
		stats.Frames++
		stats.Bytes += n

		if r.Progress != nil {
			r.Progress(stats.Frames, time.Since(start))
		}
	}

	stats.finish(start)
	logging.LogInfo("录制完成", "frames", stats.Frames, "elapsed_ms", stats.ElapsedMs, "fps", fmt.Sprintf("%.2f", stats.FPS))
	return stats, nil
}

// captureOne 取一帧并写入，缓冲区在所有路径上都会归还
func (r *Recorder) captureOne(w *rec.Writer, timeout time.Duration) (int64, error) {
	buf, err := r.Source.Acquire(timeout)
	if err != nil {
		return 0, err
	}
	if buf.FramesBehind > 0 {
		logging.LogDebug("采集落后", "slot", buf.Slot, "behind", buf.FramesBehind)
	}

	n, werr := w.WriteFrame(buf.Frame)
	rerr := r.Source.Release(buf)
	if werr != nil {
		if rerr != nil {
			return 0, errors.Join(werr, rerr)
		}
		return 0, werr
	}
	if rerr != nil {
		return 0, fmt.Errorf("release buffer %d: %w", buf.Slot, rerr)
	}
	return n, nil
}
