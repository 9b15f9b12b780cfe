// Package capture 定时采集循环与采集源抽象
//
// 采集源负责把硬件 (或模拟器) 产生的帧放入固定深度的环形缓冲区，
// Recorder 逐帧取出、编码写盘、归还缓冲区。
package capture

import (
	"errors"
	"time"

	"camrec/internal/models"
)

var (
	// ErrCaptureTimeout 在超时时间内没有可用帧
	ErrCaptureTimeout = errors.New("capture: timed out waiting for frame")
	// ErrSourceStopped 采集源已停止
	ErrSourceStopped = errors.New("capture: source stopped")
	// ErrUnknownBuffer 归还的缓冲区不属于该采集源或已归还
	ErrUnknownBuffer = errors.New("capture: buffer not owned by caller")
)

// Buffer 采集源借出的一个环形缓冲区槽位
// 在 Release 之前 Frame 的像素数据保持有效
type Buffer struct {
	Slot         int
	Frame        *models.FrameRecord
	FramesBehind int // 借出时队列中仍在等待的帧数
}

// Source 采集源
type Source interface {
	// Acquire 阻塞等待下一帧，超时返回 ErrCaptureTimeout
	Acquire(timeout time.Duration) (*Buffer, error)
	// Release 归还缓冲区，槽位可被重新填充
	Release(b *Buffer) error
}

// Stopper 支持停止传输并回收全部缓冲区的采集源
type Stopper interface {
	Stop() error
}

// StopSource 停止采集源 (若支持)
func StopSource(s Source) error {
	if st, ok := s.(Stopper); ok {
		return st.Stop()
	}
	return nil
}
