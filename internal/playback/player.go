// Package playback 录像文件的随机访问回放
//
// 录像中所有记录的长度必须一致 (由第 0 帧确定)，第 i 帧位于 i*RecordSize。
package playback

import (
	"errors"
	"fmt"
	"io"

	"camrec/internal/convert"
	"camrec/internal/index"
	"camrec/internal/logging"
	"camrec/internal/models"
	"camrec/internal/rec"
)

var (
	// ErrNotFound 帧序号越界
	ErrNotFound = errors.New("playback: frame not found")
	// ErrBadDirection Advance 的方向只能是 +1 或 -1
	ErrBadDirection = errors.New("playback: direction must be +1 or -1")
	// ErrNonUniformRecord 记录长度与第 0 帧不一致
	ErrNonUniformRecord = errors.New("playback: record size differs from first frame")
)

// Player 单会话回放游标
// 不是并发安全的；多个会话应各自创建 Player，共享同一个只读映射
type Player struct {
	r          io.ReaderAt
	size       int64
	auxLength  int
	recordSize int64
	count      int

	index int
	frame *models.FrameRecord

	closer io.Closer
}

// NewPlayer 解码第 0 帧确定记录长度，游标停在第 0 帧
func NewPlayer(r io.ReaderAt, size int64, auxLength int) (*Player, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: recording is empty", ErrNotFound)
	}
	first, err := rec.Decode(io.NewSectionReader(r, 0, size), auxLength)
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: recording is empty", ErrNotFound)
		}
		return nil, fmt.Errorf("decode frame 0: %w", err)
	}

	p := &Player{
		r:          r,
		size:       size,
		auxLength:  auxLength,
		recordSize: rec.RecordSize(first.TotalBytes, auxLength),
		frame:      first,
	}
	p.count = int(size / p.recordSize)
	if rem := size % p.recordSize; rem != 0 {
		logging.LogWarn("录像末尾存在不完整记录", "bytes", rem, "frames", p.count)
	}
	return p, nil
}

// Open 以 mmap 方式打开录像文件
func Open(path string, auxLength int) (*Player, error) {
	m, err := index.Map(path)
	if err != nil {
		return nil, err
	}
	p, err := NewPlayer(m, m.Size(), auxLength)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.closer = m
	return p, nil
}

// SeekTo 定位到第 i 帧并解码
// 失败时游标与当前帧保持不变
func (p *Player) SeekTo(i int) error {
	if i < 0 {
		return fmt.Errorf("%w: index %d", ErrNotFound, i)
	}
	// 先比较序号再计算偏移，避免乘法溢出
	if int64(i) > (p.size-1)/p.recordSize {
		return fmt.Errorf("%w: index %d (stream is %d bytes)", ErrNotFound, i, p.size)
	}
	off := int64(i) * p.recordSize

	f, err := rec.Decode(io.NewSectionReader(p.r, off, p.size-off), p.auxLength)
	if err != nil {
		if err == io.EOF {
			err = rec.ErrTruncatedRecord
		}
		return fmt.Errorf("frame %d: %w", i, err)
	}
	if got := rec.RecordSize(f.TotalBytes, p.auxLength); got != p.recordSize {
		return fmt.Errorf("%w: frame %d is %d bytes, want %d", ErrNonUniformRecord, i, got, p.recordSize)
	}

	if p.frame != nil {
		p.frame.Release()
	}
	p.frame = f
	p.index = i
	return nil
}

// Advance 前进 (+1) 或后退 (-1) 一帧，失败时游标不变
func (p *Player) Advance(dir int) error {
	if dir != 1 && dir != -1 {
		return ErrBadDirection
	}
	return p.SeekTo(p.index + dir)
}

// DecodeFrameAt 定位到第 i 帧并转换为可显示图像
func (p *Player) DecodeFrameAt(i int, mode convert.Mode) (*convert.Image, error) {
	if err := p.SeekTo(i); err != nil {
		return nil, err
	}
	return convert.Convert(p.frame, mode)
}

// Frame 当前帧，下一次定位前有效
func (p *Player) Frame() *models.FrameRecord {
	return p.frame
}

// Index 当前帧序号
func (p *Player) Index() int {
	return p.index
}

// FrameCount 完整记录数
func (p *Player) FrameCount() int {
	return p.count
}

// RecordSize 单条记录字节数
func (p *Player) RecordSize() int64 {
	return p.recordSize
}

// Close 释放当前帧与文件映射
func (p *Player) Close() error {
	if p.frame != nil {
		p.frame.Release()
		p.frame = nil
	}
	if p.closer != nil {
		err := p.closer.Close()
		p.closer = nil
		return err
	}
	return nil
}
