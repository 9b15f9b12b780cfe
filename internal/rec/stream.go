package rec

import (
	"bufio"
	"errors"
	"io"

	"camrec/internal/models"
)

// Reader 顺序读取帧流
// 截断的尾部记录视为流结束，可通过 Truncated 查询
type Reader struct {
	r         io.Reader
	auxLength int
	count     int
	truncated bool
}

// NewReader 创建顺序读取器
func NewReader(r io.Reader, auxLength int) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 256*1024), auxLength: auxLength}
}

// Next 读取下一帧，流结束时返回 io.EOF
func (r *Reader) Next() (*models.FrameRecord, error) {
	if r.truncated {
		return nil, io.EOF
	}
	f, err := Decode(r.r, r.auxLength)
	if err != nil {
		if errors.Is(err, ErrTruncatedRecord) {
			r.truncated = true
			return nil, io.EOF
		}
		return nil, err
	}
	r.count++
	return f, nil
}

// Count 已读取的完整帧数
func (r *Reader) Count() int {
	return r.count
}

// Truncated 流是否以不完整的记录结束
func (r *Reader) Truncated() bool {
	return r.truncated
}

type syncer interface {
	Sync() error
}

// Writer 顺序追加帧，每帧写完即刷新，保证严格的追加顺序
type Writer struct {
	sink      io.Writer
	bw        *bufio.Writer
	auxLength int
	sync      bool
	frames    int
	bytes     int64
}

// NewWriter 创建追加写入器。syncEachFrame 为 true 且 sink 支持 Sync 时，每帧落盘
func NewWriter(sink io.Writer, auxLength int, syncEachFrame bool) *Writer {
	return &Writer{
		sink:      sink,
		bw:        bufio.NewWriterSize(sink, 256*1024),
		auxLength: auxLength,
		sync:      syncEachFrame,
	}
}

// WriteFrame 编码一帧并刷新到 sink
func (w *Writer) WriteFrame(f *models.FrameRecord) (int64, error) {
	n, err := Encode(w.bw, f, w.auxLength)
	if err != nil {
		// 丢弃缓冲中的半条记录，已落盘的帧保持完整
		w.bw.Reset(w.sink)
		return 0, err
	}
	if err := w.bw.Flush(); err != nil {
		w.bw.Reset(w.sink)
		return 0, &IOError{Op: "flush", Err: err}
	}
	if w.sync {
		if s, ok := w.sink.(syncer); ok {
			if err := s.Sync(); err != nil {
				return 0, &IOError{Op: "sync", Err: err}
			}
		}
	}
	w.frames++
	w.bytes += n
	return n, nil
}

// Frames 已写入帧数
func (w *Writer) Frames() int {
	return w.frames
}

// Bytes 已写入字节数
func (w *Writer) Bytes() int64 {
	return w.bytes
}

// AuxLength 遥测数据块长度
func (w *Writer) AuxLength() int {
	return w.auxLength
}
