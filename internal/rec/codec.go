// Package rec 帧记录的二进制编解码
//
// 完整记录布局 (小端序，定长字段):
//
//	width(4) + height(4) + totalBytes(8) + coding(4) + filter(4) + stride(4) + timestampUs(8)
//	+ pixel data (totalBytes) + aux (auxLength，仅在遥测模式下)
//
// 仅头部布局为前 28 字节，不含时间戳，其后不跟像素数据。
// 流没有文件头，每条记录自带的元数据决定其解码方式。
package rec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"camrec/internal/config"
	"camrec/internal/models"
)

const (
	HeaderOnlySize = config.HeaderOnlySize
	FullHeaderSize = config.FullHeaderSize
	MaxTotalBytes  = config.MaxTotalBytes
)

// RecordSize 完整布局下一条记录占用的字节数
func RecordSize(totalBytes uint64, auxLength int) int64 {
	return FullHeaderSize + int64(totalBytes) + int64(auxLength)
}

// putHeader 写入仅头部字段 (28 字节)
func putHeader(buf []byte, f *models.FrameRecord) {
	binary.LittleEndian.PutUint32(buf[0:4], f.Width)
	binary.LittleEndian.PutUint32(buf[4:8], f.Height)
	binary.LittleEndian.PutUint64(buf[8:16], f.TotalBytes)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(f.Coding))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(f.Filter))
	binary.LittleEndian.PutUint32(buf[24:28], f.Stride)
}

// parseHeader 解析仅头部字段
func parseHeader(buf []byte) *models.FrameRecord {
	return &models.FrameRecord{
		Width:      binary.LittleEndian.Uint32(buf[0:4]),
		Height:     binary.LittleEndian.Uint32(buf[4:8]),
		TotalBytes: binary.LittleEndian.Uint64(buf[8:16]),
		Coding:     models.ColorCoding(binary.LittleEndian.Uint32(buf[16:20])),
		Filter:     models.ColorFilter(binary.LittleEndian.Uint32(buf[20:24])),
		Stride:     binary.LittleEndian.Uint32(buf[24:28]),
	}
}

func checkHeader(f *models.FrameRecord) error {
	if err := f.ValidateHeader(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if f.TotalBytes > MaxTotalBytes {
		return fmt.Errorf("%w: total bytes %d exceeds limit", ErrCorruptRecord, f.TotalBytes)
	}
	// 空帧不带像素，但尺寸仍须可被解码
	if f.ImageBytes() > MaxTotalBytes {
		return fmt.Errorf("%w: %dx%d stride %d exceeds limit", ErrCorruptRecord, f.Width, f.Height, f.Stride)
	}
	return nil
}

// writeFull 写满 p，短写视为失败
func writeFull(w io.Writer, p []byte, op string) error {
	if len(p) == 0 {
		return nil
	}
	n, err := w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &IOError{Op: op, Err: err}
	}
	return nil
}

// readFull 读满 p。一个字节都没读到时返回 io.EOF (allowEOF)，读到一半返回 ErrTruncatedRecord
func readFull(r io.Reader, p []byte, op string, allowEOF bool) error {
	if len(p) == 0 {
		return nil
	}
	n, err := io.ReadFull(r, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && n == 0 && allowEOF:
		return io.EOF
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s: got %d of %d bytes", ErrTruncatedRecord, op, n, len(p))
	default:
		return &IOError{Op: op, Err: err}
	}
}

// Encode 按完整布局写入一帧，返回写入的字节数
// auxLength > 0 时追加定长遥测数据块，不足部分补零
func Encode(w io.Writer, f *models.FrameRecord, auxLength int) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	if len(f.Aux) > auxLength {
		return 0, fmt.Errorf("%w: %d > %d", ErrAuxLength, len(f.Aux), auxLength)
	}

	var hdr [FullHeaderSize]byte
	putHeader(hdr[:], f)
	binary.LittleEndian.PutUint64(hdr[HeaderOnlySize:FullHeaderSize], f.TimestampMicros)

	if err := writeFull(w, hdr[:], "write header"); err != nil {
		return 0, err
	}
	written := int64(FullHeaderSize)

	if err := writeFull(w, f.PixelData, "write pixels"); err != nil {
		return written, err
	}
	written += int64(len(f.PixelData))

	if auxLength > 0 {
		aux := f.Aux
		if len(aux) < auxLength {
			aux = make([]byte, auxLength)
			copy(aux, f.Aux)
		}
		if err := writeFull(w, aux, "write aux"); err != nil {
			return written, err
		}
		written += int64(auxLength)
	}

	return written, nil
}

// Decode 按完整布局读取一帧
// 流在记录边界结束时返回 io.EOF；数据不足时返回 ErrTruncatedRecord，不返回半成品
func Decode(r io.Reader, auxLength int) (*models.FrameRecord, error) {
	var hdr [FullHeaderSize]byte
	if err := readFull(r, hdr[:], "read header", true); err != nil {
		return nil, err
	}

	f := parseHeader(hdr[:])
	f.TimestampMicros = binary.LittleEndian.Uint64(hdr[HeaderOnlySize:FullHeaderSize])
	if err := checkHeader(f); err != nil {
		return nil, err
	}

	// 空帧不分配缓冲区
	if f.TotalBytes > 0 {
		pixels := make([]byte, f.TotalBytes)
		if err := readFull(r, pixels, "read pixels", false); err != nil {
			return nil, err
		}
		f.PixelData = pixels
	}

	if auxLength > 0 {
		aux := make([]byte, auxLength)
		if err := readFull(r, aux, "read aux", false); err != nil {
			return nil, err
		}
		f.Aux = aux
	}

	return f, nil
}

// EncodeHeader 写入仅头部布局 (诊断用途)
func EncodeHeader(w io.Writer, f *models.FrameRecord) error {
	if err := f.ValidateHeader(); err != nil {
		return err
	}
	var hdr [HeaderOnlySize]byte
	putHeader(hdr[:], f)
	return writeFull(w, hdr[:], "write header")
}

// DecodeHeader 读取仅头部布局，返回的记录不含像素数据
func DecodeHeader(r io.Reader) (*models.FrameRecord, error) {
	var hdr [HeaderOnlySize]byte
	if err := readFull(r, hdr[:], "read header", true); err != nil {
		return nil, err
	}
	f := parseHeader(hdr[:])
	if err := checkHeader(f); err != nil {
		return nil, err
	}
	return f, nil
}

// PeekHeader 从 ReaderAt 的指定偏移读取完整布局头部，不读取像素数据
func PeekHeader(r io.ReaderAt, offset int64) (*models.FrameRecord, error) {
	var hdr [FullHeaderSize]byte
	if err := readFull(io.NewSectionReader(r, offset, FullHeaderSize), hdr[:], "read header", true); err != nil {
		return nil, err
	}
	f := parseHeader(hdr[:])
	f.TimestampMicros = binary.LittleEndian.Uint64(hdr[HeaderOnlySize:FullHeaderSize])
	if err := checkHeader(f); err != nil {
		return nil, err
	}
	return f, nil
}
