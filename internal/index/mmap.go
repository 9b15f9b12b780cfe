package index

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MappedFile 只读 mmap 映射的录像文件
// ReadAt 可被多个回放会话并发调用，各会话自行维护读位置
type MappedFile struct {
	path string
	mu   sync.RWMutex
	data []byte // mmap 映射的原始数据
	size int64
}

// ErrClosed 映射已释放
var ErrClosed = errors.New("index: mapped file closed")

// Map 使用 mmap 映射文件 (零拷贝读取)
func Map(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	// mmap 完成后可以关闭 fd，映射仍然有效
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	m := &MappedFile{path: path, size: info.Size()}
	if m.size == 0 {
		// 空文件不能 mmap
		return m, nil
	}
	if int64(int(m.size)) != m.size {
		return nil, fmt.Errorf("file too large to map: %d", m.size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(m.size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	m.data = data
	return m, nil
}

// ReadAt 实现 io.ReaderAt
func (m *MappedFile) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil && m.size > 0 {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("index: negative offset %d", off)
	}
	if off >= m.size {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size 文件大小
func (m *MappedFile) Size() int64 {
	return m.size
}

// Path 文件路径
func (m *MappedFile) Path() string {
	return m.path
}

// Close 释放 mmap 映射
func (m *MappedFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
