// Package catalog 录像目录扫描与缓存
//
// 扫描目录下所有 .rec 文件，只读取首尾两条记录的头部即可得到
// 帧数、尺寸、编码与时间范围。结果缓存在内存中，按需刷新。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"camrec/internal/config"
	"camrec/internal/index"
	"camrec/internal/logging"
	"camrec/internal/rec"
)

// ErrUnknownRecording 目录中不存在该录像
var ErrUnknownRecording = errors.New("catalog: unknown recording")

// Entry 一个录像文件的摘要
type Entry struct {
	Name           string    `json:"name"`
	Path           string    `json:"-"`
	SizeBytes      int64     `json:"sizeBytes"`
	Size           string    `json:"size"`
	ModTime        time.Time `json:"modTime"`
	Width          uint32    `json:"width"`
	Height         uint32    `json:"height"`
	Coding         string    `json:"coding"`
	Filter         string    `json:"filter"`
	FrameCount     int       `json:"frameCount"`
	RecordSize     int64     `json:"recordSize"`
	FirstTimestamp uint64    `json:"firstTimestamp"`
	LastTimestamp  uint64    `json:"lastTimestamp"`
	DurationMs     int64     `json:"durationMs"`
	Truncated      bool      `json:"truncated"`
	Error          string    `json:"error,omitempty"`
}

// Inspect 读取单个录像文件的摘要
func Inspect(path string, auxLength int) (Entry, error) {
	e := Entry{Name: filepath.Base(path), Path: path}

	st, err := os.Stat(path)
	if err != nil {
		return e, err
	}
	e.SizeBytes = st.Size()
	e.Size = humanize.IBytes(uint64(st.Size()))
	e.ModTime = st.ModTime()
	if st.Size() == 0 {
		return e, nil
	}

	m, err := index.Map(path)
	if err != nil {
		return e, err
	}
	defer m.Close()

	first, err := rec.PeekHeader(m, 0)
	if err != nil {
		return e, fmt.Errorf("first record: %w", err)
	}
	e.Width, e.Height = first.Width, first.Height
	e.Coding, e.Filter = first.Coding.String(), first.Filter.String()
	e.RecordSize = rec.RecordSize(first.TotalBytes, auxLength)
	e.FrameCount = int(m.Size() / e.RecordSize)
	e.Truncated = m.Size()%e.RecordSize != 0
	e.FirstTimestamp = first.TimestampMicros
	e.LastTimestamp = first.TimestampMicros

	if e.FrameCount > 1 {
		last, err := rec.PeekHeader(m, int64(e.FrameCount-1)*e.RecordSize)
		if err != nil {
			return e, fmt.Errorf("last record: %w", err)
		}
		e.LastTimestamp = last.TimestampMicros
	}
	if e.LastTimestamp > e.FirstTimestamp {
		e.DurationMs = int64(e.LastTimestamp-e.FirstTimestamp) / 1000
	}
	return e, nil
}

// Status 扫描状态
type Status struct {
	Status   string    `json:"status"`
	Progress int       `json:"progress"`
	Total    int       `json:"total"`
	Current  int       `json:"current"`
	Cached   int       `json:"cached"`
	LastScan time.Time `json:"lastScan"`
}

// Catalog 录像目录
type Catalog struct {
	dir       string
	auxLength int
	workers   int

	mu       sync.RWMutex
	entries  []Entry
	scanned  bool
	building bool
	total    int
	current  int
	lastScan time.Time
}

// New 创建目录，workers 为并发扫描数
func New(dir string, auxLength, workers int) *Catalog {
	if workers <= 0 {
		workers = 1
	}
	return &Catalog{dir: dir, auxLength: auxLength, workers: workers}
}

// Dir 录像目录
func (c *Catalog) Dir() string {
	return c.dir
}

// AuxLength 录像的遥测数据块长度
func (c *Catalog) AuxLength() int {
	return c.auxLength
}

// Scan 重新扫描目录
// 单个文件解析失败只记录在该条目的 Error 中，不影响其它文件
func (c *Catalog) Scan(ctx context.Context) error {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+config.RecordingExt))
	if err != nil {
		return err
	}
	sort.Strings(matches)

	c.mu.Lock()
	if c.building {
		c.mu.Unlock()
		return errors.New("catalog: scan already in progress")
	}
	c.building = true
	c.total = len(matches)
	c.current = 0
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.building = false
		c.mu.Unlock()
	}()

	logging.LogInfo("开始扫描录像目录", "dir", c.dir, "files", len(matches), "workers", c.workers)
	start := time.Now()

	results := make([]Entry, len(matches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, path := range matches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := Inspect(path, c.auxLength)
			if err != nil {
				e.Error = err.Error()
				logging.LogWarn("录像解析失败", "file", e.Name, "error", err)
			}
			results[i] = e

			c.mu.Lock()
			c.current++
			c.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var totalBytes uint64
	for _, e := range results {
		totalBytes += uint64(e.SizeBytes)
	}

	c.mu.Lock()
	c.entries = results
	c.scanned = true
	c.lastScan = time.Now()
	c.mu.Unlock()

	logging.LogInfo("录像目录扫描完成",
		"files", len(results),
		"size", humanize.IBytes(totalBytes),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// Entries 已缓存的录像列表 (按文件名排序)
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup 按文件名查找
func (c *Catalog) Lookup(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// PathFor 把客户端传入的录像名解析为目录内的路径，拒绝目录穿越
func (c *Catalog) PathFor(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrUnknownRecording, name)
	}
	if !strings.HasSuffix(name, config.RecordingExt) {
		name += config.RecordingExt
	}
	return filepath.Join(c.dir, name), nil
}

// Status 扫描状态
func (c *Catalog) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.building:
		progress := 0
		if c.total > 0 {
			progress = c.current * 100 / c.total
		}
		return Status{Status: "building", Progress: progress, Total: c.total, Current: c.current, Cached: len(c.entries), LastScan: c.lastScan}
	case !c.scanned:
		return Status{Status: "not_loaded"}
	}
	return Status{Status: "ready", Progress: 100, Total: len(c.entries), Current: len(c.entries), Cached: len(c.entries), LastScan: c.lastScan}
}
