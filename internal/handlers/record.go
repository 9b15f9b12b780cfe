// Package handlers 录制控制 WebSocket (neffos 命名空间 "record")
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/kataras/iris/v12/websocket"
	"github.com/kataras/neffos"

	"camrec/internal/capture"
	"camrec/internal/catalog"
	"camrec/internal/config"
	"camrec/internal/logging"
)

// ErrRecordingActive 同一时刻只允许一个录制会话 (单相机)
var ErrRecordingActive = errors.New("handlers: recording already in progress")

// SourceFactory 为每次录制创建采集源
type SourceFactory func() (capture.Source, error)

// NotifyFunc 向客户端推送事件
type NotifyFunc func(event string, v any)

// SimSourceFactory 按相机配置创建模拟采集源
func SimSourceFactory(cam *config.CameraConfig) SourceFactory {
	return func() (capture.Source, error) {
		sc, err := capture.SimConfigFrom(cam)
		if err != nil {
			return nil, err
		}
		return capture.NewSimSource(sc)
	}
}

// StartRequest 开始录制请求
type StartRequest struct {
	DurationMs int64  `json:"durationMs"`
	Name       string `json:"name"`
}

// SessionInfo 录制会话状态
type SessionInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"startedAt"`
	Frames    int       `json:"frames"`
	ElapsedMs int64     `json:"elapsedMs"`
}

type recordSession struct {
	info   SessionInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// RecordHandler 远程录制控制
type RecordHandler struct {
	cfg       *config.Config
	catalog   *catalog.Catalog
	newSource SourceFactory

	mu     sync.Mutex
	active *recordSession
}

// NewRecordHandler 创建录制控制器
func NewRecordHandler(cfg *config.Config, cat *catalog.Catalog, factory SourceFactory) *RecordHandler {
	return &RecordHandler{cfg: cfg, catalog: cat, newSource: factory}
}

// Start 开始一次录制会话，录制在后台进行，事件通过 notify 推送
func (h *RecordHandler) Start(req StartRequest, notify NotifyFunc) (SessionInfo, error) {
	if req.DurationMs <= 0 {
		return SessionInfo{}, fmt.Errorf("invalid duration %d ms", req.DurationMs)
	}
	name := req.Name
	if name == "" {
		name = time.Now().Format("20060102-150405")
	}
	path, err := h.catalog.PathFor(name)
	if err != nil {
		return SessionInfo{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil {
		return h.active.info, ErrRecordingActive
	}

	src, err := h.newSource()
	if err != nil {
		return SessionInfo{}, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		capture.StopSource(src)
		return SessionInfo{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &recordSession{
		info: SessionInfo{
			ID:        uuid.NewString(),
			Name:      filepath.Base(path),
			StartedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.active = sess

	go h.run(ctx, sess, src, f, req.DurationMs, notify)
	logging.LogInfo("远程录制开始", "session", sess.info.ID, "file", sess.info.Name, "duration_ms", req.DurationMs)
	return sess.info, nil
}

func (h *RecordHandler) run(ctx context.Context, sess *recordSession, src capture.Source, f *os.File, durationMs int64, notify NotifyFunc) {
	defer close(sess.done)

	var lastNotify time.Time
	r := &capture.Recorder{
		Source:        src,
		Timeout:       h.cfg.Camera.CaptureTimeout(),
		AuxLength:     h.cfg.Camera.AuxLength,
		SyncEachFrame: h.cfg.Storage.SyncFrames,
		Progress: func(frames int, elapsed time.Duration) {
			h.mu.Lock()
			sess.info.Frames = frames
			sess.info.ElapsedMs = elapsed.Milliseconds()
			info := sess.info
			h.mu.Unlock()
			if time.Since(lastNotify) >= 250*time.Millisecond {
				lastNotify = time.Now()
				notify("progress", info)
			}
		},
	}

	stats, err := r.RecordSession(ctx, durationMs, f)
	capture.StopSource(src)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}

	h.mu.Lock()
	h.active = nil
	h.mu.Unlock()

	result := map[string]any{
		"id":        sess.info.ID,
		"name":      sess.info.Name,
		"frames":    stats.Frames,
		"elapsedMs": stats.ElapsedMs,
		"fps":       stats.FPS,
		"bytes":     stats.Bytes,
		"size":      humanize.IBytes(uint64(stats.Bytes)),
	}
	switch {
	case errors.Is(err, context.Canceled):
		result["stopped"] = true
		notify("finished", result)
	case err != nil:
		result["error"] = err.Error()
		notify("failed", result)
	default:
		notify("finished", result)
	}
	logging.LogInfo("远程录制结束", "session", sess.info.ID, "frames", stats.Frames, "error", err)

	if err := h.catalog.Scan(context.Background()); err != nil {
		logging.LogWarn("录制后刷新目录失败", "error", err)
	}
}

// Stop 停止当前录制并等待结束；没有录制时返回 false
func (h *RecordHandler) Stop() bool {
	h.mu.Lock()
	sess := h.active
	h.mu.Unlock()
	if sess == nil {
		return false
	}
	sess.cancel()
	<-sess.done
	return true
}

// Status 当前录制状态
func (h *RecordHandler) Status() (SessionInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return SessionInfo{}, false
	}
	return h.active.info, true
}

// ==================== neffos 事件 ====================

func emitJSON(c *neffos.NSConn, event string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logging.LogError("事件编码失败", "event", event, "error", err)
		return
	}
	c.Emit(event, body)
}

// OnConnect 连接建立
func (h *RecordHandler) OnConnect(c *neffos.NSConn, msg neffos.Message) error {
	logging.LogDebug("录制控制连接", "conn", c.Conn.ID())
	if info, ok := h.Status(); ok {
		emitJSON(c, "status", map[string]any{"recording": true, "session": info})
	}
	return nil
}

// OnDisconnect 连接断开，录制继续进行
func (h *RecordHandler) OnDisconnect(c *neffos.NSConn, msg neffos.Message) error {
	logging.LogDebug("录制控制断开", "conn", c.Conn.ID())
	return nil
}

// OnStart 开始录制
func (h *RecordHandler) OnStart(c *neffos.NSConn, msg neffos.Message) error {
	var req StartRequest
	if err := msg.Unmarshal(&req); err != nil {
		return err
	}
	info, err := h.Start(req, func(event string, v any) { emitJSON(c, event, v) })
	if err != nil {
		emitJSON(c, "error", map[string]any{"error": err.Error(), "session": info})
		return nil
	}
	emitJSON(c, "started", info)
	return nil
}

// OnStop 停止录制
func (h *RecordHandler) OnStop(c *neffos.NSConn, msg neffos.Message) error {
	if !h.Stop() {
		emitJSON(c, "error", map[string]any{"error": "no recording in progress"})
	}
	return nil
}

// OnStatus 查询录制状态
func (h *RecordHandler) OnStatus(c *neffos.NSConn, msg neffos.Message) error {
	info, ok := h.Status()
	emitJSON(c, "status", map[string]any{"recording": ok, "session": info})
	return nil
}

// RegisterEvents 注册 WebSocket 事件
func (h *RecordHandler) RegisterEvents() websocket.Namespaces {
	return websocket.Namespaces{
		"record": websocket.Events{
			websocket.OnNamespaceConnected:  h.OnConnect,
			websocket.OnNamespaceDisconnect: h.OnDisconnect,
			"start":  h.OnStart,
			"stop":   h.OnStop,
			"status": h.OnStatus,
		},
	}
}
