package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"

	"camrec/internal/logging"
	"camrec/internal/playback"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSMessage 客户端请求
//
//	open  {name}            打开录像，定位到第 0 帧
//	next / prev             前进或后退一帧，越界时游标不变
//	seek  {index}           跳转
//	play  {speed}           按录制时间间隔连续发送
//	pause                   停止连续发送
//	speed {speed}           修改播放倍速
//	mode  {mode, format, width}
type WSMessage struct {
	Action string  `json:"action"`
	Name   string  `json:"name"`
	Index  int     `json:"index"`
	Speed  float64 `json:"speed"`
	Mode   string  `json:"mode"`
	Format string  `json:"format"`
	Width  int     `json:"width"`
}

// frameMessage 每帧先发送元数据 (文本)，再发送图像 (二进制)
type frameMessage struct {
	Type string `json:"type"`
	FrameInfo
	ContentType string `json:"contentType"`
}

const (
	defaultFrameInterval = time.Second / 30
	maxFrameInterval     = time.Second
)

// StreamSession 回放会话，每个连接独占一个游标
type StreamSession struct {
	id     string
	ws     *websocket.Conn
	viewer *Viewer

	writeMu sync.Mutex

	mu       sync.Mutex // 保护以下字段
	player   *playback.Player
	release  func()
	name     string
	opts     RenderOptions
	speed    float64
	stopChan chan struct{}
	running  bool
	loopDone chan struct{} // 播放协程退出时关闭
}

// HandleWebSocket WebSocket 处理器
func (h *Handlers) HandleWebSocket(ctx iris.Context) {
	ws, err := upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
	if err != nil {
		logging.LogWarn("WebSocket 升级失败", "error", err)
		return
	}
	defer ws.Close()

	s := &StreamSession{
		id:       uuid.NewString(),
		ws:       ws,
		viewer:   h.viewer,
		speed:    1.0,
		stopChan: make(chan struct{}),
	}
	logging.LogInfo("回放会话建立", "session", s.id)
	defer func() {
		// 先关连接，阻塞中的写入随之返回，播放协程才能退出
		ws.Close()
		s.stop()
		s.closePlayer()
		logging.LogInfo("回放会话断开", "session", s.id)
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.LogWarn("WebSocket 读取失败", "session", s.id, "error", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendError("无效的 JSON", nil)
			continue
		}
		s.handle(msg)
	}
}

func (s *StreamSession) handle(msg WSMessage) {
	logging.LogDebug("回放请求", "session", s.id, "action", msg.Action, "index", msg.Index)

	switch msg.Action {
	case "open":
		s.stop()
		s.open(msg.Name)
	case "next", "prev":
		s.stop()
		dir := 1
		if msg.Action == "prev" {
			dir = -1
		}
		s.step(func(p *playback.Player) error { return p.Advance(dir) })
	case "seek":
		s.stop()
		s.step(func(p *playback.Player) error { return p.SeekTo(msg.Index) })
	case "play":
		s.stop()
		if msg.Speed > 0 {
			s.setSpeed(msg.Speed)
		}
		s.play()
	case "pause":
		s.stop()
		s.sendJSON(map[string]any{"type": "paused"})
	case "speed":
		if msg.Speed > 0 {
			s.setSpeed(msg.Speed)
		}
	case "mode":
		s.mu.Lock()
		s.opts = RenderOptions{Mode: msg.Mode, Format: msg.Format, Width: msg.Width}
		s.mu.Unlock()
		s.step(func(*playback.Player) error { return nil })
	default:
		s.sendError("未知的 action: "+msg.Action, nil)
	}
}

func (s *StreamSession) open(name string) {
	p, release, err := s.viewer.OpenPlayer(name)
	if err != nil {
		s.sendError("打开录像失败", err)
		return
	}
	s.closePlayer()

	s.mu.Lock()
	s.player, s.release, s.name = p, release, name
	info := frameInfo(p, p.Frame())
	s.mu.Unlock()

	s.sendJSON(map[string]any{
		"type":       "opened",
		"name":       name,
		"frameCount": p.FrameCount(),
		"recordSize": p.RecordSize(),
		"width":      info.Width,
		"height":     info.Height,
		"coding":     info.Coding,
		"filter":     info.Filter,
	})
	s.sendCurrent()
}

func (s *StreamSession) closePlayer() {
	s.mu.Lock()
	release := s.release
	s.player, s.release = nil, nil
	s.mu.Unlock()
	if release != nil {
		release()
	}
}

// step 对游标执行一次操作；失败时游标不变，只回报错误
func (s *StreamSession) step(op func(p *playback.Player) error) {
	s.mu.Lock()
	p := s.player
	if p == nil {
		s.mu.Unlock()
		s.sendError("尚未打开录像", nil)
		return
	}
	err := op(p)
	s.mu.Unlock()
	if err != nil {
		s.sendError("定位失败", err)
		return
	}
	s.sendCurrent()
}

// sendCurrent 渲染并发送当前帧
func (s *StreamSession) sendCurrent() error {
	s.mu.Lock()
	if s.player == nil {
		s.mu.Unlock()
		return playback.ErrNotFound
	}
	rf, err := RenderCurrent(s.player, s.opts)
	s.mu.Unlock()
	if err != nil {
		s.sendError("渲染失败", err)
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ws.WriteJSON(frameMessage{Type: "frame", FrameInfo: rf.Info, ContentType: rf.ContentType}); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.BinaryMessage, rf.Data)
}

func (s *StreamSession) setSpeed(speed float64) {
	s.mu.Lock()
	s.speed = speed
	s.mu.Unlock()
}

// stop 停止播放并等待播放协程退出，返回后不会再有播放帧发出
func (s *StreamSession) stop() {
	s.mu.Lock()
	if s.running {
		close(s.stopChan)
		s.stopChan = make(chan struct{})
		s.running = false
	}
	done := s.loopDone
	s.loopDone = nil
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (s *StreamSession) play() {
	s.mu.Lock()
	if s.player == nil {
		s.mu.Unlock()
		s.sendError("尚未打开录像", nil)
		return
	}
	s.running = true
	stopChan := s.stopChan
	done := make(chan struct{})
	s.loopDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.playLoop(stopChan)
	}()
}

// playLoop 按相邻帧的时间戳差值发送，时间戳缺失时按 30fps
func (s *StreamSession) playLoop(stopChan chan struct{}) {
	logging.LogDebug("开始播放", "session", s.id)
	s.mu.Lock()
	interval := time.Duration(float64(defaultFrameInterval) / s.speed)
	s.mu.Unlock()

	for {
		select {
		case <-stopChan:
			return
		case <-time.After(interval):
		}

		s.mu.Lock()
		// 定时器与 stop 同时就绪时，以 stop 为准
		select {
		case <-stopChan:
			s.mu.Unlock()
			return
		default:
		}
		p := s.player
		if p == nil {
			s.mu.Unlock()
			return
		}
		prevTs := p.Frame().TimestampMicros
		err := p.Advance(1)
		if err == nil {
			ts := p.Frame().TimestampMicros
			interval = defaultFrameInterval
			if ts > prevTs && time.Duration(ts-prevTs)*time.Microsecond <= maxFrameInterval {
				interval = time.Duration(ts-prevTs) * time.Microsecond
			}
			interval = time.Duration(float64(interval) / s.speed)
		}
		s.mu.Unlock()

		if errors.Is(err, playback.ErrNotFound) {
			s.mu.Lock()
			if s.stopChan == stopChan {
				s.running = false
			}
			s.mu.Unlock()
			s.sendJSON(map[string]any{"type": "ended"})
			return
		}
		if err != nil {
			s.sendError("播放中断", err)
			return
		}
		if err := s.sendCurrent(); err != nil {
			return
		}
	}
}

func (s *StreamSession) sendJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *StreamSession) sendError(msg string, err error) {
	body := map[string]any{"type": "error", "error": msg}
	if err != nil {
		body["detail"] = err.Error()
		body["status"] = statusFor(err)
	}
	s.sendJSON(body)
}
