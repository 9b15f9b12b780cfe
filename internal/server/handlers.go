package server

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/kataras/iris/v12"

	"camrec/internal/catalog"
	"camrec/internal/convert"
	"camrec/internal/logging"
	"camrec/internal/playback"
	"camrec/internal/rec"
)

// Handlers HTTP API 处理器
type Handlers struct {
	viewer *Viewer
}

// NewHandlers 创建处理器
func NewHandlers(v *Viewer) *Handlers {
	return &Handlers{viewer: v}
}

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, playback.ErrNotFound), errors.Is(err, catalog.ErrUnknownRecording):
		return iris.StatusNotFound
	case errors.Is(err, ErrBadRenderOptions):
		return iris.StatusBadRequest
	case errors.Is(err, convert.ErrUnsupportedEncoding):
		return iris.StatusUnsupportedMediaType
	case errors.Is(err, rec.ErrTruncatedRecord), errors.Is(err, rec.ErrCorruptRecord),
		errors.Is(err, playback.ErrNonUniformRecord):
		return iris.StatusUnprocessableEntity
	}
	return iris.StatusInternalServerError
}

func writeError(ctx iris.Context, err error) {
	code := statusFor(err)
	if code == iris.StatusInternalServerError {
		logging.LogError("请求失败", "path", ctx.Path(), "error", err)
	}
	ctx.StatusCode(code)
	ctx.JSON(iris.Map{"error": err.Error()})
}

// GetConfig 获取配置
// GET /api/v1/config
func (h *Handlers) GetConfig(ctx iris.Context) {
	cfg := h.viewer.Config()
	ctx.JSON(iris.Map{
		"storagePath": cfg.Storage.Dir,
		"auxLength":   cfg.Camera.AuxLength,
		"camera":      cfg.Camera,
		"cacheStatus": h.viewer.Catalog().Status(),
	})
}

// GetCacheStatus 获取目录扫描状态
// GET /api/v1/cache/status
func (h *Handlers) GetCacheStatus(ctx iris.Context) {
	ctx.JSON(h.viewer.Catalog().Status())
}

// Rescan 后台重新扫描录像目录
// POST /api/v1/recordings/rescan
func (h *Handlers) Rescan(ctx iris.Context) {
	go func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := h.viewer.Rescan(c); err != nil {
			logging.LogWarn("重新扫描失败", "error", err)
		}
	}()
	ctx.StatusCode(iris.StatusAccepted)
	ctx.JSON(h.viewer.Catalog().Status())
}

// GetRecordings 录像列表
// GET /api/v1/recordings
func (h *Handlers) GetRecordings(ctx iris.Context) {
	entries := h.viewer.Catalog().Entries()
	if entries == nil {
		entries = []catalog.Entry{}
	}
	ctx.JSON(iris.Map{"recordings": entries})
}

// GetRecording 单个录像摘要
// GET /api/v1/recordings/{name}
func (h *Handlers) GetRecording(ctx iris.Context) {
	name := ctx.Params().Get("name")
	if e, ok := h.viewer.Catalog().Lookup(name); ok {
		ctx.JSON(e)
		return
	}
	// 目录尚未扫描到的新文件
	path, err := h.viewer.Catalog().PathFor(name)
	if err != nil {
		writeError(ctx, err)
		return
	}
	e, err := catalog.Inspect(path, h.viewer.Catalog().AuxLength())
	if err != nil {
		writeError(ctx, errors.Join(catalog.ErrUnknownRecording, err))
		return
	}
	ctx.JSON(e)
}

// GetFrame 解码并返回一帧图像
// GET /api/v1/recordings/{name}/frames/{index}?mode=&format=&width=&quality=
func (h *Handlers) GetFrame(ctx iris.Context) {
	name := ctx.Params().Get("name")
	i, err := ctx.Params().GetInt("index")
	if err != nil {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": "无效的帧序号"})
		return
	}

	opts := RenderOptions{
		Mode:    ctx.URLParam("mode"),
		Format:  ctx.URLParamDefault("format", "png"),
		Width:   ctx.URLParamIntDefault("width", 0),
		Quality: ctx.URLParamIntDefault("quality", 90),
	}
	rf, err := h.viewer.RenderFrame(name, i, opts)
	if err != nil {
		writeError(ctx, err)
		return
	}

	ctx.Header("X-Frame-Index", strconv.Itoa(rf.Info.Index))
	ctx.Header("X-Frame-Count", strconv.Itoa(rf.Info.FrameCount))
	ctx.Header("X-Frame-Timestamp", strconv.FormatUint(rf.Info.TimestampMicros, 10))
	ctx.Header("Cache-Control", "no-cache")
	ctx.ContentType(rf.ContentType)
	ctx.Write(rf.Data)
}

// GetFrameInfo 帧元数据
// GET /api/v1/recordings/{name}/frames/{index}/info
func (h *Handlers) GetFrameInfo(ctx iris.Context) {
	name := ctx.Params().Get("name")
	i, err := ctx.Params().GetInt("index")
	if err != nil {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": "无效的帧序号"})
		return
	}
	info, err := h.viewer.FrameInfoAt(name, i)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(info)
}

// ==================== 路由注册 ====================

// RegisterRoutes 注册路由
func RegisterRoutes(app *iris.Application, h *Handlers) {
	v1 := app.Party("/api/v1")
	{
		v1.Get("/config", h.GetConfig)
		v1.Get("/cache/status", h.GetCacheStatus)
		v1.Get("/recordings", h.GetRecordings)
		v1.Post("/recordings/rescan", h.Rescan)
		v1.Get("/recordings/{name:string}", h.GetRecording)
		v1.Get("/recordings/{name:string}/frames/{index:int}", h.GetFrame)
		v1.Get("/recordings/{name:string}/frames/{index:int}/info", h.GetFrameInfo)
		v1.Get("/stream", h.HandleWebSocket) // 回放 WebSocket
	}
}
