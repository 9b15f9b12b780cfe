package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/websocket"
	"golang.org/x/sync/errgroup"

	"camrec/internal/config"
	"camrec/internal/handlers"
	"camrec/internal/logging"
	"camrec/internal/server"
)

//go:embed static/*
var staticFS embed.FS

func main() {
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "Server port (overrides config)")
	dir := flag.String("path", "", "Recording directory (overrides config)")
	aux := flag.Int("aux", -1, "Telemetry block length in bytes (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	noBrowser := flag.Bool("no-browser", false, "Don't open browser automatically")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dir != "" {
		cfg.Storage.Dir = *dir
	}
	if *aux >= 0 {
		cfg.Camera.AuxLength = *aux
	}
	if *noBrowser {
		cfg.Server.NoBrowser = true
	}
	if *debug || cfg.Debug {
		logging.SetDebugMode(true)
	}

	// 查找可用端口
	actualPort := findAvailablePort(cfg.Server.Port)

	fmt.Println("============================================================")
	fmt.Println("camrec 录像播放器")
	fmt.Println("============================================================")
	fmt.Printf("录像目录: %s\n", cfg.Storage.Dir)
	fmt.Printf("监听地址: http://localhost:%d\n", actualPort)
	fmt.Println("============================================================")

	viewer, err := server.NewViewer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败: %v\n", err)
		os.Exit(1)
	}
	defer viewer.Close()

	// 创建 Iris 应用
	app := iris.New()
	app.Logger().SetLevel("warn")

	// CORS
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")
		if ctx.Method() == "OPTIONS" {
			ctx.StatusCode(204)
			return
		}
		ctx.Next()
	})

	// 注册 API 路由
	server.RegisterRoutes(app, server.NewHandlers(viewer))

	// 录制控制 (neffos)
	recorder := handlers.NewRecordHandler(cfg, viewer.Catalog(), handlers.SimSourceFactory(&cfg.Camera))
	wsServer := websocket.New(websocket.DefaultGorillaUpgrader, recorder.RegisterEvents())
	app.Get("/api/v1/record", websocket.Handler(wsServer, func(ctx iris.Context) string {
		return uuid.NewString()
	}))

	// 嵌入的静态文件
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		fmt.Printf("警告: 无法加载嵌入的静态文件: %v\n", err)
	} else {
		app.HandleDir("/", http.FS(staticSub), iris.DirOptions{
			IndexName: "index.html",
			SPA:       true,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// 首次扫描在后台进行，失败不影响服务
	go func() {
		if err := viewer.Rescan(gctx); err != nil {
			logging.LogWarn("录像目录扫描失败", "dir", cfg.Storage.Dir, "error", err)
		}
	}()

	g.Go(func() error {
		err := app.Listen(fmt.Sprintf("%s:%d", cfg.Server.Host, actualPort), iris.WithoutStartupLog)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	// 优雅关闭
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\n正在关闭...")
		recorder.Stop()
		wsServer.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return app.Shutdown(shutdownCtx)
	})

	// 自动打开浏览器
	if !cfg.Server.NoBrowser {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openBrowser(fmt.Sprintf("http://localhost:%d", actualPort))
		}()
	}

	fmt.Printf("\n服务器已启动: http://localhost:%d\n", actualPort)
	if err := g.Wait(); err != nil {
		fmt.Printf("服务器错误: %v\n", err)
	}
}

// findAvailablePort 查找可用端口，如果指定端口被占用则递增
func findAvailablePort(startPort int) int {
	for port := startPort; port < startPort+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			ln.Close()
			return port
		}
	}
	return startPort // 回退到原始端口
}

// openBrowser 打开默认浏览器
func openBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("open", url).Start()
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	}
	if err != nil {
		fmt.Printf("无法自动打开浏览器，请手动访问: %s\n", url)
	}
}
