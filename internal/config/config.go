package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// 记录格式常量
	HeaderOnlySize = 28 // width + height + totalBytes + coding + filter + stride
	FullHeaderSize = 36 // HeaderOnlySize + timestampMicros
	MaxTotalBytes  = 256 << 20

	// 采集常量
	RingDepth             = 4
	DefaultCaptureTimeout = 2 * time.Second

	// 遥测数据块长度 (AHRS 负载)
	AHRSPayloadLen = 32

	RecordingExt = ".rec"
)

// Config 运行配置，可由 YAML 文件加载，命令行参数覆盖
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Camera  CameraConfig  `yaml:"camera"`
	Storage StorageConfig `yaml:"storage"`
	Debug   bool          `yaml:"debug"`
}

// ServerConfig Web 播放器配置
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	FrameLRU  int    `yaml:"frame_lru"`
	NoBrowser bool   `yaml:"no_browser"`
}

// CameraConfig 模拟相机配置 (硬件配置不在本程序范围内)
type CameraConfig struct {
	Width       uint32  `yaml:"width"`
	Height      uint32  `yaml:"height"`
	Coding      string  `yaml:"coding"`
	Filter      string  `yaml:"filter"`
	FPS         float64 `yaml:"fps"`
	RingDepth   int     `yaml:"ring_depth"`
	TimeoutMs   int     `yaml:"timeout_ms"`
	AuxLength   int     `yaml:"aux_length"`
	PaddingSize int     `yaml:"padding_bytes"`
}

// StorageConfig 录像存储配置
type StorageConfig struct {
	Dir         string `yaml:"dir"`
	ScanWorkers int    `yaml:"scan_workers"`
	SyncFrames  bool   `yaml:"sync_frames"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8000,
			FrameLRU: 128,
		},
		Camera: CameraConfig{
			Width:     640,
			Height:    480,
			Coding:    "MONO8",
			FPS:       30,
			RingDepth: RingDepth,
			TimeoutMs: int(DefaultCaptureTimeout / time.Millisecond),
		},
		Storage: StorageConfig{
			Dir:         ".",
			ScanWorkers: 2,
		},
	}
}

// Load 读取 YAML 配置文件；path 为空时返回默认配置
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Camera.RingDepth <= 0 {
		c.Camera.RingDepth = RingDepth
	}
	if c.Camera.TimeoutMs <= 0 {
		c.Camera.TimeoutMs = int(DefaultCaptureTimeout / time.Millisecond)
	}
	if c.Camera.FPS <= 0 {
		c.Camera.FPS = 30
	}
	if c.Storage.ScanWorkers <= 0 {
		c.Storage.ScanWorkers = 2
	}
	if c.Storage.ScanWorkers > 4 {
		c.Storage.ScanWorkers = 4
	}
	if c.Server.FrameLRU <= 0 {
		c.Server.FrameLRU = 128
	}
}

// CaptureTimeout 单帧采集超时
func (c *CameraConfig) CaptureTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// FrameInterval 帧间隔
func (c *CameraConfig) FrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.FPS)
}
