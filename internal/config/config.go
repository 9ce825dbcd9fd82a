// Package config loads process configuration from YAML plus VCLIP_
// env overrides, following iluha78-FD/internal/config/config.go's
// Load/applyEnvOverrides/setDefaults shape almost exactly, reshaped
// for this domain's sub-configs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Encoding EncodingConfig `yaml:"encoding"`
	Vision   VisionConfig   `yaml:"vision"`
	Download DownloadConfig `yaml:"download"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	MetricsPort int `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// EncodingConfig bundles the style-render/ffmpeg tunables spec §5
// names (ffmpeg_semaphore sizing) plus the working directory the
// orchestrator stages intermediate files under.
type EncodingConfig struct {
	MaxConcurrentFFmpeg int64  `yaml:"max_concurrent_ffmpeg"`
	WorkDir             string `yaml:"work_dir"`
}

// VisionConfig mirrors internal/vision.EngineConfig's tunables for the
// optimised-mode decimation/tracking pipeline (spec §4.5).
type VisionConfig struct {
	ModelsDir       string  `yaml:"models_dir"`
	InferenceWidth  int     `yaml:"inference_width"`
	InferenceHeight int     `yaml:"inference_height"`
	FPS             int     `yaml:"fps"`
	IoUThreshold    float64 `yaml:"iou_threshold"`
	MaxTrackGap     int     `yaml:"max_track_gap"`
	ShotThreshold   float64 `yaml:"shot_threshold"`
	MinShotDuration float64 `yaml:"min_shot_duration"`
}

type DownloadConfig struct {
	OutputDir       string        `yaml:"output_dir"`
	CookiesPath     string        `yaml:"cookies_path"`
	IPv6SourceAddrs []string      `yaml:"ipv6_source_addrs"`
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file and applies VCLIP_ environment
// variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Encoding.MaxConcurrentFFmpeg == 0 {
		cfg.Encoding.MaxConcurrentFFmpeg = 4
	}
	if cfg.Encoding.WorkDir == "" {
		cfg.Encoding.WorkDir = "/tmp/vclip-work"
	}
	if cfg.Vision.InferenceWidth == 0 {
		cfg.Vision.InferenceWidth = 960
	}
	if cfg.Vision.InferenceHeight == 0 {
		cfg.Vision.InferenceHeight = 540
	}
	if cfg.Vision.FPS == 0 {
		cfg.Vision.FPS = 5
	}
	if cfg.Vision.IoUThreshold == 0 {
		cfg.Vision.IoUThreshold = 0.3
	}
	if cfg.Vision.MaxTrackGap == 0 {
		cfg.Vision.MaxTrackGap = 10
	}
	if cfg.Vision.ShotThreshold == 0 {
		cfg.Vision.ShotThreshold = 0.4
	}
	if cfg.Vision.MinShotDuration == 0 {
		cfg.Vision.MinShotDuration = 1.0
	}
	if cfg.Download.OutputDir == "" {
		cfg.Download.OutputDir = "/tmp/vclip-downloads"
	}
	if cfg.Download.WaitTimeout == 0 {
		cfg.Download.WaitTimeout = 5 * time.Minute
	}
	if cfg.Download.MaxRetries == 0 {
		cfg.Download.MaxRetries = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VCLIP_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = port
		}
	}
	if v := os.Getenv("VCLIP_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("VCLIP_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("VCLIP_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("VCLIP_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("VCLIP_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("VCLIP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("VCLIP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("VCLIP_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("VCLIP_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("VCLIP_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("VCLIP_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("VCLIP_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("VCLIP_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("VCLIP_WORK_DIR"); v != "" {
		cfg.Encoding.WorkDir = v
	}
	if v := os.Getenv("VCLIP_MAX_CONCURRENT_FFMPEG"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Encoding.MaxConcurrentFFmpeg = n
		}
	}
	if v := os.Getenv("VCLIP_DOWNLOAD_COOKIES"); v != "" {
		cfg.Download.CookiesPath = v
	}
	if v := os.Getenv("VCLIP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
