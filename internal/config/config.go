// Package config loads broker and client settings from an optional TOML file
// overlaid by AILOOP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	HTTPAddr        string        // AILOOP_HTTP_ADDR (default ":8080")
	GRPCAddr        string        // AILOOP_GRPC_ADDR (default ":9090"; "off" disables)
	DefaultChannel  string        // AILOOP_DEFAULT_CHANNEL (default "public")
	HistorySize     int           // AILOOP_HISTORY_SIZE (default 1000)
	DefaultTimeout  time.Duration // AILOOP_DEFAULT_TIMEOUT (default 300s; 0 = wait forever)
	ViewerQueueSize int           // AILOOP_VIEWER_QUEUE_SIZE (default 256)
	MaxConnections  int           // AILOOP_MAX_CONNECTIONS (default 100; 0 = unlimited)
	NATSURL         string        // AILOOP_NATS_URL (optional, empty = no events)
	DatabaseURL     string        // AILOOP_DATABASE_URL (optional, empty = in-memory audit log)
	LogLevel        string        // AILOOP_LOG_LEVEL (default "info")

	// Export settings
	ExportInterval   time.Duration // AILOOP_EXPORT_INTERVAL (default 5m; 0 = disabled)
	ExportS3Bucket   string        // AILOOP_EXPORT_S3_BUCKET (enables S3 when set)
	ExportS3Key      string        // AILOOP_EXPORT_S3_KEY (default "ailoop/snapshot.jsonl")
	ExportS3Region   string        // AILOOP_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Endpoint string        // AILOOP_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
	ExportFile       string        // AILOOP_EXPORT_FILE (enables file export when set)

	// Client settings, used by the CLI.
	ServerURL string // AILOOP_SERVER (default "http://localhost:8080")
	ServerRPC string // AILOOP_SERVER_RPC (default "localhost:9090")

	// Path is the config file that was read, empty when none was found.
	Path string
}

// fileConfig mirrors the TOML layout:
//
//	[server]
//	http_addr = ":8080"
//	default_timeout = "5m"
//
//	[export]
//	interval = "5m"
//	s3_bucket = "..."
//
//	[client]
//	server = "http://broker:8080"
type fileConfig struct {
	Server struct {
		HTTPAddr        string `toml:"http_addr"`
		GRPCAddr        string `toml:"grpc_addr"`
		DefaultChannel  string `toml:"default_channel"`
		HistorySize     int    `toml:"history_size"`
		DefaultTimeout  string `toml:"default_timeout"`
		ViewerQueueSize int    `toml:"viewer_queue_size"`
		MaxConnections  *int   `toml:"max_connections"`
		NATSURL         string `toml:"nats_url"`
		DatabaseURL     string `toml:"database_url"`
		LogLevel        string `toml:"log_level"`
	} `toml:"server"`
	Export struct {
		Interval   string `toml:"interval"`
		S3Bucket   string `toml:"s3_bucket"`
		S3Key      string `toml:"s3_key"`
		S3Region   string `toml:"s3_region"`
		S3Endpoint string `toml:"s3_endpoint"`
		File       string `toml:"file"`
	} `toml:"export"`
	Client struct {
		Server    string `toml:"server"`
		ServerRPC string `toml:"server_rpc"`
	} `toml:"client"`
}

// Defaults returns the built-in settings.
func Defaults() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		DefaultChannel:  "public",
		HistorySize:     1000,
		DefaultTimeout:  300 * time.Second,
		ViewerQueueSize: 256,
		MaxConnections:  100,
		LogLevel:        "info",
		ExportInterval:  5 * time.Minute,
		ExportS3Key:     "ailoop/snapshot.jsonl",
		ExportS3Region:  "us-east-1",
		ServerURL:       "http://localhost:8080",
		ServerRPC:       "localhost:9090",
	}
}

// Load builds the configuration: defaults, then the TOML file, then the
// environment. The file is AILOOP_CONFIG when set (and must exist), otherwise
// ~/.config/ailoop/config.toml when present.
func Load() (*Config, error) {
	c := Defaults()

	path, explicit := os.LookupEnv("AILOOP_CONFIG")
	if !explicit || path == "" {
		explicit = false
		path = defaultPath()
	}
	if path != "" {
		err := c.applyFile(path)
		switch {
		case err == nil:
			c.Path = path
		case errors.Is(err, fs.ErrNotExist) && !explicit:
			// The default file is optional.
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config file %s: %w", path, err)
		default:
			return nil, err
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func defaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ailoop", "config.toml")
}

func (c *Config) applyFile(path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}

	setString(&c.HTTPAddr, f.Server.HTTPAddr)
	setString(&c.GRPCAddr, f.Server.GRPCAddr)
	setString(&c.DefaultChannel, f.Server.DefaultChannel)
	setString(&c.NATSURL, f.Server.NATSURL)
	setString(&c.DatabaseURL, f.Server.DatabaseURL)
	setString(&c.LogLevel, f.Server.LogLevel)
	if f.Server.HistorySize > 0 {
		c.HistorySize = f.Server.HistorySize
	}
	if f.Server.ViewerQueueSize > 0 {
		c.ViewerQueueSize = f.Server.ViewerQueueSize
	}
	if f.Server.MaxConnections != nil {
		c.MaxConnections = *f.Server.MaxConnections
	}
	if err := setDuration(&c.DefaultTimeout, f.Server.DefaultTimeout, path+": server.default_timeout"); err != nil {
		return err
	}

	if err := setDuration(&c.ExportInterval, f.Export.Interval, path+": export.interval"); err != nil {
		return err
	}
	setString(&c.ExportS3Bucket, f.Export.S3Bucket)
	setString(&c.ExportS3Key, f.Export.S3Key)
	setString(&c.ExportS3Region, f.Export.S3Region)
	setString(&c.ExportS3Endpoint, f.Export.S3Endpoint)
	setString(&c.ExportFile, f.Export.File)

	setString(&c.ServerURL, f.Client.Server)
	setString(&c.ServerRPC, f.Client.ServerRPC)
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = envOrDefault("AILOOP_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = envOrDefault("AILOOP_GRPC_ADDR", c.GRPCAddr)
	c.DefaultChannel = envOrDefault("AILOOP_DEFAULT_CHANNEL", c.DefaultChannel)
	c.NATSURL = envOrDefault("AILOOP_NATS_URL", c.NATSURL)
	c.DatabaseURL = envOrDefault("AILOOP_DATABASE_URL", c.DatabaseURL)
	c.LogLevel = envOrDefault("AILOOP_LOG_LEVEL", c.LogLevel)
	c.ExportS3Bucket = envOrDefault("AILOOP_EXPORT_S3_BUCKET", c.ExportS3Bucket)
	c.ExportS3Key = envOrDefault("AILOOP_EXPORT_S3_KEY", c.ExportS3Key)
	c.ExportS3Region = envOrDefault("AILOOP_EXPORT_S3_REGION", c.ExportS3Region)
	c.ExportS3Endpoint = envOrDefault("AILOOP_EXPORT_S3_ENDPOINT", c.ExportS3Endpoint)
	c.ExportFile = envOrDefault("AILOOP_EXPORT_FILE", c.ExportFile)
	c.ServerURL = envOrDefault("AILOOP_SERVER", c.ServerURL)
	c.ServerRPC = envOrDefault("AILOOP_SERVER_RPC", c.ServerRPC)

	for _, iv := range []struct {
		key string
		dst *int
	}{
		{"AILOOP_HISTORY_SIZE", &c.HistorySize},
		{"AILOOP_VIEWER_QUEUE_SIZE", &c.ViewerQueueSize},
		{"AILOOP_MAX_CONNECTIONS", &c.MaxConnections},
	} {
		if v := os.Getenv(iv.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", iv.key, err)
			}
			*iv.dst = n
		}
	}

	if err := setDuration(&c.DefaultTimeout, os.Getenv("AILOOP_DEFAULT_TIMEOUT"), "AILOOP_DEFAULT_TIMEOUT"); err != nil {
		return err
	}
	return setDuration(&c.ExportInterval, os.Getenv("AILOOP_EXPORT_INTERVAL"), "AILOOP_EXPORT_INTERVAL")
}

func (c *Config) validate() error {
	if c.HistorySize < 1 {
		return fmt.Errorf("history size must be positive, got %d", c.HistorySize)
	}
	if c.ViewerQueueSize < 1 {
		return fmt.Errorf("viewer queue size must be positive, got %d", c.ViewerQueueSize)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative, got %d", c.MaxConnections)
	}
	if c.DefaultTimeout < 0 || c.ExportInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// GRPCEnabled reports whether the gRPC listener should start.
func (c *Config) GRPCEnabled() bool {
	return c.GRPCAddr != "" && c.GRPCAddr != "off"
}

// ExportEnabled reports whether any export destination is configured.
func (c *Config) ExportEnabled() bool {
	return c.ExportInterval > 0 && (c.ExportS3Bucket != "" || c.ExportFile != "")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// setDuration parses v into dst. Bare integers are seconds.
func setDuration(dst *time.Duration, v, name string) error {
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
