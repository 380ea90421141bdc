package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aetherspritee/msirs/internal/catalog"
)

// Config holds the application configuration
type Config struct {
	Tiling     TilingConfig       `mapstructure:"tiling"`
	Model      ModelConfig        `mapstructure:"model"`
	Index      IndexConfig        `mapstructure:"index"`
	Storage    StorageConfig      `mapstructure:"storage"`
	Server     ServerConfig       `mapstructure:"server"`
	Categories []catalog.Category `mapstructure:"categories"`
}

// TilingConfig holds the sliding-window parameters
type TilingConfig struct {
	WindowSize int `mapstructure:"window"`
	StepSize   int `mapstructure:"step"`
	BatchSize  int `mapstructure:"batch"`
	Workers    int `mapstructure:"workers"`
}

// ModelConfig points at the inference server
type ModelConfig struct {
	URL             string        `mapstructure:"url"`
	Classifier      string        `mapstructure:"classifier"`
	Descriptor      string        `mapstructure:"descriptor"`
	InputSize       int           `mapstructure:"input_size"`
	Rescale         float64       `mapstructure:"rescale"`
	Timeout         time.Duration `mapstructure:"timeout"`
	AllowedFormats  []string      `mapstructure:"formats"`
	UserAgent       string        `mapstructure:"user_agent"`
	DescriptorLayer string        `mapstructure:"descriptor_signature"`
}

// IndexConfig controls the vector index
type IndexConfig struct {
	Metric string `mapstructure:"metric"`
	TopK   int    `mapstructure:"top_k"`
	Key    string `mapstructure:"key"`
}

// StorageConfig selects where indexed images are kept
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Bind    string        `mapstructure:"bind"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
	MaxBody int64         `mapstructure:"max_body"`
	// MaxTiles bounds the windows one request may produce
	MaxTiles int `mapstructure:"max_tiles"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Tiling: TilingConfig{
			WindowSize: 224,
			StepSize:   4,
			BatchSize:  64,
			Workers:    4,
		},
		Model: ModelConfig{
			URL:             "http://localhost:8501",
			Classifier:      "senet",
			Descriptor:      "senet",
			DescriptorLayer: "descriptor",
			InputSize:       224,
			Rescale:         1,
			Timeout:         2 * time.Minute,
			AllowedFormats:  []string{"jpg", "jpeg", "png", "tif", "tiff"},
			UserAgent:       "msirs/1.0.0",
		},
		Index: IndexConfig{
			Metric: "cosine",
			TopK:   8,
			Key:    "index/index.json",
		},
		Storage: StorageConfig{
			Backend: "fs",
			Dir:     "./images",
			Region:  "us-east-1",
			Prefix:  "msirs",
		},
		Server: ServerConfig{
			Bind:    "localhost",
			Port:    8080,
			Timeout: 5 * time.Minute,
			MaxBody:  64 << 20,
			MaxTiles: 1 << 22,
		},
		Categories: catalog.DefaultCategories(),
	}
}

// SetDefaults registers every default on v so environment variables and
// config files can override individual keys.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("tiling.window", d.Tiling.WindowSize)
	v.SetDefault("tiling.step", d.Tiling.StepSize)
	v.SetDefault("tiling.batch", d.Tiling.BatchSize)
	v.SetDefault("tiling.workers", d.Tiling.Workers)

	v.SetDefault("model.url", d.Model.URL)
	v.SetDefault("model.classifier", d.Model.Classifier)
	v.SetDefault("model.descriptor", d.Model.Descriptor)
	v.SetDefault("model.descriptor_signature", d.Model.DescriptorLayer)
	v.SetDefault("model.input_size", d.Model.InputSize)
	v.SetDefault("model.rescale", d.Model.Rescale)
	v.SetDefault("model.timeout", d.Model.Timeout)
	v.SetDefault("model.formats", d.Model.AllowedFormats)
	v.SetDefault("model.user_agent", d.Model.UserAgent)

	v.SetDefault("index.metric", d.Index.Metric)
	v.SetDefault("index.top_k", d.Index.TopK)
	v.SetDefault("index.key", d.Index.Key)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.dir", d.Storage.Dir)
	v.SetDefault("storage.region", d.Storage.Region)
	v.SetDefault("storage.prefix", d.Storage.Prefix)

	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.max_body", d.Server.MaxBody)
	v.SetDefault("server.max_tiles", d.Server.MaxTiles)
}

// Load decodes the configuration held by v on top of the defaults
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if v.IsSet("categories") {
		cfg.Categories = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Tiling.WindowSize <= 0 {
		return fmt.Errorf("tiling.window must be positive")
	}
	if c.Tiling.StepSize <= 0 {
		return fmt.Errorf("tiling.step must be positive")
	}
	if c.Tiling.BatchSize <= 0 {
		return fmt.Errorf("tiling.batch must be positive")
	}
	if c.Tiling.Workers <= 0 {
		return fmt.Errorf("tiling.workers must be positive")
	}

	if c.Model.InputSize <= 0 {
		return fmt.Errorf("model.input_size must be positive")
	}
	if c.Model.Rescale <= 0 {
		return fmt.Errorf("model.rescale must be positive")
	}
	if len(c.Model.AllowedFormats) == 0 {
		return fmt.Errorf("model.formats cannot be empty")
	}

	switch strings.ToLower(c.Index.Metric) {
	case "cosine", "l2":
	default:
		return fmt.Errorf("index.metric must be cosine or l2, got %q", c.Index.Metric)
	}
	if c.Index.TopK <= 0 {
		return fmt.Errorf("index.top_k must be positive")
	}

	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the fs backend")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be fs or s3, got %q", c.Storage.Backend)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if c.Server.MaxTiles <= 0 {
		return fmt.Errorf("server.max_tiles must be positive")
	}

	if _, err := c.Catalog(); err != nil {
		return err
	}
	return nil
}

// Catalog builds the category catalog from the configured categories
func (c *Config) Catalog() (*catalog.Catalog, error) {
	return catalog.New(c.Categories)
}
