package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port           string `json:"port"`
		StaticDir      string `json:"static_dir"`
		Debug          bool   `json:"debug"`
		MaxUploadBytes int64  `json:"max_upload_bytes"`
		AllowedOrigin  string `json:"allowed_origin"`
	} `json:"server"`

	Database struct {
		Path string `json:"path"`
	} `json:"database"`

	ML struct {
		Type           string `json:"type"` // "remote" or "google"
		Endpoint       string `json:"endpoint"`
		TimeoutSeconds int    `json:"timeout_seconds"`
		ConfigPath     string `json:"config_path"`
	} `json:"ml"`

	Auth struct {
		BaseURL string `json:"base_url"`
		// JWTSecret verifies bearer tokens on the server. History is
		// disabled on the server when it is empty.
		JWTSecret string `json:"jwt_secret"`
	} `json:"auth"`

	History struct {
		BaseURL string `json:"base_url"`
	} `json:"history"`

	Client struct {
		ProxyURL     string  `json:"proxy_url"`
		Quality      float64 `json:"quality"`
		MaxDimension int     `json:"max_dimension"`
	} `json:"client"`

	Camera struct {
		URL        string `json:"url"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		FacingMode string `json:"facing_mode"`
	} `json:"camera"`

	Storage struct {
		Type      string `json:"type"` // "none", "local" or "s3"
		Dir       string `json:"dir"`
		Bucket    string `json:"bucket"`
		Region    string `json:"region"`
		PublicURL string `json:"public_url"`
	} `json:"storage"`

	Logging struct {
		Level string `json:"level"`
		JSON  bool   `json:"json"`
	} `json:"logging"`
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&config)

	if config.Server.Port == "" {
		// Fail if port is not set
		return nil, fmt.Errorf("server port is not set in config file")
	}
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadOrDefault behaves like LoadConfig but falls back to defaults when the
// file does not exist. The client uses it so it can run without a config file.
func LoadOrDefault(configPath string) (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var config Config
	config.Server.Port = "8080"
	applyEnv(&config)
	applyDefaults(&config)
	return &config
}

// Validate checks values that have a bounded range.
func (c *Config) Validate() error {
	if c.Client.Quality < 0 || c.Client.Quality > 1 {
		return fmt.Errorf("client quality must be within [0,1], got %v", c.Client.Quality)
	}
	switch c.ML.Type {
	case "remote", "google":
	default:
		return fmt.Errorf("unsupported ml type: %s", c.ML.Type)
	}
	switch c.Storage.Type {
	case "none", "local", "s3":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required for s3 storage")
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.Server.StaticDir == "" {
		config.Server.StaticDir = "./static"
	}
	if config.Server.MaxUploadBytes <= 0 {
		config.Server.MaxUploadBytes = 10 << 20
	}
	if config.Server.AllowedOrigin == "" {
		config.Server.AllowedOrigin = "*"
	}
	if config.Database.Path == "" {
		config.Database.Path = "foodlens.db"
	}
	if config.ML.Type == "" {
		config.ML.Type = "remote"
	}
	if config.ML.TimeoutSeconds <= 0 {
		config.ML.TimeoutSeconds = 30
	}
	if config.Client.ProxyURL == "" {
		config.Client.ProxyURL = "http://localhost:" + config.Server.Port
	}
	if config.Client.Quality == 0 {
		config.Client.Quality = 0.8
	}
	if config.Client.MaxDimension <= 0 {
		config.Client.MaxDimension = 1920
	}
	if config.Camera.Width <= 0 {
		config.Camera.Width = 1280
	}
	if config.Camera.Height <= 0 {
		config.Camera.Height = 720
	}
	if config.Camera.FacingMode == "" {
		config.Camera.FacingMode = "environment"
	}
	if config.Storage.Type == "" {
		config.Storage.Type = "none"
	}
	if config.Storage.Dir == "" {
		config.Storage.Dir = "./uploads"
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
}

// applyEnv overrides file values with FOODLENS_* environment variables.
func applyEnv(config *Config) {
	setString(&config.Server.Port, "FOODLENS_PORT")
	setString(&config.Database.Path, "FOODLENS_DB_PATH")
	setString(&config.ML.Type, "FOODLENS_ML_TYPE")
	setString(&config.ML.Endpoint, "FOODLENS_ML_ENDPOINT")
	setString(&config.Auth.BaseURL, "FOODLENS_AUTH_URL")
	setString(&config.Auth.JWTSecret, "JWT_SECRET")
	setString(&config.Auth.JWTSecret, "FOODLENS_JWT_SECRET")
	setString(&config.History.BaseURL, "FOODLENS_HISTORY_URL")
	setString(&config.Client.ProxyURL, "FOODLENS_PROXY_URL")
	setString(&config.Camera.URL, "FOODLENS_CAMERA_URL")
	setString(&config.Storage.Type, "FOODLENS_STORAGE")
	setString(&config.Storage.Bucket, "FOODLENS_S3_BUCKET")
	setString(&config.Storage.Region, "AWS_REGION")
	setString(&config.Storage.PublicURL, "FOODLENS_PUBLIC_URL")
	setString(&config.Logging.Level, "FOODLENS_LOG_LEVEL")
	if v := os.Getenv("FOODLENS_QUALITY"); v != "" {
		if q, err := strconv.ParseFloat(v, 64); err == nil {
			config.Client.Quality = q
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// LoadEnv loads .env style files into the process environment. Missing files
// are ignored; variables already set are not overwritten.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("FOODLENS_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}
