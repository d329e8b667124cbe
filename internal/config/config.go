package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
)

// Config 服务配置
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Asset    AssetConfig    `toml:"asset"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `toml:"host" default:"0.0.0.0"`
	Port int    `toml:"port" default:"8080"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type         string `toml:"type" default:"sqlite"` // sqlite, sqlite-nocgo, mysql, postgres
	DSN          string `toml:"dsn" default:"./data/test_assets.db"`
	MaxOpenConns int    `toml:"max_open_conns" default:"0"`
}

// AssetConfig 测试资产引擎配置
type AssetConfig struct {
	// PathSeparator joins ancestor names in a module's materialized path.
	PathSeparator string `toml:"path_separator" default:"/"`
	// MaxDepth bounds the module tree depth; 0 disables the check.
	MaxDepth int `toml:"max_depth" default:"10"`
	// CaseIDMaxRetries bounds retries when two callers race for the same case identifier.
	CaseIDMaxRetries int `toml:"case_id_max_retries" default:"5"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `toml:"level" default:"info"`
	Format string `toml:"format" default:"cli"` // cli, text, json
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var config Config
	if err := defaults.Set(&config); err != nil {
		// defaults.Set only fails on malformed tags.
		panic(err)
	}
	return &config
}

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects values the engine cannot work with.
func (c *Config) Validate() error {
	if c.Asset.PathSeparator == "" {
		return fmt.Errorf("asset.path_separator must not be empty")
	}
	if c.Asset.MaxDepth < 0 {
		return fmt.Errorf("asset.max_depth must not be negative")
	}
	if c.Asset.CaseIDMaxRetries < 1 {
		return fmt.Errorf("asset.case_id_max_retries must be at least 1")
	}
	switch c.Database.Type {
	case "sqlite", "sqlite-nocgo", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	return nil
}

// GetAddr 获取服务器监听地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
