// Package app holds the start-up steps shared by the server and the import
// command.
package app

import (
	"io"
	"io/fs"
	"os"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"test-asset-service/internal/config"
	"test-asset-service/internal/database"
	"test-asset-service/internal/repository"
)

// DefaultConfigPath is read when neither --config nor CONFIG_FILE is set.
const DefaultConfigPath = "config.toml"

// LoadEnv loads a .env file when one exists. Variables already set win.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "failed to load %s", path)
	}
	return nil
}

// LoadConfig resolves the config path (flag, then CONFIG_FILE) and reads it.
// A missing default file yields the built-in defaults; a missing file that
// was asked for explicitly is an error.
func LoadConfig(flagPath string) (*config.Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
		path = DefaultConfigPath
	}
	return config.LoadConfig(path)
}

// SetupLogging installs the configured apex/log handler and level.
func SetupLogging(cfg config.LogConfig, w io.Writer) error {
	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}

	switch cfg.Format {
	case "", "cli":
		log.SetHandler(cli.New(w))
	case "text":
		log.SetHandler(text.New(w))
	case "json":
		log.SetHandler(json.New(w))
	default:
		return errors.Errorf("unsupported log format: %s", cfg.Format)
	}
	log.SetLevel(level)
	return nil
}

// OpenStore connects, migrates and wraps the database. The returned func
// closes the connection pool.
func OpenStore(cfg *config.Config) (*repository.Store, func() error, error) {
	gormLevel := logger.Warn
	if strings.EqualFold(cfg.Log.Level, "debug") {
		gormLevel = logger.Info
	}

	db, err := database.Open(cfg.Database, &gorm.Config{
		Logger: logger.Default.LogMode(gormLevel),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to access connection pool")
	}
	return repository.NewStore(db), sqlDB.Close, nil
}
