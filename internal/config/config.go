package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jweiland-net/bynder2/internal/cache"
	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/logger"
	"github.com/jweiland-net/bynder2/internal/retry"
)

// Config represents the complete configuration for bynder2
type Config struct {
	// DataDir holds the history database, lock files, pid file and tokens
	DataDir string `mapstructure:"data_dir"`

	// Storages are the configured Bynder libraries
	Storages []StorageConfig `mapstructure:"storages"`

	HTTP        HTTPConfig        `mapstructure:"http"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Index       IndexConfig       `mapstructure:"index"`
	FileBrowser FileBrowserConfig `mapstructure:"file_browser"`
	Log         LogConfig         `mapstructure:"log"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
}

// StorageConfig is one storage as written in the config file. Either
// permanent_token or the OAuth2 application credentials must be set.
type StorageConfig struct {
	UID              int    `mapstructure:"uid"`
	Name             string `mapstructure:"name"`
	URL              string `mapstructure:"url"`
	PermanentToken   string `mapstructure:"permanent_token"`
	ClientID         string `mapstructure:"client_id"`
	ClientSecret     string `mapstructure:"client_secret"`
	RedirectCallback string `mapstructure:"redirect_callback"`
	TokenPath        string `mapstructure:"token_path"`
}

// HTTPConfig configures the API client
type HTTPConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
}

// CacheConfig selects and configures the cache backend
type CacheConfig struct {
	Backend  string        `mapstructure:"backend"`
	Path     string        `mapstructure:"path"`
	Lifetime time.Duration `mapstructure:"lifetime"`
	Redis    RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the redis cache backend
type RedisConfig struct {
	Address string `mapstructure:"address"`
	DB      int    `mapstructure:"db"`
	Prefix  string `mapstructure:"prefix"`
}

// IndexConfig locates the local file index
type IndexConfig struct {
	Path string `mapstructure:"path"`
}

// FileBrowserConfig configures the file browser view
type FileBrowserConfig struct {
	NumberOfFiles int `mapstructure:"number_of_files"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	Output string        `mapstructure:"output"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotating log file
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// GatewayConfig configures the HTTP gateway started by serve
type GatewayConfig struct {
	Address      string        `mapstructure:"address"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

// Resolve turns the entry into a storage with its token variant chosen.
func (s StorageConfig) Resolve() (domain.Storage, error) {
	host := domain.NormalizeHost(s.URL)
	token, err := domain.ResolveToken(host, s.PermanentToken, domain.OAuthToken{
		ClientID:         s.ClientID,
		ClientSecret:     s.ClientSecret,
		RedirectCallback: s.RedirectCallback,
		TokenPath:        ExpandPath(s.TokenPath),
	})
	if err != nil {
		return domain.Storage{}, fmt.Errorf("storage %d: %w", s.UID, err)
	}
	return domain.Storage{UID: s.UID, Name: s.Name, Host: host, Token: token}, nil
}

// Validate checks the parts of the configuration every command depends on.
// Storage credentials are checked per storage by ResolveStorages.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir cannot be empty", domain.ErrConfigInvalid)
	}

	uids := make(map[int]bool)
	for _, s := range c.Storages {
		if s.UID <= 0 {
			return fmt.Errorf("%w: storage uid must be positive, got %d", domain.ErrConfigInvalid, s.UID)
		}
		if uids[s.UID] {
			return fmt.Errorf("%w: duplicate storage uid: %d", domain.ErrConfigInvalid, s.UID)
		}
		uids[s.UID] = true
	}

	if c.HTTP.ConnectTimeout <= 0 || c.HTTP.Timeout <= 0 {
		return fmt.Errorf("%w: http timeouts must be positive", domain.ErrConfigInvalid)
	}
	if c.HTTP.RetryAttempts < 1 {
		return fmt.Errorf("%w: http.retry_attempts must be at least 1", domain.ErrConfigInvalid)
	}

	kind := cache.Kind(c.Cache.Backend)
	if !kind.IsValid() {
		return fmt.Errorf("%w: invalid cache backend: %s", domain.ErrConfigInvalid, c.Cache.Backend)
	}
	if kind == cache.KindRedis && c.Cache.Redis.Address == "" {
		return fmt.Errorf("%w: cache.redis.address is required for the redis backend", domain.ErrConfigInvalid)
	}
	if c.Cache.Lifetime <= 0 {
		return fmt.Errorf("%w: cache.lifetime must be positive", domain.ErrConfigInvalid)
	}

	if c.Gateway.SyncInterval < 0 {
		return fmt.Errorf("%w: gateway.sync_interval cannot be negative", domain.ErrConfigInvalid)
	}

	return nil
}

// ResolveStorages returns every storage whose credentials are usable.
// Storages with an invalid token configuration are skipped with a log line.
func (c *Config) ResolveStorages(log logger.Logger) []domain.Storage {
	log = logger.OrNull(log)
	storages := make([]domain.Storage, 0, len(c.Storages))
	for _, sc := range c.Storages {
		s, err := sc.Resolve()
		if err != nil {
			log.Warn("Skipping storage with invalid configuration", "storage", sc.UID, "error", err)
			continue
		}
		storages = append(storages, s)
	}
	return storages
}

// GetStorage returns the configured storage with the given uid
func (c *Config) GetStorage(uid int) (domain.Storage, error) {
	for _, s := range c.Storages {
		if s.UID == uid {
			return s.Resolve()
		}
	}
	return domain.Storage{}, fmt.Errorf("%w: %d", domain.ErrStorageNotFound, uid)
}

// CacheOptions returns the backend options. File backends default to a
// file in the data directory.
func (c *Config) CacheOptions() cache.Options {
	kind := cache.Kind(c.Cache.Backend)
	path := ExpandPath(c.Cache.Path)
	if c.Cache.Path == "" {
		switch kind {
		case cache.KindSQLite:
			path = filepath.Join(c.DataDir, "cache.db")
		case cache.KindBolt:
			path = filepath.Join(c.DataDir, "cache.bolt")
		}
	}
	return cache.Options{
		Kind:         kind,
		Path:         path,
		RedisAddress: c.Cache.Redis.Address,
		RedisDB:      c.Cache.Redis.DB,
		RedisPrefix:  c.Cache.Redis.Prefix,
	}
}

// IndexPath returns the location of the local file index
func (c *Config) IndexPath() string {
	if c.Index.Path == "" {
		return filepath.Join(c.DataDir, "index.db")
	}
	return ExpandPath(c.Index.Path)
}

// RetryConfig returns the backoff settings of API requests
func (c *Config) RetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = c.HTTP.RetryAttempts
	return cfg
}

// LoggerConfig converts the log section into a logger configuration
func (c *Config) LoggerConfig() logger.Config {
	lc := logger.Config{
		Level:  logger.ParseLevel(c.Log.Level),
		Format: logger.ParseFormat(c.Log.Format),
	}

	output := logger.ParseOutput(c.Log.Output)
	if output == logger.OutputFile {
		path := c.Log.File.Path
		if path == "" {
			path = filepath.Join(c.DataDir, "logs", "bynder2.log")
		}
		lc.Outputs = []logger.OutputConfig{{Type: logger.OutputFile}}
		lc.File = logger.FileConfig{
			Enabled:    true,
			Path:       ExpandPath(path),
			MaxSizeMB:  c.Log.File.MaxSizeMB,
			MaxAgeDays: c.Log.File.MaxAgeDays,
			MaxBackups: c.Log.File.MaxBackups,
			Compress:   c.Log.File.Compress,
		}
	} else {
		lc.Outputs = []logger.OutputConfig{{Type: output}}
	}
	return lc
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
