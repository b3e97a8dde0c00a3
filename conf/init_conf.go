package conf

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config application configuration structure
type Config struct {
	// HTTP port
	Port string

	// Database configuration
	Database DatabaseConfig

	// Storage configuration
	Storage StorageConfig

	// Redis configuration
	Redis RedisConfig

	// Uploader configuration
	Uploader UploaderConfig

	// Packager configuration
	Packager PackagerConfig

	// Fingerprint configuration
	Fingerprint FingerprintConfig

	// Log configuration
	Log LogConfig
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	Type         string // Database type: memory, mysql, pebble
	Dsn          string // MySQL DSN
	MaxOpenConns int    // MySQL max open connections
	MaxIdleConns int    // MySQL max idle connections
	DataDir      string // PebbleDB data directory
}

// StorageConfig storage configuration
type StorageConfig struct {
	Type  string
	Local LocalStorageConfig
	OSS   OSSStorageConfig
	S3    S3StorageConfig
	MinIO MinIOStorageConfig
}

// LocalStorageConfig local storage configuration
type LocalStorageConfig struct {
	BasePath string
}

// OSSStorageConfig OSS storage configuration
type OSSStorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// S3StorageConfig AWS S3 storage configuration
type S3StorageConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Endpoint  string // Optional custom endpoint
}

// MinIOStorageConfig MinIO storage configuration
type MinIOStorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// RedisConfig redis configuration
type RedisConfig struct {
	Enabled  bool   // Enable Redis cache and progress pub/sub
	Host     string // Redis host
	Port     int    // Redis port
	Password string // Redis password (optional)
	DB       int    // Redis database number
	CacheTTL int    // Cache TTL in seconds (default: 300)
}

// UploaderConfig chunked upload configuration
type UploaderConfig struct {
	MaxFileSize     int64  // Max bundle size in MB
	ChunkSize       int64  // Default chunk size in bytes
	MaxChunkSize    int64  // Largest chunk size a session may ask for, in bytes
	SessionTTLHours int    // Upload session lifetime
	CleanupCron     string // Cron spec (with seconds) for expired session sweep
}

// PlatformConfig per-platform packager configuration
type PlatformConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Command         string   `mapstructure:"command"`          // External build tool executable
	Args            []string `mapstructure:"args"`             // Arguments, {workingPath} {outputPath} {appName} {appVersion} {logoPath} are expanded
	TimeoutMinutes  int      `mapstructure:"timeout_minutes"`  // Subprocess timeout
	Dependencies    []string `mapstructure:"dependencies"`     // Tools checked by health check
	HealthThreshold float64  `mapstructure:"health_threshold"` // Minimum health score to offer the packager
	RemoteURL       string   `mapstructure:"remote_url"`       // Delegate builds to a remote agent when set
	ArtifactGlobs   []string `mapstructure:"artifact_globs"`   // Globs under the output dir that count as artifacts
}

// PackagerConfig orchestration configuration
type PackagerConfig struct {
	TempRoot       string
	MaxConcurrency int
	MaxAutoRetries int
	EventBuffer    int
	MaxExtractSize int64 // Max extracted bundle size in MB
	Platforms      map[string]PlatformConfig
}

// FingerprintConfig fingerprint engine configuration
type FingerprintConfig struct {
	Mode          string // core or full
	CoreFiles     []string
	MaxAssetFiles int
	InstallRoots  []string
	AutoRecord    bool
}

// LogConfig log configuration
type LogConfig struct {
	Level string
}

// Cfg global configuration instance
var Cfg *Config

// InitConfig initialize configuration
func InitConfig() error {
	viper.SetConfigFile(GetYaml())
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("Fatal error config file: %s", err)
	}

	Cfg = &Config{
		Port: viper.GetString("port"),

		Database: DatabaseConfig{
			Type:         viper.GetString("database.type"),
			Dsn:          viper.GetString("database.dsn"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			DataDir:      viper.GetString("database.data_dir"),
		},

		Storage: StorageConfig{
			Type: viper.GetString("storage.type"),
			Local: LocalStorageConfig{
				BasePath: viper.GetString("storage.local.base_path"),
			},
			OSS: OSSStorageConfig{
				Endpoint:  viper.GetString("storage.oss.endpoint"),
				AccessKey: viper.GetString("storage.oss.access_key"),
				SecretKey: viper.GetString("storage.oss.secret_key"),
				Bucket:    viper.GetString("storage.oss.bucket"),
			},
			S3: S3StorageConfig{
				Region:    viper.GetString("storage.s3.region"),
				AccessKey: viper.GetString("storage.s3.access_key"),
				SecretKey: viper.GetString("storage.s3.secret_key"),
				Bucket:    viper.GetString("storage.s3.bucket"),
				Endpoint:  viper.GetString("storage.s3.endpoint"),
			},
			MinIO: MinIOStorageConfig{
				Endpoint:  viper.GetString("storage.minio.endpoint"),
				AccessKey: viper.GetString("storage.minio.access_key"),
				SecretKey: viper.GetString("storage.minio.secret_key"),
				Bucket:    viper.GetString("storage.minio.bucket"),
			},
		},

		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetInt("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			CacheTTL: viper.GetInt("redis.cache_ttl"),
		},

		Uploader: UploaderConfig{
			MaxFileSize:     viper.GetInt64("uploader.max_file_size"),
			ChunkSize:       viper.GetInt64("uploader.chunk_size"),
			MaxChunkSize:    viper.GetInt64("uploader.max_chunk_size"),
			SessionTTLHours: viper.GetInt("uploader.session_ttl_hours"),
			CleanupCron:     viper.GetString("uploader.cleanup_cron"),
		},

		Packager: PackagerConfig{
			TempRoot:       viper.GetString("packager.temp_root"),
			MaxConcurrency: viper.GetInt("packager.max_concurrency"),
			MaxAutoRetries: viper.GetInt("packager.max_auto_retries"),
			EventBuffer:    viper.GetInt("packager.event_buffer"),
			MaxExtractSize: viper.GetInt64("packager.max_extract_size"),
		},

		Fingerprint: FingerprintConfig{
			Mode:          viper.GetString("fingerprint.mode"),
			CoreFiles:     viper.GetStringSlice("fingerprint.core_files"),
			MaxAssetFiles: viper.GetInt("fingerprint.max_asset_files"),
			InstallRoots:  viper.GetStringSlice("fingerprint.install_roots"),
			AutoRecord:    viper.GetBool("fingerprint.auto_record"),
		},

		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
	}

	// auto_record defaults to true when the key is absent
	if !viper.IsSet("fingerprint.auto_record") {
		Cfg.Fingerprint.AutoRecord = true
	}

	var platforms map[string]PlatformConfig
	if err := viper.UnmarshalKey("packager.platforms", &platforms); err != nil {
		return fmt.Errorf("failed to parse packager.platforms: %w", err)
	}
	Cfg.Packager.Platforms = platforms

	Cfg.ApplyDefaults()
	return nil
}

// NewDefaultConfig returns a configuration with every default applied
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Fingerprint.AutoRecord = true
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with defaults
func (c *Config) ApplyDefaults() {
	if c.Port == "" {
		c.Port = "7290"
	}

	if c.Database.Type == "" {
		c.Database.Type = "memory"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.DataDir == "" {
		c.Database.DataDir = "./data/db"
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}
	if c.Storage.Local.BasePath == "" {
		c.Storage.Local.BasePath = "./data/files"
	}

	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 300
	}

	if c.Uploader.MaxFileSize == 0 {
		c.Uploader.MaxFileSize = 2048
	}
	if c.Uploader.ChunkSize == 0 {
		c.Uploader.ChunkSize = 5 * 1024 * 1024
	}
	if c.Uploader.MaxChunkSize == 0 {
		c.Uploader.MaxChunkSize = 64 * 1024 * 1024
	}
	if c.Uploader.SessionTTLHours == 0 {
		c.Uploader.SessionTTLHours = 24
	}
	if c.Uploader.CleanupCron == "" {
		c.Uploader.CleanupCron = "0 */10 * * * *"
	}

	if c.Packager.TempRoot == "" {
		c.Packager.TempRoot = "./data/tmp"
	}
	if c.Packager.MaxConcurrency == 0 {
		c.Packager.MaxConcurrency = 2
	}
	if c.Packager.MaxAutoRetries == 0 {
		c.Packager.MaxAutoRetries = 2
	}
	if c.Packager.EventBuffer == 0 {
		c.Packager.EventBuffer = 256
	}
	if c.Packager.MaxExtractSize == 0 {
		c.Packager.MaxExtractSize = 4096
	}
	if c.Packager.Platforms == nil {
		c.Packager.Platforms = map[string]PlatformConfig{}
	}
	for name, def := range defaultPlatforms() {
		pc, ok := c.Packager.Platforms[name]
		if !ok {
			c.Packager.Platforms[name] = def
			continue
		}
		c.Packager.Platforms[name] = mergePlatformDefaults(pc, def)
	}

	if c.Fingerprint.Mode == "" {
		c.Fingerprint.Mode = "core"
	}
	if len(c.Fingerprint.CoreFiles) == 0 {
		c.Fingerprint.CoreFiles = []string{
			"index.html", "manifest.json", "package.json", "main.js", "app.js",
			"favicon.ico", "logo.png", "icon.png", "service-worker.js", "sw.js",
		}
	}
	if c.Fingerprint.MaxAssetFiles == 0 {
		c.Fingerprint.MaxAssetFiles = 20
	}
	if len(c.Fingerprint.InstallRoots) == 0 {
		c.Fingerprint.InstallRoots = []string{"./data/installs"}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// mergePlatformDefaults keeps configured values and fills the rest from def.
// Enabled is taken as configured.
func mergePlatformDefaults(pc, def PlatformConfig) PlatformConfig {
	if pc.Command == "" {
		pc.Command = def.Command
		if len(pc.Args) == 0 {
			pc.Args = def.Args
		}
	}
	if pc.TimeoutMinutes == 0 {
		pc.TimeoutMinutes = def.TimeoutMinutes
	}
	if pc.Dependencies == nil {
		pc.Dependencies = def.Dependencies
	}
	if pc.HealthThreshold == 0 {
		pc.HealthThreshold = def.HealthThreshold
	}
	if len(pc.ArtifactGlobs) == 0 {
		pc.ArtifactGlobs = def.ArtifactGlobs
	}
	return pc
}

func defaultPlatforms() map[string]PlatformConfig {
	electron := func(flag string, globs ...string) PlatformConfig {
		return PlatformConfig{
			Enabled: true,
			Command: "npx",
			Args: []string{
				"electron-builder", flag, "--projectDir", "{workingPath}",
				"-c.directories.output={outputPath}", "--publish", "never",
			},
			TimeoutMinutes:  30,
			Dependencies:    []string{"node", "npx"},
			HealthThreshold: 0.6,
			ArtifactGlobs:   globs,
		}
	}

	return map[string]PlatformConfig{
		"windows": electron("--win", "*.exe", "*.msi", "*.zip"),
		"macos":   electron("--mac", "*.dmg", "*.pkg", "*.zip"),
		"linux":   electron("--linux", "*.AppImage", "*.deb", "*.rpm", "*.tar.gz"),
		"android": {
			Enabled:         true,
			Command:         "npx",
			Args:            []string{"cap", "build", "android", "--androidreleasetype", "APK"},
			TimeoutMinutes:  45,
			Dependencies:    []string{"node", "npx", "java"},
			HealthThreshold: 0.6,
			ArtifactGlobs:   []string{"*.apk", "*.aab"},
		},
		"pwa": {
			Enabled:         true,
			TimeoutMinutes:  10,
			Dependencies:    []string{},
			HealthThreshold: 0.6,
			ArtifactGlobs:   []string{"*.zip"},
		},
	}
}
