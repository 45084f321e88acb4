package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// Config holds all application configuration
type Config struct {
	// API Configuration
	API APIConfig

	// Per-platform switches and strategy order
	Platforms map[types.Platform]PlatformConfig

	// Upstream scraping configuration
	Instagram InstagramConfig
	TikTok    TikTokConfig

	// Extractor Configuration
	Extractor ExtractorConfig

	// Resolution Configuration
	Resolution ResolutionConfig

	// Cache Configuration
	Cache CacheConfig

	// Delivery Configuration
	Delivery DeliveryConfig

	// Cleanup Configuration
	Cleanup CleanupConfig

	// Rate limiting
	RateLimit RateLimitConfig

	// Logging Configuration
	Logger LoggerConfig
}

// APIConfig holds API server configuration
type APIConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     string
	EnablePprof     bool // Mount /debug/pprof
}

// PlatformConfig holds the behaviour switches of one platform
type PlatformConfig struct {
	EnableServerAPI bool     // Allow /download and /audio for this platform
	Strategies      []string // Ordered strategy names for the resolution chain
	PermanentBlock  bool     // Treat upstream 403 as a permanent refusal
	ToolDelivery    bool     // Deliver via the external tool instead of proxying MediaURL
}

// InstagramConfig holds Instagram request parameters
type InstagramConfig struct {
	PageTimeout    time.Duration
	GraphQLTimeout time.Duration
	Retries        int
	AppID          string
	CSRFToken      string
	LSD            string
	ASBDID         string
	DocID          string
}

// TikTokConfig holds TikTok request parameters
type TikTokConfig struct {
	Mirrors       []string
	MirrorTimeout time.Duration
	PageTimeout   time.Duration
	Retries       int
}

// ExtractorConfig holds extractor tool configuration
type ExtractorConfig struct {
	YtdlpPath       string
	FFmpegPath      string
	InfoTimeout     time.Duration
	DownloadTimeout time.Duration
	FFmpegTimeout   time.Duration
	AutoInstall     bool
	InstallDir      string
	ReleaseAPI      string
	MaxConcurrent   int
	TempDir         string
}

// ResolutionConfig bounds one end-to-end resolution
type ResolutionConfig struct {
	Timeout time.Duration
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	TTL           time.Duration // Lifetime of a resolved record
	SweepInterval time.Duration // How often expired entries are dropped
	RedisEnabled  bool          // Share resolutions between instances
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	Prefix        string // Redis key prefix
}

// DeliveryConfig holds streaming configuration
type DeliveryConfig struct {
	ChunkSize             int
	UpstreamHeaderTimeout time.Duration
	ProxyAllowedHosts     []string
	BlockedRetryAfter     time.Duration
}

// CleanupConfig holds cleanup configuration
type CleanupConfig struct {
	Enabled       bool          // Enable periodic sweeping of the temp dir
	Interval      time.Duration // How often to run cleanup
	PartialMinAge time.Duration // Partial artifacts younger than this may still be in use
	MaxAge        time.Duration // Any temp file older than this is abandoned
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, text
	File       string // optional rotated log file
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Console    bool
}

// DefaultTikTokMirrors are third-party analyzers tried in order
var DefaultTikTokMirrors = []string{
	"https://api.tiklydown.eu.org/api/analyze?url=",
	"https://tiklydown.eu.org/api/analyze?url=",
	"https://api.tikdown.org/api/analyze?url=",
	"https://tikdown.org/api/analyze?url=",
	"https://api.tiklydown.com/api/analyze?url=",
	"https://tiklydown.com/api/analyze?url=",
}

// DefaultProxyAllowedHosts are CDN host suffixes /download may proxy directly
var DefaultProxyAllowedHosts = []string{
	"cdninstagram.com",
	"fbcdn.net",
	"tiktokcdn.com",
	"tiktokcdn-us.com",
	"tiktokv.com",
	"byteoversea.com",
	"googlevideo.com",
}

var defaultStrategies = map[types.Platform]string{
	types.PlatformInstagram: "instagram.page,instagram.graphql",
	types.PlatformTikTok:    "tiktok.mirror,tiktok.page_state,tiktok.html_scan,tiktok.open_graph",
	types.PlatformYouTube:   "youtube.tool",
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	tempDir := getEnv("TEMP_DIR", filepath.Join(os.TempDir(), "reelgrab"))

	cfg := &Config{
		API: APIConfig{
			Port:            getEnvInt("API_PORT", 8080),
			Host:            getEnv("API_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvDuration("API_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("API_WRITE_TIMEOUT", 10*time.Minute), // streams can be long
			ShutdownTimeout: getEnvDuration("API_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
			EnablePprof:     getEnvBool("ENABLE_PPROF", false),
		},
		Platforms: make(map[types.Platform]PlatformConfig, len(types.Platforms)),
		Instagram: InstagramConfig{
			PageTimeout:    getEnvDuration("INSTAGRAM_PAGE_TIMEOUT", 15*time.Second),
			GraphQLTimeout: getEnvDuration("INSTAGRAM_GRAPHQL_TIMEOUT", 20*time.Second),
			Retries:        getEnvInt("INSTAGRAM_RETRIES", 2),
			AppID:          getEnv("INSTAGRAM_APP_ID", "1217981644879628"),
			CSRFToken:      getEnv("INSTAGRAM_CSRF_TOKEN", "RVDUooU5MYsBbS1CNN3CzVAuEP8oHB52"),
			LSD:            getEnv("INSTAGRAM_LSD", "AVqbxe3J_YA"),
			ASBDID:         getEnv("INSTAGRAM_ASBD_ID", "129477"),
			DocID:          getEnv("INSTAGRAM_DOC_ID", "8845758582119845"),
		},
		TikTok: TikTokConfig{
			Mirrors:       getEnvList("TIKTOK_MIRRORS", DefaultTikTokMirrors),
			MirrorTimeout: getEnvDuration("TIKTOK_MIRROR_TIMEOUT", 15*time.Second),
			PageTimeout:   getEnvDuration("TIKTOK_PAGE_TIMEOUT", 20*time.Second),
			Retries:       getEnvInt("TIKTOK_RETRIES", 1),
		},
		Extractor: ExtractorConfig{
			YtdlpPath:       getEnv("YTDLP_PATH", "yt-dlp"),
			FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
			InfoTimeout:     getEnvDuration("YTDLP_INFO_TIMEOUT", 60*time.Second),
			DownloadTimeout: getEnvDuration("YTDLP_DOWNLOAD_TIMEOUT", 300*time.Second),
			FFmpegTimeout:   getEnvDuration("FFMPEG_TIMEOUT", 5*time.Minute),
			AutoInstall:     getEnvBool("YTDLP_AUTO_INSTALL", true),
			InstallDir:      getEnv("YTDLP_INSTALL_DIR", filepath.Join(tempDir, "bin")),
			ReleaseAPI:      getEnv("YTDLP_RELEASE_API", "https://api.github.com/repos/yt-dlp/yt-dlp/releases/latest"),
			MaxConcurrent:   getEnvInt("YTDLP_MAX_CONCURRENT", 4),
			TempDir:         tempDir,
		},
		Resolution: ResolutionConfig{
			Timeout: getEnvDuration("RESOLVE_TIMEOUT", 90*time.Second),
		},
		Cache: CacheConfig{
			TTL:           getEnvDuration("CACHE_TTL", 5*time.Minute),
			SweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", time.Minute),
			RedisEnabled:  getEnvBool("CACHE_REDIS_ENABLED", false),
			RedisAddress:  getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 1),
			Prefix:        getEnv("CACHE_PREFIX", "reelgrab:"),
		},
		Delivery: DeliveryConfig{
			ChunkSize:             getEnvInt("DELIVERY_CHUNK_SIZE", 256*1024),
			UpstreamHeaderTimeout: getEnvDuration("DELIVERY_UPSTREAM_TIMEOUT", 60*time.Second),
			ProxyAllowedHosts:     getEnvList("PROXY_ALLOWED_HOSTS", DefaultProxyAllowedHosts),
			BlockedRetryAfter:     getEnvDuration("BLOCKED_RETRY_AFTER", time.Minute),
		},
		Cleanup: CleanupConfig{
			Enabled:       getEnvBool("CLEANUP_ENABLED", true),
			Interval:      getEnvDuration("CLEANUP_INTERVAL", 15*time.Minute),
			PartialMinAge: getEnvDuration("CLEANUP_PARTIAL_MIN_AGE", 10*time.Minute),
			MaxAge:        getEnvDuration("CLEANUP_MAX_AGE", time.Hour),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 60),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Logger: LoggerConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
			Console:    getEnvBool("LOG_CONSOLE", true),
		},
	}

	for _, p := range types.Platforms {
		cfg.Platforms[p] = loadPlatform(p)
	}

	// Validate critical configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadPlatform(p types.Platform) PlatformConfig {
	prefix := "PLATFORM_" + strings.ToUpper(string(p)) + "_"
	return PlatformConfig{
		EnableServerAPI: getEnvBool(prefix+"ENABLED", true),
		Strategies:      getEnvList(prefix+"STRATEGIES", strings.Split(defaultStrategies[p], ",")),
		PermanentBlock:  getEnvBool(prefix+"PERMANENT_BLOCK", p == types.PlatformYouTube),
		ToolDelivery:    getEnvBool(prefix+"TOOL_DELIVERY", p == types.PlatformYouTube),
	}
}

// Platform returns the configuration of p; unknown platforms are disabled
func (c *Config) Platform(p types.Platform) PlatformConfig {
	return c.Platforms[p]
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("API_PORT must be between 1 and 65535, got %d", c.API.Port)
	}

	if c.Extractor.YtdlpPath == "" {
		return fmt.Errorf("YTDLP_PATH is required")
	}

	if c.Extractor.InfoTimeout <= 0 || c.Extractor.DownloadTimeout <= 0 {
		return fmt.Errorf("YTDLP_INFO_TIMEOUT and YTDLP_DOWNLOAD_TIMEOUT must be positive")
	}

	if c.Extractor.MaxConcurrent < 1 {
		return fmt.Errorf("YTDLP_MAX_CONCURRENT must be >= 1")
	}

	if c.Delivery.ChunkSize < 4*1024 {
		return fmt.Errorf("DELIVERY_CHUNK_SIZE must be at least 4096, got %d", c.Delivery.ChunkSize)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}

	if c.Resolution.Timeout <= 0 {
		return fmt.Errorf("RESOLVE_TIMEOUT must be positive")
	}

	for p, pc := range c.Platforms {
		if len(pc.Strategies) == 0 {
			return fmt.Errorf("platform %s has no strategies configured", p)
		}
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
