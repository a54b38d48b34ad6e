// Package config provides application configuration loaded from defaults,
// an optional YAML file and environment variables, in that order of
// precedence. The resulting Config is a value object handed to constructors;
// nothing else in the module reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `yaml:"enable_hsts"`
	HSTSMaxAge time.Duration `yaml:"hsts_max_age"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `yaml:"enabled"`      // OTEL_ENABLED
	Endpoint    string  `yaml:"endpoint"`     // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    `yaml:"insecure"`     // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  `yaml:"service_name"` // OTEL_SERVICE_NAME
	SampleRatio float64 `yaml:"sample_ratio"` // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ServerConfig is the read-only status server.
type ServerConfig struct {
	Enabled           bool          `yaml:"enabled"` // run alongside a processing run
	Port              string        `yaml:"port"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
	GinMode           string        `yaml:"gin_mode"` // debug|release|test
	SwaggerEnabled    bool          `yaml:"swagger_enabled"`
	APIBasePath       string        `yaml:"api_base_path"`

	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`

	CORS     CORSConfig     `yaml:"cors"`
	Security SecurityConfig `yaml:"security"`
}

// IdentifyConfig selects and configures the vision backend.
type IdentifyConfig struct {
	Provider        string        `yaml:"provider"` // openai|gemini
	OpenAIKey       string        `yaml:"openai_api_key"`
	OpenAIModel     string        `yaml:"openai_model"`
	MaxTokens       int           `yaml:"max_tokens"`
	GeminiKey       string        `yaml:"gemini_api_key"`
	GeminiModel     string        `yaml:"gemini_model"`
	FrameTimestamps []int         `yaml:"frame_timestamps"` // seconds
	VideoQuality    string        `yaml:"video_quality"`
	YtdlpPath       string        `yaml:"ytdlp_path"`
	FFmpegPath      string        `yaml:"ffmpeg_path"`
	FrameTimeout    time.Duration `yaml:"frame_timeout"`
	BossListDir     string        `yaml:"boss_list_dir"`
}

// YouTubeConfig holds OAuth file locations and the audit spreadsheet.
type YouTubeConfig struct {
	ClientSecretPath string `yaml:"client_secret_path"`
	TokenPath        string `yaml:"token_path"`
	SpreadsheetID    string `yaml:"spreadsheet_id"`
	SpreadsheetName  string `yaml:"spreadsheet_name"`
	PlaylistPrivacy  string `yaml:"playlist_privacy"`
}

// RetryConfig is the shared backoff policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CacheConfig controls the identification cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Expiry  time.Duration `yaml:"expiry"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Logging
	LogLevel  string `yaml:"log_level"`  // debug|info|warn|error|fatal|panic
	LogPretty bool   `yaml:"log_pretty"` // console logs instead of JSON

	// Storage
	DBPath string `yaml:"db_path"`

	// Pipeline
	Workers          int           `yaml:"workers"`
	RateLimitDelay   time.Duration `yaml:"rate_limit_delay"`
	MaxVideoAttempts int           `yaml:"max_video_attempts"`
	TitlePattern     string        `yaml:"title_pattern"`
	SoulslikeGames   []string      `yaml:"soulslike_games"`
	RAWGKey          string        `yaml:"rawg_api_key"`

	Identify IdentifyConfig `yaml:"identify"`
	YouTube  YouTubeConfig  `yaml:"youtube"`
	Retry    RetryConfig    `yaml:"retry"`
	Cache    CacheConfig    `yaml:"cache"`
	Server   ServerConfig   `yaml:"server"`
	OTEL     OTELConfig     `yaml:"otel"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		DBPath:   "boss_titles.db",

		Workers:          1,
		RateLimitDelay:   2 * time.Second,
		MaxVideoAttempts: 3,

		Identify: IdentifyConfig{
			Provider:        "openai",
			OpenAIModel:     "gpt-4o",
			MaxTokens:       100,
			GeminiModel:     "gemini-2.0-flash",
			FrameTimestamps: []int{10, 20, 30, 45, 60},
			VideoQuality:    "worst[ext=mp4]",
			YtdlpPath:       "yt-dlp",
			FFmpegPath:      "ffmpeg",
			FrameTimeout:    10 * time.Second,
			BossListDir:     "boss_lists",
		},
		YouTube: YouTubeConfig{
			ClientSecretPath: "client_secret.json",
			TokenPath:        "token.json",
			SpreadsheetName:  "PS5 Boss Title Updates",
			PlaylistPrivacy:  "public",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Expiry:  30 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Port:              "8080",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      20 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
			GinMode:           "release",
			APIBasePath:       "/api/v1",
			RateRPS:           5.0,
			RateBurst:         10,
			Security: SecurityConfig{
				HSTSMaxAge: 180 * 24 * time.Hour,
			},
		},
		OTEL: OTELConfig{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			ServiceName: "boss-title-updater",
			SampleRatio: 1.0,
		},
	}
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load builds the configuration: defaults, then the YAML file at path (or
// CONFIG_FILE when path is empty; no file is fine), then environment
// variables. The result is normalized and validated.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)

	// --- normalization ---
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.Server.GinMode = strings.ToLower(cfg.Server.GinMode)
	switch cfg.Server.GinMode {
	case "debug", "release", "test":
	default:
		cfg.Server.GinMode = "release"
	}
	cfg.Server.APIBasePath = normalizeBasePath(cfg.Server.APIBasePath)
	cfg.Identify.Provider = strings.ToLower(strings.TrimSpace(cfg.Identify.Provider))

	return cfg, cfg.Validate()
}

func loadYAML(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables; every getter falls back to the
// value already in cfg.
func applyEnv(cfg *Config) {
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getbool("LOG_PRETTY", cfg.LogPretty)
	cfg.DBPath = getenv("DB_PATH", cfg.DBPath)

	cfg.Workers = getint("WORKERS", cfg.Workers)
	cfg.RateLimitDelay = getdur("RATE_LIMIT_DELAY", cfg.RateLimitDelay)
	cfg.MaxVideoAttempts = getint("MAX_VIDEO_ATTEMPTS", cfg.MaxVideoAttempts)
	cfg.TitlePattern = getenv("TITLE_PATTERN", cfg.TitlePattern)
	if v := splitCSV(getenv("SOULSLIKE_GAMES", "")); v != nil {
		cfg.SoulslikeGames = v
	}
	cfg.RAWGKey = getenv("RAWG_API_KEY", cfg.RAWGKey)

	id := &cfg.Identify
	id.Provider = getenv("IDENTIFY_PROVIDER", id.Provider)
	id.OpenAIKey = getenv("OPENAI_API_KEY", id.OpenAIKey)
	id.OpenAIModel = getenv("OPENAI_MODEL", id.OpenAIModel)
	id.MaxTokens = getint("OPENAI_MAX_TOKENS", id.MaxTokens)
	id.GeminiKey = getenv("GEMINI_API_KEY", id.GeminiKey)
	id.GeminiModel = getenv("GEMINI_MODEL", id.GeminiModel)
	if v := getenv("FRAME_TIMESTAMPS", ""); v != "" {
		id.FrameTimestamps = parseInts(v)
	}
	id.VideoQuality = getenv("VIDEO_QUALITY", id.VideoQuality)
	id.YtdlpPath = getenv("YTDLP_PATH", id.YtdlpPath)
	id.FFmpegPath = getenv("FFMPEG_PATH", id.FFmpegPath)
	id.FrameTimeout = getdur("FRAME_TIMEOUT", id.FrameTimeout)
	id.BossListDir = getenv("BOSS_LIST_DIR", id.BossListDir)

	yt := &cfg.YouTube
	yt.ClientSecretPath = getenv("YOUTUBE_CLIENT_SECRET", yt.ClientSecretPath)
	yt.TokenPath = getenv("YOUTUBE_TOKEN_PATH", yt.TokenPath)
	yt.SpreadsheetID = getenv("SPREADSHEET_ID", yt.SpreadsheetID)
	yt.SpreadsheetName = getenv("SPREADSHEET_NAME", yt.SpreadsheetName)
	yt.PlaylistPrivacy = getenv("PLAYLIST_PRIVACY", yt.PlaylistPrivacy)

	cfg.Retry.MaxAttempts = getint("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.BaseDelay = getdur("RETRY_BASE_DELAY", cfg.Retry.BaseDelay)
	cfg.Retry.MaxDelay = getdur("RETRY_MAX_DELAY", cfg.Retry.MaxDelay)

	cfg.Cache.Enabled = getbool("CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.Expiry = getdur("CACHE_EXPIRY", cfg.Cache.Expiry)

	s := &cfg.Server
	s.Enabled = getbool("STATUS_SERVER_ENABLED", s.Enabled)
	s.Port = getenv("PORT", s.Port)
	s.ReadTimeout = getdur("READ_TIMEOUT", s.ReadTimeout)
	s.ReadHeaderTimeout = getdur("READ_HEADER_TIMEOUT", s.ReadHeaderTimeout)
	s.WriteTimeout = getdur("WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getdur("IDLE_TIMEOUT", s.IdleTimeout)
	s.MaxHeaderBytes = getint("MAX_HEADER_BYTES", s.MaxHeaderBytes)
	s.GinMode = getenv("GIN_MODE", s.GinMode)
	s.SwaggerEnabled = getbool("SWAGGER_ENABLED", s.SwaggerEnabled)
	s.APIBasePath = getenv("API_BASE_PATH", s.APIBasePath)
	s.RateRPS = getfloat("RATE_RPS", s.RateRPS)
	s.RateBurst = getint("RATE_BURST", s.RateBurst)
	if v := splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")); v != nil {
		s.CORS.AllowedOrigins = v
	}
	s.Security.EnableHSTS = getbool("ENABLE_HSTS", s.Security.EnableHSTS)
	s.Security.HSTSMaxAge = getdur("HSTS_MAX_AGE", s.Security.HSTSMaxAge)

	o := &cfg.OTEL
	o.Enabled = getbool("OTEL_ENABLED", o.Enabled)
	o.Endpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT", o.Endpoint)
	o.Insecure = getbool("OTEL_EXPORTER_OTLP_INSECURE", o.Insecure)
	o.ServiceName = getenv("OTEL_SERVICE_NAME", o.ServiceName)
	o.SampleRatio = getfloat("OTEL_TRACES_SAMPLER_ARG", o.SampleRatio)
}

// Validate checks settings every command needs. Credentials are checked
// separately by ValidateForRun.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if cfg.Workers < 1 {
		return errors.New("WORKERS must be >= 1")
	}
	if cfg.RateLimitDelay < 0 {
		return errors.New("RATE_LIMIT_DELAY must be >= 0")
	}
	if cfg.MaxVideoAttempts < 1 {
		return errors.New("MAX_VIDEO_ATTEMPTS must be >= 1")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Retry.BaseDelay <= 0 || cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return errors.New("RETRY_BASE_DELAY must be > 0 and <= RETRY_MAX_DELAY")
	}
	if cfg.Cache.Expiry <= 0 {
		return errors.New("CACHE_EXPIRY must be > 0")
	}
	if len(cfg.Identify.FrameTimestamps) == 0 {
		return errors.New("FRAME_TIMESTAMPS must list at least one offset")
	}
	for _, ts := range cfg.Identify.FrameTimestamps {
		if ts < 0 {
			return errors.New("FRAME_TIMESTAMPS must be non-negative seconds")
		}
	}
	switch cfg.Identify.Provider {
	case "openai", "gemini":
	default:
		return errors.New("IDENTIFY_PROVIDER must be openai or gemini")
	}
	if strings.TrimSpace(cfg.Server.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	s := cfg.Server
	if s.ReadTimeout <= 0 || s.ReadHeaderTimeout <= 0 || s.WriteTimeout <= 0 || s.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if s.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if s.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if s.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if s.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// ErrMissingAPIKey means the selected vision provider has no key.
var ErrMissingAPIKey = errors.New("identification API key missing")

// ValidateForRun checks what a processing run needs beyond Validate.
func (cfg Config) ValidateForRun() error {
	switch cfg.Identify.Provider {
	case "gemini":
		if strings.TrimSpace(cfg.Identify.GeminiKey) == "" {
			return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
		}
	default:
		if strings.TrimSpace(cfg.Identify.OpenAIKey) == "" {
			return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
		}
	}
	return nil
}

// FrameOffsets returns the frame timestamps as durations.
func (cfg Config) FrameOffsets() []time.Duration {
	out := make([]time.Duration, 0, len(cfg.Identify.FrameTimestamps))
	for _, s := range cfg.Identify.FrameTimestamps {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseInts reads a comma-separated list of integers; unparsable items are
// reported as -1 so Validate rejects them.
func parseInts(s string) []int {
	parts := splitCSV(s)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			n = -1
		}
		out = append(out, n)
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
