package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the file Load reads when given an empty path.
var ConfigPath = defaultConfigPath()

func defaultConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("DOCSIGN_CONFIG")); v != "" {
		return v
	}
	return "config.yaml"
}

// FileConfig represents configuration loaded from YAML or TOML.
type FileConfig struct {
	Port     string `yaml:"port" toml:"port"`
	LogLevel string `yaml:"logLevel" toml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL" toml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr" toml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword" toml:"redisPassword"`

	StorageBackend     string `yaml:"storageBackend" toml:"storageBackend"`
	StorageDir         string `yaml:"storageDir" toml:"storageDir"`
	MinioEndpoint      string `yaml:"minioEndpoint" toml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey" toml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey" toml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket" toml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL" toml:"minioUseSSL"`
	MinioPublicBaseURL string `yaml:"minioPublicBaseURL" toml:"minioPublicBaseURL"`

	MaxUploadBytes  int64   `yaml:"maxUploadBytes" toml:"maxUploadBytes"`
	BlobTimeout     string  `yaml:"blobTimeout" toml:"blobTimeout"`
	LockTTL         string  `yaml:"lockTTL" toml:"lockTTL"`
	SignatureScale  float64 `yaml:"signatureScale" toml:"signatureScale"`
	MaxSignatureDim int     `yaml:"maxSignatureDim" toml:"maxSignatureDim"`

	SessionTTL          string `yaml:"sessionTTL" toml:"sessionTTL"`
	JWTPrivateKeyPath   string `yaml:"jwtPrivateKeyPath" toml:"jwtPrivateKeyPath"`
	JWTKeyID            string `yaml:"jwtKeyId" toml:"jwtKeyId"`
	JWTVerifyPublicKeys string `yaml:"jwtVerifyPublicKeys" toml:"jwtVerifyPublicKeys"`
	JWTIssuer           string `yaml:"jwtIssuer" toml:"jwtIssuer"`
	JWTAudience         string `yaml:"jwtAudience" toml:"jwtAudience"`
	JWTLeeway           string `yaml:"jwtLeeway" toml:"jwtLeeway"`

	SessionCookieName   string   `yaml:"sessionCookieName" toml:"sessionCookieName"`
	SessionCookieSecure bool     `yaml:"sessionCookieSecure" toml:"sessionCookieSecure"`
	CORSAllowedOrigins  []string `yaml:"corsAllowedOrigins" toml:"corsAllowedOrigins"`
	TrustedProxyCIDRs   []string `yaml:"trustedProxyCidrs" toml:"trustedProxyCidrs"`

	RegisterRateLimitPerMinute int `yaml:"registerRateLimitPerMinute" toml:"registerRateLimitPerMinute"`
	LoginRateLimitPerMinute    int `yaml:"loginRateLimitPerMinute" toml:"loginRateLimitPerMinute"`
	UploadRateLimitPerMinute   int `yaml:"uploadRateLimitPerMinute" toml:"uploadRateLimitPerMinute"`
	SignRateLimitPerMinute     int `yaml:"signRateLimitPerMinute" toml:"signRateLimitPerMinute"`

	GoogleClientID       string `yaml:"googleClientId" toml:"googleClientId"`
	GoogleClientSecret   string `yaml:"googleClientSecret" toml:"googleClientSecret"`
	GoogleRedirectURL    string `yaml:"googleRedirectURL" toml:"googleRedirectURL"`
	OAuthSuccessRedirect string `yaml:"oauthSuccessRedirect" toml:"oauthSuccessRedirect"`

	AMQPURL      string `yaml:"amqpURL" toml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange" toml:"amqpExchange"`

	CleanupStream      string `yaml:"cleanupStream" toml:"cleanupStream"`
	CleanupConcurrency int    `yaml:"cleanupConcurrency" toml:"cleanupConcurrency"`
}

// Load reads config from path (defaults to ConfigPath). Files ending in
// .toml are parsed as TOML, everything else as YAML.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	list := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	str("DOCSIGN_PORT", &cfg.Port)
	str("DOCSIGN_LOG_LEVEL", &cfg.LogLevel)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)

	str("DOCSIGN_STORAGE_BACKEND", &cfg.StorageBackend)
	str("DOCSIGN_STORAGE_DIR", &cfg.StorageDir)
	str("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	str("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	str("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	str("MINIO_BUCKET", &cfg.MinioBucket)
	boolean("MINIO_USE_SSL", &cfg.MinioUseSSL)
	str("MINIO_PUBLIC_BASE_URL", &cfg.MinioPublicBaseURL)

	if v := os.Getenv("DOCSIGN_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	str("DOCSIGN_BLOB_TIMEOUT", &cfg.BlobTimeout)
	str("DOCSIGN_LOCK_TTL", &cfg.LockTTL)
	if v := os.Getenv("DOCSIGN_SIGNATURE_SCALE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SignatureScale = f
		}
	}
	integer("DOCSIGN_MAX_SIGNATURE_DIM", &cfg.MaxSignatureDim)

	str("DOCSIGN_SESSION_TTL", &cfg.SessionTTL)
	str("JWT_PRIVATE_KEY_PATH", &cfg.JWTPrivateKeyPath)
	str("JWT_KEY_ID", &cfg.JWTKeyID)
	str("JWT_VERIFY_PUBLIC_KEYS", &cfg.JWTVerifyPublicKeys)
	str("JWT_ISSUER", &cfg.JWTIssuer)
	str("JWT_AUDIENCE", &cfg.JWTAudience)
	str("JWT_LEEWAY", &cfg.JWTLeeway)

	str("DOCSIGN_SESSION_COOKIE_NAME", &cfg.SessionCookieName)
	boolean("DOCSIGN_SESSION_COOKIE_SECURE", &cfg.SessionCookieSecure)
	list("DOCSIGN_CORS_ALLOWED_ORIGINS", &cfg.CORSAllowedOrigins)
	list("DOCSIGN_TRUSTED_PROXY_CIDRS", &cfg.TrustedProxyCIDRs)

	integer("DOCSIGN_REGISTER_RATE_LIMIT_PER_MINUTE", &cfg.RegisterRateLimitPerMinute)
	integer("DOCSIGN_LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	integer("DOCSIGN_UPLOAD_RATE_LIMIT_PER_MINUTE", &cfg.UploadRateLimitPerMinute)
	integer("DOCSIGN_SIGN_RATE_LIMIT_PER_MINUTE", &cfg.SignRateLimitPerMinute)

	str("GOOGLE_CLIENT_ID", &cfg.GoogleClientID)
	str("GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret)
	str("GOOGLE_REDIRECT_URL", &cfg.GoogleRedirectURL)
	str("DOCSIGN_OAUTH_SUCCESS_REDIRECT", &cfg.OAuthSuccessRedirect)

	str("AMQP_URL", &cfg.AMQPURL)
	str("AMQP_EXCHANGE", &cfg.AMQPExchange)

	str("DOCSIGN_CLEANUP_STREAM", &cfg.CleanupStream)
	integer("DOCSIGN_CLEANUP_CONCURRENCY", &cfg.CleanupConcurrency)
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "fs"
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if cfg.StorageBackend == "fs" && cfg.StorageDir == "" {
		cfg.StorageDir = "data/uploads"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "docsign_session"
	}
	if cfg.OAuthSuccessRedirect == "" {
		cfg.OAuthSuccessRedirect = "/dashboard"
	}
	if cfg.CleanupConcurrency == 0 {
		cfg.CleanupConcurrency = 1
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL or \"memory\")")
	}
	if cfg.JWTPrivateKeyPath == "" {
		return errors.New("config: jwtPrivateKeyPath is required (set JWT_PRIVATE_KEY_PATH)")
	}
	switch cfg.StorageBackend {
	case "fs":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for the minio storage backend")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q (want fs or minio)", cfg.StorageBackend)
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.SignatureScale < 0 || cfg.MaxSignatureDim < 0 {
		return errors.New("config: signatureScale and maxSignatureDim must be >= 0")
	}
	if cfg.RegisterRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.UploadRateLimitPerMinute < 0 || cfg.SignRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.CleanupConcurrency < 0 {
		return errors.New("config: cleanupConcurrency must be >= 0")
	}
	if (cfg.GoogleClientID == "") != (cfg.GoogleClientSecret == "") {
		return errors.New("config: googleClientId and googleClientSecret must be set together")
	}
	if cfg.GoogleClientID != "" && cfg.GoogleRedirectURL == "" {
		return errors.New("config: googleRedirectURL is required when Google login is enabled")
	}
	for _, name := range []string{"blobTimeout", "lockTTL", "sessionTTL", "jwtLeeway"} {
		if _, err := ParseDuration(name, cfg.durationField(name)); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (cfg FileConfig) durationField(name string) string {
	switch name {
	case "blobTimeout":
		return cfg.BlobTimeout
	case "lockTTL":
		return cfg.LockTTL
	case "sessionTTL":
		return cfg.SessionTTL
	case "jwtLeeway":
		return cfg.JWTLeeway
	}
	return ""
}

// GoogleEnabled reports whether Google login is configured.
func (cfg FileConfig) GoogleEnabled() bool {
	return cfg.GoogleClientID != "" && cfg.GoogleClientSecret != ""
}

// ParseDuration parses an optional duration field; empty means zero.
func ParseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	return ParseDuration("jwtLeeway", leewayStr)
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	pairs := strings.Split(raw, ",")
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, path, ok := strings.Cut(pair, "=")
		kid, path = strings.TrimSpace(kid), strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
