package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	S3        S3Config
	Storage   StorageConfig
	Audio     AudioConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	UploadPerHour int
	ExportPerHour int
}

type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// Configured reports whether enough is set to build the remote backend.
func (c S3Config) Configured() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && c.Bucket != ""
}

type StorageConfig struct {
	LocalDir   string
	PresignTTL time.Duration
}

type AudioConfig struct {
	MaxUploadSize  int64 // bytes
	AllowedFormats []string
	MinDuration    time.Duration
	MaxDuration    time.Duration
}

type PipelineConfig struct {
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	Retention     time.Duration
	SeparationURL string // optional external separation service
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = viper.BindEnv("ratelimit.export_per_hour", "RATELIMIT_EXPORT_PER_HOUR")
	_ = viper.BindEnv("s3.endpoint", "S3_ENDPOINT")
	_ = viper.BindEnv("s3.region", "S3_REGION")
	_ = viper.BindEnv("s3.access_key_id", "S3_ACCESS_KEY_ID")
	_ = viper.BindEnv("s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("s3.bucket", "S3_BUCKET")
	_ = viper.BindEnv("storage.local_dir", "STORAGE_LOCAL_DIR")
	_ = viper.BindEnv("storage.presign_ttl_min", "STORAGE_PRESIGN_TTL_MIN")
	_ = viper.BindEnv("audio.max_upload_size_mb", "AUDIO_MAX_UPLOAD_SIZE_MB")
	_ = viper.BindEnv("audio.min_duration_sec", "AUDIO_MIN_DURATION_SEC")
	_ = viper.BindEnv("audio.max_duration_sec", "AUDIO_MAX_DURATION_SEC")
	_ = viper.BindEnv("pipeline.timeout_sec", "PIPELINE_TIMEOUT_SEC")
	_ = viper.BindEnv("pipeline.max_retries", "PIPELINE_MAX_RETRIES")
	_ = viper.BindEnv("pipeline.retry_delay_sec", "PIPELINE_RETRY_DELAY_SEC")
	_ = viper.BindEnv("pipeline.retention_hours", "PIPELINE_RETENTION_HOURS")
	_ = viper.BindEnv("pipeline.separation_url", "SEPARATION_SERVICE_URL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.upload_per_hour", 50)
	viper.SetDefault("ratelimit.export_per_hour", 100)
	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("storage.local_dir", "./uploads")
	viper.SetDefault("storage.presign_ttl_min", 60)
	viper.SetDefault("audio.max_upload_size_mb", 25)
	viper.SetDefault("audio.allowed_formats", []string{"mp3", "wav", "m4a"})
	viper.SetDefault("audio.min_duration_sec", 5)
	viper.SetDefault("audio.max_duration_sec", 360)
	viper.SetDefault("pipeline.timeout_sec", 300)
	viper.SetDefault("pipeline.max_retries", 3)
	viper.SetDefault("pipeline.retry_delay_sec", 30)
	viper.SetDefault("pipeline.retention_hours", 24)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: viper.GetInt("ratelimit.upload_per_hour"),
			ExportPerHour: viper.GetInt("ratelimit.export_per_hour"),
		},
		S3: S3Config{
			Endpoint:        viper.GetString("s3.endpoint"),
			Region:          viper.GetString("s3.region"),
			AccessKeyID:     viper.GetString("s3.access_key_id"),
			SecretAccessKey: viper.GetString("s3.secret_access_key"),
			Bucket:          viper.GetString("s3.bucket"),
		},
		Storage: StorageConfig{
			LocalDir:   viper.GetString("storage.local_dir"),
			PresignTTL: time.Duration(viper.GetInt("storage.presign_ttl_min")) * time.Minute,
		},
		Audio: AudioConfig{
			MaxUploadSize:  viper.GetInt64("audio.max_upload_size_mb") * 1024 * 1024,
			AllowedFormats: viper.GetStringSlice("audio.allowed_formats"),
			MinDuration:    time.Duration(viper.GetInt("audio.min_duration_sec")) * time.Second,
			MaxDuration:    time.Duration(viper.GetInt("audio.max_duration_sec")) * time.Second,
		},
		Pipeline: PipelineConfig{
			Timeout:       time.Duration(viper.GetInt("pipeline.timeout_sec")) * time.Second,
			MaxRetries:    viper.GetInt("pipeline.max_retries"),
			RetryDelay:    time.Duration(viper.GetInt("pipeline.retry_delay_sec")) * time.Second,
			Retention:     time.Duration(viper.GetInt("pipeline.retention_hours")) * time.Hour,
			SeparationURL: viper.GetString("pipeline.separation_url"),
		},
	}

	return cfg, nil
}
