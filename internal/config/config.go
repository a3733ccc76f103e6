package config

import (
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port         string   `env:"PORT" envDefault:"8080"`
	AllowOrigins []string `env:"-"`
	RawOrigins   string   `env:"ALLOW_ORIGINS" envDefault:"*"`

	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	DBMaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBAutoMigrate  bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	APIJWTSecret   string        `env:"API_JWT_SECRET,required,notEmpty"`
	JobTokenSecret string        `env:"JOB_TOKEN_SECRET,required,notEmpty"`
	JobTokenTTL    time.Duration `env:"JOB_TOKEN_TTL" envDefault:"72h"`

	Logto    LogtoConfig
	Identity IdentityConfig
	Import   ImportConfig
	MinIO    MinIOConfig

	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogstashTCPAddr string `env:"LOGSTASH_TCP_ADDR"`

	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	MetricsPath    string `env:"METRICS_PATH" envDefault:"/metrics"`
}

type LogtoConfig struct {
	Endpoint          string        `env:"LOGTO_ENDPOINT,required,notEmpty"`
	AppID             string        `env:"LOGTO_APP_ID,required,notEmpty"`
	AppSecret         string        `env:"LOGTO_APP_SECRET,required,notEmpty"`
	Resource          string        `env:"LOGTO_RESOURCE" envDefault:"https://default.logto.app/api"`
	WebhookSigningKey string        `env:"LOGTO_WEBHOOK_SIGNING_KEY,required,notEmpty"`
	ClientCacheSize   int           `env:"LOGTO_CLIENT_CACHE_SIZE" envDefault:"64"`
	ClientCacheTTL    time.Duration `env:"LOGTO_CLIENT_CACHE_TTL" envDefault:"30m"`
}

type IdentityConfig struct {
	BatchSize         int           `env:"IDENTITY_BATCH_SIZE" envDefault:"10"`
	BatchInterval     time.Duration `env:"IDENTITY_BATCH_INTERVAL" envDefault:"1s"`
	RetryAttempts     int           `env:"IDENTITY_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"IDENTITY_RETRY_INITIAL_DELAY" envDefault:"200ms"`
	RequestTimeout    time.Duration `env:"IDENTITY_REQUEST_TIMEOUT" envDefault:"10s"`
}

type ImportConfig struct {
	MaxRows       int           `env:"IMPORT_MAX_ROWS" envDefault:"5000"`
	MaxFileBytes  int64         `env:"IMPORT_MAX_FILE_BYTES" envDefault:"5242880"`
	Workers       int           `env:"IMPORT_WORKERS" envDefault:"2"`
	QueueSize     int           `env:"IMPORT_QUEUE_SIZE" envDefault:"64"`
	PendingTTL    time.Duration `env:"IMPORT_PENDING_TTL" envDefault:"24h"`
	SweepSchedule string        `env:"IMPORT_SWEEP_SCHEDULE" envDefault:"@every 10m"`
}

type MinIOConfig struct {
	Endpoint      string `env:"MINIO_ENDPOINT"`
	AccessKey     string `env:"MINIO_ACCESS_KEY"`
	SecretKey     string `env:"MINIO_SECRET_KEY"`
	UseSSL        bool   `env:"MINIO_USE_SSL" envDefault:"false"`
	BucketImports string `env:"MINIO_BUCKET_IMPORTS" envDefault:"profile-imports"`
}

// Enabled reports whether CSV uploads should be archived in object storage.
func (m MinIOConfig) Enabled() bool {
	return strings.TrimSpace(m.Endpoint) != ""
}

func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	cfg.AllowOrigins = splitAndTrim(cfg.RawOrigins)
	return cfg, nil
}

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
