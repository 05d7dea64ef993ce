package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	PublicURL string
}

type SecurityConfig struct {
	JWTSecret string
	JWTTTL    time.Duration
}

type UploadConfig struct {
	MaxFileSize     int64
	MaxBatchURLs    int
	DownloadTimeout time.Duration
	BatchDelay      time.Duration
}

type ModerationConfig struct {
	MaxAttempts    int
	RequestTimeout time.Duration
	RetrySchedule  string
	SweepSchedule  string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Upload           UploadConfig
	Moderation       ModerationConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("EASYIMG")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "0s") // batch ingestion streams progress; a write deadline would cut it off
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "moderation:tasks")
	v.SetDefault("redis.group", "moderation-workers")
	v.SetDefault("redis.consumer", "worker-1")

	v.SetDefault("storage.bucket", "easyimg-images")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("security.jwtttl", "24h")

	v.SetDefault("upload.maxfilesize", 100*1024*1024)
	v.SetDefault("upload.maxbatchurls", 20)
	v.SetDefault("upload.downloadtimeout", "30s")
	v.SetDefault("upload.batchdelay", "100ms")

	v.SetDefault("moderation.maxattempts", 5)
	v.SetDefault("moderation.requesttimeout", "30s")
	v.SetDefault("moderation.retryschedule", "0 0 */1 * * *") // hourly error requeue
	v.SetDefault("moderation.sweepschedule", "0 0 0 * * *")   // daily hard delete
}
