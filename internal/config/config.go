package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Postgres struct {
	DBDSN                 string        `envconfig:"DB_DSN"`
	StoreDriver           string        `envconfig:"STORE_DRIVER" default:"postgres"`
	PoolMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	PoolMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	PoolMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	PoolMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	PoolHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`
	MigrateOnStart        bool          `envconfig:"MIGRATE_ON_START" default:"false"`
}

type Telegram struct {
	BotToken      string        `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	APIEndpoint   string        `envconfig:"TELEGRAM_API_ENDPOINT"` // empty = api.telegram.org
	WebhookSecret string        `envconfig:"TELEGRAM_WEBHOOK_SECRET"`
	RPS           float64       `envconfig:"TELEGRAM_RPS" default:"25"`
	Burst         int           `envconfig:"TELEGRAM_BURST" default:"30"`
	SendTimeout   time.Duration `envconfig:"SEND_TIMEOUT" default:"5s"`
}

type AWS struct {
	Region             string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type Blob struct {
	// s3, or memory for local runs without LocalStack.
	Driver     string        `envconfig:"BLOB_DRIVER" default:"s3"`
	Bucket     string        `envconfig:"S3_BUCKET" required:"true"`
	Endpoint   string        `envconfig:"S3_ENDPOINT"`
	PresignTTL time.Duration `envconfig:"PRESIGN_TTL" default:"300s"`
}

type RelayConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Postgres
	Telegram
	AWS
	Blob

	// direct: relay inside the webhook request. sqs: enqueue for relay-worker.
	InboundMode        string `envconfig:"INBOUND_MODE" default:"direct"`
	SQSUpdatesQueueURL string `envconfig:"SQS_UPDATES_QUEUE_URL"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
}

type WorkerConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Postgres
	Telegram
	AWS
	Blob

	SQSUpdatesQueueURL string `envconfig:"SQS_UPDATES_QUEUE_URL" required:"true"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"20"`
}

// CtlConfig is read lazily by relayctl subcommands; nothing is required up front.
type CtlConfig struct {
	DBDSN         string        `envconfig:"DB_DSN"`
	LogFormat     string        `envconfig:"LOG_FORMAT" default:"text"`
	BotToken      string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	APIEndpoint   string        `envconfig:"TELEGRAM_API_ENDPOINT"`
	WebhookSecret string        `envconfig:"TELEGRAM_WEBHOOK_SECRET"`
	JWTSecret     string        `envconfig:"JWT_SECRET"`
	TokenTTL      time.Duration `envconfig:"TOKEN_TTL" default:"12h"`
}

func LoadRelay() RelayConfig {
	var cfg RelayConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadCtl() CtlConfig {
	var cfg CtlConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
