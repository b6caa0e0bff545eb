package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/takoyadon/loyalty-ledger/internal/queue"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
	"github.com/takoyadon/loyalty-ledger/pkg/redis"
)

var config *Config

// Config holds every configuration value of the ledger binaries. Nothing else
// should read the environment directly.
type Config struct {
	AppEnv   string `env:"APP_ENV,default=dev"`
	AppName  string `env:"APP_NAME,default=loyalty_ledger"`
	AppDebug bool   `env:"APP_DEBUG,default=false"`

	HttpListenAddr            string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpRequestTimeout        time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=5s"`
	HttpServerReadBufferSize  int           `env:"HTTP_SERVER_READ_BUFFER_SIZE,default=16384"`
	HttpServerWriteBufferSize int           `env:"HTTP_SERVER_WRITE_BUFFER_SIZE,default=16384"`
	HttpRateLimitRPS          float64       `env:"HTTP_RATE_LIMIT_RPS,default=200"`
	HttpRateLimitBurst        int           `env:"HTTP_RATE_LIMIT_BURST,default=400"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST,default=localhost"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER,default=postgres"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME,default=loyalty"`
	PostgresMaxOpenConns  int    `env:"POSTGRES_MAX_OPEN_CONNS,default=20"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE,default=0"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=loyalty:"`

	NatsURL     string `env:"NATS_URL"`
	NatsSubject string `env:"NATS_SUBJECT,default=ledger.transaction.committed"`

	PromNamespace string `env:"PROM_NAMESPACE,default=loyalty"`

	LedgerMaxRetries     int           `env:"LEDGER_MAX_RETRIES,default=3"`
	LedgerRetryBaseDelay time.Duration `env:"LEDGER_RETRY_BASE_DELAY,default=2ms"`
	LedgerGuardCacheTTL  time.Duration `env:"LEDGER_GUARD_CACHE_TTL,default=24h"`
	ReferralPoints       int64         `env:"REFERRAL_POINTS,default=100"`

	QueueName              string        `env:"QUEUE_NAME,default=ledger:notifications"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=relay"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueConsumers         int           `env:"QUEUE_CONSUMERS,default=4"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=5"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=30s"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=500ms"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	RelayWorkers     int    `env:"RELAY_WORKERS,default=8"`
	RelayMetricsAddr string `env:"RELAY_METRICS_ADDR,default=:9100"`

	MailBaseUrl         string        `env:"MAIL_BASE_URL"`
	MailApiKey          string        `env:"MAIL_API_KEY"`
	MailSender          string        `env:"MAIL_SENDER,default=Takoyadon <rewards@takoyadon.app>"`
	MailTimeout         time.Duration `env:"MAIL_TIMEOUT,default=10s"`
	MailMockAddr        string        `env:"MAIL_MOCK_ADDR,default=:8090"`
	MailMockDelay       time.Duration `env:"MAIL_MOCK_DELAY,default=50ms"`
	MailMockFailureRate float64       `env:"MAIL_MOCK_FAILURE_RATE,default=0"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("loading env file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.Wrap(err, "failed to map env variables to configuration")
	}

	config = c
	return nil
}

// Set replaces the loaded configuration. Used by tests and tooling.
func Set(c *Config) {
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:         c.PostgresWriteUser,
		Host:         c.PostgresWriteHost,
		Port:         c.PostgresWritePort,
		Password:     c.PostgresWritePassword,
		Database:     c.PostgresWriteDatabase,
		MaxOpenConns: c.PostgresMaxOpenConns,
	}
}

// PostgresRead falls back to the write settings when no replica host is set.
func (c *Config) PostgresRead() pg.Config {
	if c.PostgresReadHost == "" {
		return c.PostgresWrite()
	}
	return pg.Config{
		User:         c.PostgresReadUser,
		Host:         c.PostgresReadHost,
		Port:         c.PostgresReadPort,
		Password:     c.PostgresReadPassword,
		Database:     c.PostgresReadDatabase,
		MaxOpenConns: c.PostgresMaxOpenConns,
	}
}

func (c *Config) Redis(clientName string) *redis.Options {
	return &redis.Options{
		Addrs:      []string{c.RedisAddr},
		ClientName: clientName,
		DB:         c.RedisDatabase,
		Username:   c.RedisUsername,
		Password:   c.RedisPassword,
	}
}

// Queue is the notification stream both the API and the relay attach to.
func (c *Config) Queue() queue.Config {
	return queue.Config{
		Name:              c.QueueName,
		ConsumerGroup:     c.QueueConsumerGroup,
		ConsumerName:      c.QueueConsumerName,
		MaxRetries:        int64(c.QueueMaxRetries),
		VisibilityTimeout: c.QueueVisibilityTimeout,
		PollInterval:      c.QueuePollInterval,
		BatchSize:         c.QueueBatchSize,
		MaxLen:            c.QueueMaxLen,
		EnableDLQ:         c.QueueEnableDLQ,
	}
}
