// Ininicializing common application configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CEREBRUM"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Rabbit     RabbitConfig     `mapstructure:"rabbit"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Results    ResultsConfig    `mapstructure:"results"`
	Blobs      BlobsConfig      `mapstructure:"blobs"`
	DeadLetter DeadLetterConfig `mapstructure:"deadletter"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

type ServerConfig struct {
	AppVersion      string        `mapstructure:"app_version"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Timeout         time.Duration `mapstructure:"timeout"`
	UploadTimeout   time.Duration `mapstructure:"upload_timeout"` // чтение тела и отдача файлов
	Idle_timeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  int           `mapstructure:"request_timeout"` // в секундах
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Env             string        `mapstructure:"environment"`
	Mode            string        `mapstructure:"mode"`
}

type RabbitConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	DefaultQueue string `mapstructure:"default_queue"`
	ResultsQueue string `mapstructure:"results_queue"`
	Prefetch     int    `mapstructure:"prefetch"`

	PublishAttempts   int           `mapstructure:"publish_attempts"`
	PublishRetryDelay time.Duration `mapstructure:"publish_retry_delay"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`

	// Настройки пула соединений
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

type ResultsConfig struct {
	Driver string        `mapstructure:"driver"` // redis | memory
	TTL    time.Duration `mapstructure:"ttl"`
}

type BlobsConfig struct {
	Root          string        `mapstructure:"root"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxUploadSize int64         `mapstructure:"max_upload_size"`
}

type DeadLetterConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Key     string `mapstructure:"key"`
}

type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

type WorkerConfig struct {
	Kind            string `mapstructure:"kind"` // math | string | thumbnail
	Queue           string `mapstructure:"queue"`
	ThumbnailWidth  int    `mapstructure:"thumbnail_width"`
	ThumbnailHeight int    `mapstructure:"thumbnail_height"`
}

// LoadConfig reads ./config/config.yaml when present. Every key can be
// overridden from the environment, e.g. CEREBRUM_RABBIT_HOST.
func LoadConfig() (*viper.Viper, error) {

	viperInstance := viper.New()

	viperInstance.AddConfigPath(GetEnv("CEREBRUM_CONFIG_DIR", "./config"))
	viperInstance.SetConfigName("config")
	viperInstance.SetConfigType("yaml")

	setDefaults(viperInstance)

	viperInstance.SetEnvPrefix(envPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	err := viperInstance.ReadInConfig()

	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return viperInstance, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {

	var c Config

	err := v.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Rabbit.DefaultQueue == "":
		return errors.New("rabbit.default_queue must not be empty")
	case c.Rabbit.ResultsQueue == "":
		return errors.New("rabbit.results_queue must not be empty")
	case c.Rabbit.DefaultQueue == c.Rabbit.ResultsQueue:
		return errors.New("rabbit.default_queue must differ from rabbit.results_queue")
	case c.Worker.Queue == c.Rabbit.ResultsQueue:
		return errors.New("worker.queue must differ from rabbit.results_queue")
	case c.Rabbit.PublishAttempts < 1 || c.Rabbit.ReconnectAttempts < 1:
		return errors.New("rabbit retry bounds must be positive")
	case c.Results.TTL <= 0:
		return errors.New("results.ttl must be positive")
	case c.Blobs.Root == "":
		return errors.New("blobs.root must not be empty")
	case c.Blobs.Retention <= 0 || c.Blobs.SweepInterval <= 0:
		return errors.New("blobs.retention and blobs.sweep_interval must be positive")
	}
	return nil
}

// RabbitURL возвращает адрес брокера; явный url имеет приоритет
func (c *Config) RabbitURL() string {
	if c.Rabbit.URL != "" {
		return c.Rabbit.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.Rabbit.Username,
		c.Rabbit.Password,
		c.Rabbit.Host,
		c.Rabbit.Port)
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setDefaults устанавливает значения по умолчанию
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.app_version", "1.0.0")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.upload_timeout", 10*time.Minute)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.mode", "debug")

	// RabbitMQ defaults
	v.SetDefault("rabbit.url", "")
	v.SetDefault("rabbit.host", "rabbitmq")
	v.SetDefault("rabbit.port", 5672)
	v.SetDefault("rabbit.username", "guest")
	v.SetDefault("rabbit.password", "guest")
	v.SetDefault("rabbit.default_queue", "default_queue")
	v.SetDefault("rabbit.results_queue", "results")
	v.SetDefault("rabbit.prefetch", 1)
	v.SetDefault("rabbit.publish_attempts", 3)
	v.SetDefault("rabbit.publish_retry_delay", time.Second)
	v.SetDefault("rabbit.reconnect_attempts", 5)
	v.SetDefault("rabbit.reconnect_delay", 5*time.Second)

	// Redis defaults
	v.SetDefault("redis.host", "redis")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_timeout", 4*time.Second)

	// Results defaults
	v.SetDefault("results.driver", "redis")
	v.SetDefault("results.ttl", 24*time.Hour)

	// Blob defaults
	v.SetDefault("blobs.root", "uploads")
	v.SetDefault("blobs.retention", 24*time.Hour)
	v.SetDefault("blobs.sweep_interval", time.Hour)
	v.SetDefault("blobs.max_upload_size", 512<<20)

	// Dead letter defaults
	v.SetDefault("deadletter.enabled", true)
	v.SetDefault("deadletter.key", "cerebrum:dead_letters")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "kafka:9092")
	v.SetDefault("kafka.topic", "task-results")

	// Worker defaults
	v.SetDefault("worker.kind", "math")
	v.SetDefault("worker.queue", "math_queue")
	v.SetDefault("worker.thumbnail_width", 320)
	v.SetDefault("worker.thumbnail_height", 240)
}
