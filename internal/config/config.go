package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Feishu    FeishuConfig    `mapstructure:"feishu"`
	Inbound   InboundConfig   `mapstructure:"inbound"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type AdminConfig struct {
	Password string `mapstructure:"password"`
}

type StorageConfig struct {
	SnapshotPath string        `mapstructure:"snapshot_path"`
	SaveDebounce time.Duration `mapstructure:"save_debounce"`
	Driver       string        `mapstructure:"driver"`
	SQLite       SQLiteConfig  `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DeliveryConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Title   string        `mapstructure:"title"`
}

type RelayConfig struct {
	TimezoneOffset int      `mapstructure:"timezone_offset"`
	HistorySize    int      `mapstructure:"history_size"`
	NoiseMarkers   []string `mapstructure:"noise_markers"`
}

// Location is the fixed zone every schedule comparison runs in.
func (c RelayConfig) Location() *time.Location {
	return time.FixedZone(c.TimezoneLabel(), c.TimezoneOffset*3600)
}

func (c RelayConfig) TimezoneLabel() string {
	return fmt.Sprintf("UTC%+d", c.TimezoneOffset)
}

type FeishuConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	AppID       string        `mapstructure:"app_id"`
	AppSecret   string        `mapstructure:"app_secret"`
	TokenMargin time.Duration `mapstructure:"token_margin"`
}

type InboundConfig struct {
	MaxBody         int64         `mapstructure:"max_body"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	AllowLocalFiles bool          `mapstructure:"allow_local_files"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RetentionConfig struct {
	DispatchTTL   time.Duration `mapstructure:"dispatch_ttl"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

// DefaultNoiseMarkers are text fragments produced by detector heartbeats.
// A text-only message containing any of them is dropped before dispatch.
var DefaultNoiseMarkers = []string{"偵測到HP血條", "BOSS存在", "⏰ 時間:", "🩸"}

func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fanrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fanrelay")
	}

	setDefaults(v)

	v.SetEnvPrefix("FANRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Storage.SnapshotPath) == "" {
		return fmt.Errorf("storage.snapshot_path is required")
	}
	switch c.Storage.Driver {
	case "sqlite", "none":
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	if c.Relay.TimezoneOffset < -12 || c.Relay.TimezoneOffset > 14 {
		return fmt.Errorf("relay.timezone_offset out of range: %d", c.Relay.TimezoneOffset)
	}
	if c.Relay.HistorySize <= 0 {
		return fmt.Errorf("relay.history_size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("admin.password", "")

	v.SetDefault("storage.snapshot_path", "./data/fanrelay.json")
	v.SetDefault("storage.save_debounce", 2*time.Second)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/fanrelay.db")

	v.SetDefault("delivery.timeout", 15*time.Second)
	v.SetDefault("delivery.title", "Relay notification")

	v.SetDefault("relay.timezone_offset", 8)
	v.SetDefault("relay.history_size", 50)
	v.SetDefault("relay.noise_markers", DefaultNoiseMarkers)

	v.SetDefault("feishu.base_url", "https://open.feishu.cn")
	v.SetDefault("feishu.app_id", "")
	v.SetDefault("feishu.app_secret", "")
	v.SetDefault("feishu.token_margin", 60*time.Second)

	v.SetDefault("inbound.max_body", 20<<20)
	v.SetDefault("inbound.fetch_timeout", 30*time.Second)
	v.SetDefault("inbound.allow_local_files", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("retention.dispatch_ttl", 30*24*time.Hour)
	v.SetDefault("retention.prune_schedule", "@daily")
}
