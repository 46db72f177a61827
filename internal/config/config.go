package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "PICKOFGODS"

// knownProviders may receive their API key from PICKOFGODS_<NAME>_API_KEY.
var knownProviders = []string{"openai", "claude", "gemini", "ark"}

// Config represents runtime configuration for the service.
type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	Logger     LoggerConfig              `mapstructure:"logger"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	AI         AIConfig                  `mapstructure:"ai"`
	Classifier ClassifierConfig          `mapstructure:"classifier"`
	Gateway    GatewayConfig             `mapstructure:"gateway"`
	Image      ImageConfig               `mapstructure:"image"`
	Redis      RedisConfig               `mapstructure:"redis"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Storage    StorageConfig             `mapstructure:"storage"`
	Audit      AuditConfig               `mapstructure:"audit"`
	Auth       AuthConfig                `mapstructure:"auth"`
	Deploy     DeployConfig              `mapstructure:"deploy"`
	Signal     SignalConfig              `mapstructure:"signal"`
	Search     SearchConfig              `mapstructure:"search"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Mode            string        `mapstructure:"mode"`
	StaticDir       string        `mapstructure:"static_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggerConfig struct {
	Level        string `mapstructure:"level"`
	Mode         string `mapstructure:"mode"`
	Encoding     string `mapstructure:"encoding"`
	ColorEnabled bool   `mapstructure:"color_enabled"`
}

// ProviderConfig describes one managed LLM endpoint.
type ProviderConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type AIConfig struct {
	Provider  string        `mapstructure:"provider"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	WebSearch bool          `mapstructure:"web_search"`
}

type ClassifierConfig struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	Retries  int           `mapstructure:"retries"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

type GatewayConfig struct {
	WithIntentRouting   bool   `mapstructure:"with_intent_routing"`
	DefaultSystemPrompt string `mapstructure:"default_system_prompt"`
}

type ImageConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Params   string `mapstructure:"params"`
}

type StorageConfig struct {
	BucketDir     string        `mapstructure:"bucket_dir"`
	PublicBase    string        `mapstructure:"public_base"`
	ImageTTL      time.Duration `mapstructure:"image_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type AuditConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type AuthConfig struct {
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type DeployConfig struct {
	AccountID string `mapstructure:"account_id"`
	APIToken  string `mapstructure:"api_token"`
	APIBase   string `mapstructure:"api_base"`
	ReadOnly  string `mapstructure:"read_only"`
}

type SignalConfig struct {
	Siblings  []string      `mapstructure:"siblings"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Token     string        `mapstructure:"token"`
}

type SearchConfig struct {
	GoogleAPIKey         string `mapstructure:"google_api_key"`
	GoogleSearchEngineID string `mapstructure:"google_search_engine_id"`
}

// IsReadOnly reports whether the deploy endpoint must refuse writes.
func (d DeployConfig) IsReadOnly() bool {
	switch strings.ToLower(strings.TrimSpace(d.ReadOnly)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// Load reads configuration from the provided path. When path is empty the
// PICKOFGODS_CONFIG variable is consulted, then config.{yaml,json} in the
// working directory or ./config. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		v.SetConfigFile(absPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	for _, name := range knownProviders {
		key := v.GetString(name + "_api_key")
		if key == "" {
			continue
		}
		p := cfg.Providers[name]
		p.APIKey = key
		cfg.Providers[name] = p
	}

	if dsn := cfg.Database.DSN; dsn != "" && cfg.Database.Driver == "sqlite3" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && !filepath.IsAbs(dsn) {
		if used := v.ConfigFileUsed(); used != "" {
			cfg.Database.DSN = filepath.Join(filepath.Dir(used), dsn)
		}
	}
	return &cfg, nil
}

// Provider returns the named provider block.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	if c == nil {
		return ProviderConfig{}, false
	}
	p, ok := c.Providers[strings.ToLower(name)]
	return p, ok
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8090")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.mode", "production")
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("logger.color_enabled", false)

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.timeout", 30*time.Second)
	v.SetDefault("ai.web_search", false)

	v.SetDefault("classifier.provider", "")
	v.SetDefault("classifier.model", "")
	v.SetDefault("classifier.retries", 1)
	v.SetDefault("classifier.backoff", 250*time.Millisecond)

	v.SetDefault("gateway.with_intent_routing", true)
	v.SetDefault("gateway.default_system_prompt", "")

	v.SetDefault("image.provider", "gemini")
	v.SetDefault("image.model", "imagen-3.0-generate-002")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "")
	v.SetDefault("database.params", "parseTime=true")

	v.SetDefault("storage.bucket_dir", "./data/bucket")
	v.SetDefault("storage.public_base", "/api/objects")
	v.SetDefault("storage.image_ttl", 7*24*time.Hour)
	v.SetDefault("storage.sweep_interval", time.Hour)

	v.SetDefault("audit.ttl", 30*24*time.Hour)
	v.SetDefault("auth.session_ttl", 24*time.Hour)

	v.SetDefault("deploy.account_id", "")
	v.SetDefault("deploy.api_token", "")
	v.SetDefault("deploy.api_base", "https://api.cloudflare.com/client/v4")
	v.SetDefault("deploy.read_only", "false")

	v.SetDefault("signal.siblings", []string{})
	v.SetDefault("signal.rate_limit", 5.0)
	v.SetDefault("signal.burst", 5)
	v.SetDefault("signal.timeout", 5*time.Second)
	v.SetDefault("signal.token", "")

	v.SetDefault("search.google_api_key", "")
	v.SetDefault("search.google_search_engine_id", "")
}
