package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Bus      BusConfig      `mapstructure:"bus"`
	Game     GameConfig     `mapstructure:"game"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Lease    LeaseConfig    `mapstructure:"lease"`
	Persist  PersistConfig  `mapstructure:"persist"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Debug        bool   `mapstructure:"debug"`
	AdminKey     string `mapstructure:"admin_key"`
	InstanceName string `mapstructure:"instance_name"` // shown in network join/leave notices
	// AdminAllow restricts admin endpoints to these IPs or CIDR ranges.
	// Empty allows any address that presents the admin key.
	AdminAllow []string `mapstructure:"admin_allow"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type BusConfig struct {
	Driver  string `mapstructure:"driver"` // cache | nats | embedded
	NatsURL string `mapstructure:"nats_url"`
	Prefix  string `mapstructure:"prefix"`

	// Embedded server address, driver "embedded" only.
	EmbeddedHost string `mapstructure:"embedded_host"`
	EmbeddedPort int    `mapstructure:"embedded_port"`
}

type GameConfig struct {
	DataDir        string  `mapstructure:"data_dir"`
	TickMs         int     `mapstructure:"tick_ms"`
	ActiveRadius   float64 `mapstructure:"active_radius"`
	DefaultWorld   string  `mapstructure:"default_world"`
	TradeRequestMs int     `mapstructure:"trade_request_ms"`
	LootBagLifeMs  int     `mapstructure:"loot_bag_life_ms"`
	NewbieTimeMs   int     `mapstructure:"newbie_time_ms"`
	TpCooldownMs   int     `mapstructure:"tp_cooldown_ms"`
	ChatRPS        float64 `mapstructure:"chat_rps"`
	ChatBurst      int     `mapstructure:"chat_burst"`
}

type LedgerConfig struct {
	// CASRetries is how many times an optimistic currency update reloads the
	// account and retries after a compare-and-swap mismatch. 0 abandons.
	CASRetries      int `mapstructure:"cas_retries"`
	MaxCharSlot     int `mapstructure:"max_char_slot"`
	VaultCount      int `mapstructure:"vault_count"`
	LegendsPageSize int `mapstructure:"legends_page_size"`
}

type LeaseConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	RenewInterval time.Duration `mapstructure:"renew_interval"`
}

type PersistConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type ScheduleConfig struct {
	LegendsClean time.Duration `mapstructure:"legends_clean"` // 0 disables
	Presence     time.Duration `mapstructure:"presence"`      // 0 disables
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.instance_name", "realm")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/audit.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("bus.driver", "cache")
	v.SetDefault("bus.prefix", "realm")
	v.SetDefault("bus.embedded_host", "127.0.0.1")
	v.SetDefault("bus.embedded_port", 4222)
	v.SetDefault("game.data_dir", "./data/game")
	v.SetDefault("game.tick_ms", 50)
	v.SetDefault("game.active_radius", 15.0)
	v.SetDefault("game.default_world", "nexus")
	v.SetDefault("game.trade_request_ms", 20000)
	v.SetDefault("game.loot_bag_life_ms", 60000)
	v.SetDefault("game.newbie_time_ms", 3000)
	v.SetDefault("game.tp_cooldown_ms", 10000)
	v.SetDefault("game.chat_rps", 2.0)
	v.SetDefault("game.chat_burst", 5)
	v.SetDefault("ledger.cas_retries", 0)
	v.SetDefault("ledger.max_char_slot", 2)
	v.SetDefault("ledger.vault_count", 1)
	v.SetDefault("ledger.legends_page_size", 20)
	v.SetDefault("lease.ttl", "60s")
	v.SetDefault("lease.renew_interval", "20s")
	v.SetDefault("persist.workers", 2)
	v.SetDefault("persist.queue_size", 1024)
	v.SetDefault("persist.max_attempts", 3)
	v.SetDefault("persist.backoff", "200ms")
	v.SetDefault("schedule.legends_clean", "10m")
	v.SetDefault("schedule.presence", "1m")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with only the built-in defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// TickInterval returns the world tick cadence.
func (g GameConfig) TickInterval() time.Duration {
	if g.TickMs <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(g.TickMs) * time.Millisecond
}
