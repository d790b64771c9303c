package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Game        GameConfig        `mapstructure:"game"`
	Device      DeviceConfig      `mapstructure:"device"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

// GameConfig holds the default settings applied to a new session. Durations
// are in seconds.
type GameConfig struct {
	InitialDuration   float64 `mapstructure:"initial_duration"`
	Increment         float64 `mapstructure:"increment"`
	PrepTime          float64 `mapstructure:"prep_time"`
	TargetTemperature int     `mapstructure:"target_temperature"`
	Rounds            int     `mapstructure:"rounds"`
	Hardcore          bool    `mapstructure:"hardcore"`
	SinglePlayer      bool    `mapstructure:"single_player"`
	OpponentSeed      int64   `mapstructure:"opponent_seed"`
	TickMillis        int     `mapstructure:"tick_millis"`
}

type DeviceConfig struct {
	// Mode selects the link: "sim" for the built-in appliance simulator or
	// "bridge" for a websocket BLE bridge.
	Mode         string `mapstructure:"mode"`
	BridgeURL    string `mapstructure:"bridge_url"`
	PollTicks    int    `mapstructure:"poll_ticks"`
	Brightness   int    `mapstructure:"brightness"`
	SimAmbient   int    `mapstructure:"sim_ambient"`
	SimHeatRate  int    `mapstructure:"sim_heat_rate"`
	SimPushReads bool   `mapstructure:"sim_push_reads"`
}

type LeaderboardConfig struct {
	// Driver is one of memory, sqlite, postgres, gorm.
	Driver     string         `mapstructure:"driver"`
	DSN        string         `mapstructure:"dsn"`
	MaxEntries int            `mapstructure:"max_entries"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.metrics_address", ":9090")

	v.SetDefault("game.initial_duration", 5.0)
	v.SetDefault("game.increment", 2.0)
	v.SetDefault("game.prep_time", 3.0)
	v.SetDefault("game.target_temperature", 185)
	v.SetDefault("game.rounds", 5)
	v.SetDefault("game.tick_millis", 100)

	v.SetDefault("device.mode", "sim")
	v.SetDefault("device.poll_ticks", 10)
	v.SetDefault("device.brightness", 60)
	v.SetDefault("device.sim_ambient", 22)
	v.SetDefault("device.sim_heat_rate", 6)
	v.SetDefault("device.sim_push_reads", true)

	v.SetDefault("leaderboard.driver", "sqlite")
	v.SetDefault("leaderboard.dsn", "leaderboard.db")
	v.SetDefault("leaderboard.max_entries", 50)
	v.SetDefault("leaderboard.postgres.port", 5432)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path. A missing file is not an error;
// defaults and HOLDGAME_* environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("holdgame")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
