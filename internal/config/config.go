package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Monitor  MonitorConfig
	Database DatabaseConfig
	Telegram TelegramConfig
	Chain    ChainConfig
}

// MonitorConfig defines the order-monitoring settings.
type MonitorConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	MaxParallelTokens   int `mapstructure:"max_parallel_tokens"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string `mapstructure:"dbname"`
}

// URL builds the postgres connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
}

// TelegramConfig defines the notification chat settings.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// ChainConfig defines how to reach the chain gateway.
type ChainConfig struct {
	RelayURL   string `mapstructure:"relay_url"`
	GatewayURL string `mapstructure:"gateway_url"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("monitor.poll_interval_seconds", 5)
	viper.SetDefault("monitor.max_parallel_tokens", 4)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
