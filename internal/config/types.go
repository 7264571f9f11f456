// Package config manages tgarchive configuration from a YAML file,
// environment variables, and default values.
package config

import (
	"errors"
	"time"
)

// ErrConfiguration wraps every loading and validation failure.
var ErrConfiguration = errors.New("configuration error")

// Config defines the application configuration. Values can be set through
// config.yaml or environment variables prefixed with TGARCHIVE_
// (e.g. TGARCHIVE_FETCH_WAIT). TELEGRAM_API_ID and TELEGRAM_API_HASH are
// honoured for the API credentials.
type Config struct {
	APIID   int    `mapstructure:"api_id"   validate:"required,gt=0"`
	APIHash string `mapstructure:"api_hash" validate:"required"`
	Group   string `mapstructure:"group"    validate:"required"`

	SessionPath string `mapstructure:"session_path" validate:"required"`
	DBPath      string `mapstructure:"db_path"      validate:"required"`
	// Phone is used by the interactive login instead of prompting for it.
	Phone string `mapstructure:"phone"`

	DownloadAvatars bool  `mapstructure:"download_avatars"`
	AvatarSize      []int `mapstructure:"avatar_size"      validate:"len=2,dive,gt=0,lte=2048"`

	DownloadMedia  bool     `mapstructure:"download_media"`
	MediaDir       string   `mapstructure:"media_dir"        validate:"required"`
	MediaTmpDir    string   `mapstructure:"media_tmp_dir"    validate:"required,nefield=MediaDir"`
	ThumbnailsDir  string   `mapstructure:"thumbnails_dir"`
	MediaMimeTypes []string `mapstructure:"media_mime_types" validate:"dive,required,contains=/"`

	Proxy ProxyConfig `mapstructure:"proxy"`

	UseTakeout     bool `mapstructure:"use_takeout"`
	FetchBatchSize int  `mapstructure:"fetch_batch_size" validate:"gt=0,lte=100"`
	FetchWait      int  `mapstructure:"fetch_wait"       validate:"gte=0"`
	FetchLimit     int  `mapstructure:"fetch_limit"      validate:"gte=0"`

	Timezone string `mapstructure:"timezone"`
	PerPage  int    `mapstructure:"per_page" validate:"gt=0"`

	Log     LogConfig     `mapstructure:"log"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ProxyConfig routes the MTProto connection through a SOCKS5 proxy.
type ProxyConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Protocol string `mapstructure:"protocol" validate:"required_if=Enable true,omitempty,oneof=socks5"`
	Addr     string `mapstructure:"addr"     validate:"required_if=Enable true"`
	Port     int    `mapstructure:"port"     validate:"required_if=Enable true,omitempty,gt=0,lte=65535"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// WatchConfig holds the cron schedules used by -watch.
type WatchConfig struct {
	Schedule            string `mapstructure:"schedule"             validate:"required"`
	MaintenanceSchedule string `mapstructure:"maintenance_schedule"`
}

// NotifyConfig enables a Bot API summary message after each sync run.
type NotifyConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id" validate:"required_with=BotToken"`
}

// MetricsConfig enables the Prometheus endpoint in watch mode.
type MetricsConfig struct {
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// FetchWaitDuration is the pause between history pages.
func (c *Config) FetchWaitDuration() time.Duration {
	return time.Duration(c.FetchWait) * time.Second
}

// Location returns the display timezone, UTC when none is configured.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
