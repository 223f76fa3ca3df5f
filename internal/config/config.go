package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "BLOG"
	defaultHTTPAddress       = "0.0.0.0:8010"
	defaultAllowedOrigin     = "https://frith.gay"
	defaultStorePath         = "blog-store"
	defaultDatabasePath      = "blog.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultSessionTTL        = 24 * time.Hour
	defaultInviteTTL         = 72 * time.Hour
	defaultIncompletePostTTL = time.Hour
	defaultMaxConcurrentJobs = 4
	defaultUploadTicketTTL   = 5 * time.Minute
	defaultUploadSocketTTL   = 60 * time.Second
	defaultUploadMessageTTL  = time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	AllowedOrigin     string
	StorePath         string
	DatabasePath      string
	LogLevel          string
	LogFormat         string
	SessionTTL        time.Duration
	InviteTTL         time.Duration
	IncompletePostTTL time.Duration
	MaxConcurrentJobs int
	BlockingWorkers   int
	UploadSecret      string
	UploadTicketTTL   time.Duration
	UploadSocketTTL   time.Duration
	UploadMessageTTL  time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origin", defaultAllowedOrigin)
	configViper.SetDefault("store.path", defaultStorePath)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("invite.ttl", defaultInviteTTL)
	configViper.SetDefault("post.incomplete_ttl", defaultIncompletePostTTL)
	configViper.SetDefault("jobs.max_concurrent", defaultMaxConcurrentJobs)
	configViper.SetDefault("jobs.blocking_workers", runtime.NumCPU())
	configViper.SetDefault("upload.ticket_ttl", defaultUploadTicketTTL)
	configViper.SetDefault("upload.socket_ttl", defaultUploadSocketTTL)
	configViper.SetDefault("upload.message_ttl", defaultUploadMessageTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigin:     configViper.GetString("http.allowed_origin"),
		StorePath:         configViper.GetString("store.path"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		SessionTTL:        configViper.GetDuration("session.ttl"),
		InviteTTL:         configViper.GetDuration("invite.ttl"),
		IncompletePostTTL: configViper.GetDuration("post.incomplete_ttl"),
		MaxConcurrentJobs: configViper.GetInt("jobs.max_concurrent"),
		BlockingWorkers:   configViper.GetInt("jobs.blocking_workers"),
		UploadSecret:      configViper.GetString("upload.signing_secret"),
		UploadTicketTTL:   configViper.GetDuration("upload.ticket_ttl"),
		UploadSocketTTL:   configViper.GetDuration("upload.socket_ttl"),
		UploadMessageTTL:  configViper.GetDuration("upload.message_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.UploadSecret) == "" {
		return fmt.Errorf("upload.signing_secret is required")
	}
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("store.path is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be positive")
	}
	for key, value := range map[string]time.Duration{
		"session.ttl":         c.SessionTTL,
		"invite.ttl":          c.InviteTTL,
		"post.incomplete_ttl": c.IncompletePostTTL,
		"upload.ticket_ttl":   c.UploadTicketTTL,
		"upload.socket_ttl":   c.UploadSocketTTL,
		"upload.message_ttl":  c.UploadMessageTTL,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
