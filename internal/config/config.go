package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "C2HQ"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "c2hq.db"
	defaultLogLevel           = "info"
	defaultSessionIssuer      = "c2hq-auth"
	defaultGoogleTokenURL     = "https://oauth2.googleapis.com/token"
	defaultAnalysisBaseURL    = "http://localhost:8000"
	defaultVideoPageSize      = 50
	defaultCommentPageSize    = 20
	defaultRefreshBufferMin   = 5
	defaultFallbackExpiryMins = 60
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	SessionSigningKey  string
	SessionIssuer      string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleTokenURL     string
	AnalysisBaseURL    string
	VideoPageSize      int
	CommentPageSize    int
	RefreshBuffer      time.Duration
	FallbackExpiry     time.Duration
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("google.token_url", defaultGoogleTokenURL)
	configViper.SetDefault("analysis.base_url", defaultAnalysisBaseURL)
	configViper.SetDefault("sync.video_page_size", defaultVideoPageSize)
	configViper.SetDefault("sync.comment_page_size", defaultCommentPageSize)
	configViper.SetDefault("token.refresh_buffer_minutes", defaultRefreshBufferMin)
	configViper.SetDefault("token.fallback_expiry_minutes", defaultFallbackExpiryMins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		SessionSigningKey:  configViper.GetString("session.signing_secret"),
		SessionIssuer:      configViper.GetString("session.issuer"),
		GoogleClientID:     configViper.GetString("google.client_id"),
		GoogleClientSecret: configViper.GetString("google.client_secret"),
		GoogleRedirectURL:  configViper.GetString("google.redirect_url"),
		GoogleTokenURL:     configViper.GetString("google.token_url"),
		AnalysisBaseURL:    configViper.GetString("analysis.base_url"),
		VideoPageSize:      configViper.GetInt("sync.video_page_size"),
		CommentPageSize:    configViper.GetInt("sync.comment_page_size"),
		RefreshBuffer:      time.Duration(configViper.GetInt("token.refresh_buffer_minutes")) * time.Minute,
		FallbackExpiry:     time.Duration(configViper.GetInt("token.fallback_expiry_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if strings.TrimSpace(c.GoogleClientSecret) == "" {
		return fmt.Errorf("google.client_secret is required")
	}
	if strings.TrimSpace(c.AnalysisBaseURL) == "" {
		return fmt.Errorf("analysis.base_url is required")
	}
	if c.VideoPageSize <= 0 || c.CommentPageSize <= 0 {
		return fmt.Errorf("sync page sizes must be positive")
	}
	return nil
}
