package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultOptionsPath is where the Home Assistant add-on supervisor mounts
// the user's options file.
const DefaultOptionsPath = "/data/options.json"

// Config represents the bridge configuration loaded once before a run.
// It is immutable after Load; the orchestrator receives it at construction
// and never re-reads it mid-run.
type Config struct {
	// Sunsynk cloud account
	SunsynkUser   string `mapstructure:"sunsynk_user"`
	SunsynkPass   string `mapstructure:"sunsynk_pass"`
	SunsynkSerial string `mapstructure:"sunsynk_serial"` // semicolon-separated inverter serials
	APIServer     string `mapstructure:"API_Server"`

	// Home Assistant API
	HomeAssistantIP   string `mapstructure:"Home_Assistant_IP"`
	HomeAssistantPort int    `mapstructure:"Home_Assistant_PORT"`
	EnableHTTPS       bool   `mapstructure:"Enable_HTTPS"`
	HALongLiveToken   string `mapstructure:"HA_LongLiveToken"`

	// Run behaviour
	RefreshRate int `mapstructure:"Refresh_rate"` // milliseconds, echoed for the scheduler

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// Transient per-run settings cache
	CachePath string `mapstructure:"cache_path"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		APIServer:         "api.sunsynk.net",
		HomeAssistantPort: 8123,
		EnableHTTPS:       false,
		RefreshRate:       300000,
		LogLevel:          "info",
		LogFile:           "solar_script.log",
		CachePath:         "svr_settings.db",
	}
}

// Load loads configuration from the options file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigFile(DefaultOptionsPath)
	}
	v.SetConfigType("json")

	// Environment variable configuration. AutomaticEnv only covers keys
	// viper already knows from defaults or the file, so every option key
	// is bound explicitly: SOLARSYNK_SUNSYNK_USER works even when the
	// options file omits sunsynk_user entirely.
	v.SetEnvPrefix("SOLARSYNK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"sunsynk_user", "sunsynk_pass", "sunsynk_serial", "API_Server",
		"Home_Assistant_IP", "Home_Assistant_PORT", "Enable_HTTPS",
		"HA_LongLiveToken", "Refresh_rate", "log_level", "log_file", "cache_path",
	} {
		v.MustBindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read options file: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("API_Server", cfg.APIServer)
	v.SetDefault("Home_Assistant_PORT", cfg.HomeAssistantPort)
	v.SetDefault("Enable_HTTPS", cfg.EnableHTTPS)
	v.SetDefault("Refresh_rate", cfg.RefreshRate)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("cache_path", cfg.CachePath)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SunsynkUser == "" {
		return fmt.Errorf("sunsynk_user is required")
	}

	if c.SunsynkPass == "" {
		return fmt.Errorf("sunsynk_pass is required")
	}

	if c.SunsynkSerial == "" {
		return fmt.Errorf("sunsynk_serial is required")
	}

	if c.APIServer == "" {
		return fmt.Errorf("API_Server is required")
	}

	if c.HomeAssistantIP == "" {
		return fmt.Errorf("Home_Assistant_IP is required")
	}

	if c.HomeAssistantPort <= 0 || c.HomeAssistantPort > 65535 {
		return fmt.Errorf("Home_Assistant_PORT must be a valid port number")
	}

	if c.HALongLiveToken == "" {
		return fmt.Errorf("HA_LongLiveToken is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}

// InverterSerials returns the configured inverter serials in order.
// The options file carries them as a single semicolon-separated string.
func (c *Config) InverterSerials() []string {
	parts := strings.Split(c.SunsynkSerial, ";")
	serials := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			serials = append(serials, s)
		}
	}
	return serials
}

// HomeAssistantBaseURL builds the base URL for the Home Assistant API
func (c *Config) HomeAssistantBaseURL() string {
	proto := "http"
	if c.EnableHTTPS {
		proto = "https"
	}
	return fmt.Sprintf("%s://%s:%d", proto, c.HomeAssistantIP, c.HomeAssistantPort)
}

// SunsynkBaseURL builds the base URL for the Sunsynk cloud API
func (c *Config) SunsynkBaseURL() string {
	server := strings.TrimSuffix(c.APIServer, "/")
	if strings.HasPrefix(server, "http://") || strings.HasPrefix(server, "https://") {
		return server
	}
	return "https://" + server
}
