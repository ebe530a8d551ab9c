package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeOptions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "options.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write options file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.APIServer == "" {
		t.Error("APIServer should not be empty")
	}

	if cfg.HomeAssistantPort != 8123 {
		t.Errorf("Expected default port 8123, got %d", cfg.HomeAssistantPort)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level 'info', got '%s'", cfg.LogLevel)
	}
}

func TestLoad(t *testing.T) {
	path := writeOptions(t, `{
		"sunsynk_user": "user@example.com",
		"sunsynk_pass": "secret",
		"sunsynk_serial": "1234567890;0987654321",
		"API_Server": "api.sunsynk.net",
		"Home_Assistant_IP": "192.168.1.10",
		"Home_Assistant_PORT": 8123,
		"Enable_HTTPS": true,
		"HA_LongLiveToken": "abc123",
		"Refresh_rate": 60000
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SunsynkUser != "user@example.com" {
		t.Errorf("Expected sunsynk_user 'user@example.com', got '%s'", cfg.SunsynkUser)
	}

	serials := cfg.InverterSerials()
	if len(serials) != 2 || serials[0] != "1234567890" || serials[1] != "0987654321" {
		t.Errorf("Unexpected serials: %v", serials)
	}

	if got := cfg.HomeAssistantBaseURL(); got != "https://192.168.1.10:8123" {
		t.Errorf("Unexpected HA base URL: %s", got)
	}

	if got := cfg.SunsynkBaseURL(); got != "https://api.sunsynk.net" {
		t.Errorf("Unexpected Sunsynk base URL: %s", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// sunsynk_user is deliberately absent from the file: the env var alone
	// must satisfy validation. sunsynk_pass is present and overridden.
	path := writeOptions(t, `{
		"sunsynk_pass": "file-secret",
		"sunsynk_serial": "1234567890",
		"Home_Assistant_IP": "192.168.1.10",
		"HA_LongLiveToken": "abc123"
	}`)

	t.Setenv("SOLARSYNK_SUNSYNK_USER", "env-user@example.com")
	t.Setenv("SOLARSYNK_SUNSYNK_PASS", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SunsynkUser != "env-user@example.com" {
		t.Errorf("Env-only sunsynk_user not picked up, got '%s'", cfg.SunsynkUser)
	}

	if cfg.SunsynkPass != "env-secret" {
		t.Errorf("Env should override the file value, got '%s'", cfg.SunsynkPass)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Error("Load() should fail for a missing options file")
	}
}

func TestConfigValidation(t *testing.T) {
	valid := &Config{
		SunsynkUser:       "user",
		SunsynkPass:       "pass",
		SunsynkSerial:     "123",
		APIServer:         "api.sunsynk.net",
		HomeAssistantIP:   "127.0.0.1",
		HomeAssistantPort: 8123,
		HALongLiveToken:   "token",
		LogLevel:          "info",
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("Valid config should not return error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing user", func(c *Config) { c.SunsynkUser = "" }},
		{"missing pass", func(c *Config) { c.SunsynkPass = "" }},
		{"missing serial", func(c *Config) { c.SunsynkSerial = "" }},
		{"missing api server", func(c *Config) { c.APIServer = "" }},
		{"missing ha ip", func(c *Config) { c.HomeAssistantIP = "" }},
		{"bad ha port", func(c *Config) { c.HomeAssistantPort = 0 }},
		{"missing ha token", func(c *Config) { c.HALongLiveToken = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestInverterSerialsTrimsBlanks(t *testing.T) {
	cfg := &Config{SunsynkSerial: " 111 ;;222; "}
	serials := cfg.InverterSerials()
	if len(serials) != 2 || serials[0] != "111" || serials[1] != "222" {
		t.Errorf("Unexpected serials: %v", serials)
	}
}

func TestHomeAssistantBaseURLPlainHTTP(t *testing.T) {
	cfg := &Config{HomeAssistantIP: "10.0.0.5", HomeAssistantPort: 8124}
	if got := cfg.HomeAssistantBaseURL(); got != "http://10.0.0.5:8124" {
		t.Errorf("Unexpected HA base URL: %s", got)
	}
}
