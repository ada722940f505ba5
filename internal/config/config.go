package config

import (
	"os"
	"path"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Public  Public
	Private Private
}

type Public struct {
	// BaseURL is the external origin used when building verification links,
	// e.g. "https://gatehouse.example.com".
	BaseURL            string   `yaml:"base_url"`
	SecureCookies      bool     `yaml:"secure_cookies"` // true in production
	LogLevel           string   `yaml:"log_level"`
	LogJSON            bool     `yaml:"log_json"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	Breach             Breach   `yaml:"breach"`
}

// Breach configures the compromised-password range lookup.
type Breach struct {
	BaseURL   string `yaml:"base_url"`   // e.g. "https://api.pwnedpasswords.com"
	TimeoutMS int    `yaml:"timeout_ms"` // hard timeout; lookups never block longer
}

type Private struct {
	Pg Pg `yaml:"pg"`
	// SessionSecrets sign the session cookie envelope. The first secret
	// signs new cookies; all of them are tried on verification so secrets
	// can be rotated without logging everyone out.
	SessionSecrets []string `yaml:"session_secrets"`
	Email          Email    `yaml:"email"`
}

type Pg struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Dbname   string `yaml:"dbname"`
}

type Email struct {
	SMTPServer string `yaml:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	SenderName string `yaml:"sender_name"`
	Timeout    int    `yaml:"timeout"` // seconds
}

func mustLoadPath(configPath string, output interface{}) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		panic("can't read config file")
	}

	if err := yaml.Unmarshal(configFile, output); err != nil {
		panic("can't unmarshal config file")
	}
}

func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)

	var private Private
	mustLoadPath(path.Join(configFolder, "private.yaml"), &private)

	return &Config{public, private}
}
