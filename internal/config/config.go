package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Portal   Portal   `yaml:"portal"`
	Mail     Mail     `yaml:"mail"`
	Cloud    Cloud    `yaml:"cloud"`
	Archive  Archive  `yaml:"archive"`
	Output   Output   `yaml:"output"`
	Backfill Backfill `yaml:"backfill"`
	Import   Import   `yaml:"import"`
	Logging  Logging  `yaml:"logging"`
}

type Portal struct {
	BaseURL        string `yaml:"base_url"`
	UsernameEnv    string `yaml:"username_env"`
	PasswordEnv    string `yaml:"password_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Mail struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	From         string `yaml:"from"`
	UsernameEnv  string `yaml:"username_env"`
	PasswordEnv  string `yaml:"password_env"`
	AdminAddress string `yaml:"admin_address"`
}

type Cloud struct {
	DriveURL        string `yaml:"drive_url"`
	TokenURL        string `yaml:"token_url"`
	ClientIDEnv     string `yaml:"client_id_env"`
	ClientSecretEnv string `yaml:"client_secret_env"`
	RefreshTokenEnv string `yaml:"refresh_token_env"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

type Archive struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Backfill struct {
	RequestDelaySeconds int `yaml:"request_delay_seconds"`
	MaxPages            int `yaml:"max_pages"`
}

type Import struct {
	Dir string `yaml:"dir"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for pressbote.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "pressbote")
}

// DataDir returns the XDG data directory for pressbote.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "pressbote")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/pressbote/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'pressbote init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Portal: Portal{
			UsernameEnv:    "PRESSBOTE_PORTAL_USER",
			PasswordEnv:    "PRESSBOTE_PORTAL_PASSWORD",
			TimeoutSeconds: 30,
		},
		Mail: Mail{
			Port:        587,
			UsernameEnv: "PRESSBOTE_SMTP_USER",
			PasswordEnv: "PRESSBOTE_SMTP_PASSWORD",
		},
		Cloud: Cloud{
			DriveURL:        "https://graph.microsoft.com/v1.0/me/drive",
			TokenURL:        "https://login.microsoftonline.com/consumers/oauth2/v2.0/token",
			ClientIDEnv:     "PRESSBOTE_CLOUD_CLIENT_ID",
			ClientSecretEnv: "PRESSBOTE_CLOUD_CLIENT_SECRET",
			RefreshTokenEnv: "PRESSBOTE_CLOUD_REFRESH_TOKEN",
			TimeoutSeconds:  120,
		},
		Archive: Archive{
			Prefix: "editions",
		},
		Backfill: Backfill{
			RequestDelaySeconds: 2,
			MaxPages:            50,
		},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// MailConfigured reports whether outgoing mail can be attempted at all.
func (c *Config) MailConfigured() bool {
	return c.Mail.Host != "" && c.Mail.From != ""
}

// CloudConfigured reports whether the cloud folder destination is usable.
func (c *Config) CloudConfigured() bool {
	return c.Cloud.DriveURL != "" && os.Getenv(c.Cloud.RefreshTokenEnv) != ""
}

// ArchiveConfigured reports whether the durable archive sink is usable.
func (c *Config) ArchiveConfigured() bool {
	return c.Archive.Bucket != ""
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
