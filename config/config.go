package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/itchyny/gojq"
	yaml "gopkg.in/yaml.v3"
)

// DefaultAccount is used when a scrape names no account.
const DefaultAccount = "default"

// Environment variables consulted when no account is configured.
const (
	UsernameEnv = "NGBS_USERNAME"
	PasswordEnv = "NGBS_PASSWORD"
)

var (
	// DefaultPortal is a default unless the user provides particular values.
	DefaultPortal = PortalConfig{
		BaseURL:        "https://www.enzoldhazam.hu/",
		RequestTimeout: 10 * time.Second,
		UserAgent:      "ngbs-prometheus-adapter",
	}
	// DefaultExporter is a default unless the user provides particular values.
	DefaultExporter = ExporterConfig{
		ScrapeTimeout: 30 * time.Second,
		DeviceQuery:   ".ICON",
	}
)

// PortalConfig describes how to reach the NGBS web portal.
type PortalConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
func (p *PortalConfig) UnmarshalYAML(unmarshal func(any) error) error {
	*p = DefaultPortal
	type plain PortalConfig

	if err := unmarshal((*plain)(p)); err != nil {
		return err
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return fmt.Errorf("portal base_url is not valid: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("portal base_url must be absolute, got %q", p.BaseURL)
	}

	return nil
}

// ExporterConfig controls how a scrape is turned into a metrics document.
type ExporterConfig struct {
	ScrapeTimeout  time.Duration `yaml:"scrape_timeout"`
	DeviceQuery    string        `yaml:"device_query"`
	RawLabelValues bool          `yaml:"raw_label_values"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
func (e *ExporterConfig) UnmarshalYAML(unmarshal func(any) error) error {
	*e = DefaultExporter
	type plain ExporterConfig

	if err := unmarshal((*plain)(e)); err != nil {
		return err
	}
	if _, err := gojq.Parse(e.DeviceQuery); err != nil {
		return fmt.Errorf("exporter device_query is not valid: %w", err)
	}

	return nil
}

// Config represents the adapter config file
type Config struct {
	Accounts map[string]Account `yaml:"accounts"`
	Loglevel string             `yaml:"loglevel"`
	Portal   PortalConfig       `yaml:"portal"`
	Exporter ExporterConfig     `yaml:"exporter"`
}

// UnmarshalYAML is a custom YAML unmarshaler.
// Sections left out of the file keep their defaults.
func (c *Config) UnmarshalYAML(unmarshal func(any) error) error {
	c.Portal = DefaultPortal
	c.Exporter = DefaultExporter
	type plain Config
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	return nil
}

// SafeConfig is a mutex-enabled Config.
type SafeConfig struct {
	sync.RWMutex
	Config *Config
}

// Account holds the portal Username/Password of one NGBS account.
type Account struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NewConfigFromFile reads adapter config from an input file path.
func NewConfigFromFile(configFilePath string) (*Config, error) {
	file, err := os.Open(configFilePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readConfigFrom(file)
}

func readConfigFrom(r io.Reader) (*Config, error) {
	config := &Config{
		Portal:   DefaultPortal,
		Exporter: DefaultExporter,
	}
	if err := yaml.NewDecoder(r).Decode(config); err != nil && err != io.EOF {
		return config, err
	}

	return config, nil
}

// ReloadConfig reads a given configuration file.
// If successfully read, the SafeConfig mutex is obtained and config structure rebuilt.
func (sc *SafeConfig) ReloadConfig(configFile string) error {
	var c, err = NewConfigFromFile(configFile)
	if err != nil {
		return err
	}

	sc.Lock()
	sc.Config = c
	sc.Unlock()

	return nil
}

// AccountForName safely looks up the credentials for a named account.
// An empty name selects the "default" account. When neither exists the
// NGBS_USERNAME and NGBS_PASSWORD environment variables are used.
func (sc *SafeConfig) AccountForName(name string) (*Account, error) {
	sc.RLock()
	defer sc.RUnlock()
	if name != "" {
		if account, ok := sc.Config.Accounts[name]; ok {
			return &account, nil
		}
		return &Account{}, fmt.Errorf("no credentials found for account %s", name)
	}
	if account, ok := sc.Config.Accounts[DefaultAccount]; ok {
		return &account, nil
	}
	account := Account{
		Username: os.Getenv(UsernameEnv),
		Password: os.Getenv(PasswordEnv),
	}
	if account.Username == "" || account.Password == "" {
		return &Account{}, fmt.Errorf("no default account configured and %s/%s are not set", UsernameEnv, PasswordEnv)
	}
	return &account, nil
}

// PortalConfig returns a copy of the current portal settings.
func (sc *SafeConfig) PortalConfig() PortalConfig {
	sc.RLock()
	defer sc.RUnlock()
	return sc.Config.Portal
}

// ExporterConfig returns a copy of the current exporter settings.
func (sc *SafeConfig) ExporterConfig() ExporterConfig {
	sc.RLock()
	defer sc.RUnlock()
	return sc.Config.Exporter
}

// AppLogLevel applies a log level to the application.
func (sc *SafeConfig) AppLogLevel() string {
	sc.RLock()
	defer sc.RUnlock()
	logLevel := sc.Config.Loglevel
	if logLevel != "" {
		return logLevel
	}
	return "info"
}
