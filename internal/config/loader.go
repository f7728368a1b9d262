package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/lsqqqq/notifyemail/internal/core"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "NOTIFYEMAIL",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "NOTIFYEMAIL",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (NOTIFYEMAIL_*)
// 3. Project config (.notifyemail.yaml in current directory)
// 4. User config (~/.config/notifyemail/.notifyemail.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".notifyemail")
		l.v.SetConfigType("yaml")

		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "notifyemail"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, core.ErrConfiguration(core.CodeInvalidConfig, "reading config").
				WithCause(err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, core.ErrConfiguration(core.CodeInvalidConfig, "unmarshaling config").
			WithCause(err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Empty defaults register the keys so AutomaticEnv reaches them on Unmarshal.
	l.v.SetDefault("mail.host", "")
	l.v.SetDefault("mail.user", "")
	l.v.SetDefault("mail.password", "")
	l.v.SetDefault("mail.recipients", []string{})
	l.v.SetDefault("mail.port", core.DefaultSMTPPort)
	l.v.SetDefault("mail.timeout", core.DefaultSendTimeout.String())

	l.v.SetDefault("session.root", core.DefaultRoot)
	l.v.SetDefault("session.max_retained", core.DefaultMaxRetained)

	l.v.SetDefault("monitor.sample_interval", core.DefaultSampleInterval.String())
	l.v.SetDefault("monitor.report_interval", core.DefaultReportInterval.String())

	l.v.SetDefault("packaging.concurrency", core.DefaultConcurrency)
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		Mail: MailConfig{
			Port:    core.DefaultSMTPPort,
			Timeout: core.DefaultSendTimeout,
		},
		Session: SessionConfig{
			Root:        core.DefaultRoot,
			MaxRetained: core.DefaultMaxRetained,
		},
		Monitor: MonitorConfig{
			SampleInterval: core.DefaultSampleInterval,
			ReportInterval: core.DefaultReportInterval,
		},
		Packaging: PackagingConfig{Concurrency: core.DefaultConcurrency},
	}
}

// LoadAndValidate loads configuration and validates it in one step.
func (l *Loader) LoadAndValidate() (*Config, error) {
	cfg, err := l.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// String renders the effective configuration with the password masked.
func (c *Config) String() string {
	pass := ""
	if c.Mail.Password != "" {
		pass = "********"
	}
	return fmt.Sprintf("root=%s host=%s:%d user=%s password=%s recipients=%v max_retained=%d sample=%s report=%s",
		c.Session.Root, c.Mail.Host, c.Mail.Port, c.Mail.User, pass, c.Mail.DefaultRecipients(),
		c.Session.MaxRetained, c.Monitor.SampleInterval, c.Monitor.ReportInterval)
}
