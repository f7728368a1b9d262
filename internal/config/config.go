package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Mail      MailConfig      `mapstructure:"mail"`
	Session   SessionConfig   `mapstructure:"session"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Packaging PackagingConfig `mapstructure:"packaging"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MailConfig configures the relay and the default recipients.
type MailConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	Recipients []string      `mapstructure:"recipients"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// DefaultRecipients returns the configured recipients, falling back to the
// sender account when none are set.
func (m MailConfig) DefaultRecipients() []string {
	if len(m.Recipients) > 0 {
		return m.Recipients
	}
	if m.User != "" {
		return []string{m.User}
	}
	return nil
}

// SessionConfig configures where sessions live and how many are kept.
type SessionConfig struct {
	Root        string `mapstructure:"root"`
	MaxRetained int    `mapstructure:"max_retained"`
}

// MonitorConfig configures resource sampling.
type MonitorConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

// PackagingConfig configures attachment compression.
type PackagingConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}
