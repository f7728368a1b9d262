package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lsqqqq/notifyemail/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the fields that failed validation.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateMail(&cfg.Mail)
	v.validateSession(&cfg.Session)
	v.validateMonitor(&cfg.Monitor)

	if cfg.Packaging.Concurrency < 0 {
		v.addError("packaging.concurrency", cfg.Packaging.Concurrency, "must not be negative")
	}

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateMail(cfg *MailConfig) {
	if cfg.Host == "" {
		v.addError("mail.host", cfg.Host, "relay hostname required")
	}
	if cfg.User == "" {
		v.addError("mail.user", cfg.User, "sender account required")
	}
	if cfg.Password == "" {
		v.addError("mail.password", "", "sender credential required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		v.addError("mail.port", cfg.Port, "must be between 1 and 65535")
	}
	if cfg.Timeout < 0 {
		v.addError("mail.timeout", cfg.Timeout, "must not be negative")
	}
	for _, addr := range cfg.Recipients {
		if !ValidAddress(addr) {
			v.addError("mail.recipients", addr, "not an e-mail address")
		}
	}
}

func (v *Validator) validateSession(cfg *SessionConfig) {
	if strings.TrimSpace(cfg.Root) == "" {
		v.addError("session.root", cfg.Root, "log root path required")
	}
	if cfg.MaxRetained < 1 {
		v.addError("session.max_retained", cfg.MaxRetained, "must be at least 1")
	}
}

func (v *Validator) validateMonitor(cfg *MonitorConfig) {
	if cfg.SampleInterval <= 0 {
		v.addError("monitor.sample_interval", cfg.SampleInterval, "must be positive")
	}
	if cfg.ReportInterval <= 0 {
		v.addError("monitor.report_interval", cfg.ReportInterval, "must be positive")
	}
	if cfg.SampleInterval > 0 && cfg.ReportInterval > 0 && cfg.ReportInterval < cfg.SampleInterval {
		v.addError("monitor.report_interval", cfg.ReportInterval, "must be >= monitor.sample_interval")
	}
}

// ValidAddress performs a shallow check on an e-mail address.
func ValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	return at > 0 && at < len(addr)-1 && !strings.ContainsAny(addr, " \t\r\n")
}

// Validate runs the validator and converts failures into a configuration error.
func Validate(cfg *Config) error {
	if cfg == nil {
		return core.ErrConfiguration(core.CodeInvalidConfig, "configuration is nil")
	}
	err := NewValidator().Validate(cfg)
	if err == nil {
		return nil
	}
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return core.ErrConfiguration(core.CodeInvalidConfig,
			fmt.Sprintf("invalid settings: %s", strings.Join(verrs.Fields(), ", "))).
			WithCause(err)
	}
	return core.ErrConfiguration(core.CodeInvalidConfig, "invalid settings").WithCause(err)
}
