package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the config for required fields and valid values.
func Validate(c *Config) error {
	var errors []string

	if err := validateState(c.State); err != nil {
		errors = append(errors, err.Error())
	}

	for _, err := range validateTransport(c.Transport) {
		errors = append(errors, err.Error())
	}

	if c.Quota != "" {
		if _, err := humanize.ParseBytes(c.Quota); err != nil {
			errors = append(errors, ValidationError{
				Field:   "quota",
				Message: fmt.Sprintf("invalid size %q", c.Quota),
			}.Error())
		}
	}

	if err := validateLog(c.Log); err != nil {
		errors = append(errors, err.Error())
	}

	seen := make(map[string]bool, len(c.Cargos))
	for i, cargo := range c.Cargos {
		if err := validateCargo(i, cargo); err != nil {
			errors = append(errors, err.Error())
			continue
		}
		if seen[cargo.ID] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("cargos[%d].id", i),
				Message: fmt.Sprintf("duplicate cargo id '%s'", cargo.ID),
			}.Error())
		}
		seen[cargo.ID] = true
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func validateState(s StateConfig) error {
	switch s.Driver {
	case DriverSQLite, DriverFile:
	case DriverLibSQL:
		if s.DSN == "" {
			return ValidationError{
				Field:   "state.dsn",
				Message: "dsn is required for the libsql driver",
			}
		}
	default:
		return ValidationError{
			Field:   "state.driver",
			Message: fmt.Sprintf("invalid driver '%s' (expected %s, %s or %s)", s.Driver, DriverSQLite, DriverLibSQL, DriverFile),
		}
	}
	return nil
}

func validateTransport(t TransportConfig) []error {
	var errs []error
	for field, value := range map[string]string{
		"transport.timeout":     t.Timeout,
		"transport.retry_delay": t.RetryDelay,
	} {
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid duration '%s'", value),
			})
		}
	}
	if t.Retries != nil && *t.Retries < 0 {
		errs = append(errs, ValidationError{
			Field:   "transport.retries",
			Message: "retries cannot be negative",
		})
	}
	return errs
}

func validateLog(l LogConfig) error {
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return ValidationError{
			Field:   "log.level",
			Message: err.Error(),
		}
	}
	if l.Format != "text" && l.Format != "json" {
		return ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s' (expected text or json)", l.Format),
		}
	}
	return nil
}

func validateCargo(index int, c Cargo) error {
	if c.ID == "" {
		return ValidationError{
			Field:   fmt.Sprintf("cargos[%d].id", index),
			Message: "id is required",
		}
	}
	if strings.ContainsAny(c.ID, `/\`) || c.ID == "." || c.ID == ".." {
		return ValidationError{
			Field:   fmt.Sprintf("cargos[%d].id", index),
			Message: fmt.Sprintf("invalid cargo id '%s'", c.ID),
		}
	}

	u, err := url.Parse(c.ManifestURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError{
			Field:   fmt.Sprintf("cargos[%d].manifest_url", index),
			Message: fmt.Sprintf("manifest_url must be an http(s) URL, got '%s'", c.ManifestURL),
		}
	}
	return nil
}
