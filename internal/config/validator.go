package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/automationservice/flowengine/internal/types"
)

// Validator validates configuration values.
type Validator interface {
	Validate(cfg *Config) error
}

type validatorImpl struct {
	validate *validator.Validate
}

// NewValidator creates a Validator backed by go-playground/validator.
func NewValidator() Validator {
	return &validatorImpl{validate: validator.New()}
}

// Validate checks struct tags plus the cross-field rules tags can't express.
func (v *validatorImpl) Validate(cfg *Config) error {
	if cfg == nil {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "configuration is nil")
	}

	if err := v.validate.Struct(cfg); err != nil {
		validationErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return types.WrapError(types.CONFIG_VALIDATION_FAILED, "validation error", err)
		}
		var messages []string
		for _, e := range validationErrs {
			messages = append(messages, formatValidationError(e))
		}
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(messages, "\n  - ")))
	}

	// Duration bounds; validator tags cannot express duration literals.
	durationChecks := []struct {
		field    string
		value    time.Duration
		min, max time.Duration
	}{
		{"engine.run_timeout", cfg.Engine.RunTimeout, time.Second, 10 * time.Minute},
		{"engine.match_timeout", cfg.Engine.MatchTimeout, 100 * time.Millisecond, time.Minute},
		{"engine.retry.initial_delay", cfg.Engine.Retry.InitialDelay, time.Millisecond, 0},
		{"engine.retry.max_delay", cfg.Engine.Retry.MaxDelay, time.Millisecond, 0},
		{"gateway.timeout", cfg.Gateway.Timeout, time.Second, 0},
		{"ledger.retention", cfg.Ledger.Retention, time.Minute, 0},
	}
	for _, check := range durationChecks {
		if check.value < check.min {
			return types.NewError(types.CONFIG_VALIDATION_FAILED,
				fmt.Sprintf("configuration validation failed:\n  - %s must be at least %v (got: %v)",
					check.field, check.min, check.value))
		}
		if check.max > 0 && check.value > check.max {
			return types.NewError(types.CONFIG_VALIDATION_FAILED,
				fmt.Sprintf("configuration validation failed:\n  - %s must be at most %v (got: %v)",
					check.field, check.max, check.value))
		}
	}

	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"configuration validation failed:\n  - store.path is required when store.driver is 'sqlite'")
	}
	if cfg.Ledger.Driver == "sqlite" && cfg.Ledger.Path == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"configuration validation failed:\n  - ledger.path is required when ledger.driver is 'sqlite'")
	}
	if cfg.Engine.Retry.MaxDelay < cfg.Engine.Retry.InitialDelay {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"configuration validation failed:\n  - engine.retry.max_delay must be >= engine.retry.initial_delay")
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"configuration validation failed:\n  - tracing.endpoint is required when tracing is enabled")
	}

	return nil
}

// formatValidationError renders one field error with its path and rule.
func formatValidationError(e validator.FieldError) string {
	fieldPath := formatFieldPath(e.Namespace())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fieldPath)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", fieldPath, e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", fieldPath, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", fieldPath, e.Param(), e.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", fieldPath, e.Value())
	default:
		return fmt.Sprintf("%s failed %s validation (got: %v)", fieldPath, e.Tag(), e.Value())
	}
}

// formatFieldPath converts the validator namespace (Config.Engine.RunTimeout)
// to the config file's dotted lower-case path (engine.run_timeout).
func formatFieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = toSnakeCase(p)
	}
	return strings.Join(parts, ".")
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
