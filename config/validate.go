package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"paygate/crypto"
)

var validate = validator.New()

// ValidateConfig checks struct tag constraints and the fields that need
// domain parsing.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := crypto.ParseAddress(cfg.PlatformAccount); err != nil {
		return fmt.Errorf("invalid config: PlatformAccount: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute > 0 && cfg.RateLimit.Burst == 0 {
		return fmt.Errorf("invalid config: rate_limit.Burst must be positive when RequestsPerMinute is set")
	}
	return nil
}

// Platform returns the parsed platform wallet. ok is false only for configs
// that bypassed ValidateConfig.
func (c *Config) Platform() ([20]byte, bool, error) {
	if strings.TrimSpace(c.PlatformAccount) == "" {
		return [20]byte{}, false, nil
	}
	addr, err := crypto.ParseAddress(c.PlatformAccount)
	if err != nil {
		return addr, false, err
	}
	return addr, true, nil
}
