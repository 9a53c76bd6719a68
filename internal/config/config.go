// Package config loads the creditscore configuration from defaults, an
// optional file and CREDITSCORE_* environment variables.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/scoring"
)

// EnvPrefix prefixes every environment variable. Nested keys join with an
// underscore: CREDITSCORE_SCORING_WINDOWDAYS, CREDITSCORE_CACHE_REDISADDR.
const EnvPrefix = "CREDITSCORE"

// Load builds the configuration. Values are layered: tier defaults, then
// the file at path (YAML, JSON or TOML by extension; empty skips it), then
// the environment. The tier itself may come from any layer and selects the
// defaults (community or pro). The scoring section is validated; an invalid
// one is returned as a *domain.ConfigurationError.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	base := domain.DefaultConfig()
	if domain.ProductTier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, "", reflect.ValueOf(*base))

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Tier = domain.ProductTier(strings.ToLower(string(cfg.Tier)))

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of cfg that would otherwise fail late.
func Validate(cfg *domain.Config) error {
	if err := scoring.ValidateConfig(cfg.Scoring); err != nil {
		return err
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return &domain.ConfigurationError{Field: "server.port", Reason: fmt.Sprintf("%d is not a valid port", cfg.Server.Port)}
	}
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return &domain.ConfigurationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", cfg.Tier)}
	}
	return nil
}

// setDefaults registers every leaf of val under its mapstructure key so
// that AutomaticEnv can override keys the file does not mention.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Time{}) {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}
