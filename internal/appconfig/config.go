// Package appconfig loads the engine's Configuration from YAML with
// environment-variable overrides, the way the pack's controller-style
// repos load their own configuration (spf13/viper), and validates the
// result with struct-tag rules (go-playground/validator).
package appconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/dataparency-dev/territory-assign/pkg/model"
)

const envPrefix = "TERRITORYASSIGN"

// defaults mirrors the recognized-options table in the spec's external
// interfaces section.
var defaults = map[string]any{
	"customer_target_arr":       1_000_000.0,
	"customer_min_arr":          0.0,
	"customer_max_arr":          0.0,
	"prospect_target_arr":       0.0,
	"prospect_min_arr":          0.0,
	"prospect_max_arr":          0.0,
	"capacity_variance_percent": 15.0,
	"max_cre_per_rep":           5,
	"max_tier1_per_rep":         10,
	"max_tier2_per_rep":         25,
	"renewal_concentration_max": 20.0,
	"fiscal_year_start_month":   2,
	"write_batch_size":          500,
	"global_timeout":            30 * time.Minute,
	"solver_time_budget":        10 * time.Second,
	"solver_relative_gap":       0.05,
}

// Load reads configuration from the given file path (may be empty, in
// which case only defaults and environment overrides apply) and returns a
// validated model.Configuration.
func Load(path string) (model.Configuration, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return model.Configuration{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg model.Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return model.Configuration{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Unconfigured bands default to zero. An unset max is set to
	// target * (1 + capacity variance), and an unset min (when a target
	// is set) to target * (1 - capacity variance).
	if cfg.CustomerMaxARR == 0 {
		cfg.CustomerMaxARR = cfg.CustomerTargetARR * (1 + cfg.CapacityVariancePercent/100)
	}
	if cfg.CustomerMinARR == 0 && cfg.CustomerTargetARR > 0 {
		cfg.CustomerMinARR = cfg.CustomerTargetARR * (1 - cfg.CapacityVariancePercent/100)
	}

	if err := validate(cfg); err != nil {
		return model.Configuration{}, err
	}
	return cfg, nil
}

var validatorInstance = validator.New(validator.WithRequiredStructEnabled())

func validate(cfg model.Configuration) error {
	if err := validatorInstance.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.CustomerMinARR > cfg.CustomerTargetARR {
		return fmt.Errorf("invalid configuration: customer_min_arr (%.2f) exceeds customer_target_arr (%.2f)", cfg.CustomerMinARR, cfg.CustomerTargetARR)
	}
	if cfg.CustomerTargetARR > cfg.CustomerMaxARR {
		return fmt.Errorf("invalid configuration: customer_target_arr (%.2f) exceeds customer_max_arr (%.2f)", cfg.CustomerTargetARR, cfg.CustomerMaxARR)
	}
	return nil
}
