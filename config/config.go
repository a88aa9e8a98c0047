// Package config loads the explicit configuration struct every component
// receives at construction. Nothing outside this package reads process
// environment or files directly.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values come from a YAML file,
// with struct defaults filling the gaps and environment variables overriding
// secrets.
type Config struct {
	Environment string `yaml:"environment" default:"production" validate:"required"`

	// Infrastructure
	DBPath      string `yaml:"db_path" default:"data/oracle.db" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr" default:":9090"`
	GatewayAddr string `yaml:"gateway_addr" default:":8080"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel" default:"oracle:events"`
	} `yaml:"redis"`

	Exchange struct {
		APIKey     string `yaml:"api_key"`
		SecretKey  string `yaml:"secret_key"`
		TOTPSecret string `yaml:"totp_secret"`
		// PaperValue is the simulated starting account value used when
		// no API keys are configured.
		PaperValue float64 `yaml:"paper_value" default:"10000" validate:"gt=0"`
	} `yaml:"exchange"`

	Strategy struct {
		ReferenceAsset string  `yaml:"reference_asset" default:"btc" validate:"required"`
		StableAsset    string  `yaml:"stable_asset" default:"usdt" validate:"required"`
		FeeRate        float64 `yaml:"fee_rate" default:"0.001" validate:"gte=0,lt=1"`
	} `yaml:"strategy"`

	Refiner struct {
		CouncilSize  int `yaml:"council_size" default:"5" validate:"gt=0"`
		TrendMin     int `yaml:"trend_min" default:"20" validate:"gt=0"`
		TrendMax     int `yaml:"trend_max" default:"100" validate:"gtefield=TrendMin"`
		MomentumMin  int `yaml:"momentum_min" default:"10" validate:"gt=0"`
		MomentumMax  int `yaml:"momentum_max" default:"50" validate:"gtefield=MomentumMin"`
		RecentWindow int `yaml:"recent_window" default:"720" validate:"gt=0"`
	} `yaml:"refiner"`

	Finance struct {
		DistributionFraction float64 `yaml:"distribution_fraction" default:"0.5" validate:"gt=0,lte=1"`
		WithdrawalDays       []int   `yaml:"withdrawal_days" validate:"dive,min=1,max=31"`
		DefaultCurrency      string  `yaml:"default_currency" default:"btc" validate:"required"`
		DefaultTaxPct        float64 `yaml:"default_tax_pct" default:"20" validate:"gte=0,lte=100"`
	} `yaml:"finance"`

	Cycle struct {
		IntervalRaw string        `yaml:"interval" default:"1h"`
		Interval    time.Duration `yaml:"-" validate:"gt=0"`
		RefineEvery int           `yaml:"refine_every" default:"24" validate:"gt=0"`
		// Fallback live rules before the first promotion.
		DefaultTrendWindow    int `yaml:"default_trend_window" default:"50" validate:"gt=0"`
		DefaultMomentumWindow int `yaml:"default_momentum_window" default:"20" validate:"gt=0"`
	} `yaml:"cycle"`

	Notify struct {
		WebhookURL     string `yaml:"webhook_url"`
		TelegramToken  string `yaml:"telegram_token"`
		TelegramChatID string `yaml:"telegram_chat_id"`
	} `yaml:"notify"`
}

var validate = validator.New()

// Load reads the YAML file at path (missing file means defaults only),
// applies struct defaults, overlays secret environment variables and
// validates the result.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
			// Defaults-only run.
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	if len(c.Finance.WithdrawalDays) == 0 {
		c.Finance.WithdrawalDays = []int{1, 15}
	}

	d, err := time.ParseDuration(c.Cycle.IntervalRaw)
	if err != nil {
		return nil, fmt.Errorf("parse cycle interval %q: %w", c.Cycle.IntervalRaw, err)
	}
	c.Cycle.Interval = d

	applyEnvOverrides(&c)

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// applyEnvOverrides overlays secrets and deployment-specific endpoints.
// Secrets belong in the environment, never in the YAML file.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("EXCHANGE_SECRET_KEY"); v != "" {
		c.Exchange.SecretKey = v
	}
	if v := os.Getenv("EXCHANGE_TOTP_SECRET"); v != "" {
		c.Exchange.TOTPSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.TelegramChatID = v
	}
}

// LiveMode reports whether exchange credentials are configured. Without
// them the trader runs in paper mode.
func (c *Config) LiveMode() bool {
	return c.Exchange.APIKey != "" && c.Exchange.SecretKey != ""
}
