// Package config loads the application configuration: YAML file with
// GRANTSCOPE_* environment overrides layered on top.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grantscope/grantscope/internal/fault"
)

// Duration decodes "200ms" style YAML scalars.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fault.Wrap(fault.KindInvalidArguments, err, "parse duration")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fault.Wrap(fault.KindInvalidArguments, err, "parse duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// Config is the full application configuration.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	BMF struct {
		// Path to the exempt-organization master file CSV.
		Path string `yaml:"path"`
	} `yaml:"bmf"`

	ProPublica struct {
		BaseURL     string   `yaml:"base_url"`
		MinInterval Duration `yaml:"min_interval"`
		CacheTTL    Duration `yaml:"cache_ttl"`
	} `yaml:"propublica"`

	Inference struct {
		BaseURL string  `yaml:"base_url"`
		APIKey  string  `yaml:"api_key"`
		Model   string  `yaml:"model"`
		CostUSD float64 `yaml:"cost_usd"`
		RPS     float64 `yaml:"rps"`
	} `yaml:"inference"`

	Budget struct {
		RunUSD   float64 `yaml:"run_usd"`
		DayUSD   float64 `yaml:"day_usd"`
		MonthUSD float64 `yaml:"month_usd"`
	} `yaml:"budget"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	Redis struct {
		Addr   string `yaml:"addr"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`

	Scoring struct {
		// WeightsPath optionally overrides the built-in stage weights.
		WeightsPath string `yaml:"weights_path"`
	} `yaml:"scoring"`

	Workflow struct {
		Dir           string `yaml:"dir"`
		MaxConcurrent int64  `yaml:"max_concurrent"`
	} `yaml:"workflow"`

	Tools struct {
		// MetadataDir holds the declared tool catalog for startup
		// cross-checks; empty skips the check.
		MetadataDir string `yaml:"metadata_dir"`
	} `yaml:"tools"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.Log.Level = "info"
	c.ProPublica.BaseURL = "https://projects.propublica.org/nonprofits/api/v2"
	c.ProPublica.MinInterval = Duration(200 * time.Millisecond)
	c.ProPublica.CacheTTL = Duration(7 * 24 * time.Hour)
	c.Inference.Model = "analyst-small"
	c.Inference.CostUSD = 0.02
	c.Inference.RPS = 2
	c.Budget.RunUSD = 25
	c.Budget.DayUSD = 100
	c.Budget.MonthUSD = 1000
	c.Workflow.MaxConcurrent = 8
	return c
}

// Load reads path (optional) and applies environment overrides.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fault.Wrap(fault.KindInvalidArguments, err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fault.Wrap(fault.KindInvalidArguments, err, "parse config %s", path)
		}
	}
	c.applyEnv()
	return c, nil
}

// applyEnv layers GRANTSCOPE_* variables over the file values.
// Environment wins so deployments can override checked-in files.
func (c *Config) applyEnv() {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setStr("GRANTSCOPE_LOG_LEVEL", &c.Log.Level)
	setStr("GRANTSCOPE_BMF_PATH", &c.BMF.Path)
	setStr("GRANTSCOPE_PROPUBLICA_BASE_URL", &c.ProPublica.BaseURL)
	setStr("GRANTSCOPE_INFERENCE_BASE_URL", &c.Inference.BaseURL)
	setStr("GRANTSCOPE_INFERENCE_API_KEY", &c.Inference.APIKey)
	setStr("GRANTSCOPE_INFERENCE_MODEL", &c.Inference.Model)
	setStr("GRANTSCOPE_PG_DSN", &c.Postgres.DSN)
	setStr("GRANTSCOPE_REDIS_ADDR", &c.Redis.Addr)
	setStr("GRANTSCOPE_WORKFLOW_DIR", &c.Workflow.Dir)
	setStr("GRANTSCOPE_TOOLS_METADATA_DIR", &c.Tools.MetadataDir)
	setFloat("GRANTSCOPE_BUDGET_RUN_USD", &c.Budget.RunUSD)
	setFloat("GRANTSCOPE_BUDGET_DAY_USD", &c.Budget.DayUSD)
	setFloat("GRANTSCOPE_BUDGET_MONTH_USD", &c.Budget.MonthUSD)
	setFloat("GRANTSCOPE_INFERENCE_COST_USD", &c.Inference.CostUSD)
}
