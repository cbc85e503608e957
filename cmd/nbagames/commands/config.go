package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"nbagames/lib/configutil"
	"nbagames/lib/scrapers/bbref"
)

type SeasonRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type Config struct {
	Seasons SeasonRange `json:"seasons"`

	// holds the seasons, schedules and scores page caches
	DataDir  string `json:"data_dir"`
	Output   string `json:"output"`
	// defaults to <data_dir>/manifest.db
	Manifest string `json:"manifest"`

	MaxRetries         int     `json:"max_retries"`
	BaseBackoffSeconds float64 `json:"base_backoff_seconds"`
	ThrottleFirst      bool    `json:"throttle_first"`
	Concurrency        int     `json:"concurrency"`
	RequestsPerMinute  float64 `json:"requests_per_minute"`

	BaseUrl               string  `json:"base_url"`
	RequestTimeoutSeconds float64 `json:"request_timeout_seconds"`
	// skips the cloudflare bypass transport, plain net/http is used
	DirectTransport       bool    `json:"direct_transport"`
}

func DefaultConfig() Config {
	return Config{
		Seasons:               SeasonRange{From: 2016, To: 2023},
		DataDir:               "data",
		Output:                "nba_games.csv",
		MaxRetries:            3,
		BaseBackoffSeconds:    5,
		Concurrency:           4,
		RequestsPerMinute:     20,
		BaseUrl:               bbref.DefaultBaseUrl,
		RequestTimeoutSeconds: 60,
	}
}

// LoadConfig reads path over the defaults, a missing file leaves the
// defaults untouched.
func LoadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfigWithDefaults(path, DefaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Seasons.From <= 0 || c.Seasons.To < c.Seasons.From {
		errs = append(errs, fmt.Errorf("invalid season range %d-%d", c.Seasons.From, c.Seasons.To))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	if c.Output == "" {
		errs = append(errs, errors.New("output is empty"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.MaxRetries <= 0 {
		errs = append(errs, errors.New("max_retries must be positive"))
	}
	return errors.Join(errs...)
}

// SeasonList expands the configured range, both ends included.
func (c Config) SeasonList() []int {
	var seasons []int
	for s := c.Seasons.From; s <= c.Seasons.To; s++ {
		seasons = append(seasons, s)
	}
	return seasons
}

func (c Config) ManifestPath() string {
	if c.Manifest != "" {
		return c.Manifest
	}
	return filepath.Join(c.DataDir, "manifest.db")
}

func (c Config) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffSeconds * float64(time.Second))
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds * float64(time.Second))
}
