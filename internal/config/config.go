package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"regimecast/scheduler/pkg/models"
)

// Config holds the configuration for the scheduler.
type Config struct {
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Storage struct {
		// Driver selects the registry backend: "postgres" or "memory".
		Driver string `mapstructure:"driver"`
	} `mapstructure:"storage"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	TLS struct {
		Enable   bool   `mapstructure:"enable"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
		// SelfSigned generates a throwaway dev cert at startup when the
		// cert files are missing.
		SelfSigned bool `mapstructure:"self_signed"`
	} `mapstructure:"tls"`
	Entities  []EntityConfig `mapstructure:"entities"`
	Freshness struct {
		// ThresholdDays maps a cadence class to its staleness threshold.
		ThresholdDays map[string]int `mapstructure:"threshold_days"`
	} `mapstructure:"freshness"`
	Feedback struct {
		AbsoluteCeiling   float64 `mapstructure:"absolute_ceiling"`
		DegradationMargin float64 `mapstructure:"degradation_margin"`
		MinSamples        int     `mapstructure:"min_samples"`
		LookbackDays      int     `mapstructure:"lookback_days"`
	} `mapstructure:"feedback"`
	Pipeline struct {
		MaxTrainWorkers int `mapstructure:"max_train_workers"`
		// Collaborator commands, one per stage body. Empty commands fall
		// back to no-op collaborators (dry runs, tests).
		Commands map[string]string `mapstructure:"commands"`
	} `mapstructure:"pipeline"`
}

// EntityConfig declares one retrainable entity.
type EntityConfig struct {
	Name    string `mapstructure:"name"`
	Cadence string `mapstructure:"cadence"`
	Core    bool   `mapstructure:"core"`
	// TrainStage names the pipeline stage that trains this core entity
	// ("cluster" or "classify"). Ignored for non-core entities, which are
	// all trained by the forecast stage.
	TrainStage string `mapstructure:"train_stage"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("storage.driver", "postgres")
	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("tls.enable", false)
	viper.SetDefault("tls.cert_file", "server.crt")
	viper.SetDefault("tls.key_file", "server.key")

	// Cadence-proportional staleness windows: a daily-cadence entity accrues
	// meaningfully new data every day, so it tolerates a shorter window.
	viper.SetDefault("freshness.threshold_days", map[string]int{
		"daily":   90,
		"weekly":  180,
		"monthly": 365,
		"core":    30,
	})

	viper.SetDefault("feedback.absolute_ceiling", 30.0)
	viper.SetDefault("feedback.degradation_margin", 10.0)
	viper.SetDefault("feedback.min_samples", 3)
	viper.SetDefault("feedback.lookback_days", 90)

	viper.SetDefault("pipeline.max_train_workers", 4)
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for _, e := range c.Entities {
		if e.Name == "" {
			return fmt.Errorf("entity with empty name in config")
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate entity %q in config", e.Name)
		}
		seen[e.Name] = true
		switch models.Cadence(e.Cadence) {
		case models.CadenceDaily, models.CadenceWeekly, models.CadenceMonthly, models.CadenceCore:
		default:
			return fmt.Errorf("entity %q has unknown cadence %q", e.Name, e.Cadence)
		}
	}
	return nil
}

// EntityList converts the configured entities into domain models.
func (c *Config) EntityList() []models.Entity {
	entities := make([]models.Entity, 0, len(c.Entities))
	for _, e := range c.Entities {
		entities = append(entities, models.Entity{
			Name:    e.Name,
			Cadence: models.Cadence(e.Cadence),
			Core:    e.Core,
		})
	}
	return entities
}

// Thresholds converts the configured per-cadence threshold days into
// durations keyed by cadence.
func (c *Config) Thresholds() map[models.Cadence]time.Duration {
	out := make(map[models.Cadence]time.Duration, len(c.Freshness.ThresholdDays))
	for cadence, days := range c.Freshness.ThresholdDays {
		out[models.Cadence(cadence)] = time.Duration(days) * 24 * time.Hour
	}
	return out
}

// ConnString builds the Postgres connection string from the DB section.
func (c *Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}
