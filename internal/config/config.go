package config

import (
	"fmt"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"

	"github.com/vnykmshr/taskrun/internal/logging"
	trerrors "github.com/vnykmshr/taskrun/pkg/common/errors"
	"github.com/vnykmshr/taskrun/pkg/metrics"
	"github.com/vnykmshr/taskrun/pkg/scheduling/recurring"
	"github.com/vnykmshr/taskrun/pkg/scheduling/registry"
	"github.com/vnykmshr/taskrun/pkg/scheduling/scheduler"
)

// Config mirrors the YAML config file.
type Config struct {
	Scheduler SchedulerSection `yaml:"scheduler"`
	Metrics   MetricsSection   `yaml:"metrics"`
	Log       logging.Config   `yaml:"log"`
	Recurring RecurringSection `yaml:"recurring"`
}

// SchedulerSection is the "scheduler" section.
type SchedulerSection struct {
	Name           string `yaml:"name"`
	MaxConcurrency int    `yaml:"max_concurrency"` // 0 = number of CPUs
	Order          string `yaml:"order"`           // fifo or lifo
	Backoff        string `yaml:"backoff"`         // e.g. "250ms"
}

// MetricsSection is the "metrics" section.
type MetricsSection struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"` // listen address of the /metrics endpoint
	Namespace string `yaml:"namespace"`
}

// RecurringSection is the "recurring" section.
type RecurringSection struct {
	TickInterval string      `yaml:"tick_interval"`
	Location     string      `yaml:"location"` // IANA name, empty = local
	Jobs         []JobConfig `yaml:"jobs"`
}

// JobConfig names a recurring job. Exactly one of Cron and Every is set.
// The work itself is bound by the program through Job.
type JobConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Cron  string `yaml:"cron"`
	Every string `yaml:"every"`
	Job   string `yaml:"job"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Scheduler: SchedulerSection{
			Name:    scheduler.DefaultName,
			Order:   registry.FIFO.String(),
			Backoff: scheduler.DefaultBackoff.String(),
		},
		Metrics: MetricsSection{
			Addr:      ":9090",
			Namespace: metrics.DefaultNamespace,
		},
		Log: logging.Config{
			Level:   "info",
			Format:  "json",
			Service: "taskrun",
		},
		Recurring: RecurringSection{
			TickInterval: recurring.DefaultTickInterval.String(),
		},
	}
}

// Load reads YAML from path over the defaults. An empty path returns the
// defaults. Out-of-range numbers are clamped; unknown enum values and
// malformed durations or cron expressions are errors.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, trerrors.NewOperationError("config", "Load", err).WithContext(path)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, then clamps and validates.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, trerrors.NewOperationError("config", "Parse", err)
	}

	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// sanity clamps
func (c *Config) clamp() {
	if c.Scheduler.MaxConcurrency < 0 {
		c.Scheduler.MaxConcurrency = 0
	}
	if c.Scheduler.Name == "" {
		c.Scheduler.Name = scheduler.DefaultName
	}
	if c.Scheduler.Backoff == "" {
		c.Scheduler.Backoff = scheduler.DefaultBackoff.String()
	}
	if d, err := time.ParseDuration(c.Scheduler.Backoff); err == nil {
		if d < scheduler.MinBackoff {
			c.Scheduler.Backoff = scheduler.MinBackoff.String()
		}
		if d > scheduler.MaxBackoff {
			c.Scheduler.Backoff = scheduler.MaxBackoff.String()
		}
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Recurring.TickInterval == "" {
		c.Recurring.TickInterval = recurring.DefaultTickInterval.String()
	}
}

// Validate checks values that cannot be clamped.
func (c Config) Validate() error {
	if _, err := registry.ParseOrder(c.Scheduler.Order); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.Scheduler.Backoff); err != nil {
		return trerrors.NewValidationError("config", "scheduler.backoff", c.Scheduler.Backoff, "not a duration").
			WithHint(`use a Go duration such as "250ms"`)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if d, err := time.ParseDuration(c.Recurring.TickInterval); err != nil || d <= 0 {
		return trerrors.NewValidationError("config", "recurring.tick_interval", c.Recurring.TickInterval, "not a positive duration")
	}
	if _, err := c.location(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Recurring.Jobs))
	for i, job := range c.Recurring.Jobs {
		field := fmt.Sprintf("recurring.jobs[%d]", i)
		if job.ID == "" {
			return trerrors.NewValidationError("config", field+".id", job.ID, "cannot be empty")
		}
		if seen[job.ID] {
			return trerrors.NewValidationError("config", field+".id", job.ID, "duplicate id")
		}
		seen[job.ID] = true

		switch {
		case job.Cron != "" && job.Every != "":
			return trerrors.NewValidationError("config", field, job.ID, "both cron and every set").
				WithHint("set exactly one of cron and every")
		case job.Cron != "":
			if err := recurring.Validate(job.Cron); err != nil {
				return err
			}
		case job.Every != "":
			if d, err := time.ParseDuration(job.Every); err != nil || d <= 0 {
				return trerrors.NewValidationError("config", field+".every", job.Every, "not a positive duration")
			}
		default:
			return trerrors.NewValidationError("config", field, job.ID, "no schedule").
				WithHint("set cron or every")
		}
	}
	return nil
}

func (c Config) location() (*time.Location, error) {
	if c.Recurring.Location == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Recurring.Location)
	if err != nil {
		return nil, trerrors.NewValidationError("config", "recurring.location", c.Recurring.Location, err.Error())
	}
	return loc, nil
}

// MetricsConfig returns the metrics settings for components. The default
// Prometheus registerer is used.
func (c Config) MetricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:   c.Metrics.Enabled,
		Namespace: c.Metrics.Namespace,
	}
}

// SchedulerConfig converts the file settings into a scheduler.Config.
// Callbacks and the logger are left for the caller.
func (c Config) SchedulerConfig() (scheduler.Config, error) {
	order, err := registry.ParseOrder(c.Scheduler.Order)
	if err != nil {
		return scheduler.Config{}, err
	}
	backoff, err := time.ParseDuration(c.Scheduler.Backoff)
	if err != nil {
		return scheduler.Config{}, trerrors.NewValidationError("config", "scheduler.backoff", c.Scheduler.Backoff, "not a duration")
	}

	return scheduler.Config{
		Name:           c.Scheduler.Name,
		MaxConcurrency: c.Scheduler.MaxConcurrency,
		Order:          order,
		Backoff:        backoff,
		Metrics:        c.MetricsConfig(),
	}, nil
}

// RecurringConfig converts the file settings into a recurring.Config.
func (c Config) RecurringConfig() (recurring.Config, error) {
	tick, err := time.ParseDuration(c.Recurring.TickInterval)
	if err != nil {
		return recurring.Config{}, trerrors.NewValidationError("config", "recurring.tick_interval", c.Recurring.TickInterval, "not a duration")
	}
	loc, err := c.location()
	if err != nil {
		return recurring.Config{}, err
	}

	return recurring.Config{
		Name:         c.Scheduler.Name,
		TickInterval: tick,
		Location:     loc,
		Metrics:      c.MetricsConfig(),
	}, nil
}

// RegisterJobs adds every configured job to f, binding each to the function
// registered under its Job name (or its ID when Job is empty).
func (c Config) RegisterJobs(f *recurring.Feeder, jobs map[string]func()) error {
	for _, job := range c.Recurring.Jobs {
		key := job.Job
		if key == "" {
			key = job.ID
		}
		work, ok := jobs[key]
		if !ok {
			return trerrors.NewOperationError("config", "RegisterJobs", trerrors.ErrNotFound).
				WithContext("job " + key)
		}

		name := job.Name
		if name == "" {
			name = job.ID
		}

		var err error
		if job.Cron != "" {
			err = f.Add(job.ID, job.Cron, name, work)
		} else {
			every, _ := time.ParseDuration(job.Every)
			err = f.AddInterval(job.ID, every, name, work)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
