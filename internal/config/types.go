package config

import (
	"fmt"
	"net"
	"strings"
)

// Config is the daemon configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m"); zero/omitted means the documented
// default.
type Config struct {
	// TickInterval is the polling cadence of the queue. Default "50ms".
	TickInterval string `yaml:"tick_interval,omitempty"`

	Logging LoggingConfig `yaml:"logging"`
	Queue   QueueConfig   `yaml:"queue"`

	// Triggers are recurring admissions: each cron firing enqueues a task.
	Triggers []TriggerConfig `yaml:"triggers,omitempty"`

	History HistoryConfig `yaml:"history,omitempty"`
	Stats   StatsConfig   `yaml:"stats,omitempty"`
}

type LoggingConfig struct {
	Level   string `yaml:"level,omitempty"` // trace|debug|info|warn|error
	Console *bool  `yaml:"console,omitempty"`
	File    struct {
		Enabled bool   `yaml:"enabled,omitempty"`
		Path    string `yaml:"path,omitempty"`
	} `yaml:"file,omitempty"`
}

// ConsoleEnabled defaults to true when omitted.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

type QueueConfig struct {
	// DefaultTimeout applies to tasks enqueued without one. "0s" disables.
	DefaultTimeout string `yaml:"default_timeout,omitempty"`

	HistorySize int `yaml:"history_size,omitempty"`

	// StallWarnEvery throttles repeated stall warnings. Default "5s".
	StallWarnEvery string `yaml:"stall_warn_every,omitempty"`
}

// TriggerConfig defines one recurring admission.
type TriggerConfig struct {
	Name string `yaml:"name"`

	// Spec is a cron expression; both 5-field and 6-field (with seconds)
	// forms are accepted, plus descriptors like "@hourly".
	Spec string `yaml:"spec"`

	// Command names the registered action this trigger enqueues.
	Command string `yaml:"command"`

	Blocking bool   `yaml:"blocking,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`

	// Retry settings; stall_after "0s" (or omitted) disables retry.
	StallAfter  string `yaml:"stall_after,omitempty"`
	RetryDelay  string `yaml:"retry_delay,omitempty"`
	MaxAttempts int    `yaml:"max_attempts,omitempty"`

	StopOnFail bool `yaml:"stop_on_fail,omitempty"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"` // sqlite file; default "./tickq-history.db"

	// Keep bounds the number of archived records; older rows are pruned.
	// 0 keeps everything.
	Keep int `yaml:"keep,omitempty"`
}

type StatsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Listen  string `yaml:"listen,omitempty"` // default "127.0.0.1:8321"

	// Pprof mounts net/http/pprof under /debug on the stats listener.
	Pprof bool `yaml:"pprof,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		TickInterval: "50ms",
		Logging:      LoggingConfig{Level: "info"},
		Queue:        QueueConfig{HistorySize: 200, StallWarnEvery: "5s"},
		Stats:        StatsConfig{Listen: "127.0.0.1:8321"},
	}
}

// Validate rejects configurations the daemon could not run with.
func (c *Config) Validate() error {
	if _, err := ParseDurationOrDefault("tick_interval", c.TickInterval, 0); err != nil {
		return err
	}
	if _, err := ParseDurationField("queue.default_timeout", c.Queue.DefaultTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("queue.stall_warn_every", c.Queue.StallWarnEvery); err != nil {
		return err
	}
	seen := map[string]bool{}
	for i, tr := range c.Triggers {
		at := fmt.Sprintf("triggers[%d]", i)
		name := strings.TrimSpace(tr.Name)
		if name == "" {
			return fmt.Errorf("%s: name is required", at)
		}
		if seen[name] {
			return fmt.Errorf("%s: duplicate trigger name %q", at, name)
		}
		seen[name] = true
		if strings.TrimSpace(tr.Spec) == "" {
			return fmt.Errorf("%s: spec is required", at)
		}
		if strings.TrimSpace(tr.Command) == "" {
			return fmt.Errorf("%s: command is required", at)
		}
		for _, f := range []struct{ path, raw string }{
			{at + ".timeout", tr.Timeout},
			{at + ".stall_after", tr.StallAfter},
			{at + ".retry_delay", tr.RetryDelay},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
		if tr.MaxAttempts < 0 {
			return fmt.Errorf("%s: max_attempts must be >= 0", at)
		}
	}
	if c.Stats.Enabled {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(c.Stats.Listen)); err != nil {
			return fmt.Errorf("stats.listen: %w", err)
		}
	}
	return nil
}
