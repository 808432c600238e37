package model

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ScenarioState tracks a validation run through its lifecycle:
// Pending -> Writing -> (WriteFailed | Polling) -> (Passed | TimedOut).
// WriteFailed, Passed and TimedOut are terminal.
type ScenarioState string

const (
	ScenarioPending     ScenarioState = "pending"
	ScenarioWriting     ScenarioState = "writing"
	ScenarioWriteFailed ScenarioState = "write_failed"
	ScenarioPolling     ScenarioState = "polling"
	ScenarioPassed      ScenarioState = "passed"
	ScenarioTimedOut    ScenarioState = "timed_out"
)

// Terminal reports whether the state ends a scenario run.
func (s ScenarioState) Terminal() bool {
	return s == ScenarioWriteFailed || s == ScenarioPassed || s == ScenarioTimedOut
}

// Scenario describes one write-then-poll consistency check: write through
// the target with WriterRole, then poll reads via ReaderRole until the
// content is visible or MaxWait elapses.
type Scenario struct {
	Name         string        `yaml:"name" mapstructure:"name"`
	WriterRole   Role          `yaml:"writer_role" mapstructure:"writer_role"`
	ReaderRole   Role          `yaml:"reader_role" mapstructure:"reader_role"`
	MaxWait      time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// UnmarshalYAML decodes durations from strings like "30s" or "500ms",
// which the yaml package does not handle for time.Duration on its own.
func (s *Scenario) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name         string `yaml:"name"`
		WriterRole   string `yaml:"writer_role"`
		ReaderRole   string `yaml:"reader_role"`
		MaxWait      string `yaml:"max_wait"`
		PollInterval string `yaml:"poll_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	s.Name = raw.Name
	s.WriterRole = Role(raw.WriterRole)
	s.ReaderRole = Role(raw.ReaderRole)

	if raw.MaxWait != "" {
		d, err := time.ParseDuration(raw.MaxWait)
		if err != nil {
			return fmt.Errorf("scenario %q: invalid max_wait: %w", raw.Name, err)
		}
		s.MaxWait = d
	}
	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return fmt.Errorf("scenario %q: invalid poll_interval: %w", raw.Name, err)
		}
		s.PollInterval = d
	}
	return nil
}

// ScenarioReport is the outcome of one scenario run.
type ScenarioReport struct {
	Scenario         Scenario
	State            ScenarioState
	Key              string
	WriteLatency     time.Duration
	FirstReadLatency time.Duration
	Attempts         int
	Passed           bool
	Err              string
}
