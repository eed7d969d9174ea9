// Package loadgen drives a running repairflow server through a simulated
// shop day: it seeds a roster, opens jobs, walks them through the repair
// lifecycle and then checks that technician workload still adds up.
package loadgen

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Errors returned by Run.
var (
	ErrInvalidConfig = errors.New("loadgen: invalid config")
	ErrUnhealthy     = errors.New("loadgen: service unhealthy")
	ErrInconsistent  = errors.New("loadgen: inconsistent results")
)

// Defaults used by NewConfig.
const (
	DefaultBaseURL     = "http://localhost:9080"
	DefaultTechnicians = 25
	DefaultJobs        = 500
	DefaultTimeout     = 10 * time.Second
	DefaultReworkRate  = 0.15
	DefaultReassign    = 0.05
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Technicians int           // Roster size
	Jobs        int           // Number of jobs to open
	Workers     int           // Number of concurrent job walkers
	Timeout     time.Duration // HTTP request timeout
	// ReworkRate is the chance that a quality check sends a job back.
	ReworkRate float64
	// ReassignRate is the chance that a job changes hands mid repair.
	ReassignRate float64
	Seed         uint64 // Seed for the plan; zero picks one from the clock
	OutputFile   string // Report file; empty disables the report
	Verbose      bool
}

// NewConfig returns a Config with defaults.
func NewConfig() *Config {
	return &Config{
		BaseURL:      DefaultBaseURL,
		Technicians:  DefaultTechnicians,
		Jobs:         DefaultJobs,
		Workers:      runtime.NumCPU() * 2,
		Timeout:      DefaultTimeout,
		ReworkRate:   DefaultReworkRate,
		ReassignRate: DefaultReassign,
	}
}

// Validate checks ranges.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Technicians < 1 || c.Jobs < 1 || c.Workers < 1:
		return fmt.Errorf("%w: technicians, jobs and workers must be positive", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	case c.ReworkRate < 0 || c.ReworkRate >= 1:
		return fmt.Errorf("%w: rework rate %.2f outside [0,1)", ErrInvalidConfig, c.ReworkRate)
	case c.ReassignRate < 0 || c.ReassignRate > 1:
		return fmt.Errorf("%w: reassign rate %.2f outside [0,1]", ErrInvalidConfig, c.ReassignRate)
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	RunID          string        `json:"run_id"`
	Seed           uint64        `json:"seed"`
	Technicians    int           `json:"technicians"`
	JobsCreated    int           `json:"jobs_created"`
	JobsFailed     int           `json:"jobs_failed"`
	AutoAssigned   int           `json:"auto_assigned"`
	LateAssigned   int           `json:"late_assigned"`
	Unassigned     int           `json:"unassigned"`
	Delivered      int           `json:"delivered"`
	Escalated      int           `json:"escalated"`
	Reworks        int           `json:"reworks"`
	Reassignments  int           `json:"reassignments"`
	PartsReleased  int           `json:"parts_released"`
	Outcomes       int           `json:"outcomes"`
	Requests       int64         `json:"requests"`
	Retries        int64         `json:"retries"`
	SweepEscalated int           `json:"sweep_escalated"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
}
