package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/gilchrisn/edge-significance/pkg/partition"
)

// Policy decides what happens to an edge whose statistics are undefined
type Policy string

const (
	// PolicyRecord keeps the row with NaN/Inf values and continues.
	PolicyRecord Policy = "record"
	// PolicySkip drops the row, logs it and continues.
	PolicySkip Policy = "skip"
	// PolicyAbort fails the chunk and the run.
	PolicyAbort Policy = "abort"
)

// ParsePolicy maps a config string to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyRecord, PolicySkip, PolicyAbort:
		return p, nil
	case "":
		return PolicyRecord, nil
	}
	return "", fmt.Errorf("%w: unknown degenerate policy %q", ErrConfig, s)
}

// ErrConfig is returned for an invalid runner configuration.
var ErrConfig = errors.New("runner: invalid config")

// DefaultWorkers is the worker pool size unless configured
const DefaultWorkers = 10

// Config controls partitioning and parallelism
type Config struct {
	Chunks       int
	Workers      int
	Policy       Policy
	Resume       bool
	ChunkTimeout time.Duration // 0 disables the per-chunk deadline
}

// DefaultConfig returns 100 chunks over a pool of 10 workers
func DefaultConfig() Config {
	return Config{
		Chunks:  partition.DefaultChunks,
		Workers: DefaultWorkers,
		Policy:  PolicyRecord,
	}
}

func (c Config) validate() error {
	if c.Chunks < 1 {
		return fmt.Errorf("%w: chunks must be positive, got %d", ErrConfig, c.Chunks)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrConfig, c.Workers)
	}
	if c.ChunkTimeout < 0 {
		return fmt.Errorf("%w: negative chunk timeout %s", ErrConfig, c.ChunkTimeout)
	}
	_, err := ParsePolicy(string(c.Policy))
	return err
}
