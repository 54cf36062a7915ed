// Package kernel provides background cleanup for resource management.
//
// CleanupLoop periodically cleans up:
//   - Terminated processes (configurable retention)
//   - Expired rate limit windows
package kernel

import (
	"time"
)

// CleanupConfig holds configurable cleanup parameters.
type CleanupConfig struct {
	// Interval is how often to run cleanup (default: 5 minutes).
	Interval time.Duration
	// ProcessRetention is how long to keep terminated processes (default: 24 hours).
	ProcessRetention time.Duration
	// RateLimiterRetention is how long to keep empty rate windows (default: 1 hour).
	RateLimiterRetention time.Duration
}

// DefaultCleanupConfig returns default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Interval:             5 * time.Minute,
		ProcessRetention:     24 * time.Hour,
		RateLimiterRetention: 1 * time.Hour,
	}
}

// StartCleanupLoop starts a background goroutine that periodically performs cleanup.
// Returns a stop function that should be called to stop the cleanup loop.
func (k *Kernel) StartCleanupLoop(cfg CleanupConfig) func() {
	if cfg.Interval == 0 {
		cfg = DefaultCleanupConfig()
	}

	ticker := time.NewTicker(cfg.Interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				k.runCleanupCycle(cfg)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// runCleanupCycle performs a single cleanup cycle with panic recovery.
func (k *Kernel) runCleanupCycle(cfg CleanupConfig) {
	defer func() {
		if r := recover(); r != nil {
			if k.logger != nil {
				k.logger.Error("cleanup_panic_recovered", "error", r)
			}
		}
	}()

	// Clean up terminated processes older than retention period
	processCount := k.lifecycle.CleanupTerminated(cfg.ProcessRetention)

	// Clean up expired rate limit windows
	windowCount := k.rateLimiter.CleanupExpired()

	if k.logger != nil {
		k.logger.Debug("cleanup_cycle_completed",
			"processes_cleaned", processCount,
			"rate_windows_cleaned", windowCount,
		)
	}
}
