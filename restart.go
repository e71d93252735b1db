package gstcapture

import (
	"log/slog"
	"sync"
	"time"
)

// RestartPolicy decides what Run does after a recoverable failure.
//
// Returning a non-nil error ends Run with that error; policies that give up
// return the error they were given so the caller sees the original cause.
type RestartPolicy interface {
	// ConnectionLostThreshold is how long Run tolerates a running stream that
	// delivers no sample. Zero disables the check.
	ConnectionLostThreshold() time.Duration
	// OnPipelineBuildError is called with a *BuildError or an *EngineError.
	OnPipelineBuildError(err error) (Action, error)
	OnConnectionLost(err *ConnectionLostError) (Action, error)
}

// Delayer is implemented by policies that want Run to wait before the
// restart they just granted.
type Delayer interface {
	RestartDelay() time.Duration
}

// Resetter is implemented by policies that forget past failures once a
// restarted pipeline delivers its first frame.
type Resetter interface {
	Reset()
}

// SimpleRestartPolicy restarts until more than maxErrors failures of any
// kind have been seen. The count never resets.
type SimpleRestartPolicy struct {
	threshold time.Duration
	maxErrors int

	mu     sync.Mutex
	errors int
}

// NewSimpleRestartPolicy returns a policy that reports connection loss after
// threshold of silence (0 disables it) and gives up after maxErrors restarts.
func NewSimpleRestartPolicy(threshold time.Duration, maxErrors int) *SimpleRestartPolicy {
	return &SimpleRestartPolicy{threshold: threshold, maxErrors: maxErrors}
}

// ConnectionLostThreshold returns the threshold given to
// NewSimpleRestartPolicy.
func (p *SimpleRestartPolicy) ConnectionLostThreshold() time.Duration { return p.threshold }

// OnPipelineBuildError counts err and asks for a restart until maxErrors
// failures have been seen.
func (p *SimpleRestartPolicy) OnPipelineBuildError(err error) (Action, error) {
	return p.record("pipeline build error", err)
}

// OnConnectionLost shares the failure budget of OnPipelineBuildError.
func (p *SimpleRestartPolicy) OnConnectionLost(err *ConnectionLostError) (Action, error) {
	return p.record("suspicious connection lost", err)
}

// Errors returns the number of failures seen so far.
func (p *SimpleRestartPolicy) Errors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errors
}

func (p *SimpleRestartPolicy) record(what string, err error) (Action, error) {
	p.mu.Lock()
	p.errors++
	n := p.errors
	p.mu.Unlock()

	if n > p.maxErrors {
		return Stop, err
	}
	slog.Warn("gstcapture: "+what+", restarting",
		"error", err,
		"errors", n,
		"max_errors", p.maxErrors,
	)
	return Restart, nil
}

// BackoffConfig configures a BackoffRestartPolicy.
type BackoffConfig struct {
	// ConnectionLostThreshold, 0 disables silence detection.
	ConnectionLostThreshold time.Duration
	// MaxRetries is the number of consecutive restarts before giving up
	// (default: 5).
	MaxRetries int
	// RetryDelay is the delay before the first restart (default: 1 second).
	RetryDelay time.Duration
	// MaxRetryDelay caps the delay (default: 30 seconds).
	MaxRetryDelay time.Duration
}

// DefaultBackoffConfig returns the default backoff configuration with a 10
// second connection-lost threshold.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		ConnectionLostThreshold: 10 * time.Second,
		MaxRetries:              5,
		RetryDelay:              1 * time.Second,
		MaxRetryDelay:           30 * time.Second,
	}
}

// BackoffRestartPolicy restarts with exponential backoff and gives up after
// MaxRetries consecutive failures. A frame from a restarted pipeline resets
// the retry counter.
//
// Schedule with the default config:
//   - Retry 1: 1s
//   - Retry 2: 2s
//   - Retry 3: 4s
//   - Retry 4: 8s
//   - Retry 5: 16s
//   - After 5 failures: Stop
type BackoffRestartPolicy struct {
	cfg BackoffConfig

	mu      sync.Mutex
	retries int
}

// NewBackoffRestartPolicy fills unset fields of cfg with the defaults.
func NewBackoffRestartPolicy(cfg BackoffConfig) *BackoffRestartPolicy {
	def := DefaultBackoffConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	return &BackoffRestartPolicy{cfg: cfg}
}

// ConnectionLostThreshold returns the configured threshold.
func (p *BackoffRestartPolicy) ConnectionLostThreshold() time.Duration {
	return p.cfg.ConnectionLostThreshold
}

// OnPipelineBuildError asks for a delayed restart until MaxRetries
// consecutive failures.
func (p *BackoffRestartPolicy) OnPipelineBuildError(err error) (Action, error) {
	return p.retry(err)
}

// OnConnectionLost is handled like OnPipelineBuildError.
func (p *BackoffRestartPolicy) OnConnectionLost(err *ConnectionLostError) (Action, error) {
	return p.retry(err)
}

// RestartDelay returns the backoff for the current retry.
func (p *BackoffRestartPolicy) RestartDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retries == 0 {
		return 0
	}
	return backoff(p.retries, p.cfg)
}

// Reset forgets past failures.
func (p *BackoffRestartPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retries != 0 {
		slog.Debug("gstcapture: backoff reset", "retries", p.retries)
	}
	p.retries = 0
}

// Retries returns the number of consecutive failures.
func (p *BackoffRestartPolicy) Retries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retries
}

func (p *BackoffRestartPolicy) retry(err error) (Action, error) {
	p.mu.Lock()
	p.retries++
	n := p.retries
	p.mu.Unlock()

	if n > p.cfg.MaxRetries {
		slog.Error("gstcapture: max retries exceeded", "error", err, "max_retries", p.cfg.MaxRetries)
		return Stop, err
	}
	slog.Warn("gstcapture: retrying pipeline",
		"error", err,
		"attempt", n,
		"max_retries", p.cfg.MaxRetries,
		"delay", backoff(n, p.cfg),
	)
	return Restart, nil
}

// backoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func backoff(attempt int, cfg BackoffConfig) time.Duration {
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
