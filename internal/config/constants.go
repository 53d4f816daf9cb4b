// Package config holds the compile-time constants and session registry
// this service is built around. The registry's shape never changes at
// runtime; only the numeric tunables below have an optional override layer
// (see Watcher in reload.go).
package config

import "time"

// Tunables holds every numeric knob named in the external interfaces.
// Defaults match the constants the service was designed against; a
// Watcher may override individual fields from config.yaml.
type Tunables struct {
	ChunkSize               int
	DefaultSessionTimeout    time.Duration
	ValidationTimeout        time.Duration
	UpdateInterval           time.Duration
	NavigationTimeout        time.Duration
	MaxValidationInstances   int
	ScheduledValidationInstances int
	MaxConcurrentProbes      int
	SessionValidQuota        int
	ServingPoolIdleTimeout   time.Duration
	ValidatorPoolIdleTimeout time.Duration
	FastProxyThreshold       time.Duration
	ValidationBatchSize      int
	ServingPoolSize          int
	RPCWorkers               int
	ListenAddr               string
	FailedSetClearInterval   time.Duration
	AcquireTimeout           time.Duration
	PerSessionValidateTimeout time.Duration
	MaxBodyBytes             int64
}

// Default returns the compile-time defaults, named for the constants in
// the external interface section: DEFAULT_CHUNK_SIZE, DEFAULT_SESSION_TIMEOUT,
// VALIDATION_TIMEOUT, UPDATE_TIME_MINUTES, SELENIUM_TIMEOUT,
// MAX_VALIDATION_DRIVERS, MAX_CONCURRENT_TESTS, and the rest.
//
// MaxValidationInstances (25) sizes the one-time startup warmup round;
// ScheduledValidationInstances (5) sizes every recurring background round
// the refresh scheduler runs afterward — "menos drivers para background".
func Default() Tunables {
	return Tunables{
		ChunkSize:                 10,
		DefaultSessionTimeout:     1500 * time.Millisecond,
		ValidationTimeout:         800 * time.Millisecond,
		UpdateInterval:            15 * time.Minute,
		NavigationTimeout:         3 * time.Second,
		MaxValidationInstances:    25,
		ScheduledValidationInstances: 5,
		MaxConcurrentProbes:       15,
		SessionValidQuota:         20,
		ServingPoolIdleTimeout:    300 * time.Second,
		ValidatorPoolIdleTimeout:  60 * time.Second,
		FastProxyThreshold:        5 * time.Second,
		ValidationBatchSize:       5,
		ServingPoolSize:           10,
		RPCWorkers:                10,
		ListenAddr:                "[::]:5000",
		FailedSetClearInterval:    30 * time.Minute,
		AcquireTimeout:            2 * time.Second,
		PerSessionValidateTimeout: 120 * time.Second,
		MaxBodyBytes:              64 << 20,
	}
}
