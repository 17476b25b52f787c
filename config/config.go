// Package config resolves the options a store takes at open time: no
// environment variables and no CLI, only values passed by the embedding
// program, following a functional-options OptXxx convention.
package config

import "time"

// Config holds every option a store can be opened with; zero values are
// filled in by resolveConfig's defaults.
type Config struct {
	Dir                      string
	CreateIfMissing          bool
	CursorMaxSize            int
	StatisticsMaxSize        int
	SmallCompactionThreshold int
	LockTimeout              time.Duration
}

// Option mutates a Config during Resolve.
type Option func(*Config)

// OptCreateIfMissing controls whether Open creates the on-disk store when
// it does not already exist. Defaults to true.
func OptCreateIfMissing(b bool) Option {
	return func(c *Config) { c.CreateIfMissing = b }
}

// OptCursorMaxSize bounds the façade's cursor LRU (one entry per cursor a
// Scan call returns). Defaults to 5000.
func OptCursorMaxSize(n int) Option {
	return func(c *Config) { c.CursorMaxSize = n }
}

// OptStatisticsMaxSize bounds the per-type access-counter LRU used for
// small_compaction_threshold bookkeeping. Zero disables access counting.
// Defaults to 500000.
func OptStatisticsMaxSize(n int) Option {
	return func(c *Config) { c.StatisticsMaxSize = n }
}

// OptSmallCompactionThreshold sets how many counted writes/pops on one key
// its access counter must accumulate before the key is queued for
// compaction. Defaults to 5000.
func OptSmallCompactionThreshold(n int) Option {
	return func(c *Config) { c.SmallCompactionThreshold = n }
}

// OptLockTimeout bounds how long the lock manager waits to acquire a
// per-key lock before returning a lock-timeout error. Defaults to 5s.
func OptLockTimeout(d time.Duration) Option {
	return func(c *Config) { c.LockTimeout = d }
}

// Resolve builds a Config for dir, applying defaults first and then opts
// in order.
func Resolve(dir string, opts ...Option) *Config {
	c := &Config{
		Dir:                      dir,
		CreateIfMissing:          true,
		CursorMaxSize:            5000,
		StatisticsMaxSize:        500000,
		SmallCompactionThreshold: 5000,
		LockTimeout:              5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.CursorMaxSize < 1 {
		c.CursorMaxSize = 1
	}
	if c.StatisticsMaxSize < 0 {
		c.StatisticsMaxSize = 0
	}
	if c.SmallCompactionThreshold < 1 {
		c.SmallCompactionThreshold = 1
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
	return c
}
