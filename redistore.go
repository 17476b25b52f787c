// Package redistore is the entry point for the multi-type storage engine:
// five embedded aggregate types (strings, hashes, sets, lists, sorted
// sets) over an ordered key-value store, opened with explicit functional
// options rather than environment-sourced configuration.
package redistore

import (
	"github.com/gholt/redistore/config"
	"github.com/gholt/redistore/facade"
)

// Option configures a store at Open time. See the config package for the
// full set (OptCreateIfMissing, OptCursorMaxSize, OptStatisticsMaxSize,
// OptSmallCompactionThreshold, OptLockTimeout).
type Option = config.Option

// Store is the opened multi-type engine: the façade plus whatever
// top-level lifecycle the embedding program needs.
type Store = facade.Facade

// Open opens (creating it first if needed and allowed by
// OptCreateIfMissing) the store rooted at dir. The caller must Close it.
func Open(dir string, opts ...Option) (*Store, error) {
	return facade.Open(dir, opts...)
}
