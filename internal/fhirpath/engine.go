package fhirpath

import "sync"

// DefaultCacheSize is the capacity of the process-wide parse cache when no
// explicit size is configured.
const DefaultCacheSize = 1000

var (
	singletonMu    sync.RWMutex
	singletonCache = mustNewCache(DefaultCacheSize)
)

// mustNewCache builds a Cache for a size known at compile time to be valid;
// it panics only if that invariant is ever violated.
func mustNewCache(size int) *Cache {
	c, err := NewCache(size)
	if err != nil {
		panic(err)
	}
	return c
}

// setExpressionCache swaps the process-wide singleton cache, letting a
// caller (e.g. the engine's boot code, reading config.FHIRPathCacheSize)
// install a cache sized differently from the default, or tests install an
// isolated instance.
func setExpressionCache(c *Cache) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	singletonCache = c
}

// SetCacheSize replaces the singleton cache with a freshly sized, empty one.
// size < 1 is rejected and leaves the existing singleton untouched.
func SetCacheSize(size int) error {
	c, err := NewCache(size)
	if err != nil {
		return err
	}
	setExpressionCache(c)
	return nil
}

// CacheStatsSnapshot returns the current singleton cache's stats.
func CacheStatsSnapshot() CacheStats {
	singletonMu.RLock()
	c := singletonCache
	singletonMu.RUnlock()
	return c.Stats()
}

// ClearCache empties the singleton cache without resetting its stats.
func ClearCache() {
	singletonMu.RLock()
	c := singletonCache
	singletonMu.RUnlock()
	c.Clear()
}

// ResetCacheStats zeroes the singleton cache's hit/miss counters.
func ResetCacheStats() {
	singletonMu.RLock()
	c := singletonCache
	singletonMu.RUnlock()
	c.ResetStats()
}

// Compile parses expr, consulting and populating the process-wide singleton
// cache so repeated evaluation of the same expression string (the common
// case: a search parameter's FHIRPath expression, evaluated once per
// matching resource) pays the parse cost once.
func Compile(expr string) (*Ast, error) {
	singletonMu.RLock()
	c := singletonCache
	singletonMu.RUnlock()

	if ast, ok := c.Get(expr); ok {
		return ast, nil
	}
	ast, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	c.Put(expr, ast)
	return ast, nil
}

// Evaluate compiles expr (via the singleton cache) and evaluates it against
// resource, a decoded FHIR resource represented as a JSON-shaped
// map[string]interface{}.
func Evaluate(expr string, resource map[string]interface{}) ([]TypedValue, error) {
	ast, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	root := []TypedValue{{Type: "Object", Value: resource}}
	return Eval(ast, root)
}
