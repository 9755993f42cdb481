package sources

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	registry = make(map[string]SourceFactory)
	mu       sync.RWMutex
)

// Register adds a source factory to the registry
func Register(name string, factory SourceFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// Create creates a new source instance by name
func Create(name string, config map[string]interface{}) (Source, error) {
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}

	if config == nil {
		config = make(map[string]interface{})
	}
	if err := validateCommon(config); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return factory(config)
}

// validateCommon checks the settings every BaseSource reads.
func validateCommon(config map[string]interface{}) error {
	for _, key := range []string{"weight", "rate_limit", "burst"} {
		if v := GetFloat(config, key, 0); v < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidConfig, key, v)
		}
	}
	if v, ok := config["timeout"].(string); ok && strings.TrimSpace(v) != "" {
		if _, err := time.ParseDuration(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: timeout %q", ErrInvalidConfig, v)
		}
	}
	return nil
}

// List returns all registered source names, sorted
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
