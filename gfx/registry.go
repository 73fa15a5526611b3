// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Config is handed to a backend factory
type Config struct {
	ApplicationName string
	Debug           bool
	// Extensions are device extensions the backend enables on top of
	// the ones it needs itself
	Extensions []string
	Logger     *log.Entry
}

// Factory creates an uninitialised device of a backend
type Factory func(cfg Config) (Device, error)

var (
	registryMutex sync.RWMutex
	registry      = make(map[string]Factory)
)

// Register makes a backend available by name. Called from backend init functions.
func Register(name string, factory Factory) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	name = strings.ToLower(name)
	if _, dup := registry[name]; dup {
		panic("gfx: backend registered twice: " + name)
	}
	registry[name] = factory
}

// Backends lists registered backend names, sorted
func Backends() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return sortedLocked()
}

// Open creates a device of the named backend. An exact name match wins,
// otherwise the first backend whose name contains the argument is used.
func Open(name string, cfg Config) (Device, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "gfx")
	}
	name = strings.ToLower(name)

	registryMutex.RLock()
	factory, ok := registry[name]
	if !ok && name != "" {
		for _, n := range sortedLocked() {
			if strings.Contains(n, name) {
				factory, ok = registry[n], true
				break
			}
		}
	}
	registryMutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return factory(cfg)
}

func sortedLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
