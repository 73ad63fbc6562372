// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import (
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Constructor takes a config string (optionally empty) and returns an Allocator.
type Constructor func(config string) (Allocator, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register an allocator with the given name, and a constructor that takes as input a configuration string that is
// passed along to the allocator constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// Registered returns the sorted names of the registered allocators.
func Registered() []string {
	return slices.Sorted(maps.Keys(registeredConstructors))
}

// DefaultConfig is the name of the default allocator configuration to use if specified.
//
// See NewAllocatorWithConfig for the format of the configuration string.
var DefaultConfig string

// TILEMEM_ALLOCATOR is the environment variable with the default allocator configuration to use.
//
// The format of config is "<allocator_name>:<allocator_configuration>".
// The "<allocator_name>" is the name of a registered allocator (e.g.: "simple") and
// "<allocator_configuration>" is allocator specific (e.g.: for "simple", "pool,limit=64MiB").
const TILEMEM_ALLOCATOR = "TILEMEM_ALLOCATOR"

// NewAllocator returns a new default Allocator.
//
// The default is:
//
// 1. The environment TILEMEM_ALLOCATOR is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered allocator is used with an empty configuration.
func NewAllocator() (Allocator, error) {
	config, found := os.LookupEnv(TILEMEM_ALLOCATOR)
	if found {
		return NewAllocatorWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewAllocatorWithConfig(DefaultConfig)
	}
	return NewAllocatorWithConfig("")
}

// NewAllocatorWithConfig takes a configuration string formatted as "<allocator_name>:<allocator_configuration>".
//
// If "<allocator_name>" is empty, the first registered allocator is used.
func NewAllocatorWithConfig(config string) (Allocator, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered allocators -- maybe import the default ones with import _ "github.com/vmbbc/plaidml/buffers/default"?`)
	}
	name, allocatorConfig := ParseConfig(config)
	if name == "" {
		name = firstRegistered
	}
	constructor, found := registeredConstructors[name]
	if !found {
		return nil, errors.Errorf("can't find allocator %q for configuration %q given, registered allocators: %q",
			name, config, Registered())
	}
	klog.V(1).Infof("buffers: creating allocator %q with config %q", name, allocatorConfig)
	allocator, err := constructor(allocatorConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating allocator %q", name)
	}
	return allocator, nil
}

// ParseConfig splits a "<name>:<configuration>" string. A config without ":" is taken to be
// only the name.
func ParseConfig(config string) (name, allocatorConfig string) {
	if idx := strings.Index(config, ":"); idx != -1 {
		return config[:idx], config[idx+1:]
	}
	return config, ""
}

// ParseOptions parses an allocator configuration of comma-separated options, each either a flag ("pool")
// or a key/value pair ("limit=64MiB"). Flags map to an empty value.
func ParseOptions(allocatorConfig string) map[string]string {
	options := make(map[string]string)
	for _, part := range strings.Split(allocatorConfig, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		options[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return options
}
