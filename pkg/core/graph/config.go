// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ConfigEnvVar is the name of the environment variable with the default configuration of the graph package.
//
// The format is a comma-separated list of "key" or "key=value" entries, e.g.: "traced,max_cache=32".
const ConfigEnvVar = "LINOP_GRAPH_CONFIG"

// Config holds the configuration of new Graph and Exec objects.
type Config struct {
	// Traced graphs log the execution of each node with klog.
	Traced bool

	// MaxCacheSize is the maximum number of graphs (one per combination of input shapes) an Exec keeps cached.
	// If <= 0, there is no limit.
	MaxCacheSize int
}

// DefaultConfig is used for every new Graph and Exec. It is initialized from the environment variable
// ConfigEnvVar, if set.
var DefaultConfig = Config{MaxCacheSize: 32}

func init() {
	configStr, found := os.LookupEnv(ConfigEnvVar)
	if !found {
		return
	}
	config, err := ParseConfig(configStr)
	if err != nil {
		klog.Errorf("Ignoring invalid $%s=%q: %v", ConfigEnvVar, configStr, err)
		return
	}
	DefaultConfig = config
}

// ParseConfig parses a configuration string in the format of ConfigEnvVar, starting from the
// default values.
//
// Keys:
//
//   - "traced" or "traced=<bool>": see Config.Traced.
//   - "max_cache=<int>": see Config.MaxCacheSize.
func ParseConfig(configStr string) (Config, error) {
	config := Config{MaxCacheSize: 32}
	for _, part := range strings.Split(configStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		switch key {
		case "traced":
			if !hasValue {
				config.Traced = true
				continue
			}
			traced, err := strconv.ParseBool(value)
			if err != nil {
				return config, errors.Wrapf(err, "invalid value for %q", key)
			}
			config.Traced = traced
		case "max_cache":
			if !hasValue {
				return config, errors.Errorf("key %q requires a value", key)
			}
			maxCache, err := strconv.Atoi(value)
			if err != nil {
				return config, errors.Wrapf(err, "invalid value for %q", key)
			}
			config.MaxCacheSize = maxCache
		default:
			return config, errors.Errorf("unknown configuration key %q", key)
		}
	}
	return config, nil
}
