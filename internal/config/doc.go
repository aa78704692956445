// Package config provides configuration structures and utilities for proxyprobe.
// It defines probe settings, run concurrency, report output preferences and
// the optional YAML configuration file.
package config
