// Package serviceconfig provides per-method configuration for RPC calls:
// default timeouts and wait-for-ready behavior applied at an endpoint
// without modifying call sites. Adapted from the teacher's three-segment
// "pkg/service/method" pattern to this module's two-segment
// "/<service>/<method>" method paths (spec §3).
package serviceconfig

import (
	"strings"
	"time"
)

// MethodConfig configures behavior for matching methods.
type MethodConfig struct {
	// Timeout is the default timeout for calls to this method. Zero means
	// no default timeout (use context deadline only). Only applied if the
	// context does not already carry a deadline.
	Timeout time.Duration

	// WaitForReady is stored and returned by GetWaitForReady. No call path
	// in this module reads it, so it does not change how calls behave.
	WaitForReady bool
}

// Config holds per-method configuration, matched in order of specificity:
//  1. "service/method" - exact match
//  2. "service/*" - all methods in service
//  3. "*/*" - global default
type Config struct {
	methods map[string]MethodConfig
}

// New creates a new empty service config.
func New() *Config {
	return &Config{methods: make(map[string]MethodConfig)}
}

// SetMethodConfig sets the configuration for a method pattern.
// Pattern format: "service/method", "service/*", or "*/*".
func (c *Config) SetMethodConfig(pattern string, cfg MethodConfig) *Config {
	c.methods[pattern] = cfg
	return c
}

// SetTimeout is a convenience method to set just the timeout for a pattern.
func (c *Config) SetTimeout(pattern string, timeout time.Duration) *Config {
	cfg := c.methods[pattern]
	cfg.Timeout = timeout
	c.methods[pattern] = cfg
	return c
}

// SetWaitForReady is a convenience method to set wait-for-ready for a pattern.
func (c *Config) SetWaitForReady(pattern string, wait bool) *Config {
	cfg := c.methods[pattern]
	cfg.WaitForReady = wait
	c.methods[pattern] = cfg
	return c
}

// GetMethodConfig returns the configuration for a specific method. It tries
// to match, in order: exact "service/method", service wildcard
// "service/*", then global wildcard "*/*".
func (c *Config) GetMethodConfig(service, method string) (MethodConfig, bool) {
	if c == nil || len(c.methods) == 0 {
		return MethodConfig{}, false
	}

	if cfg, ok := c.methods[service+"/"+method]; ok {
		return cfg, true
	}
	if cfg, ok := c.methods[service+"/*"]; ok {
		return cfg, true
	}
	if cfg, ok := c.methods["*/*"]; ok {
		return cfg, true
	}
	return MethodConfig{}, false
}

// GetTimeout returns the timeout for a specific method, or 0 if none is
// configured.
func (c *Config) GetTimeout(service, method string) time.Duration {
	cfg, ok := c.GetMethodConfig(service, method)
	if !ok {
		return 0
	}
	return cfg.Timeout
}

// GetWaitForReady returns the wait-for-ready setting for a specific method.
func (c *Config) GetWaitForReady(service, method string) bool {
	cfg, ok := c.GetMethodConfig(service, method)
	if !ok {
		return false
	}
	return cfg.WaitForReady
}

// ParsePattern parses a method pattern into its components. Returns
// service, method, and whether the parse was successful.
func ParsePattern(pattern string) (service, method string, ok bool) {
	parts := strings.Split(pattern, "/")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Builder provides a fluent interface for building service configs.
type Builder struct {
	config *Config
}

// NewBuilder creates a new config builder.
func NewBuilder() *Builder {
	return &Builder{config: New()}
}

// WithTimeout adds a timeout for a pattern.
func (b *Builder) WithTimeout(pattern string, timeout time.Duration) *Builder {
	b.config.SetTimeout(pattern, timeout)
	return b
}

// WithWaitForReady sets wait-for-ready for a pattern.
func (b *Builder) WithWaitForReady(pattern string, wait bool) *Builder {
	b.config.SetWaitForReady(pattern, wait)
	return b
}

// WithMethodConfig adds a full method config for a pattern.
func (b *Builder) WithMethodConfig(pattern string, cfg MethodConfig) *Builder {
	b.config.SetMethodConfig(pattern, cfg)
	return b
}

// WithDefaultTimeout sets a global default timeout for all methods.
func (b *Builder) WithDefaultTimeout(timeout time.Duration) *Builder {
	b.config.SetTimeout("*/*", timeout)
	return b
}

// Build returns the completed config.
func (b *Builder) Build() *Config {
	return b.config
}
