// Package config loads, normalizes, and validates barfeed configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours BARFEED_* environment overrides.
// The Config type centralizes every knob the daemon and CLI need: throttle
// settings for the output loop, the command pipe location, logging, metrics,
// and the module definitions that feed the bar.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
