// Package config loads repeaterctl settings.
//
// Ownership boundary:
//   - TOML file decoding over repeater defaults, key by key
//   - .env loading and PISTELINK_* environment overrides
//   - validation of values the runtime cannot default
package config
