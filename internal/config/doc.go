// Package config loads, normalizes, and validates newsrelay configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks for every credential (NEWSRELAY_SOURCE_API_KEY,
// LLM_API_KEY, DISCORD_WEBHOOK_URL, and friends). Empty store DSNs resolve to
// SQLite files inside the data directory.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors tagged as configuration errors.
package config
