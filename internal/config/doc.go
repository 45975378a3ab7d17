// Package config loads runtime configuration from multiple sources (YAML files,
// environment variables, CLI flags) with precedence: CLI flags > YAML config >
// Environment variables > Defaults. An optional dotenv file fills in
// variables the process environment leaves unset. Besides server and logging settings it
// gathers the experiment overrides each source contributes, which are then
// applied to the locked experiment record.
package config
