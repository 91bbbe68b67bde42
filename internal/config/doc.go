// Package config loads tool host configuration.
//
// Configuration comes from an optional YAML or TOML file (chosen by file
// extension), with ${VAR} references expanded from the environment, followed
// by overrides from well-known environment variables. A .env file can be
// loaded into the environment first with LoadDotEnv.
package config
