// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which keeps auth tokens embedded in the pipeline address out of the file itself.
package config
