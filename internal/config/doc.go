// Package config loads the process configuration.
//
// Values come from built-in defaults, an optional YAML file and
// PERSONASIM_* environment variables, in increasing order of precedence. A
// dotenv file is read first so local secrets can live outside the shell.
// The result is checked with validator tags plus a few cross-field rules
// before any component sees it.
package config
