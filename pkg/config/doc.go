// Package config loads and validates the Saturn configuration.
//
// Configuration is read from a YAML file, defaults are applied, environment
// variables (SATURN_SECTION_FIELD) override file values, and the result is
// validated before use. The limits section can be hot-reloaded at runtime
// through the file watcher.
package config
