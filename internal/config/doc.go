// Package config loads application configuration with viper and validates
// it with go-playground/validator.
//
// Values are resolved from built-in defaults, then an optional YAML file,
// then environment variables prefixed with ROLLCALL_. Nested keys map to
// variables by replacing dots with underscores, so attendance.cycle_interval
// is read from ROLLCALL_ATTENDANCE_CYCLE_INTERVAL.
package config
