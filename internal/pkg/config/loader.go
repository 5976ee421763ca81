// Package config loads process settings from the environment.
//
// Every loader falls back to its default rather than failing: an unset
// variable silently yields the default, an unparsable or invalid one
// yields the default plus a warning the caller is expected to log and
// count. Settings that must fail closed are validated by their owners.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadResult is the outcome of loading one setting.
type LoadResult[T any] struct {
	Value           T
	Warnings        []string
	FallbackApplied bool
}

// load reads envKey, parses it and validates it, falling back to def.
func load[T any](envKey string, def T, parse func(string) (T, error), validator func(T) error) LoadResult[T] {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return LoadResult[T]{Value: def}
	}
	fallback := func(err error) LoadResult[T] {
		return LoadResult[T]{
			Value:           def,
			Warnings:        []string{fmt.Sprintf("Invalid %s='%s': %v, falling back to default '%v'", envKey, raw, err, def)},
			FallbackApplied: true,
		}
	}
	v, err := parse(raw)
	if err != nil {
		return fallback(err)
	}
	if validator != nil {
		if err := validator(v); err != nil {
			return fallback(err)
		}
	}
	return LoadResult[T]{Value: v}
}

// LoadEnvString returns the variable's value, or def when it is unset.
func LoadEnvString(envKey, def string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return def
}

// LoadEnvWithFallback loads a string and validates it.
//
//	r := LoadEnvWithFallback("RECOMPUTE_SCHEDULE", "*/15 * * * *", ValidateCronSchedule)
func LoadEnvWithFallback(envKey, def string, validator func(string) error) LoadResult[string] {
	return load(envKey, def, func(s string) (string, error) { return s, nil }, validator)
}

// LoadEnvDuration loads a Go duration string such as "90s" or "1h30m".
func LoadEnvDuration(envKey string, def time.Duration, validator func(time.Duration) error) LoadResult[time.Duration] {
	return load(envKey, def, time.ParseDuration, validator)
}

// LoadEnvInt loads a base-10 integer.
func LoadEnvInt(envKey string, def int, validator func(int) error) LoadResult[int] {
	return load(envKey, def, func(s string) (int, error) {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid integer format")
		}
		return v, nil
	}, validator)
}

// LoadEnvFloat loads a finite floating-point number.
func LoadEnvFloat(envKey string, def float64, validator func(float64) error) LoadResult[float64] {
	return load(envKey, def, parseFloat, validator)
}

// LoadEnvBool accepts the spellings understood by strconv.ParseBool.
func LoadEnvBool(envKey string, def bool) LoadResult[bool] {
	return load(envKey, def, func(s string) (bool, error) {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return false, fmt.Errorf("invalid boolean format, expected 'true' or 'false'")
		}
		return v, nil
	}, nil)
}

// ParseFloat parses a finite float, rejecting NaN and infinities.
func ParseFloat(s string) (float64, error) { return parseFloat(strings.TrimSpace(s)) }

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number format")
	}
	if err := ValidateFinite(v); err != nil {
		return 0, err
	}
	return v, nil
}
