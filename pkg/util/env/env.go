// Package env reads typed defaults from environment variables.
package env

import (
	"os"
	"strconv"
	"time"
)

// Int returns parsed int value of environment variable
func Int(name string, defvalue int) int {
	if envVar, ok := os.LookupEnv(name); ok {
		if value, err := strconv.Atoi(envVar); err == nil {
			return value
		}
	}
	return defvalue
}

// Duration returns parsed time.Duration value of environment variable
func Duration(name string, defvalue time.Duration) time.Duration {
	if envVar, ok := os.LookupEnv(name); ok {
		if value, err := time.ParseDuration(envVar); err == nil {
			return value
		}
	}
	return defvalue
}

// String returns the value of environment variable or defvalue when unset.
func String(name, defvalue string) string {
	if envVar, ok := os.LookupEnv(name); ok {
		return envVar
	}
	return defvalue
}
