package cliutil

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ParsePort parses a UDP port argument.
func ParsePort(name, s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, errors.Errorf("invalid %s %q: expected an integer in [1, 65535]", name, s)
	}
	return port, nil
}

// ParseWindow parses the max window argument, in bytes.
func ParseWindow(s string) (int, error) {
	w, err := strconv.Atoi(s)
	if err != nil || w < 0 {
		return 0, errors.Errorf("invalid max window %q: expected a non-negative byte count", s)
	}
	return w, nil
}

// ParseMillis parses a timeout given in milliseconds.
func ParseMillis(s string) (time.Duration, error) {
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil || ms <= 0 {
		return 0, errors.Errorf("invalid timeout %q: expected a positive number of milliseconds", s)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// ParseProbability parses a loss probability.
func ParseProbability(name, s string) (float64, error) {
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || p < 0 || p > 1 {
		return 0, errors.Errorf("invalid %s %q: expected a probability in [0, 1]", name, s)
	}
	return p, nil
}
