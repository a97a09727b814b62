// Package testhelpers provides helpers for testing.
package testhelpers

import (
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const timeout = 5 * time.Second

// WithinTimeout tries to read an error from error channel within timeout and returns it.
// If timeout exceeds, nil value is returned.
func WithinTimeout(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		return nil
	}
}

// NoErrorN performs require.NoError on multiple errors
func NoErrorN(t *testing.T, errs ...error) {
	for _, err := range errs {
		require.NoError(t, err)
	}
}

// Payload returns n deterministic pseudo-random bytes.
func Payload(n int, seed int64) []byte {
	b := make([]byte, n)
	r := rand.New(rand.NewSource(seed))
	for i := range b {
		b[i] = byte('a' + r.Intn(26))
	}
	return b
}

// TempDir creates a temporary directory and returns it with its cleanup func.
func TempDir(t *testing.T) (string, func()) {
	dir, err := ioutil.TempDir("", "ptp")
	require.NoError(t, err)
	return dir, func() {
		require.NoError(t, os.RemoveAll(dir))
	}
}

// WriteFile writes data to name inside dir and returns the full path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	path := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(path, data, 0600))
	return path
}
