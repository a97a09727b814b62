package pathutil

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// HomeDir obtains the path to the user's home directory.
func HomeDir() string {
	dir, err := homedir.Dir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return dir
}

// Expand expands a leading '~' in path to the user's home directory.
func Expand(path string) (string, error) {
	return homedir.Expand(path)
}

// DataDir returns the directory PTP keeps its connection records in: ~/.ptp
func DataDir() string {
	return filepath.Join(HomeDir(), ".ptp")
}

// AtomicWriteFile creates a temp file in which to write data, then renames it
// over filename so that readers never observe a partially written file.
// On failure the temp file is removed.
func AtomicWriteFile(filename string, data []byte) (err error) {
	dir, name := filepath.Split(filename)
	if dir == "" {
		dir = "."
	}
	f, err := ioutil.TempFile(dir, "."+name)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			if rmErr := os.Remove(f.Name()); rmErr != nil {
				log.WithError(rmErr).Warnf("Failed to remove file %s", f.Name())
			}
		}
	}()

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if permErr := os.Chmod(f.Name(), 0644); err == nil {
		err = permErr
	}
	if err == nil {
		err = os.Rename(f.Name(), filename)
	}
	return err
}
