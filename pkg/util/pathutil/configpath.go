package pathutil

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("pathutil")

// ConfigLocationType describes a config path's location type.
type ConfigLocationType string

const (
	// WorkingDirLoc represents the default working directory location for a configuration file.
	WorkingDirLoc = ConfigLocationType("WD")

	// HomeLoc represents the default home folder location for a configuration file.
	HomeLoc = ConfigLocationType("HOME")
)

// String implements fmt.Stringer for ConfigLocationType.
func (t ConfigLocationType) String() string {
	return string(t)
}

// Type implements pflag.Value for ConfigLocationType.
func (t ConfigLocationType) Type() string {
	return "pathutil.ConfigLocationType"
}

// Set implements pflag.Value for ConfigLocationType.
func (t *ConfigLocationType) Set(s string) error {
	for _, lt := range AllConfigLocationTypes() {
		if string(lt) == s {
			*t = lt
			return nil
		}
	}
	return fmt.Errorf("invalid config location type %q, expected one of %v", s, AllConfigLocationTypes())
}

// AllConfigLocationTypes returns all ConfigLocationTypes.
func AllConfigLocationTypes() []ConfigLocationType {
	return []ConfigLocationType{WorkingDirLoc, HomeLoc}
}

// ConfigPaths contains a map of configuration paths, based on ConfigLocationTypes.
type ConfigPaths map[ConfigLocationType]string

// String implements fmt.Stringer for ConfigPaths.
func (dp ConfigPaths) String() string {
	raw, err := json.MarshalIndent(dp, "", "\t")
	if err != nil {
		return err.Error()
	}
	return string(raw)
}

func endpointDefaults(file string) ConfigPaths {
	paths := make(ConfigPaths)
	if wd, err := os.Getwd(); err == nil {
		paths[WorkingDirLoc] = filepath.Join(wd, file)
	}
	paths[HomeLoc] = filepath.Join(DataDir(), file)
	return paths
}

// SenderDefaults returns the default config paths for ptp-sender.
func SenderDefaults() ConfigPaths { return endpointDefaults("ptp-sender.json") }

// ReceiverDefaults returns the default config paths for ptp-receiver.
func ReceiverDefaults() ConfigPaths { return endpointDefaults("ptp-receiver.json") }

// FindConfigPath looks up an optional config file in the following order:
// - From the explicit path (if not empty).
// - From ENV.
// - From a list of default paths.
// The returned bool is false when no config file exists; callers then run on defaults.
func FindConfigPath(explicit, env string, defaults ConfigPaths) (string, bool) {
	if explicit != "" {
		log.Infof("using flag value as config path: %s", explicit)
		return explicit, true
	}
	if env != "" {
		if path, ok := os.LookupEnv(env); ok {
			log.Infof("using $%s as config path: %s", env, path)
			return path, true
		}
	}
	log.Debugf("config path is not explicitly specified, trying default paths...")
	for i, cpType := range AllConfigLocationTypes() {
		path, ok := defaults[cpType]
		if !ok {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			log.Debugf("- [%d/%d] '%s' cannot be accessed: %s", i+1, len(defaults), path, err.Error())
		} else {
			log.Debugf("- [%d/%d] '%s' is found", i+1, len(defaults), path)
			return path, true
		}
	}
	return "", false
}

// ReadJSONConfig decodes the JSON config at path into conf.
func ReadJSONConfig(path string, conf interface{}) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Warn("Failed to close config file")
		}
	}()
	return json.NewDecoder(f).Decode(conf)
}

// WriteJSONConfig is used by config file generators.
// 'output' specifies the path to save generated config files.
// 'replace' is true if replacing files is allowed.
func WriteJSONConfig(conf interface{}, output string, replace bool) error {
	raw, err := json.MarshalIndent(conf, "", "\t")
	if err != nil {
		return err
	}
	if _, err := os.Stat(output); !replace && err == nil {
		return os.ErrExist
	}
	if _, err := EnsureDir(filepath.Dir(output)); err != nil {
		return err
	}
	if err := ioutil.WriteFile(output, raw, 0644); err != nil {
		return err
	}
	log.Infof("Wrote %d bytes to %s", len(raw), output)
	return nil
}
