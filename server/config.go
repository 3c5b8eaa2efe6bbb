package server

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/storage"
)

const (
	// DefaultWebAddress is the default address of the HTTP API.
	DefaultWebAddress = "localhost:8000"

	// DefaultShutdownDelay is the number of seconds a shutdown waits for
	// in-flight requests before closing the store.
	DefaultShutdownDelay = 5
)

type tomlConfig struct {
	Server  localConfig
	Logging cellgraph.LogConfig
	Store   storeConfig
	Kafka   storage.KafkaConfig
}

type localConfig struct {
	HTTPAddress   string `toml:"httpAddress"`
	ShutdownDelay int    `toml:"shutdownDelay"`

	// CORSOrigins are the allowed cross-origin domains; empty allows all.
	CORSOrigins []string `toml:"corsOrigins"`
}

// storeConfig holds the engine name plus engine-specific settings, e.g.
//
//	[store]
//	engine = "badger"
//	path = "/data/cellgraph-db"
type storeConfig map[string]interface{}

func (sc storeConfig) engine() (string, error) {
	e, found := sc["engine"]
	if !found {
		return "", fmt.Errorf("[store] section must specify an engine (available: %s)",
			storage.EnginesAvailable())
	}
	name, ok := e.(string)
	if !ok {
		return "", fmt.Errorf("[store] engine setting must be a string (%v)", e)
	}
	return name, nil
}

func (sc storeConfig) engineConfig() cellgraph.Config {
	config := make(cellgraph.Config, len(sc))
	for k, v := range sc {
		if k == "engine" {
			continue
		}
		config[k] = v
	}
	return config
}

// LoadConfig reads the TOML configuration file.  Relative paths in the file
// are resolved against the file's own directory.
func LoadConfig(path string) (*tomlConfig, error) {
	var tc tomlConfig
	tc.Server.HTTPAddress = DefaultWebAddress
	tc.Server.ShutdownDelay = DefaultShutdownDelay
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return nil, fmt.Errorf("could not decode TOML config %q: %v", path, err)
	}
	if err := tc.convertPathsToAbsolute(path); err != nil {
		return nil, err
	}
	return &tc, nil
}

func (tc *tomlConfig) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)

	if tc.Logging.Logfile != "" && !filepath.IsAbs(tc.Logging.Logfile) {
		tc.Logging.Logfile = filepath.Join(configDir, tc.Logging.Logfile)
	}
	if p, found := tc.Store["path"]; found {
		path, ok := p.(string)
		if !ok {
			return fmt.Errorf("don't understand [store] path setting: %v", p)
		}
		if !filepath.IsAbs(path) {
			tc.Store["path"] = filepath.Join(configDir, path)
		}
	}
	return nil
}
