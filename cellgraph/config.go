package cellgraph

import "fmt"

// Config is a generic sack of settings used to initialize store engines.
// Engine-specific keys (e.g. "path" for file-backed engines) are documented
// by the engine packages.
type Config map[string]interface{}

// GetString returns the string setting for the key or an error if missing or
// not a string.
func (c Config) GetString(key string) (string, error) {
	v, found := c[key]
	if !found {
		return "", fmt.Errorf("%q must be specified in configuration", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%q setting must be a string (%v)", key, v)
	}
	return s, nil
}

// GetBool returns the bool setting for the key, defaulting to false when the
// key is absent.
func (c Config) GetBool(key string) (bool, error) {
	v, found := c[key]
	if !found {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%q setting must be a bool (%v)", key, v)
	}
	return b, nil
}

// GetInt returns the int setting for the key, defaulting to def when absent.
// TOML decodes numbers as int64, so both int and int64 are accepted.
func (c Config) GetInt(key string, def int) (int, error) {
	v, found := c[key]
	if !found {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%q setting must be an int (%v)", key, v)
	}
}
