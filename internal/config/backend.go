package config

// appName names the per-user config, data and secret locations.
const appName = "nexus"

// ConfigBackend is where non-secret keys persist between runs: UserDefaults
// on macOS, a JSON file everywhere else.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	// Delete removes key so the built-in default applies again. Deleting
	// a key that is not set is not an error.
	Delete(key string) error
}
