package engine

type ApplicationConfig struct {
	// The application name, overrides [application].name when set.
	Name string
	// TOML configuration file. The defaults are used when empty.
	ConfigPath string
}
