package config

import (
	"os"

	"go.uber.org/fx"
)

var Module = fx.Module("config", fx.Provide(
	// Function attempts to load the configuration from groundskeeper.yaml if
	// it exists. Returns nil if the file doesn't exist, allowing commands
	// that don't require config (like help, version) to function properly.
	func() (*Config, error) {
		if _, err := os.Stat("groundskeeper.yaml"); os.IsNotExist(err) {
			return nil, nil
		}

		return LoadConfigFile("groundskeeper.yaml")
	},
))
