package main

import (
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Origin URL to proxy to.
	Origin string `yaml:"origin" env:"SHELL_CACHE_ORIGIN"`
	// Hostname of the origin, if the origin URL is e.g. an IP address.
	OriginHost string `yaml:"originHost" env:"SHELL_CACHE_ORIGIN_HOST"`
	// Cache version identifier. Bumping it is the deployment trigger for
	// full re-caching and stale-namespace teardown.
	Version string `yaml:"version" env:"SHELL_CACHE_VERSION"`
	// Namespace prefix for this app's caches.
	Prefix string `yaml:"prefix" env:"SHELL_CACHE_PREFIX"`
	// App-shell manifest: absolute paths precached on install.
	Manifest []string `yaml:"manifest" env:"SHELL_CACHE_MANIFEST" envSeparator:","`
	// Offline fallback entry points for navigations.
	AppEntry     string `yaml:"appEntry" env:"SHELL_CACHE_APP_ENTRY"`
	WelcomeEntry string `yaml:"welcomeEntry" env:"SHELL_CACHE_WELCOME_ENTRY"`
}

// loadConfig reads the optional YAML config file and applies environment
// overrides on top of it.
func loadConfig(filename string) (Config, error) {
	var config Config
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, err
		}
	}
	err := env.Parse(&config)
	return config, err
}
