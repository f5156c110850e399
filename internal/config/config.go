// Package config loads the client configuration file: which mode to run
// in, how to reach the daemon's two ports, and how the simulation is
// seeded.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/NiccoloSalvini/directa-api-go/internal/session"
	"github.com/NiccoloSalvini/directa-api-go/internal/sim"
)

// Root is the full configuration file.
type Root struct {
	Mode        string         `yaml:"mode"` // live | sim
	AutoConfirm bool           `yaml:"auto_confirm"`
	Trading     session.Config `yaml:"trading"`
	Historical  session.Config `yaml:"historical"`
	Sim         sim.Config     `yaml:"sim"`
	HealthAddr  string         `yaml:"health_addr"` // empty disables the endpoint
}

// Load reads and validates the file at path.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parsing %s: %w", path, err)
	}
	c = withDefaults(c)
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns the configuration used when no file is given.
func Default() Root {
	return withDefaults(Root{})
}

// withDefaults fills only what differs between the two sessions; the
// session and sim layers apply their own defaults on construction.
func withDefaults(c Root) Root {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = "sim"
	}
	if c.Historical.Port == 0 {
		c.Historical.Port = 10003
	}
	if c.Historical.Host == "" {
		c.Historical.Host = c.Trading.Host
	}
	return c
}

func (c Root) validate() error {
	if c.Mode != "live" && c.Mode != "sim" {
		return fmt.Errorf("mode %q: must be live or sim", c.Mode)
	}
	return nil
}
