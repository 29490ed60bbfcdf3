package config

import (
	"fmt"
	"strings"
)

// EventsConfig controls publishing of product mutation events.
type EventsConfig struct {
	Enabled bool       `koanf:"enabled"`
	NATS    NATSConfig `koanf:"nats"`
}

// String returns a string representation of the events configuration.
func (c *EventsConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- Events ---\n")
	b.WriteString(fmt.Sprintf("  enabled: %t\n", c.Enabled))
	if c.Enabled {
		b.WriteString(c.NATS.String())
	}
	return b.String()
}

func (c *EventsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return c.NATS.Validate()
}
