package config

import (
	"fmt"
	"strings"
	"time"
)

type StorageConfig struct {
	Type            string        `koanf:"type"`
	Path            string        `koanf:"path"`
	UseGeneratedIDs bool          `koanf:"use_generated_ids"`
	LockTimeout     time.Duration `koanf:"lock_timeout"`
}

// String returns a string representation of the storage configuration.
func (c *StorageConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- Storage ---\n")
	b.WriteString(fmt.Sprintf("  type: %s\n", c.Type))
	b.WriteString(fmt.Sprintf("  path: %s\n", c.Path))
	b.WriteString(fmt.Sprintf("  use_generated_ids: %t\n", c.UseGeneratedIDs))
	b.WriteString(fmt.Sprintf("  lock_timeout: %s\n", c.LockTimeout))
	return b.String()
}

func (c *StorageConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("storage type is not configured")
	}
	if c.Type == "json" && c.Path == "" {
		return fmt.Errorf("storage path is required for json storage")
	}
	return nil
}
