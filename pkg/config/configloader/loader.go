// Package configloader layers YAML, .env, and environment variables into a
// validated configuration struct.
package configloader

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Validator is implemented by configuration structs that can check
// themselves after loading.
type Validator interface {
	Validate() error
}

// Load reads configuration for the named service. Sources are layered in
// increasing priority: config.yaml in the working directory, a .env file,
// then process environment variables prefixed with <SERVICENAME>_. Keys use
// underscores for nesting, so PRODSTORE_STORAGE_PATH sets storage.path.
// Missing files are fine; a config that fails Validate is not.
func Load[T Validator](serviceName string) (T, error) {
	var cfg T
	k := koanf.New(".")

	envPrefix := strings.ToUpper(serviceName) + "_"
	toKey := func(raw string) string {
		key := strings.TrimPrefix(strings.ToLower(raw), strings.ToLower(envPrefix))
		return strings.ReplaceAll(key, "_", ".")
	}

	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil && !os.IsNotExist(err) {
		log.Printf("WARN: error loading config.yaml: %v", err)
	}

	if envFile, err := godotenv.Read(".env"); err == nil {
		flat := make(map[string]any, len(envFile))
		for key, value := range envFile {
			flat[toKey(key)] = value
		}
		if err := k.Load(confmap.Provider(flat, "."), nil); err != nil {
			log.Printf("WARN: error loading .env config: %v", err)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("WARN: error reading .env file: %v", err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", toKey), nil); err != nil {
		log.Printf("WARN: error loading system env vars: %v", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
