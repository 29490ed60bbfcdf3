package store

import (
	"fmt"
	"strings"

	perrors "github.com/crawlkit/prodstore/internal/errors"
	"github.com/crawlkit/prodstore/pkg/config"
)

// New selects and constructs a product store from configuration.
// Returns ErrUnknownStorageType for an unrecognized storage type.
func New(cfg config.StorageConfig) (ProductStore, error) {
	switch strings.ToLower(cfg.Type) {
	case "json":
		return NewJSON(cfg)
	case "memory":
		return NewMemory(cfg.UseGeneratedIDs), nil
	default:
		return nil, fmt.Errorf("%w: %q", perrors.ErrUnknownStorageType, cfg.Type)
	}
}
