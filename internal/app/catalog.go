package app

import (
	"log/slog"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
)

// LoadCatalog reads the catalog named by CATALOG_PATH, falling back to the
// embedded default.
func LoadCatalog(cfg *Config, logger *slog.Logger) (*permission.Catalog, error) {
	if cfg != nil && cfg.CatalogPath != "" {
		return permission.LoadCatalog(cfg.CatalogPath, permission.WithLogger(logger))
	}
	return permission.LoadDefaultCatalog(permission.WithLogger(logger))
}
