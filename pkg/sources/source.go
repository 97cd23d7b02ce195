// Package sources contains the pluggable evidence source adapters consumed by
// the collector stage. Per-source failures are non-fatal: the collector
// records them in Materials.Errors and keeps going.
package sources

import (
	"context"

	"github.com/songyu-ren/xagent/pkg/models"
)

// Source is one external evidence provider.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]models.EvidenceItem, error)
}
