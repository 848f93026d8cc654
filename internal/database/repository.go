package database

import (
	"github.com/joinguard/joinguard/internal/database/models"
	"github.com/joinguard/joinguard/internal/engine/breaker"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all model operations.
type Repository struct {
	registry     *models.RegistryModel
	verification *models.VerificationModel
}

// NewRepository creates a repository with all model instances.
func NewRepository(db *bun.DB, datastoreBreaker *breaker.Breaker, logger *zap.Logger) *Repository {
	return &Repository{
		registry:     models.NewRegistry(db, datastoreBreaker, logger),
		verification: models.NewVerification(db, logger),
	}
}

// Registry returns the group/channel registry read path.
func (r *Repository) Registry() *models.RegistryModel {
	return r.registry
}

// Verification returns the verification audit model.
func (r *Repository) Verification() *models.VerificationModel {
	return r.verification
}
