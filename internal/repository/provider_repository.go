package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// ProviderRepository manages training providers and trainers.
type ProviderRepository struct {
	db *sqlx.DB
}

// NewProviderRepository constructs a ProviderRepository.
func NewProviderRepository(db *sqlx.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// ListProviders returns all providers by name.
func (r *ProviderRepository) ListProviders(ctx context.Context) ([]models.Provider, error) {
	providers := []models.Provider{}
	const query = `SELECT id, name, type, contact_email, contact_phone, website, created_at FROM providers ORDER BY name ASC`
	if err := r.db.SelectContext(ctx, &providers, query); err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return providers, nil
}

// CreateProvider inserts a provider.
func (r *ProviderRepository) CreateProvider(ctx context.Context, provider *models.Provider) error {
	if provider.ID == "" {
		provider.ID = uuid.NewString()
	}
	provider.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO providers (id, name, type, contact_email, contact_phone, website, created_at)
        VALUES (:id, :name, :type, :contact_email, :contact_phone, :website, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, provider); err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

// ListTrainers returns trainers, optionally for one provider.
func (r *ProviderRepository) ListTrainers(ctx context.Context, providerID string) ([]models.Trainer, error) {
	trainers := []models.Trainer{}
	query := `SELECT id, user_id, provider_id, name, email, specialization, created_at FROM trainers`
	var args []interface{}
	if providerID != "" {
		query += ` WHERE provider_id = $1`
		args = append(args, providerID)
	}
	query += ` ORDER BY name ASC`
	if err := r.db.SelectContext(ctx, &trainers, query, args...); err != nil {
		return nil, fmt.Errorf("list trainers: %w", err)
	}
	return trainers, nil
}

// CreateTrainer inserts a trainer.
func (r *ProviderRepository) CreateTrainer(ctx context.Context, trainer *models.Trainer) error {
	if trainer.ID == "" {
		trainer.ID = uuid.NewString()
	}
	trainer.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO trainers (id, user_id, provider_id, name, email, specialization, created_at)
        VALUES (:id, :user_id, :provider_id, :name, :email, :specialization, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, trainer); err != nil {
		return fmt.Errorf("create trainer: %w", err)
	}
	return nil
}
