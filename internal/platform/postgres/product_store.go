package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/store"
)

// PostgresProductStore implements store.ProductStore.
type PostgresProductStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresProductStore creates a product store on db.
func NewPostgresProductStore(db store.DBTX, logger *slog.Logger) *PostgresProductStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresProductStore{
		db:     db,
		logger: logger.With(slog.String("component", "product_store")),
	}
}

var _ store.ProductStore = (*PostgresProductStore)(nil)

// Create implements store.ProductStore.Create
func (s *PostgresProductStore) Create(ctx context.Context, product *domain.Product) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := product.Validate(); err != nil {
		return err
	}
	attrs := product.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	attributes, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode product attributes: %w", err)
	}

	query := `
		INSERT INTO products (id, owner_id, name, description, category, price_cents, currency, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		product.ID,
		product.OwnerID,
		product.Name,
		product.Description,
		product.Category,
		product.PriceCents,
		product.Currency,
		attributes,
		product.CreatedAt,
	)
	if err != nil {
		log.Error("failed to create product",
			slog.String("error", err.Error()),
			slog.String("product_id", product.ID.String()))
		return MapError(err)
	}

	log.Info("product created", slog.String("product_id", product.ID.String()))
	return nil
}

// GetByID implements store.ProductStore.GetByID
func (s *PostgresProductStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, owner_id, name, description, category, price_cents, currency, attributes, created_at
		FROM products
		WHERE id = $1
	`
	var (
		p          domain.Product
		attributes []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.OwnerID,
		&p.Name,
		&p.Description,
		&p.Category,
		&p.PriceCents,
		&p.Currency,
		&attributes,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		log.Error("failed to get product by ID",
			slog.String("error", err.Error()),
			slog.String("product_id", id.String()))
		return nil, err
	}
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &p.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode product attributes: %w", err)
		}
		if len(p.Attributes) == 0 {
			p.Attributes = nil
		}
	}
	return &p, nil
}
