package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	"github.com/jackc/pgx/v5"
)

type InventoryRepository struct {
	db DB
}

func NewInventoryRepository(db DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*domain.Item, error) {
	item := domain.Item{ProductID: productID}
	err := r.db.QueryRow(ctx, `SELECT available, version, updated_at FROM inventory WHERE product_id = $1`, productID).
		Scan(&item.Available, &item.Version, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get stock: %w", err)
	}
	return &item, nil
}

func (r *InventoryRepository) Save(ctx context.Context, item *domain.Item) error {
	if item == nil || item.ProductID == "" {
		return fmt.Errorf("postgres: product id is required")
	}
	if item.Available < 0 {
		return domain.ErrNegativeStock
	}
	_, err := r.db.Exec(ctx, `INSERT INTO inventory(product_id, available, version, updated_at) VALUES($1, $2, $3, $4)
		ON CONFLICT (product_id) DO UPDATE
		SET available = EXCLUDED.available, version = inventory.version + 1, updated_at = EXCLUDED.updated_at`,
		item.ProductID, item.Available, item.Version, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: save stock: %w", err)
	}
	return nil
}

// CreateIfAbsent never overwrites a live row, so replaying a seed on restart
// keeps decrements other instances already committed.
func (r *InventoryRepository) CreateIfAbsent(ctx context.Context, item *domain.Item) (bool, error) {
	if item == nil || item.ProductID == "" {
		return false, fmt.Errorf("postgres: product id is required")
	}
	if item.Available < 0 {
		return false, domain.ErrNegativeStock
	}
	tag, err := r.db.Exec(ctx, `INSERT INTO inventory(product_id, available, version, updated_at) VALUES($1, $2, $3, $4)
		ON CONFLICT (product_id) DO NOTHING`,
		item.ProductID, item.Available, item.Version, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: seed stock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Decrement is a single conditioned UPDATE; the row is only touched when
// enough stock is available.
func (r *InventoryRepository) Decrement(ctx context.Context, productID string, quantity int) (*domain.Item, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	item := domain.Item{ProductID: productID}
	err := r.db.QueryRow(ctx, `UPDATE inventory
		SET available = available - $2, version = version + 1, updated_at = now()
		WHERE product_id = $1 AND available >= $2
		RETURNING available, version, updated_at`, productID, quantity).
		Scan(&item.Available, &item.Version, &item.UpdatedAt)
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: decrement stock: %w", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM inventory WHERE product_id = $1)`, productID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("postgres: check stock: %w", err)
	}
	if !exists {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrInsufficientStock
}
