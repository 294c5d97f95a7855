package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, order_ref, order_number, customer_id, payment_status, fulfillment_status,
	payment_ref, signature, needs_reconciliation, reconciliation_issues, version, created_at, updated_at, paid_at, stock_adjusted_at`

// OrderRepository stores orders in the orders and order_items tables.
// Payment confirmation is guarded by version and status in the UPDATE itself.
type OrderRepository struct {
	db DB
}

func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	issues, err := encodeIssues(o.Issues)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `INSERT INTO orders(`+orderColumns+`)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.Reference, o.Number, o.CustomerID, string(o.PaymentStatus), string(o.FulfillmentStatus),
		o.PaymentRef, o.Signature, o.NeedsReconciliation, issues, o.Version, o.CreatedAt, o.UpdatedAt, o.PaidAt, o.StockAdjustedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("postgres: insert order: %w", err)
	}

	for i, it := range o.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items(order_id, position, product_id, quantity, unit_price) VALUES($1, $2, $3, $4, $5)`,
			o.ID, i, it.ProductID, it.Quantity, it.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (r *OrderRepository) FindByReference(ctx context.Context, reference string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_ref = $1`, reference))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, r.db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateIfVersion writes the order only while the stored row still has
// expectedVersion and is pending. Line items are immutable and not rewritten.
func (r *OrderRepository) UpdateIfVersion(ctx context.Context, o *domain.Order, expectedVersion int64) error {
	issues, err := encodeIssues(o.Issues)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `UPDATE orders SET
			payment_status = $3, fulfillment_status = $4, payment_ref = $5, signature = $6,
			needs_reconciliation = $7, reconciliation_issues = $8, version = $9, updated_at = $10, paid_at = $11
		WHERE order_ref = $1 AND version = $2 AND payment_status = 'pending'`,
		o.Reference, expectedVersion,
		string(o.PaymentStatus), string(o.FulfillmentStatus), o.PaymentRef, o.Signature,
		o.NeedsReconciliation, issues, o.Version, o.UpdatedAt, o.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_ref = $1)`, o.Reference).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check order: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (r *OrderRepository) FlagReconciliation(ctx context.Context, reference string, issues []domain.ReconciliationIssue) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_ref = $1 FOR UPDATE`, reference))
	if err != nil {
		return err
	}
	o.FlagReconciliation(issues)

	encoded, err := encodeIssues(o.Issues)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE orders SET needs_reconciliation = $2, reconciliation_issues = $3, version = $4, updated_at = $5
		WHERE order_ref = $1`,
		reference, o.NeedsReconciliation, encoded, o.Version, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: flag order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// MarkStockAdjusted sets stock_adjusted_at once on a paid order. A second
// call finds nothing to update and succeeds.
func (r *OrderRepository) MarkStockAdjusted(ctx context.Context, reference string) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders SET stock_adjusted_at = $2, version = version + 1, updated_at = $2
		WHERE order_ref = $1 AND payment_status = 'paid' AND stock_adjusted_at IS NULL`,
		reference, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark stock adjusted: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = r.db.QueryRow(ctx, `SELECT payment_status FROM orders WHERE order_ref = $1`, reference).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrNotFound
	case err != nil:
		return fmt.Errorf("postgres: check order: %w", err)
	case domain.PaymentStatus(status) != domain.PaymentPaid:
		return domain.ErrInvalidStateTransition
	}
	return nil
}

func (r *OrderRepository) ListNeedingReconciliation(ctx context.Context) ([]*domain.Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE needs_reconciliation ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}

	for _, o := range out {
		if err := r.loadItems(ctx, r.db, o); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *OrderRepository) loadItems(ctx context.Context, q queryer, o *domain.Order) error {
	rows, err := q.Query(ctx,
		`SELECT product_id, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY position`, o.ID)
	if err != nil {
		return fmt.Errorf("postgres: load items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LineItem, error) {
		var it domain.LineItem
		err := row.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice)
		return it, err
	})
	if err != nil {
		return fmt.Errorf("postgres: load items: %w", err)
	}
	o.Items = items
	return nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                     domain.Order
		paymentStatus, status string
		issues                []byte
		paidAt, adjustedAt    *time.Time
	)
	err := row.Scan(&o.ID, &o.Reference, &o.Number, &o.CustomerID, &paymentStatus, &status,
		&o.PaymentRef, &o.Signature, &o.NeedsReconciliation, &issues, &o.Version, &o.CreatedAt, &o.UpdatedAt, &paidAt, &adjustedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan order: %w", err)
	}
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.FulfillmentStatus = domain.FulfillmentStatus(status)
	o.PaidAt = paidAt
	o.StockAdjustedAt = adjustedAt
	if o.Issues, err = decodeIssues(issues); err != nil {
		return nil, err
	}
	return &o, nil
}

type issueRecord struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

func encodeIssues(issues []domain.ReconciliationIssue) ([]byte, error) {
	recs := make([]issueRecord, 0, len(issues))
	for _, is := range issues {
		recs = append(recs, issueRecord{ProductID: is.ProductID, Quantity: is.Quantity, Reason: is.Reason})
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode issues: %w", err)
	}
	return b, nil
}

func decodeIssues(b []byte) ([]domain.ReconciliationIssue, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var recs []issueRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("postgres: decode issues: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	out := make([]domain.ReconciliationIssue, 0, len(recs))
	for _, rec := range recs {
		out = append(out, domain.ReconciliationIssue{ProductID: rec.ProductID, Quantity: rec.Quantity, Reason: rec.Reason})
	}
	return out, nil
}
