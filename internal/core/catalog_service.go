package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CatalogService owns product and warehouse master data. It applies the
// soft-delete visibility filter at this boundary: deleted records never
// appear in default queries, but ledger entries referencing them remain.
type CatalogService interface {
	CreateProduct(ctx context.Context, p Product) (*Product, error)
	GetProduct(ctx context.Context, code string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	// DeleteProduct soft-deletes; the ledger keeps its history.
	DeleteProduct(ctx context.Context, code string) error

	CreateWarehouse(ctx context.Context, w Warehouse) (*Warehouse, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)

	// StockLevels is the read view joining the catalog with the
	// projection and active reservations, including the derived
	// low-stock flag and stock value.
	StockLevels(ctx context.Context) ([]StockLevel, error)
	// LowStock returns visible products whose aggregate balance is at or
	// below their reorder point.
	LowStock(ctx context.Context) ([]StockLevel, error)
}

type catalogService struct {
	pool *pgxpool.Pool
}

func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

func (s *catalogService) CreateProduct(ctx context.Context, p Product) (*Product, error) {
	if p.Code == "" || p.Name == "" {
		return nil, fmt.Errorf("%w: product code and name are required", ErrInvalidEntry)
	}
	if p.MaximumStock.IsPositive() && p.ReorderPoint.GreaterThan(p.MaximumStock) {
		return nil, fmt.Errorf("%w: reorder point %s exceeds maximum stock %s",
			ErrInvalidEntry, p.ReorderPoint, p.MaximumStock)
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO products (code, name, unit, cost_price, reorder_point, minimum_stock, maximum_stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		RETURNING id, is_active, created_at
	`, p.Code, p.Name, p.Unit, p.CostPrice, p.ReorderPoint, p.MinimumStock, p.MaximumStock).
		Scan(&p.ID, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create product %s: %w", p.Code, err)
	}
	return &p, nil
}

func (s *catalogService) GetProduct(ctx context.Context, code string) (*Product, error) {
	var p Product
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, name, unit, cost_price, reorder_point, minimum_stock, maximum_stock, is_active, created_at
		FROM products
		WHERE code = $1 AND is_deleted = false
	`, code).Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.CostPrice, &p.ReorderPoint,
		&p.MinimumStock, &p.MaximumStock, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch product %s: %w", code, err)
	}
	return &p, nil
}

func (s *catalogService) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, unit, cost_price, reorder_point, minimum_stock, maximum_stock, is_active, created_at
		FROM products
		WHERE is_deleted = false AND is_active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.CostPrice, &p.ReorderPoint,
			&p.MinimumStock, &p.MaximumStock, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *catalogService) DeleteProduct(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE products SET is_deleted = true, is_active = false WHERE code = $1 AND is_deleted = false
	`, code)
	if err != nil {
		return fmt.Errorf("failed to delete product %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", code, ErrNotFound)
	}
	return nil
}

func (s *catalogService) CreateWarehouse(ctx context.Context, w Warehouse) (*Warehouse, error) {
	if w.Code == "" || w.Name == "" {
		return nil, fmt.Errorf("%w: warehouse code and name are required", ErrInvalidEntry)
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO warehouses (code, name, is_active)
		VALUES ($1, $2, true)
		RETURNING id, is_active, created_at
	`, w.Code, w.Name).Scan(&w.ID, &w.IsActive, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse %s: %w", w.Code, err)
	}
	return &w, nil
}

func (s *catalogService) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, is_active, created_at
		FROM warehouses
		WHERE is_deleted = false AND is_active = true
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouses: %w", err)
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

func (s *catalogService) StockLevels(ctx context.Context) ([]StockLevel, error) {
	return s.stockLevels(ctx, false)
}

func (s *catalogService) LowStock(ctx context.Context) ([]StockLevel, error) {
	return s.stockLevels(ctx, true)
}

func (s *catalogService) stockLevels(ctx context.Context, lowOnly bool) ([]StockLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.code, p.name, p.cost_price, p.reorder_point,
		       w.id, w.code,
		       sb.quantity,
		       COALESCE((SELECT SUM(r.quantity) FROM reservations r
		                 WHERE r.product_id = p.id AND r.warehouse_id = w.id AND r.status = 'active'), 0)
		FROM stock_balances sb
		JOIN products p   ON p.id = sb.product_id AND p.is_deleted = false
		JOIN warehouses w ON w.id = sb.warehouse_id AND w.is_deleted = false
		ORDER BY p.code, w.code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		var costPrice, reorderPoint decimal.Decimal
		if err := rows.Scan(&sl.ProductID, &sl.ProductCode, &sl.ProductName, &costPrice, &reorderPoint,
			&sl.WarehouseID, &sl.WarehouseCode, &sl.OnHand, &sl.Reserved); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		p := Product{CostPrice: costPrice, ReorderPoint: reorderPoint}
		sl.Available = sl.OnHand.Sub(sl.Reserved)
		sl.StockValue = p.StockValue(sl.OnHand)
		sl.LowStock = p.IsLowStock(sl.OnHand)
		if lowOnly && !sl.LowStock {
			continue
		}
		levels = append(levels, sl)
	}
	return levels, rows.Err()
}
