package service

import (
	"context"
	"fmt"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
)

// adjust applies delta to a row already locked in tx. A rejected decrement
// leaves the row untouched.
func adjust(ctx context.Context, tx store.Tx, item *domain.InventoryItem, delta int) error {
	if delta < 0 && item.Stock+delta < 0 {
		return &store.StockError{ItemName: item.Name, ShopID: item.ShopID, Available: item.Stock, Requested: -delta}
	}
	item.Stock += delta
	if err := tx.UpdateItem(ctx, *item); err != nil {
		item.Stock -= delta
		return fmt.Errorf("update stock of %s: %w", item.ID, err)
	}
	return nil
}

// lockStock resolves key to a locked row.
func lockStock(ctx context.Context, tx store.Tx, key domain.StockKey) (*domain.InventoryItem, error) {
	if key.ItemID != "" {
		item, err := tx.GetItemForUpdate(ctx, key.ItemID)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", key.ItemID, err)
		}
		return item, nil
	}
	name := normalizeName(key.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: item_id or name is required", store.ErrInvalidInput)
	}
	item, err := tx.FindItemForUpdate(ctx, name, key.ShopID)
	if err != nil {
		return nil, fmt.Errorf("item %s at %q: %w", name, key.ShopID, err)
	}
	return item, nil
}

// AdjustStock is a manual correction of one ledger row.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockAdjustResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.StockAdjustResponse{}, err
	}

	var resp domain.StockAdjustResponse
	err = s.inTx(ctx, string(OpAdjustStock), func(ctx context.Context, tx store.Tx) error {
		item, err := lockStock(ctx, tx, req.StockKey)
		if err != nil {
			return err
		}
		if err := authorize(actor, OpAdjustStock, item.ShopID); err != nil {
			return err
		}
		if err := adjust(ctx, tx, item, req.Delta); err != nil {
			return err
		}
		resp = domain.StockAdjustResponse{Item: visibleItem(actor, *item), NewStock: item.Stock}
		return s.audit(ctx, tx, item.ShopID, "stock_adjust", "inventory_item", item.ID,
			fmt.Sprintf("name=%s,delta=%d,stock=%d,reason=%s", item.Name, req.Delta, item.Stock, req.Reason))
	})
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "inventory_item", ID: resp.Item.ID, Action: "adjusted", ShopID: resp.Item.ShopID})
	return resp, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.InventoryItem, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if err := authorize(actor, OpCreateItem, req.ShopID); err != nil {
		return domain.InventoryItem{}, err
	}
	req.Name = normalizeName(req.Name)
	if err := s.check(req); err != nil {
		return domain.InventoryItem{}, err
	}

	var created *domain.InventoryItem
	err = s.inTx(ctx, string(OpCreateItem), func(ctx context.Context, tx store.Tx) error {
		var err error
		created, err = tx.InsertItem(ctx, domain.InventoryItem{
			Name:                req.Name,
			Category:            req.Category,
			ShopID:              req.ShopID,
			Stock:               req.Stock,
			InitialStock:        req.Stock,
			ReorderLevel:        req.ReorderLevel,
			CostPriceCents:      req.CostPriceCents,
			AdminCostPriceCents: req.AdminCostPriceCents,
			SellingPriceCents:   req.SellingPriceCents,
			SupplierID:          req.SupplierID,
			PendingAllocation:   req.ShopID == domain.PoolShopID && req.Stock > 0,
		})
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, created.ShopID, "item_create", "inventory_item", created.ID,
			fmt.Sprintf("name=%s,stock=%d", created.Name, created.Stock))
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "inventory_item", ID: created.ID, Action: "created", ShopID: created.ShopID})
	return visibleItem(actor, *created), nil
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.InventoryItem, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, fmt.Errorf("item %s: %w", id, err)
	}
	return visibleItem(actor, *item), nil
}

func (s *Service) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = visibleItem(actor, items[i])
	}
	return items, nil
}

// LowStockItems lists shop rows at or below their reorder level. Pool rows
// are excluded.
func (s *Service) LowStockItems(ctx context.Context, shopID string) ([]domain.InventoryItem, error) {
	items, err := s.repo.ListItems(ctx, domain.ItemFilter{ShopID: shopID, LowStock: true})
	if err != nil {
		return nil, err
	}
	result := items[:0]
	for _, item := range items {
		if item.IsPool() {
			continue
		}
		item.AdminCostPriceCents = 0
		result = append(result, item)
	}
	return result, nil
}
