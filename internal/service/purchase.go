package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/xid"
)

// CreatePurchase books supplier stock into the pool. Every line increments
// (or creates) the pool row of its item and flags it for allocation.
func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.Purchase, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Purchase{}, err
	}
	if err := authorize(actor, OpCreatePurchase, req.ShopID); err != nil {
		return domain.Purchase{}, err
	}
	for i := range req.Lines {
		req.Lines[i].ItemName = normalizeName(req.Lines[i].ItemName)
	}
	if err := s.check(req); err != nil {
		return domain.Purchase{}, err
	}

	purchase := domain.Purchase{
		ID:           xid.New("pur"),
		SupplierID:   req.SupplierID,
		SupplierName: strings.TrimSpace(req.SupplierName),
		ShopID:       req.ShopID,
		Lines:        make([]domain.PurchaseLine, 0, len(req.Lines)),
		CreatedBy:    actor.UserID,
		CreatedAt:    s.now(),
	}

	err = s.inTx(ctx, string(OpCreatePurchase), func(ctx context.Context, tx store.Tx) error {
		purchase.Lines = purchase.Lines[:0]
		purchase.TotalCents = 0
		lines, err := resolvePurchaseLines(ctx, tx, req.Lines)
		if err != nil {
			return err
		}
		// pool rows are locked in name order
		sort.SliceStable(lines, func(i, j int) bool {
			return strings.ToLower(lines[i].ItemName) < strings.ToLower(lines[j].ItemName)
		})
		for _, line := range lines {
			pool, err := tx.EnsureItemForUpdate(ctx, domain.InventoryItem{
				Name:           line.ItemName,
				Category:       line.Category,
				ShopID:         domain.PoolShopID,
				CostPriceCents: line.CostPriceCents,
				SupplierID:     req.SupplierID,
			})
			if err != nil {
				return fmt.Errorf("pool row for %s: %w", line.ItemName, err)
			}
			if pool.Stock == 0 && pool.InitialStock == 0 {
				pool.InitialStock = line.Qty
			}
			if line.CostPriceCents > 0 {
				pool.CostPriceCents = line.CostPriceCents
			}
			pool.SupplierID = req.SupplierID
			pool.PendingAllocation = true
			if err := adjust(ctx, tx, pool, line.Qty); err != nil {
				return err
			}
			line.ItemID = pool.ID
			purchase.Lines = append(purchase.Lines, line)
			purchase.TotalCents += int64(line.Qty) * line.CostPriceCents
		}
		if err := tx.InsertPurchase(ctx, purchase); err != nil {
			return err
		}
		return s.audit(ctx, tx, req.ShopID, "purchase_create", "purchase", purchase.ID,
			fmt.Sprintf("supplier=%s,lines=%d,total=%d", purchase.SupplierID, len(purchase.Lines), purchase.TotalCents))
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "purchase", ID: purchase.ID, Action: "created"})
	return purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	if _, err := actorFrom(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListPurchases(ctx, limit)
}

// resolvePurchaseLines fills name and category for lines given by item id.
func resolvePurchaseLines(ctx context.Context, tx store.Tx, lines []domain.PurchaseLine) ([]domain.PurchaseLine, error) {
	resolved := make([]domain.PurchaseLine, 0, len(lines))
	for _, line := range lines {
		if line.ItemID != "" {
			item, err := tx.GetItemForUpdate(ctx, line.ItemID)
			if err != nil {
				return nil, fmt.Errorf("purchase line item %s: %w", line.ItemID, err)
			}
			line.ItemName = item.Name
			if line.Category == "" {
				line.Category = item.Category
			}
		}
		if line.Category == "" {
			return nil, fmt.Errorf("%w: category is required for new item %s", store.ErrInvalidInput, line.ItemName)
		}
		resolved = append(resolved, line)
	}
	return resolved, nil
}
