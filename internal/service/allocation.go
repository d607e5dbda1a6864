package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/xid"
)

// RequestAllocation proposes splitting pool stock of one item across shops.
// Nothing moves until an admin approves it.
func (s *Service) RequestAllocation(ctx context.Context, req domain.AllocationCreateRequest) (domain.StockAllocation, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.StockAllocation{}, err
	}
	if err := authorize(actor, OpRequestAllocation, ""); err != nil {
		return domain.StockAllocation{}, err
	}
	if err := s.check(req); err != nil {
		return domain.StockAllocation{}, err
	}

	seen := make(map[string]struct{}, len(req.Destinations))
	sum := 0
	for _, dest := range req.Destinations {
		if _, dup := seen[dest.ShopID]; dup {
			return domain.StockAllocation{}, fmt.Errorf("%w: shop %s listed twice", store.ErrInvalidInput, dest.ShopID)
		}
		seen[dest.ShopID] = struct{}{}
		sum += dest.Qty
	}
	if sum != req.TotalQty {
		return domain.StockAllocation{}, fmt.Errorf("%w: destination quantities sum to %d, want %d", store.ErrInvalidInput, sum, req.TotalQty)
	}

	pool, err := s.repo.GetItem(ctx, req.ItemID)
	if err != nil {
		return domain.StockAllocation{}, fmt.Errorf("item %s: %w", req.ItemID, err)
	}
	if !pool.IsPool() {
		return domain.StockAllocation{}, fmt.Errorf("%w: item %s is not pool stock", store.ErrInvalidInput, pool.ID)
	}
	if req.TotalQty > pool.Stock {
		s.observe(string(OpRequestAllocation), store.ErrAllocationExceedsPool)
		return domain.StockAllocation{}, fmt.Errorf("%w: pool has %d of %s, %d requested", store.ErrAllocationExceedsPool, pool.Stock, pool.Name, req.TotalQty)
	}

	allocation := domain.StockAllocation{
		ID:          xid.New("alloc"),
		ItemID:      pool.ID,
		ItemName:    pool.Name,
		TotalQty:    req.TotalQty,
		Lines:       append([]domain.AllocationLine(nil), req.Destinations...),
		Status:      domain.AllocationPending,
		RequestedBy: actor.UserID,
		CreatedAt:   s.now(),
	}
	err = s.inTx(ctx, string(OpRequestAllocation), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertAllocation(ctx, allocation); err != nil {
			return err
		}
		return s.audit(ctx, tx, "", "allocation_request", "stock_allocation", allocation.ID,
			fmt.Sprintf("item=%s,total=%d,shops=%d", allocation.ItemName, allocation.TotalQty, len(allocation.Lines)))
	})
	if err != nil {
		return domain.StockAllocation{}, err
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "stock_allocation", ID: allocation.ID, Action: "requested"})
	return allocation, nil
}

// ApproveAllocation moves the allocated quantity out of the pool into each
// destination row, exactly once. It is all or nothing.
func (s *Service) ApproveAllocation(ctx context.Context, id string) (domain.AllocationResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.AllocationResponse{}, err
	}
	if err := authorize(actor, OpApproveAllocation, ""); err != nil {
		return domain.AllocationResponse{}, err
	}

	var resp domain.AllocationResponse
	err = s.inTx(ctx, string(OpApproveAllocation), func(ctx context.Context, tx store.Tx) error {
		allocation, err := tx.GetAllocationForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("allocation %s: %w", id, err)
		}
		switch allocation.Status {
		case domain.AllocationApproved:
			resp = domain.AllocationResponse{Allocation: *allocation, AlreadyProcessed: true}
			return nil
		case domain.AllocationRejected:
			return fmt.Errorf("allocation %s is rejected: %w", id, store.ErrInvalidStateTransition)
		}

		pool, err := tx.GetItemForUpdate(ctx, allocation.ItemID)
		if err != nil {
			return fmt.Errorf("pool item %s: %w", allocation.ItemID, err)
		}
		if pool.Stock < allocation.TotalQty {
			return fmt.Errorf("%w: pool has %d of %s, %d allocated", store.ErrAllocationExceedsPool, pool.Stock, pool.Name, allocation.TotalQty)
		}

		lines := append([]domain.AllocationLine(nil), allocation.Lines...)
		sort.Slice(lines, func(i, j int) bool { return lines[i].ShopID < lines[j].ShopID })
		for _, line := range lines {
			dest, err := tx.EnsureItemForUpdate(ctx, rowTemplate(*pool, line.ShopID))
			if err != nil {
				return fmt.Errorf("destination row at %s: %w", line.ShopID, err)
			}
			if err := adjust(ctx, tx, dest, line.Qty); err != nil {
				return err
			}
		}
		if pool.Stock-allocation.TotalQty == 0 {
			pool.PendingAllocation = false
		}
		if err := adjust(ctx, tx, pool, -allocation.TotalQty); err != nil {
			return err
		}

		allocation.Status = domain.AllocationApproved
		allocation.DecidedBy = actor.UserID
		allocation.DecidedAt = timePtr(s.now())
		if err := tx.UpdateAllocation(ctx, *allocation); err != nil {
			return err
		}
		resp = domain.AllocationResponse{Allocation: *allocation}
		return s.audit(ctx, tx, "", "allocation_approve", "stock_allocation", allocation.ID,
			fmt.Sprintf("item=%s,total=%d,pool_left=%d", allocation.ItemName, allocation.TotalQty, pool.Stock))
	})
	if err != nil {
		return domain.AllocationResponse{}, err
	}
	if resp.AlreadyProcessed {
		s.observeNoop(string(OpApproveAllocation))
		return resp, nil
	}
	events := []domain.ChangeEvent{{Entity: "stock_allocation", ID: id, Action: "approved"}}
	for _, line := range resp.Allocation.Lines {
		events = append(events, domain.ChangeEvent{Entity: "inventory_item", ID: resp.Allocation.ItemID, Action: "allocated", ShopID: line.ShopID})
	}
	s.publish(ctx, events...)
	return resp, nil
}

func (s *Service) RejectAllocation(ctx context.Context, id string) (domain.AllocationResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.AllocationResponse{}, err
	}
	if err := authorize(actor, OpRejectAllocation, ""); err != nil {
		return domain.AllocationResponse{}, err
	}

	var resp domain.AllocationResponse
	err = s.inTx(ctx, string(OpRejectAllocation), func(ctx context.Context, tx store.Tx) error {
		allocation, err := tx.GetAllocationForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("allocation %s: %w", id, err)
		}
		switch allocation.Status {
		case domain.AllocationRejected:
			resp = domain.AllocationResponse{Allocation: *allocation, AlreadyProcessed: true}
			return nil
		case domain.AllocationApproved:
			return fmt.Errorf("allocation %s is approved: %w", id, store.ErrInvalidStateTransition)
		}
		allocation.Status = domain.AllocationRejected
		allocation.DecidedBy = actor.UserID
		allocation.DecidedAt = timePtr(s.now())
		if err := tx.UpdateAllocation(ctx, *allocation); err != nil {
			return err
		}
		resp = domain.AllocationResponse{Allocation: *allocation}
		return s.audit(ctx, tx, "", "allocation_reject", "stock_allocation", allocation.ID, "item="+allocation.ItemName)
	})
	if err != nil {
		return domain.AllocationResponse{}, err
	}
	if resp.AlreadyProcessed {
		s.observeNoop(string(OpRejectAllocation))
		return resp, nil
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "stock_allocation", ID: id, Action: "rejected"})
	return resp, nil
}

func (s *Service) GetAllocation(ctx context.Context, id string) (domain.StockAllocation, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.StockAllocation{}, err
	}
	allocation, err := s.repo.GetAllocation(ctx, id)
	if err != nil {
		return domain.StockAllocation{}, fmt.Errorf("allocation %s: %w", id, err)
	}
	if !seesAllocation(actor, *allocation) {
		return domain.StockAllocation{}, fmt.Errorf("allocation %s: %w", id, store.ErrNotFound)
	}
	return *allocation, nil
}

// ListAllocations returns allocations by status. Non-admins only see the ones
// they requested or that send stock to their shop.
func (s *Service) ListAllocations(ctx context.Context, status string) ([]domain.StockAllocation, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	allocations, err := s.repo.ListAllocations(ctx, status)
	if err != nil || actor.IsAdmin() {
		return allocations, err
	}
	visible := allocations[:0]
	for _, allocation := range allocations {
		if seesAllocation(actor, allocation) {
			visible = append(visible, allocation)
		}
	}
	return visible, nil
}

// rowTemplate describes the row of src's item at shopID, used when that row
// has to be created.
func rowTemplate(src domain.InventoryItem, shopID string) domain.InventoryItem {
	return domain.InventoryItem{
		Name:                src.Name,
		Category:            src.Category,
		ShopID:              shopID,
		ReorderLevel:        src.ReorderLevel,
		CostPriceCents:      src.CostPriceCents,
		AdminCostPriceCents: src.AdminCostPriceCents,
		SellingPriceCents:   src.SellingPriceCents,
		SupplierID:          src.SupplierID,
	}
}
