package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/xid"
)

// newDebt builds an unpaid debt awaiting its unit cost.
func (s *Service) newDebt(supplierID string, itemName string, qty int, repairID string, saleID string) domain.SupplierDebt {
	return domain.SupplierDebt{
		ID:         xid.New("debt"),
		SupplierID: supplierID,
		ItemName:   itemName,
		Quantity:   qty,
		RepairID:   repairID,
		SaleID:     saleID,
		CreatedAt:  s.now(),
	}
}

func (s *Service) AddDebt(ctx context.Context, req domain.SupplierDebtCreateRequest) (domain.SupplierDebt, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.SupplierDebt{}, err
	}
	if err := authorize(actor, OpAddDebt, ""); err != nil {
		return domain.SupplierDebt{}, err
	}
	req.ItemName = normalizeName(req.ItemName)
	if err := s.check(req); err != nil {
		return domain.SupplierDebt{}, err
	}

	debt := s.newDebt(req.SupplierID, req.ItemName, req.Quantity, req.RepairID, "")
	err = s.inTx(ctx, string(OpAddDebt), func(ctx context.Context, tx store.Tx) error {
		if req.RepairID != "" {
			if _, err := tx.GetRepairForUpdate(ctx, req.RepairID); err != nil {
				return fmt.Errorf("repair %s: %w", req.RepairID, err)
			}
		}
		if err := tx.InsertSupplierDebt(ctx, debt); err != nil {
			return err
		}
		return s.audit(ctx, tx, "", "debt_create", "supplier_debt", debt.ID,
			fmt.Sprintf("supplier=%s,item=%s,qty=%d", debt.SupplierID, debt.ItemName, debt.Quantity))
	})
	if err != nil {
		return domain.SupplierDebt{}, err
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "supplier_debt", ID: debt.ID, Action: "created"})
	return debt, nil
}

// SetDebtCost enters the unit cost and recomputes the total. Paid debts are
// frozen.
func (s *Service) SetDebtCost(ctx context.Context, id string, costPerUnitCents int64) (domain.SupplierDebtResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.SupplierDebtResponse{}, err
	}
	if err := authorize(actor, OpSetDebtCost, ""); err != nil {
		return domain.SupplierDebtResponse{}, err
	}
	if costPerUnitCents < 0 {
		return domain.SupplierDebtResponse{}, fmt.Errorf("%w: cost must not be negative", store.ErrInvalidInput)
	}

	var resp domain.SupplierDebtResponse
	err = s.inTx(ctx, string(OpSetDebtCost), func(ctx context.Context, tx store.Tx) error {
		debt, err := tx.GetSupplierDebtForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("supplier debt %s: %w", id, err)
		}
		if debt.Paid {
			return fmt.Errorf("supplier debt %s is paid: %w", id, store.ErrInvalidStateTransition)
		}
		if debt.CostPerUnitCents == costPerUnitCents {
			resp = domain.SupplierDebtResponse{Debt: *debt, AlreadyProcessed: true}
			return nil
		}
		priceDebt(debt, costPerUnitCents, debt.Quantity)
		if err := tx.UpdateSupplierDebt(ctx, *debt); err != nil {
			return err
		}
		resp = domain.SupplierDebtResponse{Debt: *debt}
		return s.audit(ctx, tx, "", "debt_cost", "supplier_debt", debt.ID,
			fmt.Sprintf("cost_per_unit=%d,total=%d", debt.CostPerUnitCents, debt.TotalCostCents))
	})
	if err != nil {
		return domain.SupplierDebtResponse{}, err
	}
	if resp.AlreadyProcessed {
		s.observeNoop(string(OpSetDebtCost))
		return resp, nil
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "supplier_debt", ID: id, Action: "costed"})
	return resp, nil
}

// MarkDebtPaid settles a debt. Paid is terminal.
func (s *Service) MarkDebtPaid(ctx context.Context, id string) (domain.SupplierDebtResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.SupplierDebtResponse{}, err
	}
	if err := authorize(actor, OpMarkDebtPaid, ""); err != nil {
		return domain.SupplierDebtResponse{}, err
	}

	var resp domain.SupplierDebtResponse
	err = s.inTx(ctx, string(OpMarkDebtPaid), func(ctx context.Context, tx store.Tx) error {
		debt, err := tx.GetSupplierDebtForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("supplier debt %s: %w", id, err)
		}
		if debt.Paid {
			resp = domain.SupplierDebtResponse{Debt: *debt, AlreadyProcessed: true}
			return nil
		}
		if debt.AwaitingCost() {
			return fmt.Errorf("supplier debt %s has no cost yet: %w", id, store.ErrInvalidStateTransition)
		}
		debt.Paid = true
		debt.PaidBy = actor.UserID
		debt.PaidAt = timePtr(s.now())
		if err := tx.UpdateSupplierDebt(ctx, *debt); err != nil {
			return err
		}
		resp = domain.SupplierDebtResponse{Debt: *debt}
		return s.audit(ctx, tx, "", "debt_paid", "supplier_debt", debt.ID,
			fmt.Sprintf("supplier=%s,total=%d", debt.SupplierID, debt.TotalCostCents))
	})
	if err != nil {
		return domain.SupplierDebtResponse{}, err
	}
	if resp.AlreadyProcessed {
		s.observeNoop(string(OpMarkDebtPaid))
		return resp, nil
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "supplier_debt", ID: id, Action: "paid"})
	return resp, nil
}

func (s *Service) GetSupplierDebt(ctx context.Context, id string) (domain.SupplierDebt, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.SupplierDebt{}, err
	}
	if err := authorize(actor, OpViewSupplierDebts, ""); err != nil {
		return domain.SupplierDebt{}, err
	}
	debt, err := s.repo.GetSupplierDebt(ctx, id)
	if err != nil {
		return domain.SupplierDebt{}, fmt.Errorf("supplier debt %s: %w", id, err)
	}
	return *debt, nil
}

func (s *Service) ListDebts(ctx context.Context, filter domain.SupplierDebtFilter) ([]domain.SupplierDebt, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, OpViewSupplierDebts, ""); err != nil {
		return nil, err
	}
	return s.repo.ListSupplierDebts(ctx, filter)
}

// UnpaidTotalsBySupplier sums open debts per supplier. Debts still awaiting
// a cost are counted but add nothing to the payable total.
func (s *Service) UnpaidTotalsBySupplier(ctx context.Context) (domain.SupplierDebtSummary, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.SupplierDebtSummary{}, err
	}
	if err := authorize(actor, OpViewSupplierDebts, ""); err != nil {
		return domain.SupplierDebtSummary{}, err
	}
	return s.unpaidTotals(ctx, domain.SupplierDebtFilter{UnpaidOnly: true}, "")
}

// UnpaidTotalsBySupplierOn is the same summary restricted to debts created
// on date (YYYY-MM-DD, UTC).
func (s *Service) UnpaidTotalsBySupplierOn(ctx context.Context, date string) (domain.SupplierDebtSummary, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.SupplierDebtSummary{}, err
	}
	if err := authorize(actor, OpViewSupplierDebts, ""); err != nil {
		return domain.SupplierDebtSummary{}, err
	}
	return s.SettlementSummary(ctx, date)
}

// SettlementSummary builds the per-day summary without a principal; the
// settlement job calls it directly.
func (s *Service) SettlementSummary(ctx context.Context, date string) (domain.SupplierDebtSummary, error) {
	day, err := parseDay(date)
	if err != nil {
		return domain.SupplierDebtSummary{}, err
	}
	return s.unpaidTotals(ctx, domain.SupplierDebtFilter{UnpaidOnly: true, From: day, To: day.AddDate(0, 0, 1)}, day.Format("2006-01-02"))
}

func (s *Service) unpaidTotals(ctx context.Context, filter domain.SupplierDebtFilter, date string) (domain.SupplierDebtSummary, error) {
	debts, err := s.repo.ListSupplierDebts(ctx, filter)
	if err != nil {
		return domain.SupplierDebtSummary{}, err
	}
	bySupplier := make(map[string]*domain.SupplierDebtTotal)
	summary := domain.SupplierDebtSummary{Date: date, Suppliers: []domain.SupplierDebtTotal{}}
	for _, debt := range debts {
		total, ok := bySupplier[debt.SupplierID]
		if !ok {
			total = &domain.SupplierDebtTotal{SupplierID: debt.SupplierID}
			bySupplier[debt.SupplierID] = total
		}
		total.Debts++
		if debt.AwaitingCost() {
			total.AwaitingCost++
			continue
		}
		total.UnpaidCents += debt.TotalCostCents
		summary.TotalCents += debt.TotalCostCents
	}
	for _, total := range bySupplier {
		summary.Suppliers = append(summary.Suppliers, *total)
	}
	sort.Slice(summary.Suppliers, func(i, j int) bool {
		return strings.Compare(summary.Suppliers[i].SupplierID, summary.Suppliers[j].SupplierID) < 0
	})
	summary.GeneratedAt = s.now().Format(time.RFC3339)
	return summary, nil
}

func priceDebt(debt *domain.SupplierDebt, costPerUnitCents int64, qty int) {
	debt.CostPerUnitCents = costPerUnitCents
	debt.Quantity = qty
	debt.TotalCostCents = costPerUnitCents * int64(qty)
}
