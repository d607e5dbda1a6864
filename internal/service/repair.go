package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/xid"
)

// repairProgress lists the hand-set transitions. FULLY_PAID and COLLECTED
// are reached through payments and collection only. A ticket paid up front
// still moves through the bench states.
var repairProgress = map[string][]string{
	domain.RepairReceived:       {domain.RepairInProgress, domain.RepairWaitingParts, domain.RepairCompleted},
	domain.RepairInProgress:     {domain.RepairWaitingParts, domain.RepairCompleted},
	domain.RepairWaitingParts:   {domain.RepairInProgress, domain.RepairCompleted},
	domain.RepairCompleted:      {domain.RepairPaymentPending},
	domain.RepairPaymentPending: {domain.RepairInProgress, domain.RepairWaitingParts, domain.RepairCompleted},
	domain.RepairFullyPaid:      {domain.RepairInProgress, domain.RepairWaitingParts, domain.RepairCompleted},
}

// recompute derives balance and payment status from the money fields.
func recompute(r *domain.Repair) {
	r.BalanceCents = r.EffectiveTotal() - r.AmountPaidCents
	switch {
	case r.BalanceCents <= 0:
		r.PaymentStatus = domain.PaymentStatusPaid
	case r.AmountPaidCents > 0:
		r.PaymentStatus = domain.PaymentStatusPartial
	default:
		r.PaymentStatus = domain.PaymentStatusPending
	}
}

// settle moves a ticket with nothing left to pay to FULLY_PAID, and a
// FULLY_PAID ticket that owes money again back to PAYMENT_PENDING.
func settle(r *domain.Repair) {
	if r.Collected {
		return
	}
	switch {
	case r.BalanceCents <= 0:
		r.Status = domain.RepairFullyPaid
	case r.Status == domain.RepairFullyPaid:
		r.Status = domain.RepairPaymentPending
	}
}

// CreateRepair opens a ticket. In-house parts come out of the shop's stock
// and outsourced parts become supplier debts, all in one transaction.
func (s *Service) CreateRepair(ctx context.Context, req domain.RepairCreateRequest) (domain.Repair, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Repair{}, err
	}
	if req.ShopID == "" {
		req.ShopID = actor.ShopID
	}
	if err := authorize(actor, OpCreateRepair, req.ShopID); err != nil {
		return domain.Repair{}, err
	}
	if req.ShopID == domain.PoolShopID {
		return domain.Repair{}, fmt.Errorf("%w: shop_id is required", store.ErrInvalidInput)
	}
	for i := range req.Parts {
		req.Parts[i].ItemName = normalizeName(req.Parts[i].ItemName)
	}
	if err := s.check(req); err != nil {
		return domain.Repair{}, err
	}
	if req.PaymentTiming == "" {
		req.PaymentTiming = domain.PaymentTimingOnPickup
	}
	if req.AmountPaidCents > 0 && req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}

	now := s.now()
	repair := domain.Repair{
		ID:                     xid.New("rep"),
		ShopID:                 req.ShopID,
		CustomerName:           strings.TrimSpace(req.CustomerName),
		CustomerPhone:          strings.TrimSpace(req.CustomerPhone),
		DeviceModel:            strings.TrimSpace(req.DeviceModel),
		Issue:                  strings.TrimSpace(req.Issue),
		TechnicianID:           req.TechnicianID,
		Parts:                  slices.Clone(req.Parts),
		OutsourcedCostCents:    req.OutsourcedCostCents,
		LaborCostCents:         req.LaborCostCents,
		TotalAgreedAmountCents: req.TotalAgreedAmountCents,
		PaymentTiming:          req.PaymentTiming,
		AmountPaidCents:        req.AmountPaidCents,
		CustomerStatus:         domain.CustomerWaiting,
		CreatedBy:              actor.UserID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if repair.Parts == nil {
		repair.Parts = []domain.RepairPart{}
	}
	repair.TotalCostCents = repair.OutsourcedCostCents + repair.LaborCostCents
	for _, part := range repair.Parts {
		repair.TotalCostCents += part.CostCents * int64(part.Qty)
	}
	recompute(&repair)
	if repair.BalanceCents < 0 {
		return domain.Repair{}, fmt.Errorf("%w: amount paid %d exceeds total %d", store.ErrInvalidInput, repair.AmountPaidCents, repair.EffectiveTotal())
	}
	switch {
	case repair.BalanceCents <= 0:
		repair.Status = domain.RepairFullyPaid
	case repair.PaymentTiming == domain.PaymentTimingUpfront:
		repair.Status = domain.RepairPaymentPending
	default:
		repair.Status = domain.RepairReceived
	}

	var debts []domain.SupplierDebt
	err = s.inTx(ctx, string(OpCreateRepair), func(ctx context.Context, tx store.Tx) error {
		if err := s.consumeParts(ctx, tx, repair.ShopID, repair.Parts); err != nil {
			return err
		}
		debts = debts[:0]
		for _, part := range repair.Parts {
			if part.Source != domain.PartSourceOutsourced {
				continue
			}
			debt := s.newDebt(part.SupplierID, part.ItemName, part.Qty, repair.ID, "")
			if err := tx.InsertSupplierDebt(ctx, debt); err != nil {
				return err
			}
			debts = append(debts, debt)
		}
		if repair.AmountPaidCents > 0 {
			if _, err := s.recordPayment(ctx, tx, req.PaymentMethod, repair.AmountPaidCents, domain.RelatedRepair, repair.ID, repair.ShopID, req.PaymentReference); err != nil {
				return err
			}
		}
		if err := tx.InsertRepair(ctx, repair); err != nil {
			return err
		}
		return s.audit(ctx, tx, repair.ShopID, "repair_create", "repair", repair.ID,
			fmt.Sprintf("parts=%d,debts=%d,total=%d,paid=%d,status=%s", len(repair.Parts), len(debts), repair.TotalCostCents, repair.AmountPaidCents, repair.Status))
	})
	if err != nil {
		return domain.Repair{}, err
	}
	events := []domain.ChangeEvent{{Entity: "repair", ID: repair.ID, Action: "created", ShopID: repair.ShopID}}
	for _, debt := range debts {
		events = append(events, domain.ChangeEvent{Entity: "supplier_debt", ID: debt.ID, Action: "created"})
	}
	s.publish(ctx, events...)
	return repair, nil
}

// consumeParts takes in-house parts out of shopID's stock, locking rows in
// name order. It fills in the item id of every consumed part.
func (s *Service) consumeParts(ctx context.Context, tx store.Tx, shopID string, parts []domain.RepairPart) error {
	order := make([]int, 0, len(parts))
	for i, part := range parts {
		if part.Source == domain.PartSourceInHouse {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return strings.ToLower(parts[order[a]].ItemName) < strings.ToLower(parts[order[b]].ItemName)
	})
	for _, i := range order {
		part := &parts[i]
		item, err := lockStock(ctx, tx, domain.StockKey{ItemID: part.ItemID, Name: part.ItemName, ShopID: shopID})
		if errors.Is(err, store.ErrNotFound) {
			return &store.StockError{ItemName: part.ItemName, ShopID: shopID, Available: 0, Requested: part.Qty}
		}
		if err != nil {
			return err
		}
		if item.ShopID != shopID {
			return fmt.Errorf("%w: item %s is not stocked at %s", store.ErrInvalidInput, item.ID, shopID)
		}
		if err := adjust(ctx, tx, item, -part.Qty); err != nil {
			return err
		}
		part.ItemID = item.ID
		part.ItemName = item.Name
	}
	return nil
}

// mutateRepair locks a ticket, authorizes op against its shop and hands it
// to fn. fn reports noop when the ticket already reflects the request.
func (s *Service) mutateRepair(ctx context.Context, op Operation, id string, fn func(ctx context.Context, tx store.Tx, actor domain.Actor, r *domain.Repair) (noop bool, err error)) (domain.RepairResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.RepairResponse{}, err
	}

	var resp domain.RepairResponse
	err = s.inTx(ctx, string(op), func(ctx context.Context, tx store.Tx) error {
		repair, err := tx.GetRepairForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("repair %s: %w", id, err)
		}
		if err := authorize(actor, op, repair.ShopID); err != nil {
			return err
		}
		noop, err := fn(ctx, tx, actor, repair)
		if err != nil {
			return err
		}
		if noop {
			resp = domain.RepairResponse{Repair: *repair, AlreadyProcessed: true}
			return nil
		}
		repair.UpdatedAt = s.now()
		if err := tx.UpdateRepair(ctx, *repair); err != nil {
			return err
		}
		resp = domain.RepairResponse{Repair: *repair}
		return nil
	})
	if err != nil {
		return domain.RepairResponse{}, err
	}
	if resp.AlreadyProcessed {
		s.observeNoop(string(op))
		return resp, nil
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "repair", ID: id, Action: string(op), ShopID: resp.Repair.ShopID})
	return resp, nil
}

func (s *Service) UpdateRepairStatus(ctx context.Context, id string, status string) (domain.RepairResponse, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	return s.mutateRepair(ctx, OpUpdateRepairStatus, id, func(ctx context.Context, tx store.Tx, _ domain.Actor, r *domain.Repair) (bool, error) {
		if r.Status == status {
			return true, nil
		}
		if !slices.Contains(repairProgress[r.Status], status) {
			return false, fmt.Errorf("repair %s: %s -> %s: %w", r.ID, r.Status, status, store.ErrInvalidStateTransition)
		}
		from := r.Status
		r.Status = status
		if status == domain.RepairPaymentPending {
			settle(r)
		}
		return false, s.audit(ctx, tx, r.ShopID, "repair_status", "repair", r.ID, fmt.Sprintf("from=%s,to=%s", from, r.Status))
	})
}

// RecordPayment takes a payment at the counter. It may not exceed the
// outstanding balance less any payment awaiting approval.
func (s *Service) RecordPayment(ctx context.Context, id string, req domain.RepairPaymentRequest) (domain.RepairResponse, error) {
	if err := s.check(req); err != nil {
		return domain.RepairResponse{}, err
	}
	return s.mutateRepair(ctx, OpRecordPayment, id, func(ctx context.Context, tx store.Tx, _ domain.Actor, r *domain.Repair) (bool, error) {
		available := r.BalanceCents
		if r.PendingTransaction != nil {
			available -= r.PendingTransaction.AmountCents
		}
		if req.AmountCents <= 0 || req.AmountCents > available {
			return false, fmt.Errorf("%w: amount %d outside (0, %d]", store.ErrInvalidInput, req.AmountCents, available)
		}
		if _, err := s.recordPayment(ctx, tx, req.Method, req.AmountCents, domain.RelatedRepair, r.ID, r.ShopID, req.Reference); err != nil {
			return false, err
		}
		r.AmountPaidCents += req.AmountCents
		recompute(r)
		settle(r)
		return false, s.audit(ctx, tx, r.ShopID, "repair_payment", "repair", r.ID,
			fmt.Sprintf("amount=%d,method=%s,balance=%d", req.AmountCents, req.Method, r.BalanceCents))
	})
}

// SubmitPaymentForApproval parks a staff-collected payment until an admin
// approves it. The amount defaults to the outstanding balance.
func (s *Service) SubmitPaymentForApproval(ctx context.Context, id string, req domain.RepairPaymentRequest) (domain.RepairResponse, error) {
	if err := s.check(req); err != nil {
		return domain.RepairResponse{}, err
	}
	return s.mutateRepair(ctx, OpSubmitPayment, id, func(ctx context.Context, tx store.Tx, actor domain.Actor, r *domain.Repair) (bool, error) {
		if r.PendingTransaction != nil {
			return false, fmt.Errorf("repair %s already has a payment awaiting approval: %w", r.ID, store.ErrInvalidStateTransition)
		}
		amount := req.AmountCents
		if amount == 0 {
			amount = r.BalanceCents
		}
		if amount <= 0 || amount > r.BalanceCents {
			return false, fmt.Errorf("%w: amount %d outside (0, %d]", store.ErrInvalidInput, amount, r.BalanceCents)
		}
		r.PendingTransaction = &domain.PendingTransaction{
			Method:      req.Method,
			Reference:   strings.TrimSpace(req.Reference),
			AmountCents: amount,
			SubmittedBy: actor.UserID,
			SubmittedAt: s.now(),
		}
		r.PaymentApproved = false
		return false, s.audit(ctx, tx, r.ShopID, "repair_payment_submit", "repair", r.ID,
			fmt.Sprintf("amount=%d,method=%s", amount, req.Method))
	})
}

// ApprovePayment countersigns the pending payment and books it.
func (s *Service) ApprovePayment(ctx context.Context, id string) (domain.RepairResponse, error) {
	return s.mutateRepair(ctx, OpApprovePayment, id, func(ctx context.Context, tx store.Tx, _ domain.Actor, r *domain.Repair) (bool, error) {
		pending := r.PendingTransaction
		if pending == nil {
			if r.PaymentApproved {
				return true, nil
			}
			return false, fmt.Errorf("repair %s has no payment awaiting approval: %w", r.ID, store.ErrInvalidStateTransition)
		}
		if pending.AmountCents > r.BalanceCents {
			return false, fmt.Errorf("%w: pending amount %d exceeds balance %d", store.ErrInvalidInput, pending.AmountCents, r.BalanceCents)
		}
		if _, err := s.recordPayment(ctx, tx, pending.Method, pending.AmountCents, domain.RelatedRepair, r.ID, r.ShopID, pending.Reference); err != nil {
			return false, err
		}
		r.AmountPaidCents += pending.AmountCents
		r.PendingTransaction = nil
		r.PaymentApproved = true
		recompute(r)
		settle(r)
		return false, s.audit(ctx, tx, r.ShopID, "repair_payment_approve", "repair", r.ID,
			fmt.Sprintf("amount=%d,submitted_by=%s,balance=%d", pending.AmountCents, pending.SubmittedBy, r.BalanceCents))
	})
}

// DiscardPendingPayment drops a submitted payment without booking it.
func (s *Service) DiscardPendingPayment(ctx context.Context, id string) (domain.RepairResponse, error) {
	return s.mutateRepair(ctx, OpDiscardPayment, id, func(ctx context.Context, tx store.Tx, _ domain.Actor, r *domain.Repair) (bool, error) {
		pending := r.PendingTransaction
		if pending == nil {
			return true, nil
		}
		r.PendingTransaction = nil
		return false, s.audit(ctx, tx, r.ShopID, "repair_payment_discard", "repair", r.ID,
			fmt.Sprintf("amount=%d,submitted_by=%s", pending.AmountCents, pending.SubmittedBy))
	})
}

// ListPendingApprovals returns tickets holding a payment awaiting approval.
func (s *Service) ListPendingApprovals(ctx context.Context, shopID string) ([]domain.Repair, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, OpViewPendingApproval, ""); err != nil {
		return nil, err
	}
	return s.repo.ListRepairs(ctx, domain.RepairFilter{ShopID: shopID, PendingApproval: true})
}

// ConfirmCollection hands the device back. Only fully paid tickets can be
// collected; collecting twice is a no-op.
func (s *Service) ConfirmCollection(ctx context.Context, id string) (domain.RepairResponse, error) {
	return s.mutateRepair(ctx, OpConfirmCollection, id, func(ctx context.Context, tx store.Tx, _ domain.Actor, r *domain.Repair) (bool, error) {
		if r.Collected {
			return true, nil
		}
		if r.PaymentStatus != domain.PaymentStatusPaid {
			return false, fmt.Errorf("repair %s has balance %d: %w", r.ID, r.BalanceCents, store.ErrInvalidStateTransition)
		}
		r.Status = domain.RepairCollected
		r.Collected = true
		r.CollectedAt = timePtr(s.now())
		return false, s.audit(ctx, tx, r.ShopID, "repair_collect", "repair", r.ID, "")
	})
}

func (s *Service) SetCustomerStatus(ctx context.Context, id string, req domain.CustomerStatusRequest) (domain.RepairResponse, error) {
	if err := s.check(req); err != nil {
		return domain.RepairResponse{}, err
	}
	return s.mutateRepair(ctx, OpSetCustomerStatus, id, func(ctx context.Context, tx store.Tx, _ domain.Actor, r *domain.Repair) (bool, error) {
		if r.CustomerStatus == req.CustomerStatus {
			return true, nil
		}
		r.CustomerStatus = req.CustomerStatus
		return false, s.audit(ctx, tx, r.ShopID, "repair_customer_status", "repair", r.ID, "customer_status="+req.CustomerStatus)
	})
}

// UpdatePartCost prices an outsourced part once the supplier's invoice is
// known. The matching part line and supplier debt are repriced (or created
// when the part was never tracked). The ticket total only follows when
// Config.RepriceCascadesToTicket is set and the device is still in the shop.
func (s *Service) UpdatePartCost(ctx context.Context, id string, req domain.PartCostRequest) (domain.RepairResponse, error) {
	req.ItemName = normalizeName(req.ItemName)
	if err := s.check(req); err != nil {
		return domain.RepairResponse{}, err
	}
	var newDebt *domain.SupplierDebt
	resp, err := s.mutateRepair(ctx, OpUpdatePartCost, id, func(ctx context.Context, tx store.Tx, _ domain.Actor, r *domain.Repair) (bool, error) {
		idx := -1
		for i, part := range r.Parts {
			if part.Source == domain.PartSourceOutsourced && strings.EqualFold(part.ItemName, req.ItemName) {
				idx = i
				break
			}
		}
		if idx < 0 {
			if req.SupplierID == "" {
				return false, fmt.Errorf("%w: supplier_id is required for an untracked part", store.ErrInvalidInput)
			}
			r.Parts = append(r.Parts, domain.RepairPart{ItemName: req.ItemName, Source: domain.PartSourceOutsourced, SupplierID: req.SupplierID})
			idx = len(r.Parts) - 1
		}
		part := &r.Parts[idx]
		oldLine := part.CostCents * int64(part.Qty)

		debts, err := tx.ListSupplierDebtsByRepairForUpdate(ctx, r.ID)
		if err != nil {
			return false, err
		}
		var debt *domain.SupplierDebt
		for i := range debts {
			if strings.EqualFold(debts[i].ItemName, part.ItemName) {
				debt = &debts[i]
				break
			}
		}
		if debt != nil && debt.Paid {
			return false, fmt.Errorf("supplier debt %s is paid: %w", debt.ID, store.ErrInvalidStateTransition)
		}
		if part.CostCents == req.CostPerUnitCents && part.Qty == req.Qty && debt != nil &&
			debt.CostPerUnitCents == req.CostPerUnitCents && debt.Quantity == req.Qty {
			return true, nil
		}

		part.CostCents = req.CostPerUnitCents
		part.Qty = req.Qty
		if debt == nil {
			supplierID := part.SupplierID
			if supplierID == "" {
				supplierID = req.SupplierID
			}
			created := s.newDebt(supplierID, part.ItemName, req.Qty, r.ID, "")
			priceDebt(&created, req.CostPerUnitCents, req.Qty)
			if err := tx.InsertSupplierDebt(ctx, created); err != nil {
				return false, err
			}
			newDebt = &created
		} else {
			priceDebt(debt, req.CostPerUnitCents, req.Qty)
			if err := tx.UpdateSupplierDebt(ctx, *debt); err != nil {
				return false, err
			}
		}

		cascade := s.cfg.RepriceCascadesToTicket && !r.Collected
		if cascade {
			r.TotalCostCents += part.CostCents*int64(part.Qty) - oldLine
			recompute(r)
			settle(r)
		}
		return false, s.audit(ctx, tx, r.ShopID, "repair_part_cost", "repair", r.ID,
			fmt.Sprintf("item=%s,cost_per_unit=%d,qty=%d,cascade=%t", part.ItemName, req.CostPerUnitCents, req.Qty, cascade))
	})
	if err == nil && newDebt != nil {
		s.publish(ctx, domain.ChangeEvent{Entity: "supplier_debt", ID: newDebt.ID, Action: "created"})
	}
	return resp, err
}

// DeleteRepair removes a ticket. Its supplier debts stay on the books with
// their repair reference and consumed stock is not returned.
func (s *Service) DeleteRepair(ctx context.Context, id string) error {
	actor, err := actorFrom(ctx)
	if err != nil {
		return err
	}
	if err := authorize(actor, OpDeleteRepair, ""); err != nil {
		return err
	}

	var shopID string
	err = s.inTx(ctx, string(OpDeleteRepair), func(ctx context.Context, tx store.Tx) error {
		repair, err := tx.GetRepairForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("repair %s: %w", id, err)
		}
		debts, err := tx.ListSupplierDebtsByRepairForUpdate(ctx, id)
		if err != nil {
			return err
		}
		open := 0
		for _, debt := range debts {
			if !debt.Paid {
				open++
			}
		}
		if err := tx.DeleteRepair(ctx, id); err != nil {
			return err
		}
		shopID = repair.ShopID
		return s.audit(ctx, tx, repair.ShopID, "repair_delete", "repair", id,
			fmt.Sprintf("customer=%s,debts=%d,open_debts=%d,paid=%d", repair.CustomerName, len(debts), open, repair.AmountPaidCents))
	})
	if err != nil {
		return err
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "repair", ID: id, Action: "deleted", ShopID: shopID})
	return nil
}

func (s *Service) GetRepair(ctx context.Context, id string) (domain.Repair, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Repair{}, err
	}
	repair, err := s.repo.GetRepair(ctx, id)
	if err != nil {
		return domain.Repair{}, fmt.Errorf("repair %s: %w", id, err)
	}
	if !actor.IsAdmin() && actor.ShopID != repair.ShopID {
		return domain.Repair{}, fmt.Errorf("repair %s: %w", id, store.ErrNotFound)
	}
	return *repair, nil
}

func (s *Service) ListRepairs(ctx context.Context, filter domain.RepairFilter) ([]domain.Repair, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		filter.ShopID = actor.ShopID
	}
	if filter.Status != "" {
		filter.Status = strings.ToUpper(filter.Status)
	}
	return s.repo.ListRepairs(ctx, filter)
}
