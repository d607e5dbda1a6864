package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/xid"
)

const forUpdate = "FOR UPDATE"

type pgTx struct {
	q querier
}

func (tx *pgTx) GetItemForUpdate(ctx context.Context, id string) (*domain.InventoryItem, error) {
	return getItem(ctx, tx.q, id, forUpdate)
}

func (tx *pgTx) FindItemForUpdate(ctx context.Context, name string, shopID string) (*domain.InventoryItem, error) {
	item, err := scanItem(tx.q.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		WHERE lower(name) = lower($1) AND shop_id = $2
		FOR UPDATE
	`, strings.TrimSpace(name), shopID))
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (tx *pgTx) EnsureItemForUpdate(ctx context.Context, template domain.InventoryItem) (*domain.InventoryItem, error) {
	name := strings.TrimSpace(template.Name)
	if name == "" {
		return nil, store.ErrInvalidInput
	}
	now := time.Now().UTC()
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO inventory_items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,0,$5,0,$6,$7,$8,$9,false,$10,$10)
		ON CONFLICT (lower(name), shop_id) DO NOTHING
	`, xid.New("itm"), name, template.Category, template.ShopID, template.ReorderLevel,
		template.CostPriceCents, template.AdminCostPriceCents, template.SellingPriceCents, template.SupplierID, now)
	if err != nil {
		return nil, err
	}
	return tx.FindItemForUpdate(ctx, name, template.ShopID)
}

func (tx *pgTx) InsertItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" || item.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO inventory_items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, item.ID, item.Name, item.Category, item.ShopID, item.Stock, item.ReorderLevel, item.InitialStock,
		item.CostPriceCents, item.AdminCostPriceCents, item.SellingPriceCents, item.SupplierID,
		item.PendingAllocation, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("item %s already exists at shop %q: %w", item.Name, item.ShopID, store.ErrInvalidInput)
		}
		return nil, err
	}
	return &item, nil
}

// UpdateItem writes the mutable columns; name and shop are the row's identity.
func (tx *pgTx) UpdateItem(ctx context.Context, item domain.InventoryItem) error {
	current, err := getItem(ctx, tx.q, item.ID, forUpdate)
	if err != nil {
		return err
	}
	if item.Stock < 0 {
		return &store.StockError{ItemName: current.Name, ShopID: current.ShopID, Available: current.Stock, Requested: current.Stock - item.Stock}
	}

	_, err = tx.q.ExecContext(ctx, `
		UPDATE inventory_items
		SET category = $2, stock = $3, reorder_level = $4, initial_stock = $5,
			cost_price_cents = $6, admin_cost_price_cents = $7, selling_price_cents = $8,
			supplier_id = $9, pending_allocation = $10, updated_at = now()
		WHERE id = $1
	`, item.ID, item.Category, item.Stock, item.ReorderLevel, item.InitialStock,
		item.CostPriceCents, item.AdminCostPriceCents, item.SellingPriceCents,
		item.SupplierID, item.PendingAllocation)
	if isCheckViolation(err) {
		return &store.StockError{ItemName: current.Name, ShopID: current.ShopID, Available: current.Stock, Requested: current.Stock - item.Stock}
	}
	return err
}

func (tx *pgTx) InsertPurchase(ctx context.Context, purchase domain.Purchase) error {
	lines, err := jsonArray(purchase.Lines)
	if err != nil {
		return err
	}
	_, err = tx.q.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, purchase.ID, purchase.SupplierID, purchase.SupplierName, purchase.ShopID, lines,
		purchase.TotalCents, purchase.CreatedBy, purchase.CreatedAt.UTC())
	return insertErr(err)
}

func (tx *pgTx) InsertAllocation(ctx context.Context, allocation domain.StockAllocation) error {
	lines, err := jsonArray(allocation.Lines)
	if err != nil {
		return err
	}
	_, err = tx.q.ExecContext(ctx, `
		INSERT INTO stock_allocations (`+allocationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, allocation.ID, allocation.ItemID, allocation.ItemName, allocation.TotalQty, lines, allocation.Status,
		allocation.RequestedBy, allocation.DecidedBy, allocation.CreatedAt.UTC(), nullTime(allocation.DecidedAt))
	return insertErr(err)
}

func (tx *pgTx) GetAllocationForUpdate(ctx context.Context, id string) (*domain.StockAllocation, error) {
	return getAllocation(ctx, tx.q, id, forUpdate)
}

func (tx *pgTx) UpdateAllocation(ctx context.Context, allocation domain.StockAllocation) error {
	lines, err := jsonArray(allocation.Lines)
	if err != nil {
		return err
	}
	res, err := tx.q.ExecContext(ctx, `
		UPDATE stock_allocations
		SET lines = $2, status = $3, decided_by = $4, decided_at = $5
		WHERE id = $1
	`, allocation.ID, lines, allocation.Status, allocation.DecidedBy, nullTime(allocation.DecidedAt))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (tx *pgTx) InsertExchange(ctx context.Context, exchange domain.Exchange) error {
	lines, err := jsonArray(exchange.Lines)
	if err != nil {
		return err
	}
	_, err = tx.q.ExecContext(ctx, `
		INSERT INTO exchanges (`+exchangeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, exchange.ID, exchange.FromShopID, exchange.ToShopID, lines, exchange.Status, exchange.RequestedBy,
		exchange.ConfirmedBy, exchange.CompletedBy, exchange.RejectedBy, exchange.CreatedAt.UTC(),
		nullTime(exchange.ConfirmedAt), nullTime(exchange.CompletedAt), nullTime(exchange.RejectedAt))
	return insertErr(err)
}

func (tx *pgTx) GetExchangeForUpdate(ctx context.Context, id string) (*domain.Exchange, error) {
	return getExchange(ctx, tx.q, id, forUpdate)
}

func (tx *pgTx) UpdateExchange(ctx context.Context, exchange domain.Exchange) error {
	lines, err := jsonArray(exchange.Lines)
	if err != nil {
		return err
	}
	res, err := tx.q.ExecContext(ctx, `
		UPDATE exchanges
		SET lines = $2, status = $3, confirmed_by = $4, completed_by = $5, rejected_by = $6,
			confirmed_at = $7, completed_at = $8, rejected_at = $9
		WHERE id = $1
	`, exchange.ID, lines, exchange.Status, exchange.ConfirmedBy, exchange.CompletedBy, exchange.RejectedBy,
		nullTime(exchange.ConfirmedAt), nullTime(exchange.CompletedAt), nullTime(exchange.RejectedAt))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (tx *pgTx) InsertRepair(ctx context.Context, repair domain.Repair) error {
	args, err := repairArgs(repair)
	if err != nil {
		return err
	}
	_, err = tx.q.ExecContext(ctx, `
		INSERT INTO repairs (`+repairColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
	`, args...)
	return insertErr(err)
}

func (tx *pgTx) GetRepairForUpdate(ctx context.Context, id string) (*domain.Repair, error) {
	return getRepair(ctx, tx.q, id, forUpdate)
}

func (tx *pgTx) UpdateRepair(ctx context.Context, repair domain.Repair) error {
	repair.UpdatedAt = time.Now().UTC()
	args, err := repairArgs(repair)
	if err != nil {
		return err
	}
	// shop, creator and created_at are fixed at intake
	args = append(args[:22:22], repair.UpdatedAt)
	res, err := tx.q.ExecContext(ctx, `
		UPDATE repairs
		SET customer_name = $3, customer_phone = $4, device_model = $5, issue = $6, technician_id = $7,
			parts = $8, outsourced_cost_cents = $9, labor_cost_cents = $10, total_cost_cents = $11,
			total_agreed_amount_cents = $12, payment_timing = $13, status = $14, payment_status = $15,
			amount_paid_cents = $16, balance_cents = $17, payment_approved = $18, pending_transaction = $19,
			customer_status = $20, collected = $21, collected_at = $22, updated_at = $23
		WHERE id = $1 AND shop_id = $2
	`, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (tx *pgTx) DeleteRepair(ctx context.Context, id string) error {
	res, err := tx.q.ExecContext(ctx, `DELETE FROM repairs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (tx *pgTx) InsertSupplierDebt(ctx context.Context, debt domain.SupplierDebt) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO supplier_debts (`+debtColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, debt.ID, debt.SupplierID, debt.ItemName, debt.Quantity, debt.CostPerUnitCents, debt.TotalCostCents,
		debt.Paid, debt.PaidBy, nullTime(debt.PaidAt), debt.RepairID, debt.SaleID, debt.CreatedAt.UTC())
	return insertErr(err)
}

func (tx *pgTx) GetSupplierDebtForUpdate(ctx context.Context, id string) (*domain.SupplierDebt, error) {
	return getDebt(ctx, tx.q, id, forUpdate)
}

func (tx *pgTx) UpdateSupplierDebt(ctx context.Context, debt domain.SupplierDebt) error {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE supplier_debts
		SET item_name = $2, quantity = $3, cost_per_unit_cents = $4, total_cost_cents = $5,
			paid = $6, paid_by = $7, paid_at = $8
		WHERE id = $1
	`, debt.ID, debt.ItemName, debt.Quantity, debt.CostPerUnitCents, debt.TotalCostCents,
		debt.Paid, debt.PaidBy, nullTime(debt.PaidAt))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (tx *pgTx) ListSupplierDebtsByRepairForUpdate(ctx context.Context, repairID string) ([]domain.SupplierDebt, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT `+debtColumns+`
		FROM supplier_debts
		WHERE repair_id = $1
		ORDER BY id
		FOR UPDATE
	`, repairID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDebt)
}

func (tx *pgTx) InsertPayment(ctx context.Context, payment domain.Payment) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, payment.ID, payment.Type, payment.AmountCents, payment.State, payment.Reference, payment.Deposited,
		nullTime(payment.DepositDate), payment.RelatedTo, payment.RelatedID, payment.ShopID,
		payment.RecordedBy, payment.CreatedAt.UTC())
	return insertErr(err)
}

func (tx *pgTx) GetPaymentForUpdate(ctx context.Context, id string) (*domain.Payment, error) {
	return getPayment(ctx, tx.q, id, forUpdate)
}

// UpdatePayment touches the deposit fields only; payments are otherwise
// append-only.
func (tx *pgTx) UpdatePayment(ctx context.Context, payment domain.Payment) error {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE payments
		SET deposited = $2, deposit_date = $3
		WHERE id = $1
	`, payment.ID, payment.Deposited, nullTime(payment.DepositDate))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (tx *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	lines, err := jsonArray(sale.Lines)
	if err != nil {
		return err
	}
	_, err = tx.q.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sale.ID, sale.ShopID, lines, sale.TotalCents, sale.PaymentType, sale.PaymentReference,
		sale.CreatedBy, sale.CreatedAt.UTC())
	return insertErr(err)
}

func (tx *pgTx) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ShopID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, entry.CreatedAt.UTC())
	return err
}

// repairArgs orders the repair fields as repairColumns lists them.
func repairArgs(repair domain.Repair) ([]any, error) {
	parts, err := jsonArray(repair.Parts)
	if err != nil {
		return nil, err
	}
	var pending any
	if repair.PendingTransaction != nil {
		raw, err := json.Marshal(repair.PendingTransaction)
		if err != nil {
			return nil, err
		}
		pending = raw
	}
	var agreed any
	if repair.TotalAgreedAmountCents != nil {
		agreed = *repair.TotalAgreedAmountCents
	}
	return []any{
		repair.ID, repair.ShopID, repair.CustomerName, repair.CustomerPhone, repair.DeviceModel,
		repair.Issue, repair.TechnicianID, parts, repair.OutsourcedCostCents, repair.LaborCostCents,
		repair.TotalCostCents, agreed, repair.PaymentTiming, repair.Status, repair.PaymentStatus,
		repair.AmountPaidCents, repair.BalanceCents, repair.PaymentApproved, pending, repair.CustomerStatus,
		repair.Collected, nullTime(repair.CollectedAt), repair.CreatedBy, repair.CreatedAt.UTC(), repair.UpdatedAt.UTC(),
	}, nil
}

func insertErr(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("duplicate id: %w", store.ErrInvalidInput)
	}
	return err
}
