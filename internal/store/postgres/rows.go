package postgres

import (
	"database/sql"
	"encoding/json"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
)

const itemColumns = `id, name, category, shop_id, stock, reorder_level, initial_stock,
	cost_price_cents, admin_cost_price_cents, selling_price_cents, supplier_id,
	pending_allocation, created_at, updated_at`

const purchaseColumns = `id, supplier_id, supplier_name, shop_id, lines, total_cents, created_by, created_at`

const allocationColumns = `id, item_id, item_name, total_qty, lines, status, requested_by, decided_by, created_at, decided_at`

const exchangeColumns = `id, from_shop_id, to_shop_id, lines, status, requested_by, confirmed_by,
	completed_by, rejected_by, created_at, confirmed_at, completed_at, rejected_at`

const repairColumns = `id, shop_id, customer_name, customer_phone, device_model, issue, technician_id,
	parts, outsourced_cost_cents, labor_cost_cents, total_cost_cents, total_agreed_amount_cents,
	payment_timing, status, payment_status, amount_paid_cents, balance_cents, payment_approved,
	pending_transaction, customer_status, collected, collected_at, created_by, created_at, updated_at`

const debtColumns = `id, supplier_id, item_name, quantity, cost_per_unit_cents, total_cost_cents,
	paid, paid_by, paid_at, repair_id, sale_id, created_at`

const paymentColumns = `id, type, amount_cents, state, reference, deposited, deposit_date,
	related_to, related_id, shop_id, recorded_by, created_at`

const saleColumns = `id, shop_id, lines, total_cents, payment_type, payment_reference, created_by, created_at`

const auditColumns = `id, shop_id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at`

const userColumns = `username, name, password, role, shop_id, active, created_at`

// scanner is the common surface of *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(&item.ID, &item.Name, &item.Category, &item.ShopID, &item.Stock, &item.ReorderLevel, &item.InitialStock,
		&item.CostPriceCents, &item.AdminCostPriceCents, &item.SellingPriceCents, &item.SupplierID,
		&item.PendingAllocation, &item.CreatedAt, &item.UpdatedAt)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, err
}

func scanPurchase(row scanner) (domain.Purchase, error) {
	var purchase domain.Purchase
	var lines []byte
	if err := row.Scan(&purchase.ID, &purchase.SupplierID, &purchase.SupplierName, &purchase.ShopID, &lines,
		&purchase.TotalCents, &purchase.CreatedBy, &purchase.CreatedAt); err != nil {
		return purchase, err
	}
	purchase.CreatedAt = purchase.CreatedAt.UTC()
	return purchase, json.Unmarshal(lines, &purchase.Lines)
}

func scanAllocation(row scanner) (domain.StockAllocation, error) {
	var allocation domain.StockAllocation
	var lines []byte
	var decidedAt sql.NullTime
	if err := row.Scan(&allocation.ID, &allocation.ItemID, &allocation.ItemName, &allocation.TotalQty, &lines,
		&allocation.Status, &allocation.RequestedBy, &allocation.DecidedBy, &allocation.CreatedAt, &decidedAt); err != nil {
		return allocation, err
	}
	allocation.CreatedAt = allocation.CreatedAt.UTC()
	allocation.DecidedAt = timePtr(decidedAt)
	return allocation, json.Unmarshal(lines, &allocation.Lines)
}

func scanExchange(row scanner) (domain.Exchange, error) {
	var exchange domain.Exchange
	var lines []byte
	var confirmedAt, completedAt, rejectedAt sql.NullTime
	if err := row.Scan(&exchange.ID, &exchange.FromShopID, &exchange.ToShopID, &lines, &exchange.Status,
		&exchange.RequestedBy, &exchange.ConfirmedBy, &exchange.CompletedBy, &exchange.RejectedBy,
		&exchange.CreatedAt, &confirmedAt, &completedAt, &rejectedAt); err != nil {
		return exchange, err
	}
	exchange.CreatedAt = exchange.CreatedAt.UTC()
	exchange.ConfirmedAt = timePtr(confirmedAt)
	exchange.CompletedAt = timePtr(completedAt)
	exchange.RejectedAt = timePtr(rejectedAt)
	return exchange, json.Unmarshal(lines, &exchange.Lines)
}

func scanRepair(row scanner) (domain.Repair, error) {
	var repair domain.Repair
	var parts, pending []byte
	var agreed sql.NullInt64
	var collectedAt sql.NullTime
	if err := row.Scan(&repair.ID, &repair.ShopID, &repair.CustomerName, &repair.CustomerPhone, &repair.DeviceModel,
		&repair.Issue, &repair.TechnicianID, &parts, &repair.OutsourcedCostCents, &repair.LaborCostCents,
		&repair.TotalCostCents, &agreed, &repair.PaymentTiming, &repair.Status, &repair.PaymentStatus,
		&repair.AmountPaidCents, &repair.BalanceCents, &repair.PaymentApproved, &pending, &repair.CustomerStatus,
		&repair.Collected, &collectedAt, &repair.CreatedBy, &repair.CreatedAt, &repair.UpdatedAt); err != nil {
		return repair, err
	}
	repair.CreatedAt = repair.CreatedAt.UTC()
	repair.UpdatedAt = repair.UpdatedAt.UTC()
	repair.CollectedAt = timePtr(collectedAt)
	if agreed.Valid {
		amount := agreed.Int64
		repair.TotalAgreedAmountCents = &amount
	}
	if len(pending) > 0 {
		repair.PendingTransaction = &domain.PendingTransaction{}
		if err := json.Unmarshal(pending, repair.PendingTransaction); err != nil {
			return repair, err
		}
	}
	return repair, json.Unmarshal(parts, &repair.Parts)
}

func scanDebt(row scanner) (domain.SupplierDebt, error) {
	var debt domain.SupplierDebt
	var paidAt sql.NullTime
	if err := row.Scan(&debt.ID, &debt.SupplierID, &debt.ItemName, &debt.Quantity, &debt.CostPerUnitCents,
		&debt.TotalCostCents, &debt.Paid, &debt.PaidBy, &paidAt, &debt.RepairID, &debt.SaleID, &debt.CreatedAt); err != nil {
		return debt, err
	}
	debt.CreatedAt = debt.CreatedAt.UTC()
	debt.PaidAt = timePtr(paidAt)
	return debt, nil
}

func scanPayment(row scanner) (domain.Payment, error) {
	var payment domain.Payment
	var depositDate sql.NullTime
	if err := row.Scan(&payment.ID, &payment.Type, &payment.AmountCents, &payment.State, &payment.Reference,
		&payment.Deposited, &depositDate, &payment.RelatedTo, &payment.RelatedID, &payment.ShopID,
		&payment.RecordedBy, &payment.CreatedAt); err != nil {
		return payment, err
	}
	payment.CreatedAt = payment.CreatedAt.UTC()
	payment.DepositDate = timePtr(depositDate)
	return payment, nil
}

func scanSale(row scanner) (domain.Sale, error) {
	var sale domain.Sale
	var lines []byte
	if err := row.Scan(&sale.ID, &sale.ShopID, &lines, &sale.TotalCents, &sale.PaymentType,
		&sale.PaymentReference, &sale.CreatedBy, &sale.CreatedAt); err != nil {
		return sale, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, json.Unmarshal(lines, &sale.Lines)
}

func scanAudit(row scanner) (domain.AuditLog, error) {
	var entry domain.AuditLog
	err := row.Scan(&entry.ID, &entry.ShopID, &entry.ActorID, &entry.ActorRole, &entry.Action,
		&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt)
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, err
}

func scanUser(row scanner) (domain.UserAccount, error) {
	var user domain.UserAccount
	err := row.Scan(&user.Username, &user.Name, &user.Password, &user.Role, &user.ShopID, &user.Active, &user.CreatedAt)
	user.CreatedAt = user.CreatedAt.UTC()
	return user, err
}

// collect drains rows through scan.
func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()

	result := make([]T, 0, 16)
	for rows.Next() {
		val, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, val)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// jsonArray marshals a slice, writing [] for nil so NOT NULL columns hold.
func jsonArray[T any](vals []T) ([]byte, error) {
	if vals == nil {
		vals = []T{}
	}
	return json.Marshal(vals)
}
