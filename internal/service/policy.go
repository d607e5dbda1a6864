package service

import (
	"fmt"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
)

type Operation string

const (
	OpCreateItem          Operation = "create_item"
	OpAdjustStock         Operation = "adjust_stock"
	OpCreatePurchase      Operation = "create_purchase"
	OpRequestAllocation   Operation = "request_allocation"
	OpApproveAllocation   Operation = "approve_allocation"
	OpRejectAllocation    Operation = "reject_allocation"
	OpCreateExchange      Operation = "create_exchange"
	OpConfirmReceipt      Operation = "confirm_receipt"
	OpCompleteExchange    Operation = "complete_exchange"
	OpRejectExchange      Operation = "reject_exchange"
	OpCreateRepair        Operation = "create_repair"
	OpUpdateRepairStatus  Operation = "update_repair_status"
	OpRecordPayment       Operation = "record_payment"
	OpSubmitPayment       Operation = "submit_payment"
	OpApprovePayment      Operation = "approve_payment"
	OpDiscardPayment      Operation = "discard_payment"
	OpSetCustomerStatus   Operation = "set_customer_status"
	OpConfirmCollection   Operation = "confirm_collection"
	OpUpdatePartCost      Operation = "update_part_cost"
	OpDeleteRepair        Operation = "delete_repair"
	OpAddDebt             Operation = "add_debt"
	OpSetDebtCost         Operation = "set_debt_cost"
	OpMarkDebtPaid        Operation = "mark_debt_paid"
	OpMarkDeposited       Operation = "mark_deposited"
	OpCreateSale          Operation = "create_sale"
	OpManageStaff         Operation = "manage_staff"
	OpViewSupplierDebts   Operation = "view_supplier_debts"
	OpViewPaymentTotals   Operation = "view_payment_totals"
	OpViewPendingApproval Operation = "view_pending_approval"
)

type rule int

const (
	adminOnly rule = iota
	adminOrManager
	managerOfShop
	shopStaff
	receivingShopStaff
)

var policy = map[Operation]rule{
	OpApproveAllocation:   adminOnly,
	OpRejectAllocation:    adminOnly,
	OpCompleteExchange:    adminOnly,
	OpRejectExchange:      adminOnly,
	OpApprovePayment:      adminOnly,
	OpDiscardPayment:      adminOnly,
	OpUpdatePartCost:      adminOnly,
	OpSetDebtCost:         adminOnly,
	OpMarkDebtPaid:        adminOnly,
	OpMarkDeposited:       adminOnly,
	OpDeleteRepair:        adminOnly,
	OpManageStaff:         adminOnly,
	OpViewSupplierDebts:   adminOnly,
	OpViewPendingApproval: adminOnly,
	OpCreatePurchase:      adminOrManager,
	OpRequestAllocation:   adminOrManager,
	OpAddDebt:             adminOrManager,
	OpViewPaymentTotals:   managerOfShop,
	OpCreateItem:          managerOfShop,
	OpAdjustStock:         managerOfShop,
	OpCreateExchange:      shopStaff,
	OpCreateRepair:        shopStaff,
	OpUpdateRepairStatus:  shopStaff,
	OpRecordPayment:       shopStaff,
	OpSubmitPayment:       shopStaff,
	OpSetCustomerStatus:   shopStaff,
	OpConfirmCollection:   shopStaff,
	OpCreateSale:          shopStaff,
	OpConfirmReceipt:      receivingShopStaff,
}

// authorize checks actor against the allow-list for op. shopID is the shop
// the operation touches; it is ignored by rules that are not shop scoped.
func authorize(actor domain.Actor, op Operation, shopID string) error {
	r, ok := policy[op]
	if !ok {
		return fmt.Errorf("%s: no policy: %w", op, ErrUnauthorized)
	}
	allowed := false
	switch r {
	case adminOnly:
		allowed = actor.IsAdmin()
	case adminOrManager:
		allowed = actor.IsAdmin() || actor.Role == domain.RoleManager
	case managerOfShop:
		allowed = actor.IsAdmin() || (actor.Role == domain.RoleManager && shopID != domain.PoolShopID && actor.ShopID == shopID)
	case shopStaff:
		allowed = actor.IsAdmin() || (actor.ShopID != "" && actor.ShopID == shopID)
	case receivingShopStaff:
		allowed = actor.ShopID != "" && actor.ShopID == shopID
	}
	if !allowed {
		return fmt.Errorf("%s as %s: %w", op, actor.Role, ErrUnauthorized)
	}
	return nil
}

// seesExchange reports whether actor's shop is a side of e.
func seesExchange(actor domain.Actor, e domain.Exchange) bool {
	return actor.IsAdmin() || (actor.ShopID != "" && (actor.ShopID == e.FromShopID || actor.ShopID == e.ToShopID))
}

// seesAllocation reports whether actor requested a or receives one of its lines.
func seesAllocation(actor domain.Actor, a domain.StockAllocation) bool {
	if actor.IsAdmin() || a.RequestedBy == actor.UserID {
		return true
	}
	for _, line := range a.Lines {
		if actor.ShopID != "" && line.ShopID == actor.ShopID {
			return true
		}
	}
	return false
}

// visibleItem hides the admin cost price from everyone but admins.
func visibleItem(actor domain.Actor, item domain.InventoryItem) domain.InventoryItem {
	if !actor.IsAdmin() {
		item.AdminCostPriceCents = 0
	}
	return item
}
