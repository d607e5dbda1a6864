package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrAllocationExceedsPool  = errors.New("allocation exceeds pool stock")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrConflict               = errors.New("concurrent update conflict")
)

// StockError describes a rejected decrement.
type StockError struct {
	ItemName  string
	ShopID    string
	Available int
	Requested int
}

func (e *StockError) Error() string {
	shop := e.ShopID
	if shop == domain.PoolShopID {
		shop = "pool"
	}
	return fmt.Sprintf("insufficient stock for %s at %s: only %d in stock, %d requested", e.ItemName, shop, e.Available, e.Requested)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// Repository holds the committed reads. Every mutation goes through WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error)
	ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error)
	GetAllocation(ctx context.Context, id string) (*domain.StockAllocation, error)
	ListAllocations(ctx context.Context, status string) ([]domain.StockAllocation, error)
	GetExchange(ctx context.Context, id string) (*domain.Exchange, error)
	ListExchanges(ctx context.Context, shopID string, status string) ([]domain.Exchange, error)
	GetRepair(ctx context.Context, id string) (*domain.Repair, error)
	ListRepairs(ctx context.Context, filter domain.RepairFilter) ([]domain.Repair, error)
	GetSupplierDebt(ctx context.Context, id string) (*domain.SupplierDebt, error)
	ListSupplierDebts(ctx context.Context, filter domain.SupplierDebtFilter) ([]domain.SupplierDebt, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

// Tx is one unit of work. ForUpdate reads lock the row until the
// transaction ends; callers lock multiple rows in id order.
type Tx interface {
	GetItemForUpdate(ctx context.Context, id string) (*domain.InventoryItem, error)
	FindItemForUpdate(ctx context.Context, name string, shopID string) (*domain.InventoryItem, error)
	// EnsureItemForUpdate returns the locked (name, shop) row for template,
	// inserting it with zero stock when it does not exist yet.
	EnsureItemForUpdate(ctx context.Context, template domain.InventoryItem) (*domain.InventoryItem, error)
	InsertItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	UpdateItem(ctx context.Context, item domain.InventoryItem) error

	InsertPurchase(ctx context.Context, purchase domain.Purchase) error

	InsertAllocation(ctx context.Context, allocation domain.StockAllocation) error
	GetAllocationForUpdate(ctx context.Context, id string) (*domain.StockAllocation, error)
	UpdateAllocation(ctx context.Context, allocation domain.StockAllocation) error

	InsertExchange(ctx context.Context, exchange domain.Exchange) error
	GetExchangeForUpdate(ctx context.Context, id string) (*domain.Exchange, error)
	UpdateExchange(ctx context.Context, exchange domain.Exchange) error

	InsertRepair(ctx context.Context, repair domain.Repair) error
	GetRepairForUpdate(ctx context.Context, id string) (*domain.Repair, error)
	UpdateRepair(ctx context.Context, repair domain.Repair) error
	DeleteRepair(ctx context.Context, id string) error

	InsertSupplierDebt(ctx context.Context, debt domain.SupplierDebt) error
	GetSupplierDebtForUpdate(ctx context.Context, id string) (*domain.SupplierDebt, error)
	UpdateSupplierDebt(ctx context.Context, debt domain.SupplierDebt) error
	ListSupplierDebtsByRepairForUpdate(ctx context.Context, repairID string) ([]domain.SupplierDebt, error)

	InsertPayment(ctx context.Context, payment domain.Payment) error
	GetPaymentForUpdate(ctx context.Context, id string) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, payment domain.Payment) error

	InsertSale(ctx context.Context, sale domain.Sale) error
	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
}
