package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/xid"
)

const (
	ShopCBD       = "shop-cbd"
	ShopWestlands = "shop-westlands"
)

type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.InventoryItem
	itemKeys        map[string]string
	purchases       []domain.Purchase
	allocations     map[string]domain.StockAllocation
	exchanges       map[string]domain.Exchange
	repairs         map[string]domain.Repair
	debts           map[string]domain.SupplierDebt
	payments        map[string]domain.Payment
	sales           map[string]domain.Sale
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store.
func New() *Store {
	return &Store{
		items:           make(map[string]domain.InventoryItem),
		itemKeys:        make(map[string]string),
		purchases:       make([]domain.Purchase, 0, 32),
		allocations:     make(map[string]domain.StockAllocation),
		exchanges:       make(map[string]domain.Exchange),
		repairs:         make(map[string]domain.Repair),
		debts:           make(map[string]domain.SupplierDebt),
		payments:        make(map[string]domain.Payment),
		sales:           make(map[string]domain.Sale),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the demo accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_STAFF_PASSWORD; dev defaults are used with a warning otherwise.
func seedUsers(logger *slog.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logger.Warn("using default dev credentials", "component", "memory-store", "hint", "set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
		shopID   string
	}{
		{"admin", "Owner", adminPwd, domain.RoleAdmin, ""},
		{"manager-cbd", "CBD Manager", staffPwd, domain.RoleManager, ShopCBD},
		{"tech-cbd", "CBD Technician", staffPwd, domain.RoleTechnician, ShopCBD},
		{"tech-westlands", "Westlands Technician", staffPwd, domain.RoleTechnician, ShopWestlands},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Error("hash seed password", "username", u.username, "error", err)
			continue
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Name:      u.name,
			Password:  string(hash),
			Role:      u.role,
			ShopID:    u.shopID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users and a small catalogue spread
// over the pool and two shops.
func NewSeeded(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := New()
	s.usersByUsername = seedUsers(logger)

	now := time.Now().UTC()
	for _, item := range []domain.InventoryItem{
		{Name: "iPhone 11 Screen", Category: domain.CategorySpare, ShopID: domain.PoolShopID, Stock: 10, ReorderLevel: 2, CostPriceCents: 450000, AdminCostPriceCents: 420000, SellingPriceCents: 800000, SupplierID: "sup-kamukunji", PendingAllocation: true},
		{Name: "iPhone 11 Screen", Category: domain.CategorySpare, ShopID: ShopCBD, Stock: 3, ReorderLevel: 2, CostPriceCents: 450000, AdminCostPriceCents: 420000, SellingPriceCents: 800000, SupplierID: "sup-kamukunji"},
		{Name: "Samsung A14 Battery", Category: domain.CategorySpare, ShopID: ShopCBD, Stock: 6, ReorderLevel: 3, CostPriceCents: 120000, SellingPriceCents: 250000, SupplierID: "sup-luthuli"},
		{Name: "Samsung A14 Battery", Category: domain.CategorySpare, ShopID: ShopWestlands, Stock: 1, ReorderLevel: 3, CostPriceCents: 120000, SellingPriceCents: 250000, SupplierID: "sup-luthuli"},
		{Name: "Type-C Charger", Category: domain.CategoryAccessory, ShopID: ShopCBD, Stock: 25, ReorderLevel: 5, CostPriceCents: 35000, SellingPriceCents: 80000},
		{Name: "Tecno Spark 20", Category: domain.CategoryPhone, ShopID: ShopWestlands, Stock: 4, ReorderLevel: 1, CostPriceCents: 1350000, SellingPriceCents: 1699900},
	} {
		item.ID = xid.New("itm")
		item.InitialStock = item.Stock
		item.CreatedAt = now
		item.UpdatedAt = now
		s.items[item.ID] = item
		s.itemKeys[itemKey(item.Name, item.ShopID)] = item.ID
	}
	return s
}

// WithTx runs fn holding the store lock. When fn fails every write it made
// is undone in reverse order.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListItems(_ context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryItem, 0, len(s.items))
	for _, item := range s.items {
		if filter.PoolOnly && !item.IsPool() {
			continue
		}
		if !filter.PoolOnly && filter.ShopID != "" && item.ShopID != filter.ShopID {
			continue
		}
		if filter.Category != "" && item.Category != filter.Category {
			continue
		}
		if filter.Name != "" && !strings.EqualFold(item.Name, filter.Name) {
			continue
		}
		if filter.LowStock && item.Stock > item.ReorderLevel {
			continue
		}
		result = append(result, item)
	}
	slices.SortFunc(result, func(a, b domain.InventoryItem) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ShopID, b.ShopID)
	})
	return result, nil
}

func (s *Store) ListPurchases(_ context.Context, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Purchase, 0, len(s.purchases))
	for i := len(s.purchases) - 1; i >= 0; i-- {
		result = append(result, clonePurchase(s.purchases[i]))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetAllocation(_ context.Context, id string) (*domain.StockAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allocation, ok := s.allocations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneAllocation(allocation)
	return &dup, nil
}

func (s *Store) ListAllocations(_ context.Context, status string) ([]domain.StockAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockAllocation, 0, len(s.allocations))
	for _, allocation := range s.allocations {
		if status != "" && allocation.Status != status {
			continue
		}
		result = append(result, cloneAllocation(allocation))
	}
	slices.SortFunc(result, func(a, b domain.StockAllocation) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) GetExchange(_ context.Context, id string) (*domain.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exchange, ok := s.exchanges[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneExchange(exchange)
	return &dup, nil
}

func (s *Store) ListExchanges(_ context.Context, shopID string, status string) ([]domain.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Exchange, 0, len(s.exchanges))
	for _, exchange := range s.exchanges {
		if shopID != "" && exchange.FromShopID != shopID && exchange.ToShopID != shopID {
			continue
		}
		if status != "" && exchange.Status != status {
			continue
		}
		result = append(result, cloneExchange(exchange))
	}
	slices.SortFunc(result, func(a, b domain.Exchange) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) GetRepair(_ context.Context, id string) (*domain.Repair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repair, ok := s.repairs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneRepair(repair)
	return &dup, nil
}

func (s *Store) ListRepairs(_ context.Context, filter domain.RepairFilter) ([]domain.Repair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Repair, 0, len(s.repairs))
	for _, repair := range s.repairs {
		if filter.ShopID != "" && repair.ShopID != filter.ShopID {
			continue
		}
		if filter.Status != "" && repair.Status != filter.Status {
			continue
		}
		if filter.PendingApproval && repair.PendingTransaction == nil {
			continue
		}
		result = append(result, cloneRepair(repair))
	}
	slices.SortFunc(result, func(a, b domain.Repair) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetSupplierDebt(_ context.Context, id string) (*domain.SupplierDebt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	debt, ok := s.debts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &debt, nil
}

func (s *Store) ListSupplierDebts(_ context.Context, filter domain.SupplierDebtFilter) ([]domain.SupplierDebt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SupplierDebt, 0, len(s.debts))
	for _, debt := range s.debts {
		if filter.SupplierID != "" && debt.SupplierID != filter.SupplierID {
			continue
		}
		if filter.RepairID != "" && debt.RepairID != filter.RepairID {
			continue
		}
		if filter.UnpaidOnly && debt.Paid {
			continue
		}
		if !inRange(debt.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, debt)
	}
	slices.SortFunc(result, func(a, b domain.SupplierDebt) int {
		return oldestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &payment, nil
}

func (s *Store) ListPayments(_ context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Payment, 0, len(s.payments))
	for _, payment := range s.payments {
		if filter.ShopID != "" && payment.ShopID != filter.ShopID {
			continue
		}
		if filter.RelatedTo != "" && payment.RelatedTo != filter.RelatedTo {
			continue
		}
		if filter.RelatedID != "" && payment.RelatedID != filter.RelatedID {
			continue
		}
		if filter.Type != "" && payment.Type != filter.Type {
			continue
		}
		if filter.PendingDeposit && payment.Deposited {
			continue
		}
		if !inRange(payment.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, payment)
	}
	slices.SortFunc(result, func(a, b domain.Payment) int {
		return oldestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.Lines = slices.Clone(sale.Lines)
	return &sale, nil
}

func (s *Store) ListAuditLogs(_ context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if shopID != "" && entry.ShopID != shopID {
			continue
		}
		if !inRange(entry.CreatedAt, from, to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("username %s taken: %w", username, store.ErrInvalidInput)
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

// memTx mutates the store maps directly; the caller already holds s.mu.
type memTx struct {
	s    *Store
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func put[K comparable, V any](tx *memTx, m map[K]V, key K, val V) {
	prev, had := m[key]
	tx.undo = append(tx.undo, func() {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
	m[key] = val
}

func remove[K comparable, V any](tx *memTx, m map[K]V, key K) {
	prev, had := m[key]
	if !had {
		return
	}
	tx.undo = append(tx.undo, func() { m[key] = prev })
	delete(m, key)
}

func (tx *memTx) GetItemForUpdate(_ context.Context, id string) (*domain.InventoryItem, error) {
	item, ok := tx.s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (tx *memTx) FindItemForUpdate(_ context.Context, name string, shopID string) (*domain.InventoryItem, error) {
	id, ok := tx.s.itemKeys[itemKey(name, shopID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	item := tx.s.items[id]
	return &item, nil
}

func (tx *memTx) EnsureItemForUpdate(ctx context.Context, template domain.InventoryItem) (*domain.InventoryItem, error) {
	if existing, err := tx.FindItemForUpdate(ctx, template.Name, template.ShopID); err == nil {
		return existing, nil
	}
	template.ID = ""
	template.Stock = 0
	template.InitialStock = 0
	template.PendingAllocation = false
	return tx.InsertItem(ctx, template)
}

func (tx *memTx) InsertItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	name := strings.TrimSpace(item.Name)
	if name == "" || item.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	key := itemKey(name, item.ShopID)
	if _, exists := tx.s.itemKeys[key]; exists {
		return nil, fmt.Errorf("item %s already exists at shop %q: %w", name, item.ShopID, store.ErrInvalidInput)
	}
	now := time.Now().UTC()
	item.Name = name
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	put(tx, tx.s.items, item.ID, item)
	put(tx, tx.s.itemKeys, key, item.ID)
	return &item, nil
}

func (tx *memTx) UpdateItem(_ context.Context, item domain.InventoryItem) error {
	current, ok := tx.s.items[item.ID]
	if !ok {
		return store.ErrNotFound
	}
	if item.Stock < 0 {
		return &store.StockError{ItemName: current.Name, ShopID: current.ShopID, Available: current.Stock, Requested: current.Stock - item.Stock}
	}
	// name and shop are the row's identity
	item.Name = current.Name
	item.ShopID = current.ShopID
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	put(tx, tx.s.items, item.ID, item)
	return nil
}

func (tx *memTx) InsertPurchase(_ context.Context, purchase domain.Purchase) error {
	n := len(tx.s.purchases)
	tx.undo = append(tx.undo, func() { tx.s.purchases = tx.s.purchases[:n] })
	tx.s.purchases = append(tx.s.purchases, clonePurchase(purchase))
	return nil
}

func (tx *memTx) InsertAllocation(_ context.Context, allocation domain.StockAllocation) error {
	if _, exists := tx.s.allocations[allocation.ID]; exists {
		return store.ErrInvalidInput
	}
	put(tx, tx.s.allocations, allocation.ID, cloneAllocation(allocation))
	return nil
}

func (tx *memTx) GetAllocationForUpdate(_ context.Context, id string) (*domain.StockAllocation, error) {
	allocation, ok := tx.s.allocations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneAllocation(allocation)
	return &dup, nil
}

func (tx *memTx) UpdateAllocation(_ context.Context, allocation domain.StockAllocation) error {
	if _, ok := tx.s.allocations[allocation.ID]; !ok {
		return store.ErrNotFound
	}
	put(tx, tx.s.allocations, allocation.ID, cloneAllocation(allocation))
	return nil
}

func (tx *memTx) InsertExchange(_ context.Context, exchange domain.Exchange) error {
	if _, exists := tx.s.exchanges[exchange.ID]; exists {
		return store.ErrInvalidInput
	}
	put(tx, tx.s.exchanges, exchange.ID, cloneExchange(exchange))
	return nil
}

func (tx *memTx) GetExchangeForUpdate(_ context.Context, id string) (*domain.Exchange, error) {
	exchange, ok := tx.s.exchanges[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneExchange(exchange)
	return &dup, nil
}

func (tx *memTx) UpdateExchange(_ context.Context, exchange domain.Exchange) error {
	if _, ok := tx.s.exchanges[exchange.ID]; !ok {
		return store.ErrNotFound
	}
	put(tx, tx.s.exchanges, exchange.ID, cloneExchange(exchange))
	return nil
}

func (tx *memTx) InsertRepair(_ context.Context, repair domain.Repair) error {
	if _, exists := tx.s.repairs[repair.ID]; exists {
		return store.ErrInvalidInput
	}
	put(tx, tx.s.repairs, repair.ID, cloneRepair(repair))
	return nil
}

func (tx *memTx) GetRepairForUpdate(_ context.Context, id string) (*domain.Repair, error) {
	repair, ok := tx.s.repairs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneRepair(repair)
	return &dup, nil
}

func (tx *memTx) UpdateRepair(_ context.Context, repair domain.Repair) error {
	if _, ok := tx.s.repairs[repair.ID]; !ok {
		return store.ErrNotFound
	}
	repair.UpdatedAt = time.Now().UTC()
	put(tx, tx.s.repairs, repair.ID, cloneRepair(repair))
	return nil
}

func (tx *memTx) DeleteRepair(_ context.Context, id string) error {
	if _, ok := tx.s.repairs[id]; !ok {
		return store.ErrNotFound
	}
	remove(tx, tx.s.repairs, id)
	return nil
}

func (tx *memTx) InsertSupplierDebt(_ context.Context, debt domain.SupplierDebt) error {
	if _, exists := tx.s.debts[debt.ID]; exists {
		return store.ErrInvalidInput
	}
	put(tx, tx.s.debts, debt.ID, debt)
	return nil
}

func (tx *memTx) GetSupplierDebtForUpdate(_ context.Context, id string) (*domain.SupplierDebt, error) {
	debt, ok := tx.s.debts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &debt, nil
}

func (tx *memTx) UpdateSupplierDebt(_ context.Context, debt domain.SupplierDebt) error {
	if _, ok := tx.s.debts[debt.ID]; !ok {
		return store.ErrNotFound
	}
	put(tx, tx.s.debts, debt.ID, debt)
	return nil
}

func (tx *memTx) ListSupplierDebtsByRepairForUpdate(_ context.Context, repairID string) ([]domain.SupplierDebt, error) {
	result := make([]domain.SupplierDebt, 0, 4)
	for _, debt := range tx.s.debts {
		if debt.RepairID == repairID {
			result = append(result, debt)
		}
	}
	slices.SortFunc(result, func(a, b domain.SupplierDebt) int {
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (tx *memTx) InsertPayment(_ context.Context, payment domain.Payment) error {
	if _, exists := tx.s.payments[payment.ID]; exists {
		return store.ErrInvalidInput
	}
	put(tx, tx.s.payments, payment.ID, payment)
	return nil
}

func (tx *memTx) GetPaymentForUpdate(_ context.Context, id string) (*domain.Payment, error) {
	payment, ok := tx.s.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &payment, nil
}

func (tx *memTx) UpdatePayment(_ context.Context, payment domain.Payment) error {
	current, ok := tx.s.payments[payment.ID]
	if !ok {
		return store.ErrNotFound
	}
	// append-only apart from the deposit fields
	current.Deposited = payment.Deposited
	current.DepositDate = payment.DepositDate
	put(tx, tx.s.payments, current.ID, current)
	return nil
}

func (tx *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := tx.s.sales[sale.ID]; exists {
		return store.ErrInvalidInput
	}
	sale.Lines = slices.Clone(sale.Lines)
	put(tx, tx.s.sales, sale.ID, sale)
	return nil
}

func (tx *memTx) InsertAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	n := len(tx.s.auditLogs)
	tx.undo = append(tx.undo, func() { tx.s.auditLogs = tx.s.auditLogs[:n] })
	tx.s.auditLogs = append(tx.s.auditLogs, entry)
	return nil
}

func itemKey(name string, shopID string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "::" + shopID
}

func inRange(t time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func newestFirst(a, b time.Time, aID, bID string) int {
	if a.Equal(b) {
		return strings.Compare(bID, aID)
	}
	if a.After(b) {
		return -1
	}
	return 1
}

func oldestFirst(a, b time.Time, aID, bID string) int {
	return -newestFirst(a, b, aID, bID)
}

func clonePurchase(src domain.Purchase) domain.Purchase {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	return dup
}

func cloneAllocation(src domain.StockAllocation) domain.StockAllocation {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	dup.DecidedAt = cloneTime(src.DecidedAt)
	return dup
}

func cloneExchange(src domain.Exchange) domain.Exchange {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	dup.ConfirmedAt = cloneTime(src.ConfirmedAt)
	dup.CompletedAt = cloneTime(src.CompletedAt)
	dup.RejectedAt = cloneTime(src.RejectedAt)
	return dup
}

func cloneRepair(src domain.Repair) domain.Repair {
	dup := src
	dup.Parts = slices.Clone(src.Parts)
	if src.TotalAgreedAmountCents != nil {
		agreed := *src.TotalAgreedAmountCents
		dup.TotalAgreedAmountCents = &agreed
	}
	if src.PendingTransaction != nil {
		pending := *src.PendingTransaction
		dup.PendingTransaction = &pending
	}
	dup.CollectedAt = cloneTime(src.CollectedAt)
	return dup
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	t := *src
	return &t
}
