package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
)

func (s *Store) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	return getItem(ctx, s.db, id, "")
}

func (s *Store) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error) {
	var w where
	switch {
	case filter.PoolOnly:
		w.add("shop_id = ?", domain.PoolShopID)
	case filter.ShopID != "":
		w.add("shop_id = ?", filter.ShopID)
	}
	if filter.Category != "" {
		w.add("category = ?", filter.Category)
	}
	if filter.Name != "" {
		w.add("lower(name) = lower(?)", strings.TrimSpace(filter.Name))
	}
	if filter.LowStock {
		w.conds = append(w.conds, "stock <= reorder_level")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM inventory_items `+w.String()+` ORDER BY name, shop_id`, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanItem)
}

func (s *Store) ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limitArg(limit))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPurchase)
}

func (s *Store) GetAllocation(ctx context.Context, id string) (*domain.StockAllocation, error) {
	return getAllocation(ctx, s.db, id, "")
}

func (s *Store) ListAllocations(ctx context.Context, status string) ([]domain.StockAllocation, error) {
	var w where
	if status != "" {
		w.add("status = ?", status)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+allocationColumns+` FROM stock_allocations `+w.String()+` ORDER BY created_at DESC, id DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAllocation)
}

func (s *Store) GetExchange(ctx context.Context, id string) (*domain.Exchange, error) {
	return getExchange(ctx, s.db, id, "")
}

func (s *Store) ListExchanges(ctx context.Context, shopID string, status string) ([]domain.Exchange, error) {
	var w where
	if shopID != "" {
		p := w.next(shopID)
		w.conds = append(w.conds, fmt.Sprintf("(from_shop_id = %s OR to_shop_id = %s)", p, p))
	}
	if status != "" {
		w.add("status = ?", status)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges `+w.String()+` ORDER BY created_at DESC, id DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanExchange)
}

func (s *Store) GetRepair(ctx context.Context, id string) (*domain.Repair, error) {
	return getRepair(ctx, s.db, id, "")
}

func (s *Store) ListRepairs(ctx context.Context, filter domain.RepairFilter) ([]domain.Repair, error) {
	var w where
	if filter.ShopID != "" {
		w.add("shop_id = ?", filter.ShopID)
	}
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if filter.PendingApproval {
		w.conds = append(w.conds, "pending_transaction IS NOT NULL")
	}
	limit := w.next(limitArg(filter.Limit))

	rows, err := s.db.QueryContext(ctx, `SELECT `+repairColumns+` FROM repairs `+w.String()+` ORDER BY created_at DESC, id DESC LIMIT `+limit, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRepair)
}

func (s *Store) GetSupplierDebt(ctx context.Context, id string) (*domain.SupplierDebt, error) {
	return getDebt(ctx, s.db, id, "")
}

func (s *Store) ListSupplierDebts(ctx context.Context, filter domain.SupplierDebtFilter) ([]domain.SupplierDebt, error) {
	var w where
	if filter.SupplierID != "" {
		w.add("supplier_id = ?", filter.SupplierID)
	}
	if filter.RepairID != "" {
		w.add("repair_id = ?", filter.RepairID)
	}
	if filter.UnpaidOnly {
		w.conds = append(w.conds, "NOT paid")
	}
	w.addRange("created_at", filter.From, filter.To)

	rows, err := s.db.QueryContext(ctx, `SELECT `+debtColumns+` FROM supplier_debts `+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDebt)
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return getPayment(ctx, s.db, id, "")
}

func (s *Store) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	var w where
	if filter.ShopID != "" {
		w.add("shop_id = ?", filter.ShopID)
	}
	if filter.RelatedTo != "" {
		w.add("related_to = ?", filter.RelatedTo)
	}
	if filter.RelatedID != "" {
		w.add("related_id = ?", filter.RelatedID)
	}
	if filter.Type != "" {
		w.add("type = ?", filter.Type)
	}
	if filter.PendingDeposit {
		w.conds = append(w.conds, "NOT deposited")
	}
	w.addRange("created_at", filter.From, filter.To)

	rows, err := s.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments `+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPayment)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &sale, nil
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	var w where
	if shopID != "" {
		w.add("shop_id = ?", shopID)
	}
	w.addRange("created_at", from, to)
	lim := w.next(limitArg(limit))

	rows, err := s.db.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_logs `+w.String()+` ORDER BY created_at DESC, id DESC LIMIT `+lim, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAudit)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, name, password, role, shop_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,true,$6,now())
	`, user.Username, user.Name, user.Password, user.Role, user.ShopID, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("username %s taken: %w", user.Username, store.ErrInvalidInput)
		}
		return err
	}
	return nil
}

// EnsureUser inserts user unless the username already exists. It is used to
// bootstrap the first admin on an empty database.
func (s *Store) EnsureUser(ctx context.Context, user domain.UserAccount) (bool, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return false, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, name, password, role, shop_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,true,now(),now())
		ON CONFLICT (username) DO NOTHING
	`, user.Username, user.Name, user.Password, user.Role, user.ShopID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM app_users WHERE username = $1`,
		strings.ToLower(strings.TrimSpace(username))))
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM app_users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanUser)
}

// The single-row getters below serve both committed reads and locked reads;
// lock is either "" or "FOR UPDATE".

func getItem(ctx context.Context, q querier, id string, lock string) (*domain.InventoryItem, error) {
	item, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 `+lock, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func getAllocation(ctx context.Context, q querier, id string, lock string) (*domain.StockAllocation, error) {
	allocation, err := scanAllocation(q.QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM stock_allocations WHERE id = $1 `+lock, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &allocation, nil
}

func getExchange(ctx context.Context, q querier, id string, lock string) (*domain.Exchange, error) {
	exchange, err := scanExchange(q.QueryRowContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE id = $1 `+lock, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &exchange, nil
}

func getRepair(ctx context.Context, q querier, id string, lock string) (*domain.Repair, error) {
	repair, err := scanRepair(q.QueryRowContext(ctx, `SELECT `+repairColumns+` FROM repairs WHERE id = $1 `+lock, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &repair, nil
}

func getDebt(ctx context.Context, q querier, id string, lock string) (*domain.SupplierDebt, error) {
	debt, err := scanDebt(q.QueryRowContext(ctx, `SELECT `+debtColumns+` FROM supplier_debts WHERE id = $1 `+lock, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &debt, nil
}

func getPayment(ctx context.Context, q querier, id string, lock string) (*domain.Payment, error) {
	payment, err := scanPayment(q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 `+lock, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &payment, nil
}
