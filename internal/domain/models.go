package domain

import "time"

// PoolShopID is the shop id of unassigned stock produced by purchases.
const PoolShopID = ""

const (
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleTechnician = "technician"
)

const (
	CategoryPhone     = "Phone"
	CategorySpare     = "Spare"
	CategoryAccessory = "Accessory"
)

type Actor struct {
	UserID string
	Name   string
	Role   string
	ShopID string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type InventoryItem struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Category            string    `json:"category"`
	ShopID              string    `json:"shop_id"`
	Stock               int       `json:"stock"`
	ReorderLevel        int       `json:"reorder_level"`
	InitialStock        int       `json:"initial_stock"`
	CostPriceCents      int64     `json:"cost_price_cents,omitempty"`
	AdminCostPriceCents int64     `json:"admin_cost_price_cents,omitempty"`
	SellingPriceCents   int64     `json:"selling_price_cents"`
	SupplierID          string    `json:"supplier_id,omitempty"`
	PendingAllocation   bool      `json:"pending_allocation"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (i InventoryItem) IsPool() bool {
	return i.ShopID == PoolShopID
}

// ItemFilter narrows ListItems. PoolOnly wins over ShopID.
type ItemFilter struct {
	ShopID   string
	PoolOnly bool
	Category string
	Name     string
	LowStock bool
}

// StockKey addresses a ledger row either by id or by (name, shop).
type StockKey struct {
	ItemID string `json:"item_id,omitempty"`
	Name   string `json:"name,omitempty"`
	ShopID string `json:"shop_id,omitempty"`
}

type ItemCreateRequest struct {
	Name                string `json:"name" validate:"required,max=120"`
	Category            string `json:"category" validate:"required,oneof=Phone Spare Accessory"`
	ShopID              string `json:"shop_id"`
	Stock               int    `json:"stock" validate:"gte=0"`
	ReorderLevel        int    `json:"reorder_level" validate:"gte=0"`
	CostPriceCents      int64  `json:"cost_price_cents" validate:"gte=0"`
	AdminCostPriceCents int64  `json:"admin_cost_price_cents" validate:"gte=0"`
	SellingPriceCents   int64  `json:"selling_price_cents" validate:"gte=0"`
	SupplierID          string `json:"supplier_id"`
}

type StockAdjustRequest struct {
	StockKey
	Delta  int    `json:"delta" validate:"ne=0"`
	Reason string `json:"reason" validate:"required,max=200"`
}

type StockAdjustResponse struct {
	Item     InventoryItem `json:"item"`
	NewStock int           `json:"new_stock"`
}

type PurchaseLine struct {
	ItemID         string `json:"item_id,omitempty"`
	ItemName       string `json:"item_name" validate:"required_without=ItemID,max=120"`
	Category       string `json:"category" validate:"omitempty,oneof=Phone Spare Accessory"`
	Qty            int    `json:"qty" validate:"gt=0"`
	CostPriceCents int64  `json:"cost_price_cents" validate:"gte=0"`
}

type Purchase struct {
	ID           string         `json:"id"`
	SupplierID   string         `json:"supplier_id"`
	SupplierName string         `json:"supplier_name"`
	ShopID       string         `json:"shop_id,omitempty"`
	Lines        []PurchaseLine `json:"lines"`
	TotalCents   int64          `json:"total_cents"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
}

type PurchaseCreateRequest struct {
	SupplierID   string         `json:"supplier_id" validate:"required"`
	SupplierName string         `json:"supplier_name"`
	ShopID       string         `json:"shop_id"`
	Lines        []PurchaseLine `json:"lines" validate:"required,min=1,dive"`
}

const (
	AllocationPending  = "pending"
	AllocationApproved = "approved"
	AllocationRejected = "rejected"
)

type AllocationLine struct {
	ShopID string `json:"shop_id" validate:"required"`
	Qty    int    `json:"qty" validate:"gt=0"`
}

type StockAllocation struct {
	ID          string           `json:"id"`
	ItemID      string           `json:"item_id"`
	ItemName    string           `json:"item_name"`
	TotalQty    int              `json:"total_qty"`
	Lines       []AllocationLine `json:"lines"`
	Status      string           `json:"status"`
	RequestedBy string           `json:"requested_by"`
	DecidedBy   string           `json:"decided_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	DecidedAt   *time.Time       `json:"decided_at,omitempty"`
}

type AllocationCreateRequest struct {
	ItemID       string           `json:"item_id" validate:"required"`
	TotalQty     int              `json:"total_qty" validate:"gt=0"`
	Destinations []AllocationLine `json:"destinations" validate:"required,min=1,dive"`
}

type AllocationResponse struct {
	Allocation       StockAllocation `json:"allocation"`
	AlreadyProcessed bool            `json:"already_processed,omitempty"`
}

const (
	ExchangePending   = "pending"
	ExchangeConfirmed = "confirmed"
	ExchangeCompleted = "completed"
	ExchangeRejected  = "rejected"
)

type ExchangeLine struct {
	ItemID   string `json:"item_id" validate:"required"`
	ItemName string `json:"item_name,omitempty"`
	Qty      int    `json:"qty" validate:"gt=0"`
}

type Exchange struct {
	ID          string         `json:"id"`
	FromShopID  string         `json:"from_shop_id"`
	ToShopID    string         `json:"to_shop_id"`
	Lines       []ExchangeLine `json:"lines"`
	Status      string         `json:"status"`
	RequestedBy string         `json:"requested_by"`
	ConfirmedBy string         `json:"confirmed_by,omitempty"`
	CompletedBy string         `json:"completed_by,omitempty"`
	RejectedBy  string         `json:"rejected_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ConfirmedAt *time.Time     `json:"confirmed_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RejectedAt  *time.Time     `json:"rejected_at,omitempty"`
}

type ExchangeCreateRequest struct {
	FromShopID string         `json:"from_shop_id" validate:"required"`
	ToShopID   string         `json:"to_shop_id" validate:"required,nefield=FromShopID"`
	Items      []ExchangeLine `json:"items" validate:"required,min=1,dive"`
}

type ExchangeResponse struct {
	Exchange         Exchange `json:"exchange"`
	AlreadyProcessed bool     `json:"already_processed,omitempty"`
}

const (
	RepairReceived        = "RECEIVED"
	RepairInProgress      = "IN_PROGRESS"
	RepairWaitingParts    = "WAITING_PARTS"
	RepairCompleted       = "REPAIR_COMPLETED"
	RepairPaymentPending  = "PAYMENT_PENDING"
	RepairFullyPaid       = "FULLY_PAID"
	RepairCollected       = "COLLECTED"
	PaymentStatusPending  = "pending"
	PaymentStatusPartial  = "partial"
	PaymentStatusPaid     = "fully_paid"
	PaymentTimingUpfront  = "upfront"
	PaymentTimingOnPickup = "on_collection"
	CustomerWaiting       = "waiting"
	CustomerComingBack    = "coming_back"
	PartSourceInHouse     = "in-house"
	PartSourceOutsourced  = "outsourced"
)

type RepairPart struct {
	ItemID     string `json:"item_id,omitempty"`
	ItemName   string `json:"item_name" validate:"required,max=120"`
	Qty        int    `json:"qty" validate:"gt=0"`
	CostCents  int64  `json:"cost_cents" validate:"gte=0"`
	Source     string `json:"source" validate:"required,oneof=in-house outsourced"`
	SupplierID string `json:"supplier_id,omitempty" validate:"required_if=Source outsourced"`
}

// PendingTransaction is a staff-collected payment awaiting admin countersign.
type PendingTransaction struct {
	Method      string    `json:"method"`
	Reference   string    `json:"reference"`
	AmountCents int64     `json:"amount_cents"`
	SubmittedBy string    `json:"submitted_by"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Repair struct {
	ID                     string              `json:"id"`
	ShopID                 string              `json:"shop_id"`
	CustomerName           string              `json:"customer_name"`
	CustomerPhone          string              `json:"customer_phone"`
	DeviceModel            string              `json:"device_model"`
	Issue                  string              `json:"issue"`
	TechnicianID           string              `json:"technician_id,omitempty"`
	Parts                  []RepairPart        `json:"parts"`
	OutsourcedCostCents    int64               `json:"outsourced_cost_cents"`
	LaborCostCents         int64               `json:"labor_cost_cents"`
	TotalCostCents         int64               `json:"total_cost_cents"`
	TotalAgreedAmountCents *int64              `json:"total_agreed_amount_cents,omitempty"`
	PaymentTiming          string              `json:"payment_timing"`
	Status                 string              `json:"status"`
	PaymentStatus          string              `json:"payment_status"`
	AmountPaidCents        int64               `json:"amount_paid_cents"`
	BalanceCents           int64               `json:"balance_cents"`
	PaymentApproved        bool                `json:"payment_approved"`
	PendingTransaction     *PendingTransaction `json:"pending_transaction,omitempty"`
	CustomerStatus         string              `json:"customer_status"`
	Collected              bool                `json:"collected"`
	CollectedAt            *time.Time          `json:"collected_at,omitempty"`
	CreatedBy              string              `json:"created_by"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

// EffectiveTotal is the agreed amount when one was set, else the computed cost.
func (r Repair) EffectiveTotal() int64 {
	if r.TotalAgreedAmountCents != nil {
		return *r.TotalAgreedAmountCents
	}
	return r.TotalCostCents
}

type RepairCreateRequest struct {
	ShopID                 string       `json:"shop_id"`
	CustomerName           string       `json:"customer_name" validate:"required,max=120"`
	CustomerPhone          string       `json:"customer_phone" validate:"required,max=32"`
	DeviceModel            string       `json:"device_model" validate:"max=120"`
	Issue                  string       `json:"issue" validate:"max=500"`
	TechnicianID           string       `json:"technician_id"`
	Parts                  []RepairPart `json:"parts" validate:"dive"`
	OutsourcedCostCents    int64        `json:"outsourced_cost_cents" validate:"gte=0"`
	LaborCostCents         int64        `json:"labor_cost_cents" validate:"gte=0"`
	TotalAgreedAmountCents *int64       `json:"total_agreed_amount_cents,omitempty" validate:"omitempty,gte=0"`
	AmountPaidCents        int64        `json:"amount_paid_cents" validate:"gte=0"`
	PaymentMethod          string       `json:"payment_method" validate:"omitempty,oneof=cash mpesa bank_deposit"`
	PaymentReference       string       `json:"payment_reference"`
	PaymentTiming          string       `json:"payment_timing" validate:"omitempty,oneof=upfront on_collection"`
}

type RepairStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type RepairPaymentRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	Method      string `json:"method" validate:"required,oneof=cash mpesa bank_deposit"`
	Reference   string `json:"reference" validate:"max=64"`
}

type CustomerStatusRequest struct {
	CustomerStatus string `json:"customer_status" validate:"required,oneof=waiting coming_back"`
}

type PartCostRequest struct {
	ItemName         string `json:"item_name" validate:"required"`
	CostPerUnitCents int64  `json:"cost_per_unit_cents" validate:"gte=0"`
	Qty              int    `json:"qty" validate:"gt=0"`
	SupplierID       string `json:"supplier_id"`
}

type RepairResponse struct {
	Repair           Repair `json:"repair"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

type RepairFilter struct {
	ShopID          string
	Status          string
	PendingApproval bool
	Limit           int
}

type SupplierDebt struct {
	ID               string     `json:"id"`
	SupplierID       string     `json:"supplier_id"`
	ItemName         string     `json:"item_name"`
	Quantity         int        `json:"quantity"`
	CostPerUnitCents int64      `json:"cost_per_unit_cents"`
	TotalCostCents   int64      `json:"total_cost_cents"`
	Paid             bool       `json:"paid"`
	PaidBy           string     `json:"paid_by,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	RepairID         string     `json:"repair_id,omitempty"`
	SaleID           string     `json:"sale_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// AwaitingCost reports a debt whose unit cost has not been entered yet.
func (d SupplierDebt) AwaitingCost() bool {
	return d.CostPerUnitCents == 0
}

type SupplierDebtCreateRequest struct {
	SupplierID string `json:"supplier_id" validate:"required"`
	ItemName   string `json:"item_name" validate:"required,max=120"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
	RepairID   string `json:"repair_id"`
}

type DebtCostRequest struct {
	CostPerUnitCents int64 `json:"cost_per_unit_cents" validate:"gte=0"`
}

type SupplierDebtResponse struct {
	Debt             SupplierDebt `json:"debt"`
	AlreadyProcessed bool         `json:"already_processed,omitempty"`
}

type SupplierDebtFilter struct {
	SupplierID string
	RepairID   string
	UnpaidOnly bool
	From       time.Time
	To         time.Time
}

type SupplierDebtTotal struct {
	SupplierID   string `json:"supplier_id"`
	UnpaidCents  int64  `json:"unpaid_cents"`
	Debts        int    `json:"debts"`
	AwaitingCost int    `json:"awaiting_cost"`
}

type SupplierDebtSummary struct {
	Date        string              `json:"date,omitempty"`
	Suppliers   []SupplierDebtTotal `json:"suppliers"`
	TotalCents  int64               `json:"total_cents"`
	GeneratedAt string              `json:"generated_at"`
}

const (
	PaymentCash        = "cash"
	PaymentMpesa       = "mpesa"
	PaymentBankDeposit = "bank_deposit"
	PaymentReceived    = "received"
	RelatedRepair      = "repair"
	RelatedSale        = "sale"
)

type Payment struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	AmountCents int64      `json:"amount_cents"`
	State       string     `json:"state"`
	Reference   string     `json:"reference,omitempty"`
	Deposited   bool       `json:"deposited"`
	DepositDate *time.Time `json:"deposit_date,omitempty"`
	RelatedTo   string     `json:"related_to"`
	RelatedID   string     `json:"related_id"`
	ShopID      string     `json:"shop_id"`
	RecordedBy  string     `json:"recorded_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

type PaymentFilter struct {
	ShopID         string
	RelatedTo      string
	RelatedID      string
	Type           string
	PendingDeposit bool
	From           time.Time
	To             time.Time
}

type PaymentResponse struct {
	Payment          Payment `json:"payment"`
	AlreadyProcessed bool    `json:"already_processed,omitempty"`
}

type PaymentDailyTotals struct {
	Date             string `json:"date"`
	ShopID           string `json:"shop_id,omitempty"`
	CashCents        int64  `json:"cash_cents"`
	MpesaCents       int64  `json:"mpesa_cents"`
	BankDepositCents int64  `json:"bank_deposit_cents"`
	TotalCents       int64  `json:"total_cents"`
	PendingCashCents int64  `json:"pending_cash_cents"`
	PendingCashCount int    `json:"pending_cash_count"`
	Payments         int    `json:"payments"`
}

type SaleLine struct {
	ItemID         string `json:"item_id,omitempty"`
	ItemName       string `json:"item_name" validate:"required,max=120"`
	Qty            int    `json:"qty" validate:"gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
	Source         string `json:"source" validate:"required,oneof=in-house outsourced"`
	SupplierID     string `json:"supplier_id,omitempty" validate:"required_if=Source outsourced"`
}

type Sale struct {
	ID               string     `json:"id"`
	ShopID           string     `json:"shop_id"`
	Lines            []SaleLine `json:"lines"`
	TotalCents       int64      `json:"total_cents"`
	PaymentType      string     `json:"payment_type"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
}

type SaleCreateRequest struct {
	ShopID           string     `json:"shop_id"`
	Lines            []SaleLine `json:"lines" validate:"required,min=1,dive"`
	PaymentType      string     `json:"payment_type" validate:"required,oneof=cash mpesa bank_deposit"`
	PaymentReference string     `json:"payment_reference" validate:"max=64"`
}

type SaleResponse struct {
	Sale    Sale           `json:"sale"`
	Payment Payment        `json:"payment"`
	Debts   []SupplierDebt `json:"debts,omitempty"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	ShopID     string    `json:"shop_id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ShopID      string `json:"shop_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=40"`
	Name     string `json:"name" validate:"max=120"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=manager technician"`
	ShopID   string `json:"shop_id" validate:"required"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	ShopID    string    `json:"shop_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Name      string
	Password  string
	Role      string
	ShopID    string
	Active    bool
	CreatedAt time.Time
}

// ChangeEvent is published after a ledger or workflow mutation commits.
type ChangeEvent struct {
	Entity string    `json:"entity"`
	ID     string    `json:"id"`
	Action string    `json:"action"`
	ShopID string    `json:"shop_id,omitempty"`
	At     time.Time `json:"at"`
}
