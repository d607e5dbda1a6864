package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// QueueDefault is the queue every ledger job runs on.
	QueueDefault = "default"
	// TaskLowStockScan reports shop rows at or below their reorder level.
	TaskLowStockScan = "ledger:low_stock_scan"
	// TaskDailySettlement snapshots the day's unpaid supplier debts.
	TaskDailySettlement = "debts:daily_settlement"
)

// settlementTTL keeps a month of daily settlement snapshots around.
const settlementTTL = 35 * 24 * time.Hour

// LowStockScanPayload narrows the scan to one shop; empty means all shops.
type LowStockScanPayload struct {
	ShopID string `json:"shop_id,omitempty"`
}

// SettlementPayload names the day to settle (YYYY-MM-DD, UTC). Empty means
// the day the task runs.
type SettlementPayload struct {
	Date string `json:"date,omitempty"`
}

func NewLowStockScanTask(shopID string) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{ShopID: shopID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

func NewSettlementTask(date string) (*asynq.Task, error) {
	body, err := json.Marshal(SettlementPayload{Date: date})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDailySettlement, body, asynq.Queue(QueueDefault)), nil
}

var kesPrinter = message.NewPrinter(language.English)

// FormatKES renders cents as shillings with thousands separators, e.g.
// "KES 1,234.50".
func FormatKES(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + kesPrinter.Sprintf("KES %d", cents/100) + fmt.Sprintf(".%02d", cents%100)
}
