package notify

import (
	"context"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
)

// Channel is the Redis pub/sub channel carrying committed changes.
const Channel = "ledger:events"

type Publisher interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
}

type Noop struct{}

func (Noop) Publish(_ context.Context, _ domain.ChangeEvent) error {
	return nil
}

// SettlementKey is where the daily supplier settlement summary for date
// (YYYY-MM-DD) is kept.
func SettlementKey(date string) string {
	return "debts:settlement:" + date
}
