package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/xid"
)

// CreateExchange records an intended transfer between two shops. Stock is
// only checked here; it moves on completion.
func (s *Service) CreateExchange(ctx context.Context, req domain.ExchangeCreateRequest) (domain.Exchange, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Exchange{}, err
	}
	if err := authorize(actor, OpCreateExchange, req.FromShopID); err != nil {
		return domain.Exchange{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Exchange{}, err
	}

	lines := make([]domain.ExchangeLine, 0, len(req.Items))
	seen := make(map[string]struct{}, len(req.Items))
	for _, line := range req.Items {
		if _, dup := seen[line.ItemID]; dup {
			return domain.Exchange{}, fmt.Errorf("%w: item %s listed twice", store.ErrInvalidInput, line.ItemID)
		}
		seen[line.ItemID] = struct{}{}

		item, err := s.repo.GetItem(ctx, line.ItemID)
		if err != nil {
			return domain.Exchange{}, fmt.Errorf("item %s: %w", line.ItemID, err)
		}
		if item.ShopID != req.FromShopID {
			return domain.Exchange{}, fmt.Errorf("%w: item %s does not belong to shop %s", store.ErrInvalidInput, item.ID, req.FromShopID)
		}
		if item.Stock < line.Qty {
			s.observe(string(OpCreateExchange), store.ErrInsufficientStock)
			return domain.Exchange{}, &store.StockError{ItemName: item.Name, ShopID: item.ShopID, Available: item.Stock, Requested: line.Qty}
		}
		lines = append(lines, domain.ExchangeLine{ItemID: item.ID, ItemName: item.Name, Qty: line.Qty})
	}

	exchange := domain.Exchange{
		ID:          xid.New("exc"),
		FromShopID:  req.FromShopID,
		ToShopID:    req.ToShopID,
		Lines:       lines,
		Status:      domain.ExchangePending,
		RequestedBy: actor.UserID,
		CreatedAt:   s.now(),
	}
	err = s.inTx(ctx, string(OpCreateExchange), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertExchange(ctx, exchange); err != nil {
			return err
		}
		return s.audit(ctx, tx, exchange.FromShopID, "exchange_create", "exchange", exchange.ID,
			fmt.Sprintf("from=%s,to=%s,lines=%d", exchange.FromShopID, exchange.ToShopID, len(exchange.Lines)))
	})
	if err != nil {
		return domain.Exchange{}, err
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "exchange", ID: exchange.ID, Action: "created", ShopID: exchange.ToShopID})
	return exchange, nil
}

// ConfirmReceipt is the receiving shop acknowledging the goods arrived.
func (s *Service) ConfirmReceipt(ctx context.Context, id string) (domain.ExchangeResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.ExchangeResponse{}, err
	}

	var resp domain.ExchangeResponse
	err = s.inTx(ctx, string(OpConfirmReceipt), func(ctx context.Context, tx store.Tx) error {
		exchange, err := tx.GetExchangeForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("exchange %s: %w", id, err)
		}
		if err := authorize(actor, OpConfirmReceipt, exchange.ToShopID); err != nil {
			return err
		}
		switch exchange.Status {
		case domain.ExchangeConfirmed, domain.ExchangeCompleted:
			resp = domain.ExchangeResponse{Exchange: *exchange, AlreadyProcessed: true}
			return nil
		case domain.ExchangeRejected:
			return fmt.Errorf("exchange %s is rejected: %w", id, store.ErrInvalidStateTransition)
		}
		exchange.Status = domain.ExchangeConfirmed
		exchange.ConfirmedBy = actor.UserID
		exchange.ConfirmedAt = timePtr(s.now())
		if err := tx.UpdateExchange(ctx, *exchange); err != nil {
			return err
		}
		resp = domain.ExchangeResponse{Exchange: *exchange}
		return s.audit(ctx, tx, exchange.ToShopID, "exchange_confirm", "exchange", exchange.ID, "")
	})
	if err != nil {
		return domain.ExchangeResponse{}, err
	}
	if resp.AlreadyProcessed {
		s.observeNoop(string(OpConfirmReceipt))
		return resp, nil
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "exchange", ID: id, Action: "confirmed", ShopID: resp.Exchange.FromShopID})
	return resp, nil
}

// CompleteExchange moves every line from the source shop to the destination
// in one transaction. A shortfall leaves the exchange confirmed.
func (s *Service) CompleteExchange(ctx context.Context, id string) (domain.ExchangeResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.ExchangeResponse{}, err
	}
	if err := authorize(actor, OpCompleteExchange, ""); err != nil {
		return domain.ExchangeResponse{}, err
	}

	var resp domain.ExchangeResponse
	err = s.inTx(ctx, string(OpCompleteExchange), func(ctx context.Context, tx store.Tx) error {
		exchange, err := tx.GetExchangeForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("exchange %s: %w", id, err)
		}
		switch exchange.Status {
		case domain.ExchangeCompleted:
			resp = domain.ExchangeResponse{Exchange: *exchange, AlreadyProcessed: true}
			return nil
		case domain.ExchangePending, domain.ExchangeRejected:
			return fmt.Errorf("exchange %s is %s: %w", id, exchange.Status, store.ErrInvalidStateTransition)
		}

		lines := append([]domain.ExchangeLine(nil), exchange.Lines...)
		sort.Slice(lines, func(i, j int) bool { return lines[i].ItemID < lines[j].ItemID })
		sources := make([]*domain.InventoryItem, len(lines))
		for i, line := range lines {
			src, err := tx.GetItemForUpdate(ctx, line.ItemID)
			if err != nil {
				return fmt.Errorf("source item %s: %w", line.ItemID, err)
			}
			if src.ShopID != exchange.FromShopID {
				return fmt.Errorf("%w: item %s moved away from shop %s", store.ErrInvalidInput, src.ID, exchange.FromShopID)
			}
			sources[i] = src
		}
		for i, line := range lines {
			src := sources[i]
			if err := adjust(ctx, tx, src, -line.Qty); err != nil {
				return err
			}
			dest, err := tx.EnsureItemForUpdate(ctx, rowTemplate(*src, exchange.ToShopID))
			if err != nil {
				return fmt.Errorf("destination row for %s at %s: %w", src.Name, exchange.ToShopID, err)
			}
			if err := adjust(ctx, tx, dest, line.Qty); err != nil {
				return err
			}
		}

		exchange.Status = domain.ExchangeCompleted
		exchange.CompletedBy = actor.UserID
		exchange.CompletedAt = timePtr(s.now())
		if err := tx.UpdateExchange(ctx, *exchange); err != nil {
			return err
		}
		resp = domain.ExchangeResponse{Exchange: *exchange}
		return s.audit(ctx, tx, exchange.FromShopID, "exchange_complete", "exchange", exchange.ID,
			fmt.Sprintf("from=%s,to=%s,lines=%d", exchange.FromShopID, exchange.ToShopID, len(exchange.Lines)))
	})
	if err != nil {
		return domain.ExchangeResponse{}, err
	}
	if resp.AlreadyProcessed {
		s.observeNoop(string(OpCompleteExchange))
		return resp, nil
	}
	s.publish(ctx,
		domain.ChangeEvent{Entity: "exchange", ID: id, Action: "completed", ShopID: resp.Exchange.FromShopID},
		domain.ChangeEvent{Entity: "exchange", ID: id, Action: "completed", ShopID: resp.Exchange.ToShopID},
	)
	return resp, nil
}

// RejectExchange closes a pending or confirmed exchange without moving stock.
func (s *Service) RejectExchange(ctx context.Context, id string) (domain.ExchangeResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.ExchangeResponse{}, err
	}
	if err := authorize(actor, OpRejectExchange, ""); err != nil {
		return domain.ExchangeResponse{}, err
	}

	var resp domain.ExchangeResponse
	err = s.inTx(ctx, string(OpRejectExchange), func(ctx context.Context, tx store.Tx) error {
		exchange, err := tx.GetExchangeForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("exchange %s: %w", id, err)
		}
		switch exchange.Status {
		case domain.ExchangeRejected:
			resp = domain.ExchangeResponse{Exchange: *exchange, AlreadyProcessed: true}
			return nil
		case domain.ExchangeCompleted:
			return fmt.Errorf("exchange %s is completed: %w", id, store.ErrInvalidStateTransition)
		}
		exchange.Status = domain.ExchangeRejected
		exchange.RejectedBy = actor.UserID
		exchange.RejectedAt = timePtr(s.now())
		if err := tx.UpdateExchange(ctx, *exchange); err != nil {
			return err
		}
		resp = domain.ExchangeResponse{Exchange: *exchange}
		return s.audit(ctx, tx, exchange.FromShopID, "exchange_reject", "exchange", exchange.ID, "")
	})
	if err != nil {
		return domain.ExchangeResponse{}, err
	}
	if resp.AlreadyProcessed {
		s.observeNoop(string(OpRejectExchange))
		return resp, nil
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "exchange", ID: id, Action: "rejected", ShopID: resp.Exchange.FromShopID})
	return resp, nil
}

func (s *Service) GetExchange(ctx context.Context, id string) (domain.Exchange, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Exchange{}, err
	}
	exchange, err := s.repo.GetExchange(ctx, id)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("exchange %s: %w", id, err)
	}
	if !seesExchange(actor, *exchange) {
		return domain.Exchange{}, fmt.Errorf("exchange %s: %w", id, store.ErrNotFound)
	}
	return *exchange, nil
}

func (s *Service) ListExchanges(ctx context.Context, shopID string, status string) ([]domain.Exchange, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		shopID = actor.ShopID
	}
	return s.repo.ListExchanges(ctx, shopID, status)
}
