package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/xid"
)

// recordPayment appends a received payment to the ledger inside tx. Cash
// waits for a bank deposit; mpesa and bank transfers are deposited already.
func (s *Service) recordPayment(ctx context.Context, tx store.Tx, method string, amountCents int64, relatedTo string, relatedID string, shopID string, reference string) (domain.Payment, error) {
	if amountCents <= 0 {
		return domain.Payment{}, fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidInput)
	}
	switch method {
	case domain.PaymentCash, domain.PaymentMpesa, domain.PaymentBankDeposit:
	default:
		return domain.Payment{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidInput, method)
	}
	actor, _ := ActorFromContext(ctx)
	now := s.now()
	payment := domain.Payment{
		ID:          xid.New("pay"),
		Type:        method,
		AmountCents: amountCents,
		State:       domain.PaymentReceived,
		Reference:   strings.TrimSpace(reference),
		Deposited:   method != domain.PaymentCash,
		RelatedTo:   relatedTo,
		RelatedID:   relatedID,
		ShopID:      shopID,
		RecordedBy:  actor.UserID,
		CreatedAt:   now,
	}
	if payment.Deposited {
		payment.DepositDate = timePtr(now)
	}
	if err := tx.InsertPayment(ctx, payment); err != nil {
		return domain.Payment{}, fmt.Errorf("record payment for %s %s: %w", relatedTo, relatedID, err)
	}
	return payment, nil
}

// MarkDeposited flags a cash payment as banked. It is the only mutation a
// payment accepts.
func (s *Service) MarkDeposited(ctx context.Context, id string) (domain.PaymentResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	if err := authorize(actor, OpMarkDeposited, ""); err != nil {
		return domain.PaymentResponse{}, err
	}

	var resp domain.PaymentResponse
	err = s.inTx(ctx, string(OpMarkDeposited), func(ctx context.Context, tx store.Tx) error {
		payment, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("payment %s: %w", id, err)
		}
		if payment.Deposited {
			resp = domain.PaymentResponse{Payment: *payment, AlreadyProcessed: true}
			return nil
		}
		payment.Deposited = true
		payment.DepositDate = timePtr(s.now())
		if err := tx.UpdatePayment(ctx, *payment); err != nil {
			return err
		}
		resp = domain.PaymentResponse{Payment: *payment}
		return s.audit(ctx, tx, payment.ShopID, "payment_deposit", "payment", payment.ID, fmt.Sprintf("amount=%d", payment.AmountCents))
	})
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	if resp.AlreadyProcessed {
		s.observeNoop(string(OpMarkDeposited))
		return resp, nil
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "payment", ID: id, Action: "deposited", ShopID: resp.Payment.ShopID})
	return resp, nil
}

func (s *Service) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		filter.ShopID = actor.ShopID
	}
	return s.repo.ListPayments(ctx, filter)
}

// DailyTotals sums the day's payments by method. An empty date means today.
func (s *Service) DailyTotals(ctx context.Context, date string, shopID string) (domain.PaymentDailyTotals, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.PaymentDailyTotals{}, err
	}
	if !actor.IsAdmin() {
		if err := authorize(actor, OpViewPaymentTotals, actor.ShopID); err != nil {
			return domain.PaymentDailyTotals{}, err
		}
		shopID = actor.ShopID
	}
	return s.dailyTotals(ctx, date, shopID)
}

func (s *Service) dailyTotals(ctx context.Context, date string, shopID string) (domain.PaymentDailyTotals, error) {
	day := dayOf(s.now())
	if strings.TrimSpace(date) != "" {
		parsed, err := parseDay(date)
		if err != nil {
			return domain.PaymentDailyTotals{}, err
		}
		day = parsed
	}
	payments, err := s.repo.ListPayments(ctx, domain.PaymentFilter{ShopID: shopID, From: day, To: day.AddDate(0, 0, 1)})
	if err != nil {
		return domain.PaymentDailyTotals{}, err
	}
	totals := domain.PaymentDailyTotals{Date: day.Format("2006-01-02"), ShopID: shopID}
	for _, p := range payments {
		switch p.Type {
		case domain.PaymentCash:
			totals.CashCents += p.AmountCents
			if !p.Deposited {
				totals.PendingCashCents += p.AmountCents
				totals.PendingCashCount++
			}
		case domain.PaymentMpesa:
			totals.MpesaCents += p.AmountCents
		case domain.PaymentBankDeposit:
			totals.BankDepositCents += p.AmountCents
		}
		totals.TotalCents += p.AmountCents
		totals.Payments++
	}
	return totals, nil
}

// PendingCashDeposits lists cash not yet banked, oldest first.
func (s *Service) PendingCashDeposits(ctx context.Context, shopID string) ([]domain.Payment, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		shopID = actor.ShopID
	}
	return s.repo.ListPayments(ctx, domain.PaymentFilter{ShopID: shopID, Type: domain.PaymentCash, PendingDeposit: true})
}
