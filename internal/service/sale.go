package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/xid"
)

// CreateSale records a counter sale: in-house lines leave the shop's stock,
// outsourced lines become supplier debts and the total is booked as one
// payment.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if req.ShopID == "" {
		req.ShopID = actor.ShopID
	}
	if err := authorize(actor, OpCreateSale, req.ShopID); err != nil {
		return domain.SaleResponse{}, err
	}
	if req.ShopID == domain.PoolShopID {
		return domain.SaleResponse{}, fmt.Errorf("%w: shop_id is required", store.ErrInvalidInput)
	}
	for i := range req.Lines {
		req.Lines[i].ItemName = normalizeName(req.Lines[i].ItemName)
	}
	if err := s.check(req); err != nil {
		return domain.SaleResponse{}, err
	}

	sale := domain.Sale{
		ID:               xid.New("sale"),
		ShopID:           req.ShopID,
		Lines:            slices.Clone(req.Lines),
		PaymentType:      req.PaymentType,
		PaymentReference: strings.TrimSpace(req.PaymentReference),
		CreatedBy:        actor.UserID,
		CreatedAt:        s.now(),
	}
	for _, line := range sale.Lines {
		sale.TotalCents += int64(line.Qty) * line.UnitPriceCents
	}
	if sale.TotalCents <= 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: sale total must be positive", store.ErrInvalidInput)
	}

	var resp domain.SaleResponse
	err = s.inTx(ctx, string(OpCreateSale), func(ctx context.Context, tx store.Tx) error {
		parts := make([]domain.RepairPart, len(sale.Lines))
		for i, line := range sale.Lines {
			parts[i] = domain.RepairPart{ItemID: line.ItemID, ItemName: line.ItemName, Qty: line.Qty, Source: line.Source, SupplierID: line.SupplierID}
		}
		if err := s.consumeParts(ctx, tx, sale.ShopID, parts); err != nil {
			return err
		}
		debts := make([]domain.SupplierDebt, 0, len(sale.Lines))
		for i := range sale.Lines {
			sale.Lines[i].ItemID = parts[i].ItemID
			sale.Lines[i].ItemName = parts[i].ItemName
			line := sale.Lines[i]
			if line.Source != domain.PartSourceOutsourced {
				continue
			}
			debt := s.newDebt(line.SupplierID, line.ItemName, line.Qty, "", sale.ID)
			if err := tx.InsertSupplierDebt(ctx, debt); err != nil {
				return err
			}
			debts = append(debts, debt)
		}
		payment, err := s.recordPayment(ctx, tx, sale.PaymentType, sale.TotalCents, domain.RelatedSale, sale.ID, sale.ShopID, sale.PaymentReference)
		if err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		resp = domain.SaleResponse{Sale: sale, Payment: payment, Debts: debts}
		return s.audit(ctx, tx, sale.ShopID, "sale_create", "sale", sale.ID,
			fmt.Sprintf("lines=%d,total=%d,payment=%s,debts=%d", len(sale.Lines), sale.TotalCents, sale.PaymentType, len(debts)))
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}
	s.publish(ctx, domain.ChangeEvent{Entity: "sale", ID: sale.ID, Action: "created", ShopID: sale.ShopID})
	return resp, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sale %s: %w", id, err)
	}
	if !actor.IsAdmin() && actor.ShopID != sale.ShopID {
		return domain.Sale{}, fmt.Errorf("sale %s: %w", id, store.ErrNotFound)
	}
	return *sale, nil
}
